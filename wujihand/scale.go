package wujihand

import (
	"math"
)

// positionScale converts radians to the raw joint position unit: the
// full int32 range spans one turn.
const positionScale = math.MaxInt32 / (2 * math.Pi)

// toRawPosition converts radians to the raw int32 scale, saturating at
// the type bounds.
func toRawPosition(rad float64) int32 {
	v := math.Round(rad * positionScale)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// fromRawPosition converts the raw int32 scale back to radians.
func fromRawPosition(raw int32) float64 {
	return float64(raw) / positionScale
}

// toRawEffortLimit converts amperes to the raw uint16 milliampere unit.
func toRawEffortLimit(amperes float64) uint16 {
	v := math.Round(amperes * 1000)
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// fromRawEffortLimit converts raw milliamperes to amperes.
func fromRawEffortLimit(raw uint16) float64 {
	return float64(raw) / 1000
}

// Control words accepted by the joint enable register.
const (
	controlWordEnable  = 1
	controlWordDisable = 5
)

// encodeValue converts a host-side float64 value to the entry's raw
// wire integer according to its policy. Values without a policy are
// reinterpreted by width: 4-byte entries carrying float payloads use
// float32 bits.
func (e entry) encodeValue(v float64) uint64 {
	switch {
	case e.policy&policyControlWord != 0:
		if v != 0 {
			return controlWordEnable
		}
		return controlWordDisable
	case e.policy&policyPosition != 0:
		raw := toRawPosition(v)
		if e.policy&policyReversed != 0 {
			raw = -raw
		}
		return uint64(uint32(raw))
	case e.policy&policyEffortLimit != 0:
		return uint64(toRawEffortLimit(v))
	default:
		return uint64(v)
	}
}

// decodeValue converts a raw wire integer to the entry's host-side
// float64 value.
func (e entry) decodeValue(raw uint64) float64 {
	switch {
	case e.policy&policyControlWord != 0:
		if uint16(raw) == controlWordEnable {
			return 1
		}
		return 0
	case e.policy&policyPosition != 0:
		r := int32(uint32(raw))
		if e.policy&policyReversed != 0 {
			r = -r
		}
		return fromRawPosition(r)
	case e.policy&policyEffortLimit != 0:
		return fromRawEffortLimit(uint16(raw))
	default:
		return float64(raw)
	}
}

// encodeFloat32 packs an IEEE float32 value for entries that carry one
// on the wire (filter cutoff, torque slope).
func encodeFloat32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// decodeFloat32 unpacks an IEEE float32 wire value.
func decodeFloat32(raw uint64) float32 {
	return math.Float32frombits(uint32(raw))
}
