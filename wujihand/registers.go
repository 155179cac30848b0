package wujihand

// Hand geometry. Joints are addressed as (finger, joint) with finger 0
// being the thumb and joint 0 the proximal axis.
const (
	NumFingers = 5
	NumJoints  = 4
)

// policy flags alter how a dictionary entry's host-side value maps to
// its wire representation.
type policy uint32

const (
	// policyMasked short-circuits all operations without bus traffic.
	policyMasked policy = 1 << iota
	// policyControlWord maps bool true/false to control words 1/5.
	policyControlWord
	// policyPosition maps radians to the raw int32 full-turn scale.
	policyPosition
	// policyReversed negates position values (J1 of every finger but
	// the thumb runs the opposite direction).
	policyReversed
	// policyEffortLimit maps amperes to the raw uint16 milliampere scale.
	policyEffortLimit
	// policyHeartbeat marks the host timeout counter; writes are fire
	// and forget.
	policyHeartbeat
)

// entry describes one object-dictionary field. Joint entries hold the
// in-joint offset; the absolute SDO index adds the joint's base.
type entry struct {
	index    uint16
	sub      byte
	size     int // raw wire width in bytes
	readable bool
	writable bool
	policy   policy
}

// Joint fields. Offsets within a joint's 0x100-wide index window.
var (
	jointFirmwareVersion = entry{index: 0x01, sub: 1, size: 4, readable: true}
	jointFirmwareDate    = entry{index: 0x01, sub: 2, size: 4, readable: true}
	jointControlMode     = entry{index: 0x02, sub: 1, size: 2, writable: true}
	jointSinLevel        = entry{index: 0x05, sub: 8, size: 2, writable: true}
	jointFilterCutoff    = entry{index: 0x05, sub: 19, size: 4, writable: true}
	jointTorqueSlope     = entry{index: 0x05, sub: 20, size: 4, writable: true}
	jointEffortLimit     = entry{index: 0x07, sub: 2, size: 2, readable: true, writable: true, policy: policyEffortLimit}
	jointBusVoltage      = entry{index: 0x0B, sub: 8, size: 4, readable: true}
	jointTemperature     = entry{index: 0x0B, sub: 9, size: 4, readable: true}
	jointResetError      = entry{index: 0x0D, sub: 4, size: 2, writable: true}
	jointUpperLimit      = entry{index: 0x0E, sub: 27, size: 4, readable: true, policy: policyPosition}
	jointLowerLimit      = entry{index: 0x0E, sub: 28, size: 4, readable: true, policy: policyPosition}
	jointErrorCode       = entry{index: 0x3F, sub: 0, size: 4, readable: true}
	jointEnabled         = entry{index: 0x40, sub: 0, size: 2, writable: true, policy: policyControlWord}
	jointActualPosition  = entry{index: 0x64, sub: 0, size: 4, readable: true, policy: policyPosition}
	jointTargetPosition  = entry{index: 0x7A, sub: 0, size: 4, writable: true, policy: policyPosition}
)

// jointEntries is the full per-joint dictionary slice, in storage-table
// order.
var jointEntries = []entry{
	jointFirmwareVersion,
	jointFirmwareDate,
	jointControlMode,
	jointSinLevel,
	jointFilterCutoff,
	jointTorqueSlope,
	jointEffortLimit,
	jointBusVoltage,
	jointTemperature,
	jointResetError,
	jointUpperLimit,
	jointLowerLimit,
	jointErrorCode,
	jointEnabled,
	jointActualPosition,
	jointTargetPosition,
}

// Hand-level fields. Absolute SDO indexes.
var (
	handHandedness         = entry{index: 0x5090, sub: 0, size: 1, readable: true}
	handHostTimeoutCounter = entry{index: 0x50A0, sub: 1, size: 4, writable: true, policy: policyHeartbeat}
	handFirmwareVersion    = entry{index: 0x5201, sub: 1, size: 4, readable: true}
	handFirmwareDate       = entry{index: 0x5201, sub: 2, size: 4, readable: true}
	handFullSystemVersion  = entry{index: 0x5201, sub: 3, size: 4, readable: true}
	handSystemTime         = entry{index: 0x520A, sub: 1, size: 4, readable: true}
	handTemperature        = entry{index: 0x520A, sub: 9, size: 4, readable: true}
	handInputVoltage       = entry{index: 0x520A, sub: 10, size: 4, readable: true}
	handRPDODirect         = entry{index: 0x52A0, sub: 3, size: 1, writable: true}
	handTPDOProactive      = entry{index: 0x52A0, sub: 4, size: 1, writable: true}
	handPDOEnabled         = entry{index: 0x52A0, sub: 5, size: 1, writable: true}
	handRPDOID             = entry{index: 0x52A4, sub: 1, size: 2, writable: true}
	handTPDOID             = entry{index: 0x52A4, sub: 2, size: 2, writable: true}
	handPDOInterval        = entry{index: 0x52A4, sub: 5, size: 4, writable: true}
)

// handSNParts are the product serial number chunks, sub-indexes 1-6 of
// 0x5202, stored as 4-byte pieces for expedited SDO transfer.
var handSNParts = [6]entry{
	{index: 0x5202, sub: 1, size: 4, readable: true},
	{index: 0x5202, sub: 2, size: 4, readable: true},
	{index: 0x5202, sub: 3, size: 4, readable: true},
	{index: 0x5202, sub: 4, size: 4, readable: true},
	{index: 0x5202, sub: 5, size: 4, readable: true},
	{index: 0x5202, sub: 6, size: 4, readable: true},
}

// handEntries is the hand-level dictionary slice, in storage-table order.
var handEntries = []entry{
	handHandedness,
	handHostTimeoutCounter,
	handFirmwareVersion,
	handFirmwareDate,
	handFullSystemVersion,
	handSNParts[0],
	handSNParts[1],
	handSNParts[2],
	handSNParts[3],
	handSNParts[4],
	handSNParts[5],
	handSystemTime,
	handTemperature,
	handInputVoltage,
	handRPDODirect,
	handTPDOProactive,
	handPDOEnabled,
	handRPDOID,
	handTPDOID,
	handPDOInterval,
}

// jointIndexBase returns the SDO index window base for a joint.
func jointIndexBase(finger, joint int) uint16 {
	return 0x2000 + uint16(finger)*0x800 + uint16(joint)*0x100
}

// isReversedJoint reports whether the joint runs opposite to the
// dictionary's sign convention: J1 of every finger except the thumb.
func isReversedJoint(finger, joint int) bool {
	return joint == 0 && finger != 0
}

// resolve returns the entry adjusted for a specific joint: absolute SDO
// index, reversed-position flag and the limit sub-index swap that
// reversal implies.
func (e entry) resolve(finger, joint int) entry {
	out := e
	out.index = jointIndexBase(finger, joint) + e.index
	if e.policy&policyPosition != 0 && isReversedJoint(finger, joint) {
		out.policy |= policyReversed
		switch {
		case e.index == jointUpperLimit.index && e.sub == jointUpperLimit.sub:
			out.sub = jointLowerLimit.sub
		case e.index == jointLowerLimit.index && e.sub == jointLowerLimit.sub:
			out.sub = jointUpperLimit.sub
		}
	}
	return out
}
