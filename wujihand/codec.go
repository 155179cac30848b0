package wujihand

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame header constants. Every frame between host and hand starts with
// an 8-byte header followed by packed records and zero padding up to a
// 16-byte boundary, the last two bytes of which are reserved for a
// check word.
const (
	frameMagic0 = 0xAA
	frameMagic1 = 0x55

	addrHost = 0x00
	addrHand = 0xA0

	frameTypeSDO = 0x21
	frameTypePDO = 0x11

	headerSize    = 8
	checkSize     = 2
	frameAlign    = 16
	receiveWindow = 0x100 // 10-bit window in the description field
)

// SDO command specifiers. Write specifiers encode the payload width;
// read replies do the same.
const (
	sdoRead = 0x30

	sdoWrite8  = 0x20
	sdoWrite16 = 0x22
	sdoWrite32 = 0x24
	sdoWrite64 = 0x28

	sdoReadOK8  = 0x35
	sdoReadOK16 = 0x37
	sdoReadOK32 = 0x39
	sdoReadOK64 = 0x3D

	sdoReadErr  = 0x33
	sdoWriteOK  = 0x21
	sdoWriteErr = 0x23

	sdoStop = 0x00 // padding terminator inside a frame body
)

// PDO write/read identifiers.
const (
	pdoWriteNone    = 0x00
	pdoWriteTargets = 0x01

	pdoReadNone      = 0x00
	pdoReadPositions = 0x01
	pdoReadFull      = 0x02 // position + effort + error code per joint
)

// paddedFrameLen returns the on-wire length of a frame whose header and
// records occupy used bytes. The check word is counted before rounding
// up, so a full 16-byte block always has room for it.
func paddedFrameLen(used int) int {
	blocks := (used+checkSize-1)/frameAlign + 1
	return frameAlign * blocks
}

// encodeDescription packs the receive window (bits 0-9) and the
// compressed frame length minus one (bits 10-15).
func encodeDescription(paddedLen int) uint16 {
	blocks := uint16(paddedLen / frameAlign)
	return receiveWindow | (blocks-1)<<10
}

// decodeDescription returns the padded frame length announced by a
// header's description field.
func decodeDescription(desc uint16) int {
	blocks := int(desc>>10) + 1
	return frameAlign * blocks
}

// frameBuilder accumulates records into a single outbound frame. Frames
// are small (the dispatcher batches at most a handful of SDO records per
// tick) so the builder holds one fixed buffer and reports overflow.
type frameBuilder struct {
	buf  []byte
	used int
}

func newFrameBuilder(frameType byte) *frameBuilder {
	b := &frameBuilder{buf: make([]byte, 512)}
	b.reset(frameType)
	return b
}

func (b *frameBuilder) reset(frameType byte) {
	b.buf[0] = frameMagic0
	b.buf[1] = frameMagic1
	b.buf[2] = addrHost
	b.buf[3] = addrHand
	b.buf[4] = 0 // description filled in finalize
	b.buf[5] = 0
	b.buf[6] = frameType
	b.buf[7] = 0x00
	b.used = headerSize
}

// allocate reserves size bytes in the frame body, returning the slice to
// fill. It fails when the record would not fit alongside the check word.
func (b *frameBuilder) allocate(size int) ([]byte, bool) {
	if b.used+size+checkSize > len(b.buf) {
		return nil, false
	}
	out := b.buf[b.used : b.used+size]
	b.used += size
	return out, true
}

// empty reports whether no records have been added since the last reset.
func (b *frameBuilder) empty() bool {
	return b.used == headerSize
}

// finalize zero-pads the frame, fills the description field and returns
// the wire bytes. The returned slice aliases the builder's buffer and is
// only valid until the next reset.
func (b *frameBuilder) finalize() []byte {
	padded := paddedFrameLen(b.used)
	for i := b.used; i < padded; i++ {
		b.buf[i] = 0
	}
	binary.BigEndian.PutUint16(b.buf[4:6], encodeDescription(padded))
	return b.buf[:padded]
}

// sdoRecord is one decoded SDO entry from an inbound frame body.
type sdoRecord struct {
	control byte
	index   uint16
	sub     byte
	value   uint64 // little-endian payload, zero-extended
	size    int    // payload width in bytes, 0 for acks
	errCode uint32 // device abort code for error replies
}

// appendSDORead adds a read request for the given dictionary entry.
func (b *frameBuilder) appendSDORead(index uint16, sub byte) bool {
	rec, ok := b.allocate(4)
	if !ok {
		return false
	}
	rec[0] = sdoRead
	binary.BigEndian.PutUint16(rec[1:3], index)
	rec[3] = sub
	return true
}

// appendSDOWrite adds a write request carrying a value of the entry's
// declared width (1, 2, 4 or 8 bytes, little-endian).
func (b *frameBuilder) appendSDOWrite(index uint16, sub byte, value uint64, size int) bool {
	var control byte
	switch size {
	case 1:
		control = sdoWrite8
	case 2:
		control = sdoWrite16
	case 4:
		control = sdoWrite32
	case 8:
		control = sdoWrite64
	default:
		return false
	}
	rec, ok := b.allocate(4 + size)
	if !ok {
		return false
	}
	rec[0] = control
	binary.BigEndian.PutUint16(rec[1:3], index)
	rec[3] = sub
	putUintLE(rec[4:4+size], value, size)
	return true
}

// parseSDORecords walks an SDO frame body and yields each record. A
// zero control byte terminates the body (the remainder is padding).
func parseSDORecords(body []byte, visit func(sdoRecord) error) error {
	off := 0
	for off < len(body) {
		control := body[off]
		if control == sdoStop {
			return nil
		}
		if len(body)-off < 4 {
			return &ProtocolError{Op: "sdo parse", Reason: "truncated record header"}
		}
		rec := sdoRecord{
			control: control,
			index:   binary.BigEndian.Uint16(body[off+1 : off+3]),
			sub:     body[off+3],
		}
		off += 4

		var tail int
		switch control {
		case sdoReadOK8:
			rec.size, tail = 1, 1
		case sdoReadOK16:
			rec.size, tail = 2, 2
		case sdoReadOK32:
			rec.size, tail = 4, 4
		case sdoReadOK64:
			rec.size, tail = 8, 8
		case sdoWriteOK:
			// header only
		case sdoReadErr, sdoWriteErr:
			tail = 4
		default:
			return &ProtocolError{
				Op:     "sdo parse",
				Reason: fmt.Sprintf("invalid command specifier 0x%02X", control),
			}
		}
		if len(body)-off < tail {
			return &ProtocolError{Op: "sdo parse", Reason: "truncated record payload"}
		}
		switch control {
		case sdoReadErr, sdoWriteErr:
			rec.errCode = binary.LittleEndian.Uint32(body[off : off+4])
		default:
			if rec.size > 0 {
				rec.value = uintLE(body[off:off+rec.size], rec.size)
			}
		}
		off += tail

		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}

// appendPDOTargets adds a downstream target-position record. readID
// selects the upstream reply requested alongside (0x00 for none).
func (b *frameBuilder) appendPDOTargets(targets *[NumFingers][NumJoints]int32, timestampUS uint32, readID byte) bool {
	rec, ok := b.allocate(2 + 4*NumFingers*NumJoints + 4)
	if !ok {
		return false
	}
	rec[0] = pdoWriteTargets
	rec[1] = readID
	off := 2
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			binary.LittleEndian.PutUint32(rec[off:off+4], uint32(targets[f][j]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(rec[off:off+4], timestampUS)
	return true
}

// pdoJointState is one joint's slice of a full upstream report.
type pdoJointState struct {
	Position  int32
	EffortA   float32
	ErrorCode uint32
}

// decodePDOPositions parses a readID 0x01 upstream body: 20 packed
// int32 positions.
func decodePDOPositions(body []byte, out *[NumFingers][NumJoints]int32) error {
	const want = 4 * NumFingers * NumJoints
	if len(body) < want {
		return &ProtocolError{Op: "pdo parse", Reason: "short position report"}
	}
	off := 0
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			out[f][j] = int32(binary.LittleEndian.Uint32(body[off : off+4]))
			off += 4
		}
	}
	return nil
}

// decodePDOFull parses a readID 0x02 upstream body: per joint, position,
// phase current and error code packed together so that position and
// effort always describe the same instant.
func decodePDOFull(body []byte, out *[NumFingers][NumJoints]pdoJointState) error {
	const want = 12 * NumFingers * NumJoints
	if len(body) < want {
		return &ProtocolError{Op: "pdo parse", Reason: "short full report"}
	}
	off := 0
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			out[f][j] = pdoJointState{
				Position:  int32(binary.LittleEndian.Uint32(body[off : off+4])),
				EffortA:   math.Float32frombits(binary.LittleEndian.Uint32(body[off+4 : off+8])),
				ErrorCode: binary.LittleEndian.Uint32(body[off+8 : off+12]),
			}
			off += 12
		}
	}
	return nil
}

func putUintLE(dst []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func uintLE(src []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}
