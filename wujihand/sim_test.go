package wujihand

import (
	"encoding/binary"
	"sync"

	"github.com/wuji-technology/wujihand-go/transports"
)

// simDevice emulates a hand behind a MockTransport: it parses every
// outbound frame and answers with the same wire format the hardware
// uses. Tests configure its dictionary, then drive the public API.
type simDevice struct {
	tr *transports.MockTransport

	mu        sync.Mutex
	dict      map[uint32]uint64 // raw values by index/sub
	sizes     map[uint32]int
	positions [NumFingers][NumJoints]int32 // raw, device sign
	efforts   [NumFingers][NumJoints]float32
	errCodes  [NumFingers][NumJoints]uint32
	tpdoID    uint16

	pdoFrames int
	sdoWrites map[uint32]int

	// dropReads suppresses read replies for these keys, forcing the
	// dispatcher retry path.
	dropReads map[uint32]int
}

func simKey(index uint16, sub byte) uint32 { return uint32(index)<<8 | uint32(sub) }

func newSimDevice() *simDevice {
	d := &simDevice{
		tr:        transports.NewMockTransport(),
		dict:      make(map[uint32]uint64),
		sizes:     make(map[uint32]int),
		sdoWrites: make(map[uint32]int),
		dropReads: make(map[uint32]int),
	}
	d.tr.WriteFunc = d.handleFrame

	// Firmware recent enough for every feature gate.
	d.setHand(handFirmwareVersion, rawVersion(3, 2, 1, 'B'))
	d.setHand(handFullSystemVersion, rawVersion(1, 3, 0, 0))
	d.setHand(handHandedness, 0)
	d.setHand(handTemperature, uint64(encodeFloat32(36.5)))
	d.setHand(handInputVoltage, uint64(encodeFloat32(12.1)))
	d.setHand(handSystemTime, 123456)
	d.setSN("WJH-0042")

	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			base := jointIndexBase(f, j)
			d.set(base+jointFirmwareVersion.index, jointFirmwareVersion.sub, 4, rawVersion(6, 4, 1, 'J'))
			// Raw limits: wide symmetric travel, device sign.
			d.set(base+jointUpperLimit.index, 27, 4, uint64(uint32(toRawPosition(1.5))))
			d.set(base+jointUpperLimit.index, 28, 4, uint64(uint32(toRawPosition(-0.5))))
			d.set(base+jointActualPosition.index, jointActualPosition.sub, 4, 0)
			d.set(base+jointErrorCode.index, jointErrorCode.sub, 4, 0)
			d.set(base+jointEffortLimit.index, jointEffortLimit.sub, 2, 600)
			d.set(base+jointBusVoltage.index, jointBusVoltage.sub, 4, uint64(encodeFloat32(11.8)))
			d.set(base+jointTemperature.index, jointTemperature.sub, 4, uint64(encodeFloat32(31.0)))
		}
	}
	return d
}

func rawVersion(major, minor, patch byte, pre byte) uint64 {
	return uint64(major) | uint64(minor)<<8 | uint64(patch)<<16 | uint64(pre)<<24
}

func (d *simDevice) set(index uint16, sub byte, size int, value uint64) {
	k := simKey(index, sub)
	d.dict[k] = value
	d.sizes[k] = size
}

func (d *simDevice) setHand(e entry, value uint64) {
	d.set(e.index, e.sub, e.size, value)
}

func (d *simDevice) setSN(sn string) {
	raw := make([]byte, len(handSNParts)*4)
	copy(raw, sn)
	for i, part := range handSNParts {
		d.setHand(part, uint64(binary.LittleEndian.Uint32(raw[i*4:i*4+4])))
	}
}

func (d *simDevice) setJointPosition(f, j int, rad float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw := toRawPosition(rad)
	if isReversedJoint(f, j) {
		raw = -raw
	}
	d.positions[f][j] = raw
	base := jointIndexBase(f, j)
	d.dict[simKey(base+jointActualPosition.index, jointActualPosition.sub)] = uint64(uint32(raw))
}

func (d *simDevice) setJointEffort(f, j int, amperes float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.efforts[f][j] = amperes
}

func (d *simDevice) setJointFault(f, j int, code uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errCodes[f][j] = code
}

func (d *simDevice) writeCount(index uint16, sub byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sdoWrites[simKey(index, sub)]
}

func (d *simDevice) pdoFrameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pdoFrames
}

// dropNextReads makes the device swallow the next n read requests for
// the entry, exercising retries.
func (d *simDevice) dropNextReads(index uint16, sub byte, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropReads[simKey(index, sub)] = n
}

func (d *simDevice) handleFrame(wire []byte) {
	if len(wire) < headerSize {
		return
	}
	switch wire[6] {
	case frameTypeSDO:
		d.handleSDOFrame(wire[headerSize:])
	case frameTypePDO:
		d.handlePDOFrame(wire[headerSize:])
	}
}

func (d *simDevice) handleSDOFrame(body []byte) {
	reply := newFrameBuilder(frameTypeSDO)
	replies := 0

	off := 0
	for off+4 <= len(body) {
		control := body[off]
		if control == sdoStop {
			break
		}
		index := binary.BigEndian.Uint16(body[off+1 : off+3])
		sub := body[off+3]
		off += 4
		k := simKey(index, sub)

		switch control {
		case sdoRead:
			d.mu.Lock()
			if d.dropReads[k] > 0 {
				d.dropReads[k]--
				d.mu.Unlock()
				continue
			}
			value, ok := d.dict[k]
			size := d.sizes[k]
			d.mu.Unlock()
			if !ok {
				appendSDOError(reply, sdoReadErr, index, sub)
				replies++
				continue
			}
			appendSDOReadOK(reply, index, sub, value, size)
			replies++

		case sdoWrite8, sdoWrite16, sdoWrite32, sdoWrite64:
			size := map[byte]int{sdoWrite8: 1, sdoWrite16: 2, sdoWrite32: 4, sdoWrite64: 8}[control]
			if off+size > len(body) {
				return
			}
			value := uintLE(body[off:off+size], size)
			off += size

			d.mu.Lock()
			d.dict[k] = value
			d.sizes[k] = size
			d.sdoWrites[k]++
			if index == handTPDOID.index && sub == handTPDOID.sub {
				d.tpdoID = uint16(value)
			}
			d.mu.Unlock()

			appendSDOWriteOK(reply, index, sub)
			replies++
		default:
			return
		}
	}

	if replies > 0 {
		d.tr.QueueRead(reply.finalize())
	}
}

func (d *simDevice) handlePDOFrame(body []byte) {
	if len(body) < 2 {
		return
	}
	writeID, readID := body[0], body[1]

	d.mu.Lock()
	d.pdoFrames++
	if writeID == pdoWriteTargets && len(body) >= 2+80+4 {
		off := 2
		for f := 0; f < NumFingers; f++ {
			for j := 0; j < NumJoints; j++ {
				raw := int32(binary.LittleEndian.Uint32(body[off : off+4]))
				d.positions[f][j] = raw
				// Keep SDO reads of the actual position in sync.
				base := jointIndexBase(f, j)
				d.dict[simKey(base+jointActualPosition.index, jointActualPosition.sub)] = uint64(uint32(raw))
				off += 4
			}
		}
	}
	tpdo := d.tpdoID
	positions := d.positions
	efforts := d.efforts
	errCodes := d.errCodes
	d.mu.Unlock()

	if readID == pdoReadNone || tpdo == 0 {
		return
	}

	reply := newFrameBuilder(frameTypePDO)
	switch tpdo {
	case pdoReadPositions:
		rec, _ := reply.allocate(2 + 4*NumFingers*NumJoints)
		rec[0], rec[1] = 0x00, pdoReadPositions
		off := 2
		for f := 0; f < NumFingers; f++ {
			for j := 0; j < NumJoints; j++ {
				binary.LittleEndian.PutUint32(rec[off:off+4], uint32(positions[f][j]))
				off += 4
			}
		}
	case pdoReadFull:
		rec, _ := reply.allocate(2 + 12*NumFingers*NumJoints)
		rec[0], rec[1] = 0x00, pdoReadFull
		off := 2
		for f := 0; f < NumFingers; f++ {
			for j := 0; j < NumJoints; j++ {
				binary.LittleEndian.PutUint32(rec[off:off+4], uint32(positions[f][j]))
				binary.LittleEndian.PutUint32(rec[off+4:off+8], encodeFloat32AsU32(efforts[f][j]))
				binary.LittleEndian.PutUint32(rec[off+8:off+12], errCodes[f][j])
				off += 12
			}
		}
	default:
		return
	}
	d.tr.QueueRead(reply.finalize())
}

func encodeFloat32AsU32(v float32) uint32 {
	return uint32(encodeFloat32(v))
}

func appendSDOReadOK(b *frameBuilder, index uint16, sub byte, value uint64, size int) {
	var control byte
	switch size {
	case 1:
		control = sdoReadOK8
	case 2:
		control = sdoReadOK16
	case 8:
		control = sdoReadOK64
	default:
		control = sdoReadOK32
	}
	rec, _ := b.allocate(4 + size)
	rec[0] = control
	binary.BigEndian.PutUint16(rec[1:3], index)
	rec[3] = sub
	putUintLE(rec[4:4+size], value, size)
}

func appendSDOWriteOK(b *frameBuilder, index uint16, sub byte) {
	rec, _ := b.allocate(4)
	rec[0] = sdoWriteOK
	binary.BigEndian.PutUint16(rec[1:3], index)
	rec[3] = sub
}

func appendSDOError(b *frameBuilder, control byte, index uint16, sub byte) {
	rec, _ := b.allocate(8)
	rec[0] = control
	binary.BigEndian.PutUint16(rec[1:3], index)
	rec[3] = sub
	binary.LittleEndian.PutUint32(rec[4:8], 0x06020000)
}

// openSimHand opens a Hand against a fresh simulated device.
func openSimHand(cfg Config) (*Hand, *simDevice, error) {
	dev := newSimDevice()
	cfg.Transport = dev.tr
	h, err := Open(cfg)
	return h, dev, err
}
