package wujihand

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestFrameHeaderLayout(t *testing.T) {
	b := newFrameBuilder(frameTypeSDO)
	if !b.appendSDORead(0x5201, 1) {
		t.Fatal("append failed")
	}
	wire := b.finalize()

	if len(wire)%frameAlign != 0 {
		t.Errorf("frame length %d not 16-aligned", len(wire))
	}
	if wire[0] != 0xAA || wire[1] != 0x55 {
		t.Errorf("bad magic: % X", wire[:2])
	}
	if wire[2] != addrHost || wire[3] != addrHand {
		t.Errorf("bad addressing: % X", wire[2:4])
	}
	if wire[6] != frameTypeSDO {
		t.Errorf("bad type: 0x%02X", wire[6])
	}

	desc := binary.BigEndian.Uint16(wire[4:6])
	if desc&0x3FF != receiveWindow {
		t.Errorf("receive window = 0x%X, want 0x%X", desc&0x3FF, receiveWindow)
	}
	if got := decodeDescription(desc); got != len(wire) {
		t.Errorf("announced length %d, actual %d", got, len(wire))
	}
}

func TestFramePaddingBoundaries(t *testing.T) {
	// Header is 8 bytes; with the 2 reserved check bytes, 6 bytes of
	// records still fit one block and 7 spill into the next.
	cases := []struct {
		used, want int
	}{
		{8, 16},
		{14, 16},
		{15, 32},
		{16, 32},
		{30, 32},
		{31, 48},
	}
	for _, c := range cases {
		if got := paddedFrameLen(c.used); got != c.want {
			t.Errorf("paddedFrameLen(%d) = %d, want %d", c.used, got, c.want)
		}
	}
}

func TestSDOWriteRecordLayout(t *testing.T) {
	b := newFrameBuilder(frameTypeSDO)
	if !b.appendSDOWrite(0x2102, 1, 0x0005, 2) {
		t.Fatal("append failed")
	}
	wire := b.finalize()
	rec := wire[headerSize:]

	if rec[0] != sdoWrite16 {
		t.Errorf("control = 0x%02X, want 0x%02X", rec[0], sdoWrite16)
	}
	if binary.BigEndian.Uint16(rec[1:3]) != 0x2102 {
		t.Errorf("index bytes = % X, want big-endian 0x2102", rec[1:3])
	}
	if rec[3] != 1 {
		t.Errorf("sub = %d, want 1", rec[3])
	}
	if binary.LittleEndian.Uint16(rec[4:6]) != 5 {
		t.Errorf("value bytes = % X, want little-endian 5", rec[4:6])
	}
}

func TestSDOWriteControlBySize(t *testing.T) {
	want := map[int]byte{1: sdoWrite8, 2: sdoWrite16, 4: sdoWrite32, 8: sdoWrite64}
	for size, control := range want {
		b := newFrameBuilder(frameTypeSDO)
		if !b.appendSDOWrite(0x2000, 0, 1, size) {
			t.Fatalf("size %d: append failed", size)
		}
		if got := b.finalize()[headerSize]; got != control {
			t.Errorf("size %d: control 0x%02X, want 0x%02X", size, got, control)
		}
	}
	b := newFrameBuilder(frameTypeSDO)
	if b.appendSDOWrite(0x2000, 0, 1, 3) {
		t.Error("3-byte write accepted")
	}
}

func TestParseSDORecords(t *testing.T) {
	body := make([]byte, 32)
	// Read success, 4 bytes.
	body[0] = sdoReadOK32
	binary.BigEndian.PutUint16(body[1:3], 0x5201)
	body[3] = 1
	binary.LittleEndian.PutUint32(body[4:8], 0x42010003)
	// Write ack.
	body[8] = sdoWriteOK
	binary.BigEndian.PutUint16(body[9:11], 0x2140)
	body[11] = 0
	// Stop byte; the rest is padding.

	var recs []sdoRecord
	err := parseSDORecords(body, func(r sdoRecord) error {
		recs = append(recs, r)
		return nil
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].index != 0x5201 || recs[0].sub != 1 || recs[0].value != 0x42010003 || recs[0].size != 4 {
		t.Errorf("bad read record: %+v", recs[0])
	}
	if recs[1].control != sdoWriteOK || recs[1].index != 0x2140 {
		t.Errorf("bad ack record: %+v", recs[1])
	}
}

func TestParseSDORecordsRejectsGarbage(t *testing.T) {
	body := []byte{0x77, 0x20, 0x00, 0x01}
	err := parseSDORecords(body, func(sdoRecord) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid command specifier")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("expected ProtocolError, got %T", err)
	}
}

func TestParseSDORecordsTruncated(t *testing.T) {
	body := []byte{sdoReadOK32, 0x52, 0x01, 0x01, 0x03} // 4-byte value cut short
	if err := parseSDORecords(body, func(sdoRecord) error { return nil }); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestPDOTargetsRoundTrip(t *testing.T) {
	var targets [NumFingers][NumJoints]int32
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			targets[f][j] = int32(f*100 + j - 50)
		}
	}

	b := newFrameBuilder(frameTypePDO)
	if !b.appendPDOTargets(&targets, 12345, pdoReadPositions) {
		t.Fatal("append failed")
	}
	wire := b.finalize()
	body := wire[headerSize:]

	if body[0] != pdoWriteTargets || body[1] != pdoReadPositions {
		t.Fatalf("bad pdo header: % X", body[:2])
	}
	var got [NumFingers][NumJoints]int32
	if err := decodePDOPositions(body[2:], &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != targets {
		t.Errorf("targets did not round trip")
	}
	ts := binary.LittleEndian.Uint32(body[2+80 : 2+84])
	if ts != 12345 {
		t.Errorf("timestamp = %d, want 12345", ts)
	}
}

func TestDecodePDOFull(t *testing.T) {
	body := make([]byte, 12*NumFingers*NumJoints)
	off := 0
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			binary.LittleEndian.PutUint32(body[off:off+4], uint32(int32(f-j)))
			binary.LittleEndian.PutUint32(body[off+4:off+8], math.Float32bits(float32(f)+0.25))
			binary.LittleEndian.PutUint32(body[off+8:off+12], uint32(j))
			off += 12
		}
	}

	var out [NumFingers][NumJoints]pdoJointState
	if err := decodePDOFull(body, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out[3][1].Position != 2 || out[3][1].EffortA != 3.25 || out[3][1].ErrorCode != 1 {
		t.Errorf("bad joint state: %+v", out[3][1])
	}

	if err := decodePDOFull(body[:100], &out); err == nil {
		t.Error("expected error on short body")
	}
}

func TestPositionScaling(t *testing.T) {
	if toRawPosition(0) != 0 {
		t.Error("zero should map to zero")
	}
	if toRawPosition(2*math.Pi) != math.MaxInt32 {
		t.Errorf("full turn = %d, want MaxInt32", toRawPosition(2*math.Pi))
	}
	if toRawPosition(100) != math.MaxInt32 || toRawPosition(-100) != math.MinInt32 {
		t.Error("out-of-range angles should saturate")
	}
	for _, rad := range []float64{-3.1, -0.5, 0.001, 1.25, 3.0} {
		back := fromRawPosition(toRawPosition(rad))
		if math.Abs(back-rad) > 1e-8 {
			t.Errorf("round trip %g -> %g", rad, back)
		}
	}
}

func TestEffortLimitScaling(t *testing.T) {
	for _, amps := range []float64{0, 0.123, 0.6, 1.0, 2.5} {
		back := fromRawEffortLimit(toRawEffortLimit(amps))
		if math.Abs(back-amps) > 0.002 {
			t.Errorf("round trip %g -> %g exceeds 2mA", amps, back)
		}
	}
	if toRawEffortLimit(-1) != 0 {
		t.Error("negative effort should clamp to zero")
	}
	if toRawEffortLimit(1e6) != math.MaxUint16 {
		t.Error("huge effort should saturate")
	}
}

func TestControlWordEncoding(t *testing.T) {
	e := jointEnabled
	if e.encodeValue(1) != controlWordEnable {
		t.Errorf("enable = %d, want %d", e.encodeValue(1), controlWordEnable)
	}
	if e.encodeValue(0) != controlWordDisable {
		t.Errorf("disable = %d, want %d", e.encodeValue(0), controlWordDisable)
	}
	if e.decodeValue(controlWordEnable) != 1 || e.decodeValue(controlWordDisable) != 0 {
		t.Error("control word decode mismatch")
	}
}

func TestReversedJointEncoding(t *testing.T) {
	e := jointTargetPosition.resolve(2, 0)
	if e.policy&policyReversed == 0 {
		t.Fatal("finger 2 joint 0 should be reversed")
	}
	raw := int32(uint32(e.encodeValue(0.5)))
	if raw != -toRawPosition(0.5) {
		t.Errorf("reversed encode = %d, want %d", raw, -toRawPosition(0.5))
	}
	if got := e.decodeValue(uint64(uint32(raw))); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("reversed decode = %g, want 0.5", got)
	}

	thumb := jointTargetPosition.resolve(0, 0)
	if thumb.policy&policyReversed != 0 {
		t.Error("thumb joint 0 must not be reversed")
	}
}

func TestReversedLimitSubSwap(t *testing.T) {
	upper := jointUpperLimit.resolve(1, 0)
	lower := jointLowerLimit.resolve(1, 0)
	if upper.sub != jointLowerLimit.sub || lower.sub != jointUpperLimit.sub {
		t.Errorf("reversed joint limits should swap sub-indexes, got %d/%d", upper.sub, lower.sub)
	}

	normalUpper := jointUpperLimit.resolve(1, 2)
	if normalUpper.sub != jointUpperLimit.sub {
		t.Errorf("normal joint must keep sub %d, got %d", jointUpperLimit.sub, normalUpper.sub)
	}
}

func TestJointIndexBase(t *testing.T) {
	if jointIndexBase(0, 0) != 0x2000 {
		t.Errorf("thumb base = 0x%04X", jointIndexBase(0, 0))
	}
	if jointIndexBase(2, 3) != 0x2000+2*0x800+3*0x100 {
		t.Errorf("base(2,3) = 0x%04X", jointIndexBase(2, 3))
	}
}

func TestFrameBuilderOverflow(t *testing.T) {
	b := newFrameBuilder(frameTypeSDO)
	appended := 0
	for b.appendSDOWrite(0x2000, 0, 0, 8) {
		appended++
		if appended > 1000 {
			t.Fatal("builder never reports overflow")
		}
	}
	wire := b.finalize()
	if len(wire) > 512 {
		t.Errorf("frame exceeds buffer: %d", len(wire))
	}
	if !bytes.Equal(wire[:2], []byte{0xAA, 0x55}) {
		t.Error("overflowed builder corrupted header")
	}
}
