package telemetry

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

type fakeSource struct {
	version   uint64
	positions wujihand.JointGrid
	efforts   wujihand.JointGrid
	effortErr error
}

func (s *fakeSource) GetJointActualPositions() (wujihand.JointGrid, error) {
	return s.positions, nil
}

func (s *fakeSource) GetJointActualEfforts() (wujihand.JointGrid, error) {
	return s.efforts, s.effortErr
}

func (s *fakeSource) UpstreamVersion() (uint64, error) {
	return s.version, nil
}

func TestCapture(t *testing.T) {
	src := &fakeSource{
		version:   42,
		positions: wujihand.UniformGrid(0.5),
		efforts:   wujihand.UniformGrid(0.2),
	}

	s, err := Capture(src)
	if err != nil {
		t.Fatal(err)
	}
	if s.Version != 42 || s.Position[2][1] != 0.5 || s.Effort[0][0] != 0.2 {
		t.Errorf("bad sample: %+v", s)
	}

	// Firmware without effort feedback leaves effort zero.
	src.effortErr = errors.New("unsupported")
	s, err = Capture(src)
	if err != nil {
		t.Fatal(err)
	}
	if s.Effort != (wujihand.JointGrid{}) {
		t.Errorf("effort not zeroed: %+v", s.Effort)
	}
}

func TestRecorderWritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	r, err := NewRecorder(&buf, Header{Tool: "handverify", DeviceSN: "WJH-0042", Started: start})
	if err != nil {
		t.Fatal(err)
	}

	err = r.Record(Sample{
		Time:     start.Add(1500 * time.Millisecond),
		Position: wujihand.UniformGrid(0.25),
		Effort:   wujihand.UniformGrid(0.1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Flush(); err != nil {
		t.Fatal(err)
	}
	if r.Rows() != 1 {
		t.Errorf("rows = %d", r.Rows())
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for i := 0; i < 4; i++ {
		if !strings.HasPrefix(lines[i], "# ") {
			t.Errorf("header line %d = %q", i, lines[i])
		}
	}
	if !strings.Contains(lines[0], "handverify") || !strings.Contains(lines[1], "WJH-0042") {
		t.Errorf("preamble missing identity: %q %q", lines[0], lines[1])
	}

	fields := strings.Split(lines[4], ",")
	if len(fields) != 1+20+20 {
		t.Fatalf("row has %d fields", len(fields))
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || ts != 1.5 {
		t.Errorf("timestamp = %q", fields[0])
	}
	if v, _ := strconv.ParseFloat(fields[1], 64); v != 0.25 {
		t.Errorf("position field = %q", fields[1])
	}
	if v, _ := strconv.ParseFloat(fields[21], 64); v != 0.1 {
		t.Errorf("effort field = %q", fields[21])
	}
}

type closableBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closableBuffer) Close() error {
	b.closed = true
	return nil
}

func TestRecorderCloseFlushesAndCloses(t *testing.T) {
	var buf closableBuffer
	r, err := NewRecorder(&buf, Header{Tool: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(Sample{Time: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !buf.closed {
		t.Error("underlying writer not closed")
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("rows not flushed on close")
	}
}
