package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

// Recorder writes samples as a plain-text run log: '#'-prefixed header
// lines followed by CSV rows of
// timestamp,pos[0][0..3],...,pos[4][0..3],effort[0][0..3],...
type Recorder struct {
	w     *bufio.Writer
	c     io.Closer
	epoch time.Time
	rows  int
}

// Header identifies the run in the log preamble.
type Header struct {
	Tool     string
	DeviceSN string
	Started  time.Time
}

// NewRecorder writes the header and returns a recorder. If w also
// implements io.Closer, Close closes it.
func NewRecorder(w io.Writer, hdr Header) (*Recorder, error) {
	r := &Recorder{w: bufio.NewWriter(w), epoch: hdr.Started}
	if r.epoch.IsZero() {
		r.epoch = time.Now()
	}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}

	lines := []string{
		fmt.Sprintf("# tool: %s", hdr.Tool),
		fmt.Sprintf("# device: %s", hdr.DeviceSN),
		fmt.Sprintf("# started: %s", r.epoch.Format(time.RFC3339Nano)),
		"# columns: timestamp_s, position[finger][joint] rad (20), effort[finger][joint] A (20)",
	}
	for _, line := range lines {
		if _, err := r.w.WriteString(line + "\n"); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record appends one sample row.
func (r *Recorder) Record(s Sample) error {
	buf := make([]byte, 0, 512)
	buf = strconv.AppendFloat(buf, s.Time.Sub(r.epoch).Seconds(), 'f', 6, 64)
	buf = appendGrid(buf, s.Position)
	buf = appendGrid(buf, s.Effort)
	buf = append(buf, '\n')
	if _, err := r.w.Write(buf); err != nil {
		return err
	}
	r.rows++
	return nil
}

func appendGrid(buf []byte, grid wujihand.JointGrid) []byte {
	for f := 0; f < wujihand.NumFingers; f++ {
		for j := 0; j < wujihand.NumJoints; j++ {
			buf = append(buf, ',')
			buf = strconv.AppendFloat(buf, grid[f][j], 'f', 6, 64)
		}
	}
	return buf
}

// Rows returns the number of samples recorded.
func (r *Recorder) Rows() int { return r.rows }

// Flush pushes buffered rows to the underlying writer.
func (r *Recorder) Flush() error {
	return r.w.Flush()
}

// Close flushes and closes the underlying writer when it is closable.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		return err
	}
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
