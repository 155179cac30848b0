// Package telemetry captures realtime hand state and writes run logs
// for offline analysis.
package telemetry

import (
	"time"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

// Sample is one immutable snapshot of the upstream telemetry stream.
type Sample struct {
	Time     time.Time
	Version  uint64
	Position wujihand.JointGrid
	Effort   wujihand.JointGrid
}

// Source is the part of the realtime controller samples are taken from.
type Source interface {
	GetJointActualPositions() (wujihand.JointGrid, error)
	GetJointActualEfforts() (wujihand.JointGrid, error)
	UpstreamVersion() (uint64, error)
}

// Capture snapshots the controller's current state. Effort is left zero
// on firmware without effort feedback.
func Capture(src Source) (Sample, error) {
	version, err := src.UpstreamVersion()
	if err != nil {
		return Sample{}, err
	}
	pos, err := src.GetJointActualPositions()
	if err != nil {
		return Sample{}, err
	}
	s := Sample{
		Time:     time.Now(),
		Version:  version,
		Position: pos,
	}
	if effort, err := src.GetJointActualEfforts(); err == nil {
		s.Effort = effort
	}
	return s, nil
}
