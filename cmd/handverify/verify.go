package main

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/wuji-technology/wujihand-go/telemetry"
	"github.com/wuji-technology/wujihand-go/wujihand"
)

// frameStats accumulates upstream stream health over a verification run.
type frameStats struct {
	frames int

	intervals   []time.Duration
	bothChanged int
	posOnly     int
	effortOnly  int

	lastTime     time.Time
	lastPosition wujihand.JointGrid
	lastEffort   wujihand.JointGrid
}

// observe folds one new upstream frame into the statistics. Samples must
// arrive in version order; the caller deduplicates.
func (st *frameStats) observe(s telemetry.Sample) {
	if st.frames > 0 {
		st.intervals = append(st.intervals, s.Time.Sub(st.lastTime))

		posChanged := s.Position != st.lastPosition
		effortChanged := s.Effort != st.lastEffort
		switch {
		case posChanged && effortChanged:
			st.bothChanged++
		case posChanged:
			st.posOnly++
		case effortChanged:
			st.effortOnly++
		}
	}
	st.frames++
	st.lastTime = s.Time
	st.lastPosition = s.Position
	st.lastEffort = s.Effort
}

// rateHz is the mean frame rate over the run.
func (st *frameStats) rateHz() float64 {
	if len(st.intervals) == 0 {
		return 0
	}
	var total time.Duration
	for _, iv := range st.intervals {
		total += iv
	}
	return float64(len(st.intervals)) / total.Seconds()
}

// syncRatio is the fraction of change events where position and effort
// moved in the same frame.
func (st *frameStats) syncRatio() float64 {
	events := st.bothChanged + st.posOnly + st.effortOnly
	if events == 0 {
		return 0
	}
	return float64(st.bothChanged) / float64(events)
}

func (st *frameStats) minMaxInterval() (time.Duration, time.Duration) {
	if len(st.intervals) == 0 {
		return 0, 0
	}
	min, max := st.intervals[0], st.intervals[0]
	for _, iv := range st.intervals[1:] {
		if iv < min {
			min = iv
		}
		if iv > max {
			max = iv
		}
	}
	return min, max
}

// verdict checks the run against the acceptance window: the mean rate
// must lie inside [minHz, maxHz] and the same-frame ratio at or above
// minSync. A stream that is too fast is as suspect as one that is too
// slow.
func (st *frameStats) verdict(minHz, maxHz, minSync float64) error {
	rate := st.rateHz()
	if rate < minHz || rate > maxHz {
		return errors.Errorf("frame rate %.1f Hz outside the %.0f-%.0f Hz window", rate, minHz, maxHz)
	}
	if sync := st.syncRatio(); sync < minSync {
		return errors.Errorf("position/effort sync %.3f below the %.3f minimum", sync, minSync)
	}
	return nil
}

func (st *frameStats) report(w io.Writer) {
	min, max := st.minMaxInterval()
	fmt.Fprintf(w, "frames:        %d\n", st.frames)
	fmt.Fprintf(w, "rate:          %.1f Hz\n", st.rateHz())
	fmt.Fprintf(w, "interval:      min %v, max %v\n", min, max)
	fmt.Fprintf(w, "sync:          %.1f%% (%d both, %d position-only, %d effort-only)\n",
		st.syncRatio()*100, st.bothChanged, st.posOnly, st.effortOnly)
}
