// Package filter provides causal smoothing filters applied to joint
// target commands on the realtime write path.
package filter

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrInvalidCutoff reports a cutoff frequency with no physical
// interpretation (negative or NaN).
var ErrInvalidCutoff = errors.New("cutoff frequency must be >= 0 Hz")

// DefaultCutoff is the cutoff frequency used when callers have no
// specific smoothing requirement.
const DefaultCutoff = 10.0

// LowPass is a single-pole IIR low-pass filter parameterized by cutoff
// frequency. The filter itself is stateless; per-channel state lives in
// Unit values so that concurrent sessions never share memory.
type LowPass struct {
	cutoff float64
	alpha  float64
}

// NewLowPass creates a low-pass filter with the given cutoff frequency
// in Hz. A cutoff of 0 is legal and holds the last output (maximal
// smoothing). Negative or NaN cutoffs fail with ErrInvalidCutoff.
func NewLowPass(cutoffHz float64) (*LowPass, error) {
	if cutoffHz < 0 || math.IsNaN(cutoffHz) {
		return nil, fmt.Errorf("%w, got %g", ErrInvalidCutoff, cutoffHz)
	}
	return &LowPass{cutoff: cutoffHz}, nil
}

// CutoffFreq returns the configured cutoff frequency in Hz.
func (f *LowPass) CutoffFreq() float64 {
	return f.cutoff
}

// Alpha computes the smoothing coefficient for a control loop running
// at samplingHz. Zero cutoff yields 0 (hold); a cutoff far above the
// sampling rate approaches 1 (pass-through).
func Alpha(cutoffHz, samplingHz float64) float64 {
	if cutoffHz == 0 {
		return 0
	}
	dt := 1.0 / samplingHz
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	return dt / (dt + rc)
}

// Setup fixes the smoothing coefficient for the given sampling rate.
// Called once when a realtime session opens.
func (f *LowPass) Setup(samplingHz float64) {
	f.alpha = Alpha(f.cutoff, samplingHz)
}

// Unit holds the filter state for one joint channel. The inbox is
// written by the caller's thread and drained by the control loop, so it
// is the only atomic field; output is touched by the loop alone.
type Unit struct {
	inbox  atomic.Uint64 // float64 bits
	output float64
}

// Reset primes the channel with an initial value, discarding any state
// left over from a previous session.
func (u *Unit) Reset(initial float64) {
	u.inbox.Store(math.Float64bits(initial))
	u.output = initial
}

// Input stores a new target without blocking.
func (u *Unit) Input(value float64) {
	u.inbox.Store(math.Float64bits(value))
}

// Step advances the filter by one sample and returns the smoothed
// output. Must only be called from the control loop.
func (u *Unit) Step(f *LowPass) float64 {
	x := math.Float64frombits(u.inbox.Load())
	u.output = f.alpha*x + (1-f.alpha)*u.output
	return u.output
}
