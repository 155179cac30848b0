package wujihand

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wuji-technology/wujihand-go/filter"
)

// ControlRate is the realtime duplex loop frequency in Hz.
const ControlRate = 1000.0

// RealtimeController streams filtered target positions to the hand at
// the control rate and, when upstream is enabled, mirrors the hand's
// state back into a lock-free cache. At most one controller can be
// attached to a hand at a time.
//
// Setters and getters never block and are safe to call from any
// goroutine; they are exempt from the session's thread-safety check.
type RealtimeController struct {
	hand     *Hand
	upstream bool
	lp       *filter.LowPass
	units    [NumFingers][NumJoints]filter.Unit

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// RealtimeController attaches a realtime controller. The hand switches
// to cyclic position mode, PDO streaming is configured, and the filter
// is seeded from the current joint angles so the first commands depart
// from the hand's true pose. lpf nil selects the default cutoff.
func (h *Hand) RealtimeController(ctx context.Context, enableUpstream bool, lpf *filter.LowPass) (*RealtimeController, error) {
	if err := h.enterGuard(); err != nil {
		return nil, err
	}
	defer h.exitGuard()

	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if h.controller != nil {
		return nil, ErrControllerAttached
	}

	if lpf == nil {
		var err error
		lpf, err = filter.NewLowPass(filter.DefaultCutoff)
		if err != nil {
			return nil, err
		}
	}

	c := &RealtimeController{
		hand:     h,
		upstream: enableUpstream,
		lp:       lpf,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if h.featFirmwareFilter {
		cutoff := encodeFloat32(float32(lpf.CutoffFreq()))
		if err := awaitAll(ctx, []*Pending{h.broadcastWriteAsync(jointFilterCutoff, cutoff)}); err != nil {
			return nil, err
		}
	}

	// Seed the filter from the hand's actual pose. Position feedback
	// needs the joints armed.
	last, err := h.saveAndSetJoints(ctx, true)
	if err != nil {
		return nil, err
	}
	seed, err := h.readPositionsLocked(ctx)
	if revertErr := h.revertJoints(ctx, last, true); err == nil {
		err = revertErr
	}
	if err != nil {
		return nil, err
	}

	c.lp.Setup(ControlRate)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			c.units[f][j].Reset(seed[f][j])
		}
	}

	if err := h.configurePDO(ctx, enableUpstream, true); err != nil {
		return nil, err
	}

	h.controller = c
	go c.loop()
	return c, nil
}

func (h *Hand) readPositionsLocked(ctx context.Context) (JointGrid, error) {
	var grid JointGrid
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps, h.sess.startRead(h.sess.jointUnit(f, j, jointActualPosition), h.timeout))
		}
	}
	if err := awaitAll(ctx, ps); err != nil {
		return grid, err
	}
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			u := h.sess.jointUnit(f, j, jointActualPosition)
			raw, err := h.sess.cached(u)
			if err != nil {
				return grid, err
			}
			grid[f][j] = u.ent.decodeValue(raw)
		}
	}
	return grid, nil
}

// configurePDO brackets the mode switch with a joint disarm: control
// configuration must not be changed on armed joints.
func (h *Hand) configurePDO(ctx context.Context, enableUpstream, attach bool) error {
	last, err := h.saveAndSetJoints(ctx, false)
	if err != nil {
		return err
	}

	var ps []*Pending
	if attach {
		tpdoID := uint64(0x00)
		if enableUpstream {
			tpdoID = 0x01
			if h.effortSupported {
				tpdoID = 0x02
			}
		}
		ps = append(ps,
			h.broadcastWriteAsync(jointControlMode, 5),
			h.handWriteAsync(handRPDOID, 0x01),
			h.handWriteAsync(handTPDOID, tpdoID),
			h.handWriteAsync(handPDOInterval, 2000),
			h.handWriteAsync(handPDOEnabled, 1),
		)
	} else {
		ps = append(ps,
			h.broadcastWriteAsync(jointControlMode, 6),
			h.handWriteAsync(handPDOEnabled, 0),
		)
	}
	err = awaitAll(ctx, ps)

	if revertErr := h.revertJoints(ctx, last, false); err == nil {
		err = revertErr
	}
	return err
}

// loop is the realtime duplex loop: every tick it steps the filter and
// transmits one downstream PDO frame. The upstream path is handled by
// the session receiver as replies arrive.
func (c *RealtimeController) loop() {
	defer close(c.done)

	builder := newFrameBuilder(frameTypePDO)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / ControlRate))
	defer ticker.Stop()

	readID := byte(pdoReadNone)
	if c.upstream {
		readID = pdoReadPositions
	}

	begin := time.Now()
	var targets [NumFingers][NumJoints]int32

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		for f := 0; f < NumFingers; f++ {
			for j := 0; j < NumJoints; j++ {
				rad := c.units[f][j].Step(c.lp)
				rad = c.hand.clampTarget(f, j, rad)
				raw := toRawPosition(rad)
				if isReversedJoint(f, j) {
					raw = -raw
				}
				targets[f][j] = raw
			}
		}

		builder.reset(frameTypePDO)
		builder.appendPDOTargets(&targets, uint32(time.Since(begin).Microseconds()), readID)
		if err := c.hand.sess.writePDOFrame(builder); err != nil {
			if c.hand.sess.closed.Load() {
				return
			}
			c.hand.logger.Errorw("pdo frame transmit failed", "error", err)
		}
	}
}

// SetJointTargetPositions stores new targets for the control loop. It
// never blocks; each value is clamped and smoothed before it reaches
// the wire.
func (c *RealtimeController) SetJointTargetPositions(targets JointGrid) error {
	if c.closed.Load() {
		return ErrControllerClosed
	}
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			c.units[f][j].Input(targets[f][j])
		}
	}
	return nil
}

// GetJointActualPositions returns the latest streamed joint angles.
// Never blocks.
func (c *RealtimeController) GetJointActualPositions() (JointGrid, error) {
	var grid JointGrid
	snap, err := c.snapshot()
	if err != nil {
		return grid, err
	}
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			raw := snap.positions[f][j]
			if isReversedJoint(f, j) {
				raw = -raw
			}
			grid[f][j] = fromRawPosition(raw)
		}
	}
	return grid, nil
}

// GetJointActualEfforts returns the latest streamed joint efforts in
// amperes. Position and effort of one call always come from the same
// device frame.
func (c *RealtimeController) GetJointActualEfforts() (JointGrid, error) {
	var grid JointGrid
	if !c.hand.effortSupported {
		return grid, &UnsupportedFeatureError{
			Feature:  "effort feedback",
			Required: minEffortFeedback.String(),
			Actual:   c.hand.fullSystemVersion.String(),
		}
	}
	snap, err := c.snapshot()
	if err != nil {
		return grid, err
	}
	if !snap.hasEffort {
		return grid, ErrNoCachedValue
	}
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			grid[f][j] = float64(snap.efforts[f][j])
		}
	}
	return grid, nil
}

// GetJointErrorCodes returns the latest streamed fault registers.
func (c *RealtimeController) GetJointErrorCodes() ([NumFingers][NumJoints]uint32, error) {
	var codes [NumFingers][NumJoints]uint32
	snap, err := c.snapshot()
	if err != nil {
		return codes, err
	}
	if !snap.hasEffort {
		return codes, ErrNoCachedValue
	}
	return snap.errorCodes, nil
}

// UpstreamVersion returns the number of upstream frames received. Zero
// means no telemetry has arrived yet.
func (c *RealtimeController) UpstreamVersion() (uint64, error) {
	snap, err := c.snapshot()
	if err != nil {
		return 0, err
	}
	return snap.version, nil
}

func (c *RealtimeController) snapshot() (*pdoSnapshot, error) {
	if c.closed.Load() {
		return nil, ErrControllerClosed
	}
	if !c.upstream {
		return nil, ErrUpstreamDisabled
	}
	snap := c.hand.sess.pdo.Load()
	if snap.version == 0 {
		return nil, ErrNoCachedValue
	}
	return snap, nil
}

// Close stops the control loop, returns the hand to profile position
// mode and disables PDO streaming. Idempotent; cleanup is best-effort
// so a half-broken link still releases the controller slot.
func (c *RealtimeController) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(c.stop)
	<-c.done

	h := c.hand
	h.ctrlMu.Lock()
	if h.controller == c {
		h.controller = nil
	}
	h.ctrlMu.Unlock()

	if h.sess.closed.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.configurePDO(ctx, false, false); err != nil {
		h.logger.Warnw("controller detach cleanup incomplete", "error", err)
		return err
	}
	return nil
}
