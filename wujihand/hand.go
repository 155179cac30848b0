package wujihand

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"

	"github.com/wuji-technology/wujihand-go/transports"
)

// DefaultTimeout bounds each checked operation when the Config does not
// override it.
const DefaultTimeout = 500 * time.Millisecond

// DefaultEffortLimit is written to every joint during initialization on
// firmware without the device-side position filter, in amperes.
const DefaultEffortLimit = 1.0

// DefaultUSBVID is the vendor ID the hand enumerates with.
const DefaultUSBVID = 0x0483

// Config holds configuration for opening a Hand.
type Config struct {
	// Transport is the underlying communication transport.
	// If nil, Port or the USB identifiers select a serial device.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyACM0").
	// Ignored if Transport is provided.
	Port string

	// SerialNumber narrows USB discovery to one unit. Optional.
	SerialNumber string

	// USBVID and USBPID filter USB discovery. VID defaults to 0x0483;
	// PID 0 matches any product.
	USBVID uint16
	USBPID uint16

	// Mask marks joints to exclude; operations against masked joints
	// complete immediately without bus traffic.
	Mask *[NumFingers][NumJoints]bool

	// Timeout bounds each checked operation. Default is 500ms.
	Timeout time.Duration

	// InitTimeout bounds the whole initialization sequence. Default is
	// 5 seconds.
	InitTimeout time.Duration

	// ProactiveReport opts in to the device-initiated report stream and
	// the host heartbeat that keeps it alive.
	ProactiveReport bool

	// Logger receives session diagnostics. Default is a no-op logger.
	Logger golog.Logger
}

// Hand is a session with one dexterous hand. All checked operations
// must be issued from a single goroutine unless DisableThreadSafeCheck
// was called and the caller serializes access itself.
type Hand struct {
	sess    *session
	logger  golog.Logger
	timeout time.Duration

	guardDisabled atomic.Bool
	guardBusy     atomic.Bool

	// Features detected from firmware versions at initialization.
	featFirmwareFilter  bool
	featDirectRPDO      bool
	featProactiveReport bool
	featFullSystem      bool
	effortSupported     bool

	handVersion       FirmwareVersion
	fullSystemVersion FirmwareVersion

	ctrlMu     sync.Mutex
	controller *RealtimeController

	closed atomic.Bool
}

// Open connects to a hand and runs the initialization sequence: the
// firmware check, feature detection, joint disarm, control mode and PDO
// configuration, and the position-limit prefetch that later clamps
// target commands.
func Open(cfg Config) (*Hand, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = golog.NewLogger("wujihand")
	}

	transport := cfg.Transport
	if transport == nil {
		vid := cfg.USBVID
		if vid == 0 {
			vid = DefaultUSBVID
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:         cfg.Port,
			VID:          vid,
			PID:          cfg.USBPID,
			SerialNumber: cfg.SerialNumber,
			Timeout:      cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open hand port: %w", err)
		}
	}

	// Drop any stale bytes left over from a previous session.
	if err := transport.Flush(); err != nil {
		logger.Warnw("transport flush failed", "error", err)
	}

	h := &Hand{
		sess:    newSession(transport, cfg.Mask, logger),
		logger:  logger,
		timeout: cfg.Timeout,
	}
	h.featProactiveReport = cfg.ProactiveReport
	h.sess.start()

	if err := h.initialize(cfg.InitTimeout); err != nil {
		h.sess.close()
		return nil, err
	}
	return h, nil
}

func (h *Hand) initialize(initTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := h.checkFirmware(ctx); err != nil {
		return err
	}

	if h.featProactiveReport {
		h.sess.heartbeat.Store(true)
	}

	// Disarm everything before touching control configuration.
	if err := h.WriteJointEnabled(ctx, false); err != nil {
		return fmt.Errorf("hand initialization: %w", err)
	}

	var ps []*Pending
	controlMode := uint64(6)
	if h.featFirmwareFilter {
		controlMode = 9
	}
	ps = append(ps, h.broadcastWriteAsync(jointControlMode, controlMode))

	if h.featFirmwareFilter {
		interval := uint64(2000)
		if h.featDirectRPDO {
			interval = 1000
		}
		ps = append(ps,
			h.handWriteAsync(handRPDOID, 0x01),
			h.handWriteAsync(handTPDOID, 0x01),
			h.handWriteAsync(handPDOInterval, interval),
			h.handWriteAsync(handPDOEnabled, 1),
		)
	} else {
		ps = append(ps, h.broadcastWriteAsync(jointEffortLimit, uint64(toRawEffortLimit(DefaultEffortLimit))))
	}

	if h.featDirectRPDO {
		ps = append(ps, h.handWriteAsync(handRPDODirect, 1))
	}
	if h.featProactiveReport {
		ps = append(ps, h.handWriteAsync(handTPDOProactive, 1))
	}

	// Prefetch position limits so target writes can clamp locally.
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps,
				h.sess.startRead(h.sess.jointUnit(f, j, jointUpperLimit), h.timeout),
				h.sess.startRead(h.sess.jointUnit(f, j, jointLowerLimit), h.timeout),
			)
		}
	}

	if err := awaitAll(ctx, ps); err != nil {
		return fmt.Errorf("hand initialization: joint configuration incomplete: %w", err)
	}
	return nil
}

func (h *Hand) checkFirmware(ctx context.Context) error {
	var ps []*Pending
	ps = append(ps, h.sess.startRead(h.sess.handUnit(handFirmwareVersion), h.timeout))
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps, h.sess.startRead(h.sess.jointUnit(f, j, jointFirmwareVersion), h.timeout))
		}
	}
	if err := awaitAll(ctx, ps); err != nil {
		return fmt.Errorf("firmware check: %w", err)
	}

	raw, err := h.sess.cached(h.sess.handUnit(handFirmwareVersion))
	if err != nil {
		return fmt.Errorf("firmware check: %w", err)
	}
	h.handVersion = firmwareVersionFromRaw(uint32(raw))
	if h.handVersion.Less(minHandFirmware) {
		return &UnsupportedFeatureError{
			Feature:  "device session",
			Required: minHandFirmware.String(),
			Actual:   h.handVersion.String(),
		}
	}

	jointVersions, consistent := h.jointVersionMatrix()
	reported := false
	if h.handVersion.AtLeast(minFullSystemReport) {
		p := h.sess.startRead(h.sess.handUnit(handFullSystemVersion), h.timeout)
		if err := awaitAll(ctx, []*Pending{p}); err == nil {
			if raw, err := h.sess.cached(h.sess.handUnit(handFullSystemVersion)); err == nil {
				v := firmwareVersionFromRaw(uint32(raw))
				if v.Major > 0 {
					h.fullSystemVersion = v
					h.featFullSystem = true
					h.logger.Infow("using firmware version", "full-system", v.String())
					reported = true
				}
			}
		}
	}
	if !reported {
		if consistent {
			h.logger.Infow("using firmware version",
				"hand", h.handVersion.String(), "joints", jointVersions[0][0].String())
		} else {
			h.logger.Warnw("inconsistent driver board firmware version detected",
				"hand", h.handVersion.String())
			for f := 0; f < NumFingers; f++ {
				row := make([]string, NumJoints)
				for j := 0; j < NumJoints; j++ {
					row[j] = jointVersions[f][j].String()
				}
				h.logger.Infow("joint firmware", "finger", f, "versions", row)
			}
		}
	}

	if consistent && jointVersions[0][0].AtLeast(minFirmwareFilter) {
		h.featFirmwareFilter = true
		h.logger.Debug("firmware filter enabled")
	}
	if h.handVersion.AtLeast(minDirectRPDO) {
		h.featDirectRPDO = true
		h.logger.Debug("direct rpdo distribution enabled")
	}
	h.effortSupported = h.featFullSystem && h.fullSystemVersion.AtLeast(minEffortFeedback)
	return nil
}

func (h *Hand) jointVersionMatrix() ([NumFingers][NumJoints]FirmwareVersion, bool) {
	var versions [NumFingers][NumJoints]FirmwareVersion
	consistent := true
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			raw, err := h.sess.cached(h.sess.jointUnit(f, j, jointFirmwareVersion))
			if err == nil {
				versions[f][j] = firmwareVersionFromRaw(uint32(raw))
			}
			if versions[f][j] != versions[0][0] {
				consistent = false
			}
		}
	}
	return versions, consistent
}

// HandVersion returns the hand firmware version read at initialization.
func (h *Hand) HandVersion() FirmwareVersion { return h.handVersion }

// FullSystemVersion returns the full-system firmware version, or a zero
// version when the firmware predates the unified report.
func (h *Hand) FullSystemVersion() FirmwareVersion { return h.fullSystemVersion }

// EffortFeedbackSupported reports whether the firmware streams effort
// telemetry.
func (h *Hand) EffortFeedbackSupported() bool { return h.effortSupported }

// DisableThreadSafeCheck turns off the overlapping-call detector.
// Callers take over serialization of all checked operations.
func (h *Hand) DisableThreadSafeCheck() {
	h.guardDisabled.Store(true)
}

func (h *Hand) enterGuard() error {
	if h.closed.Load() {
		return ErrClosed
	}
	if h.guardDisabled.Load() {
		return nil
	}
	if !h.guardBusy.CompareAndSwap(false, true) {
		return ErrConcurrentAccess
	}
	return nil
}

func (h *Hand) exitGuard() {
	if !h.guardDisabled.Load() {
		h.guardBusy.Store(false)
	}
}

// Close detaches any realtime controller, stops the session goroutines
// and closes the transport. Idempotent.
func (h *Hand) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.ctrlMu.Lock()
	ctrl := h.controller
	h.ctrlMu.Unlock()
	if ctrl != nil {
		if err := ctrl.Close(); err != nil && err != ErrControllerClosed {
			h.logger.Warnw("realtime controller shutdown failed", "error", err)
		}
	}

	return h.sess.close()
}

// Finger returns the device model for one finger. Index 0 is the thumb.
func (h *Hand) Finger(index int) (*Finger, error) {
	if index < 0 || index >= NumFingers {
		return nil, &IndexError{What: "finger", Index: index, Max: NumFingers}
	}
	return &Finger{hand: h, index: index}, nil
}

// Joint returns the device model for one joint.
func (h *Hand) Joint(finger, joint int) (*Joint, error) {
	f, err := h.Finger(finger)
	if err != nil {
		return nil, err
	}
	return f.Joint(joint)
}

// awaitAll waits for every pending operation, failing on the first
// error. Cancellation abandons the wait; the operations themselves keep
// running until they confirm or expire.
func awaitAll(ctx context.Context, ps []*Pending) error {
	for _, p := range ps {
		select {
		case <-p.Done():
			if err := p.Err(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// joinPending folds several operations into one handle completing when
// all of them have, with the first error as the outcome.
func joinPending(ps []*Pending) *Pending {
	out := &Pending{done: make(chan struct{})}
	go func() {
		for _, p := range ps {
			<-p.Done()
			if err := p.Err(); err != nil && out.err == nil {
				out.err = err
			}
		}
		close(out.done)
	}()
	return out
}

// broadcastWriteAsync issues one checked write per joint with the same
// raw value.
func (h *Hand) broadcastWriteAsync(e entry, raw uint64) *Pending {
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps, h.sess.startWrite(h.sess.jointUnit(f, j, e), raw, h.timeout))
		}
	}
	return joinPending(ps)
}

func (h *Hand) handWriteAsync(e entry, raw uint64) *Pending {
	return h.sess.startWrite(h.sess.handUnit(e), raw, h.timeout)
}

func (h *Hand) handReadAsync(e entry) *Pending {
	return h.sess.startRead(h.sess.handUnit(e), h.timeout)
}

// readHandField performs a blocking read of a hand-level entry and
// returns the raw cached value.
func (h *Hand) readHandField(ctx context.Context, e entry) (uint64, error) {
	if err := h.enterGuard(); err != nil {
		return 0, err
	}
	defer h.exitGuard()
	if err := awaitAll(ctx, []*Pending{h.handReadAsync(e)}); err != nil {
		return 0, err
	}
	return h.sess.cached(h.sess.handUnit(e))
}

// clampTarget limits a target angle to the joint's cached travel range.
func (h *Hand) clampTarget(f, j int, rad float64) float64 {
	upper := h.sess.jointUnit(f, j, jointUpperLimit)
	lower := h.sess.jointUnit(f, j, jointLowerLimit)
	if upper.version.Load() == 0 || lower.version.Load() == 0 {
		return rad
	}
	hi := upper.ent.decodeValue(upper.value.Load())
	lo := lower.ent.decodeValue(lower.value.Load())
	if lo > hi {
		lo, hi = hi, lo
	}
	if rad < lo {
		return lo
	}
	if rad > hi {
		return hi
	}
	return rad
}

// WriteJointEnabled arms or disarms every joint and waits for
// confirmation.
func (h *Hand) WriteJointEnabled(ctx context.Context, enabled bool) error {
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	return awaitAll(ctx, []*Pending{h.writeJointEnabledAsync(enabled)})
}

func (h *Hand) writeJointEnabledAsync(enabled bool) *Pending {
	raw := jointEnabled.encodeValue(0)
	if enabled {
		raw = jointEnabled.encodeValue(1)
	}
	return h.broadcastWriteAsync(jointEnabled, raw)
}

// WriteJointControlMode sets the control mode of every joint.
func (h *Hand) WriteJointControlMode(ctx context.Context, mode uint16) error {
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	return awaitAll(ctx, []*Pending{h.broadcastWriteAsync(jointControlMode, uint64(mode))})
}

// WriteJointEffortLimit sets the effort limit of every joint, in
// amperes.
func (h *Hand) WriteJointEffortLimit(ctx context.Context, amperes float64) error {
	if amperes < 0 {
		return &ParameterError{Op: "effort limit", Reason: "must be >= 0 amperes"}
	}
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	raw := uint64(toRawEffortLimit(amperes))
	return awaitAll(ctx, []*Pending{h.broadcastWriteAsync(jointEffortLimit, raw)})
}

// WriteJointTargetPositions commands every joint, clamping each target
// to the joint's travel limits.
func (h *Hand) WriteJointTargetPositions(ctx context.Context, targets JointGrid) error {
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			u := h.sess.jointUnit(f, j, jointTargetPosition)
			raw := u.ent.encodeValue(h.clampTarget(f, j, targets[f][j]))
			ps = append(ps, h.sess.startWrite(u, raw, h.timeout))
		}
	}
	return awaitAll(ctx, ps)
}

// WriteAllJointTargetPositions commands every joint to the same angle.
func (h *Hand) WriteAllJointTargetPositions(ctx context.Context, rad float64) error {
	return h.WriteJointTargetPositions(ctx, UniformGrid(rad))
}

// ReadJointActualPositions reads every joint angle from the device.
func (h *Hand) ReadJointActualPositions(ctx context.Context) (JointGrid, error) {
	var grid JointGrid
	if err := h.enterGuard(); err != nil {
		return grid, err
	}
	defer h.exitGuard()
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps, h.sess.startRead(h.sess.jointUnit(f, j, jointActualPosition), h.timeout))
		}
	}
	if err := awaitAll(ctx, ps); err != nil {
		return grid, err
	}
	return h.GetJointActualPositions()
}

// GetJointActualPositions returns the cached joint angles without bus
// traffic. Fails if any joint was never read.
func (h *Hand) GetJointActualPositions() (JointGrid, error) {
	var grid JointGrid
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

// ReadJointErrorCodes reads the fault register of every joint.
func (h *Hand) ReadJointErrorCodes(ctx context.Context) ([NumFingers][NumJoints]uint32, error) {
	var codes [NumFingers][NumJoints]uint32
	if err := h.enterGuard(); err != nil {
		return codes, err
	}
	defer h.exitGuard()
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			ps = append(ps, h.sess.startRead(h.sess.jointUnit(f, j, jointErrorCode), h.timeout))
		}
	}
	if err := awaitAll(ctx, ps); err != nil {
		return codes, err
	}
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			raw, err := h.sess.cached(h.sess.jointUnit(f, j, jointErrorCode))
			if err != nil {
				return codes, err
			}
			codes[f][j] = uint32(raw)
		}
	}
	return codes, nil
}

// WriteJointResetError clears latched faults on every joint.
func (h *Hand) WriteJointResetError(ctx context.Context) error {
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	return awaitAll(ctx, []*Pending{h.broadcastWriteAsync(jointResetError, 1)})
}

// ReadHandedness reports which side the hand is built for: 0 left,
// 1 right.
func (h *Hand) ReadHandedness(ctx context.Context) (uint8, error) {
	raw, err := h.readHandField(ctx, handHandedness)
	return uint8(raw), err
}

// ReadTemperature reads the hand controller temperature in Celsius.
func (h *Hand) ReadTemperature(ctx context.Context) (float32, error) {
	raw, err := h.readHandField(ctx, handTemperature)
	return decodeFloat32(raw), err
}

// ReadInputVoltage reads the supply voltage in volts.
func (h *Hand) ReadInputVoltage(ctx context.Context) (float32, error) {
	raw, err := h.readHandField(ctx, handInputVoltage)
	return decodeFloat32(raw), err
}

// ReadSystemTime reads the device uptime clock.
func (h *Hand) ReadSystemTime(ctx context.Context) (uint32, error) {
	raw, err := h.readHandField(ctx, handSystemTime)
	return uint32(raw), err
}

// ReadProductSN reads and assembles the product serial number.
func (h *Hand) ReadProductSN(ctx context.Context) (string, error) {
	if err := h.enterGuard(); err != nil {
		return "", err
	}
	defer h.exitGuard()

	ps := make([]*Pending, 0, len(handSNParts))
	for _, part := range handSNParts {
		ps = append(ps, h.handReadAsync(part))
	}
	if err := awaitAll(ctx, ps); err != nil {
		return "", err
	}

	sn := make([]byte, 0, len(handSNParts)*4)
	for _, part := range handSNParts {
		raw, err := h.sess.cached(h.sess.handUnit(part))
		if err != nil {
			return "", err
		}
		chunk := make([]byte, 4)
		putUintLE(chunk, raw, 4)
		sn = append(sn, chunk...)
	}
	// Trim zero padding from the final chunk.
	end := len(sn)
	for end > 0 && sn[end-1] == 0 {
		end--
	}
	return string(sn[:end]), nil
}

// RawSDORead reads an arbitrary object-dictionary entry. fingerID -1
// addresses the hand scope; jointID is ignored there.
func (h *Hand) RawSDORead(ctx context.Context, fingerID, jointID int, index uint16, sub byte) ([]byte, error) {
	full, err := resolveRawIndex(fingerID, jointID, index)
	if err != nil {
		return nil, err
	}
	if err := h.enterGuard(); err != nil {
		return nil, err
	}
	defer h.exitGuard()
	return h.sess.rawSDO(full, sub, nil, false, rawTimeout(ctx, h.timeout))
}

// RawSDOWrite writes an arbitrary object-dictionary entry. The payload
// must be 1, 2, 4 or 8 bytes, little-endian.
func (h *Hand) RawSDOWrite(ctx context.Context, fingerID, jointID int, index uint16, sub byte, data []byte) error {
	full, err := resolveRawIndex(fingerID, jointID, index)
	if err != nil {
		return err
	}
	if err := h.enterGuard(); err != nil {
		return err
	}
	defer h.exitGuard()
	_, err = h.sess.rawSDO(full, sub, data, true, rawTimeout(ctx, h.timeout))
	return err
}

func resolveRawIndex(fingerID, jointID int, index uint16) (uint16, error) {
	if fingerID == -1 {
		return index, nil
	}
	if fingerID < 0 || fingerID >= NumFingers {
		return 0, &IndexError{What: "finger", Index: fingerID, Max: NumFingers}
	}
	if jointID < 0 || jointID >= NumJoints {
		return 0, &IndexError{What: "joint", Index: jointID, Max: NumJoints}
	}
	return jointIndexBase(fingerID, jointID) + index, nil
}

func rawTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < fallback {
			return d
		}
	}
	return fallback
}

// Enable bracketing. Several flows need all joints armed (position
// reads) or disarmed (mode changes) and must put the previous states
// back afterwards.

func (h *Hand) saveAndSetJoints(ctx context.Context, enable bool) ([NumFingers][NumJoints]bool, error) {
	var last [NumFingers][NumJoints]bool
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			u := h.sess.jointUnit(f, j, jointEnabled)
			raw, err := h.sess.cached(u)
			if err != nil {
				return last, err
			}
			last[f][j] = u.ent.decodeValue(raw) != 0
			if last[f][j] != enable {
				ps = append(ps, h.sess.startWrite(u, u.ent.encodeValue(boolToFloat(enable)), h.timeout))
			}
		}
	}
	return last, awaitAll(ctx, ps)
}

// revertJoints restores the states recorded by saveAndSetJoints; enable
// must match the value passed there so only changed joints are touched.
func (h *Hand) revertJoints(ctx context.Context, last [NumFingers][NumJoints]bool, enable bool) error {
	ps := make([]*Pending, 0, NumFingers*NumJoints)
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			if last[f][j] == enable {
				continue
			}
			u := h.sess.jointUnit(f, j, jointEnabled)
			ps = append(ps, h.sess.startWrite(u, u.ent.encodeValue(boolToFloat(last[f][j])), h.timeout))
		}
	}
	return awaitAll(ctx, ps)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
