package wujihand

import (
	"context"
	"time"
)

// Joint addresses one joint of the hand. Values are cheap handles; all
// state lives in the session.
type Joint struct {
	hand   *Hand
	finger int
	joint  int
}

// Finger returns the finger index of this joint.
func (j *Joint) Finger() int { return j.finger }

// Index returns the joint index within its finger.
func (j *Joint) Index() int { return j.joint }

func (j *Joint) unit(e entry) *storageUnit {
	return j.hand.sess.jointUnit(j.finger, j.joint, e)
}

// read performs a guarded blocking read and returns the raw cached
// value.
func (j *Joint) read(ctx context.Context, e entry) (uint64, error) {
	if err := j.hand.enterGuard(); err != nil {
		return 0, err
	}
	defer j.hand.exitGuard()
	u := j.unit(e)
	if err := awaitAll(ctx, []*Pending{j.hand.sess.startRead(u, j.hand.timeout)}); err != nil {
		return 0, err
	}
	return j.hand.sess.cached(u)
}

func (j *Joint) write(ctx context.Context, e entry, raw uint64) error {
	if err := j.hand.enterGuard(); err != nil {
		return err
	}
	defer j.hand.exitGuard()
	return awaitAll(ctx, []*Pending{j.hand.sess.startWrite(j.unit(e), raw, j.hand.timeout)})
}

// ReadFirmwareVersion reads this joint's driver firmware version.
func (j *Joint) ReadFirmwareVersion(ctx context.Context) (FirmwareVersion, error) {
	raw, err := j.read(ctx, jointFirmwareVersion)
	return firmwareVersionFromRaw(uint32(raw)), err
}

// GetFirmwareVersion returns the cached firmware version.
func (j *Joint) GetFirmwareVersion() (FirmwareVersion, error) {
	raw, err := j.hand.sess.cached(j.unit(jointFirmwareVersion))
	return firmwareVersionFromRaw(uint32(raw)), err
}

// ReadActualPosition reads the joint angle in radians.
func (j *Joint) ReadActualPosition(ctx context.Context) (float64, error) {
	raw, err := j.read(ctx, jointActualPosition)
	if err != nil {
		return 0, err
	}
	return j.unit(jointActualPosition).ent.decodeValue(raw), nil
}

// ReadActualPositionAsync starts a position read without blocking.
// Collect the result with GetActualPosition after the handle completes.
func (j *Joint) ReadActualPositionAsync(timeout time.Duration) *Pending {
	if err := j.hand.enterGuard(); err != nil {
		return donePending(err)
	}
	defer j.hand.exitGuard()
	return j.hand.sess.startRead(j.unit(jointActualPosition), timeout)
}

// ReadActualPositionUnchecked fires a read request without tracking the
// reply. The cache updates if the device answers.
func (j *Joint) ReadActualPositionUnchecked() error {
	e := j.unit(jointActualPosition).ent
	return j.hand.sess.sendUnchecked(func(b *frameBuilder) bool {
		return b.appendSDORead(e.index, e.sub)
	})
}

// GetActualPosition returns the cached joint angle in radians.
func (j *Joint) GetActualPosition() (float64, error) {
	u := j.unit(jointActualPosition)
	raw, err := j.hand.sess.cached(u)
	if err != nil {
		return 0, err
	}
	return u.ent.decodeValue(raw), nil
}

// WriteTargetPosition commands the joint, clamping to its travel
// limits.
func (j *Joint) WriteTargetPosition(ctx context.Context, rad float64) error {
	u := j.unit(jointTargetPosition)
	raw := u.ent.encodeValue(j.hand.clampTarget(j.finger, j.joint, rad))
	return j.write(ctx, jointTargetPosition, raw)
}

// WriteTargetPositionAsync commands the joint without blocking.
func (j *Joint) WriteTargetPositionAsync(rad float64, timeout time.Duration) *Pending {
	if err := j.hand.enterGuard(); err != nil {
		return donePending(err)
	}
	defer j.hand.exitGuard()
	u := j.unit(jointTargetPosition)
	raw := u.ent.encodeValue(j.hand.clampTarget(j.finger, j.joint, rad))
	return j.hand.sess.startWrite(u, raw, timeout)
}

// WriteTargetPositionUnchecked fires a target write without waiting for
// a device acknowledgement.
func (j *Joint) WriteTargetPositionUnchecked(rad float64) error {
	u := j.unit(jointTargetPosition)
	raw := u.ent.encodeValue(j.hand.clampTarget(j.finger, j.joint, rad))
	e := u.ent
	return j.hand.sess.sendUnchecked(func(b *frameBuilder) bool {
		return b.appendSDOWrite(e.index, e.sub, raw, e.size)
	})
}

// WriteEnabled arms or disarms the joint.
func (j *Joint) WriteEnabled(ctx context.Context, enabled bool) error {
	u := j.unit(jointEnabled)
	return j.write(ctx, jointEnabled, u.ent.encodeValue(boolToFloat(enabled)))
}

// GetEnabled returns the cached armed state.
func (j *Joint) GetEnabled() (bool, error) {
	u := j.unit(jointEnabled)
	raw, err := j.hand.sess.cached(u)
	if err != nil {
		return false, err
	}
	return u.ent.decodeValue(raw) != 0, nil
}

// WriteControlMode sets the joint's control mode.
func (j *Joint) WriteControlMode(ctx context.Context, mode uint16) error {
	return j.write(ctx, jointControlMode, uint64(mode))
}

// ReadEffortLimit reads the effort limit in amperes.
func (j *Joint) ReadEffortLimit(ctx context.Context) (float64, error) {
	raw, err := j.read(ctx, jointEffortLimit)
	return fromRawEffortLimit(uint16(raw)), err
}

// WriteEffortLimit sets the effort limit in amperes.
func (j *Joint) WriteEffortLimit(ctx context.Context, amperes float64) error {
	if amperes < 0 {
		return &ParameterError{Op: "effort limit", Reason: "must be >= 0 amperes"}
	}
	return j.write(ctx, jointEffortLimit, uint64(toRawEffortLimit(amperes)))
}

// ReadBusVoltage reads the joint driver bus voltage in volts.
func (j *Joint) ReadBusVoltage(ctx context.Context) (float32, error) {
	raw, err := j.read(ctx, jointBusVoltage)
	return decodeFloat32(raw), err
}

// ReadTemperature reads the joint driver temperature in Celsius.
func (j *Joint) ReadTemperature(ctx context.Context) (float32, error) {
	raw, err := j.read(ctx, jointTemperature)
	return decodeFloat32(raw), err
}

// ReadErrorCode reads the joint fault register. Decode with
// DecodeFaults.
func (j *Joint) ReadErrorCode(ctx context.Context) (uint32, error) {
	raw, err := j.read(ctx, jointErrorCode)
	return uint32(raw), err
}

// GetErrorCode returns the cached fault register.
func (j *Joint) GetErrorCode() (uint32, error) {
	raw, err := j.hand.sess.cached(j.unit(jointErrorCode))
	return uint32(raw), err
}

// WriteResetError clears latched faults on the joint.
func (j *Joint) WriteResetError(ctx context.Context) error {
	return j.write(ctx, jointResetError, 1)
}

// ReadUpperLimit reads the joint's upper travel limit in radians.
func (j *Joint) ReadUpperLimit(ctx context.Context) (float64, error) {
	raw, err := j.read(ctx, jointUpperLimit)
	if err != nil {
		return 0, err
	}
	return j.unit(jointUpperLimit).ent.decodeValue(raw), nil
}

// ReadLowerLimit reads the joint's lower travel limit in radians.
func (j *Joint) ReadLowerLimit(ctx context.Context) (float64, error) {
	raw, err := j.read(ctx, jointLowerLimit)
	if err != nil {
		return 0, err
	}
	return j.unit(jointLowerLimit).ent.decodeValue(raw), nil
}

// GetUpperLimit returns the cached upper travel limit in radians. The
// limits are prefetched during initialization.
func (j *Joint) GetUpperLimit() (float64, error) {
	u := j.unit(jointUpperLimit)
	raw, err := j.hand.sess.cached(u)
	if err != nil {
		return 0, err
	}
	return u.ent.decodeValue(raw), nil
}

// GetLowerLimit returns the cached lower travel limit in radians.
func (j *Joint) GetLowerLimit() (float64, error) {
	u := j.unit(jointLowerLimit)
	raw, err := j.hand.sess.cached(u)
	if err != nil {
		return 0, err
	}
	return u.ent.decodeValue(raw), nil
}

// WritePositionFilterCutoff sets the device-side command filter cutoff
// in Hz. Requires joint firmware with the filter feature.
func (j *Joint) WritePositionFilterCutoff(ctx context.Context, hz float32) error {
	if !j.hand.featFirmwareFilter {
		return &UnsupportedFeatureError{
			Feature:  "device-side position filter",
			Required: minFirmwareFilter.String(),
			Actual:   versionOrUnknown(j.GetFirmwareVersion()),
		}
	}
	return j.write(ctx, jointFilterCutoff, encodeFloat32(hz))
}

func versionOrUnknown(v FirmwareVersion, err error) string {
	if err != nil {
		return "unknown"
	}
	return v.String()
}
