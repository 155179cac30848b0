package wujihand

import "context"

// Finger addresses one finger of the hand. Index 0 is the thumb, then
// index, middle, ring and little fingers.
type Finger struct {
	hand  *Hand
	index int
}

// Index returns the finger index.
func (f *Finger) Index() int { return f.index }

// Joint returns the device model for one joint of this finger.
func (f *Finger) Joint(index int) (*Joint, error) {
	if index < 0 || index >= NumJoints {
		return nil, &IndexError{What: "joint", Index: index, Max: NumJoints}
	}
	return &Joint{hand: f.hand, finger: f.index, joint: index}, nil
}

// WriteJointTargetPositions commands this finger's joints, clamping
// each target to the joint's travel limits.
func (f *Finger) WriteJointTargetPositions(ctx context.Context, targets [NumJoints]float64) error {
	if err := f.hand.enterGuard(); err != nil {
		return err
	}
	defer f.hand.exitGuard()
	ps := make([]*Pending, 0, NumJoints)
	for j := 0; j < NumJoints; j++ {
		u := f.hand.sess.jointUnit(f.index, j, jointTargetPosition)
		raw := u.ent.encodeValue(f.hand.clampTarget(f.index, j, targets[j]))
		ps = append(ps, f.hand.sess.startWrite(u, raw, f.hand.timeout))
	}
	return awaitAll(ctx, ps)
}

// ReadJointActualPositions reads this finger's joint angles in radians.
func (f *Finger) ReadJointActualPositions(ctx context.Context) ([NumJoints]float64, error) {
	var out [NumJoints]float64
	if err := f.hand.enterGuard(); err != nil {
		return out, err
	}
	defer f.hand.exitGuard()
	ps := make([]*Pending, 0, NumJoints)
	for j := 0; j < NumJoints; j++ {
		ps = append(ps, f.hand.sess.startRead(f.hand.sess.jointUnit(f.index, j, jointActualPosition), f.hand.timeout))
	}
	if err := awaitAll(ctx, ps); err != nil {
		return out, err
	}
	for j := 0; j < NumJoints; j++ {
		u := f.hand.sess.jointUnit(f.index, j, jointActualPosition)
		raw, err := f.hand.sess.cached(u)
		if err != nil {
			return out, err
		}
		out[j] = u.ent.decodeValue(raw)
	}
	return out, nil
}

// WriteJointEnabled arms or disarms this finger's joints.
func (f *Finger) WriteJointEnabled(ctx context.Context, enabled bool) error {
	if err := f.hand.enterGuard(); err != nil {
		return err
	}
	defer f.hand.exitGuard()
	ps := make([]*Pending, 0, NumJoints)
	for j := 0; j < NumJoints; j++ {
		u := f.hand.sess.jointUnit(f.index, j, jointEnabled)
		ps = append(ps, f.hand.sess.startWrite(u, u.ent.encodeValue(boolToFloat(enabled)), f.hand.timeout))
	}
	return awaitAll(ctx, ps)
}
