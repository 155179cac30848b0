package wujihand

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
)

// Operation modes and states for a storage unit. A unit carries at most
// one in-flight operation; the dispatcher drives it through the state
// machine while the receiver goroutine advances it on device replies.
const (
	modeNone uint32 = iota
	modeRead
	modeWrite
)

const (
	stateWaiting uint32 = iota
	stateReading
	stateWriting
	stateConfirming
	stateSuccess
	// stateClaimed marks a unit reserved by a starter that has not yet
	// published its waiter; the dispatcher leaves it alone.
	stateClaimed
)

// opIdle is a unit with no operation in flight.
const opIdle uint32 = 0

func packOp(mode, state uint32) uint32        { return mode<<8 | state }
func unpackOp(op uint32) (mode, state uint32) { return op >> 8, op & 0xFF }

// Pending is a handle for an asynchronous operation. It completes when
// the device confirms the request, the deadline expires, or the session
// closes.
type Pending struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed on completion.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the operation outcome. Only valid after Done is closed.
func (p *Pending) Err() error { return p.err }

// Wait blocks until the operation completes, then returns its outcome.
func (p *Pending) Wait() error {
	<-p.done
	return p.err
}

func donePending(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// storageUnit is the host-side mirror of one object-dictionary field.
// value holds the raw wire representation; version is 0 until the first
// successful read or write.
type storageUnit struct {
	ent entry

	op      atomic.Uint32
	value   atomic.Uint64
	version atomic.Uint64

	timeoutNS atomic.Int64
	waiter    atomic.Pointer[Pending]

	// deadline is dispatcher-owned.
	deadline time.Time
}

// rawSlot carries one raw SDO operation. A fixed pool bounds the number
// of concurrent raw transfers.
type rawSlot struct {
	inUse atomic.Bool

	mu     sync.Mutex
	index  uint16
	sub    byte
	write  bool
	value  uint64
	size   int
	result []byte
	done   chan struct{}
	ok     bool
}

const rawSlotCount = 4

// pdoSnapshot is one coherent view of the upstream PDO stream. Position
// and effort inside a snapshot come from the same device frame.
type pdoSnapshot struct {
	positions  [NumFingers][NumJoints]int32
	efforts    [NumFingers][NumJoints]float32
	errorCodes [NumFingers][NumJoints]uint32
	hasEffort  bool
	version    uint64
}

// dispatchHz is the SDO dispatcher rate. Requests retry every tick
// until confirmed or expired.
const (
	dispatchHz     = 199
	dispatchPeriod = time.Second / dispatchHz
)

// session owns the transport and the goroutines multiplexing SDO and
// PDO traffic over it.
type session struct {
	transport Transport
	logger    golog.Logger

	units     []storageUnit
	index     map[uint32]*storageUnit
	jointBase [NumFingers][NumJoints]int
	handBase  int

	rawSlots [rawSlotCount]rawSlot

	txMu sync.Mutex
	sdoB *frameBuilder // dispatcher-owned
	outB *frameBuilder // for unchecked sends, guarded by txMu

	pdo atomic.Pointer[pdoSnapshot]

	heartbeat atomic.Bool

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newSession(transport Transport, mask *[NumFingers][NumJoints]bool, logger golog.Logger) *session {
	s := &session{
		transport: transport,
		logger:    logger,
		sdoB:      newFrameBuilder(frameTypeSDO),
		outB:      newFrameBuilder(frameTypeSDO),
		index:     make(map[uint32]*storageUnit),
		stop:      make(chan struct{}),
	}

	s.units = make([]storageUnit, NumFingers*NumJoints*len(jointEntries)+len(handEntries))
	next := 0
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			s.jointBase[f][j] = next
			for _, e := range jointEntries {
				resolved := e.resolve(f, j)
				if mask != nil && mask[f][j] {
					resolved.policy |= policyMasked
				}
				s.units[next].ent = resolved
				next++
			}
		}
	}
	s.handBase = next
	for _, e := range handEntries {
		s.units[next].ent = e
		next++
	}
	for i := range s.units {
		u := &s.units[i]
		s.index[indexKey(u.ent.index, u.ent.sub)] = u
	}

	s.pdo.Store(&pdoSnapshot{})
	return s
}

func indexKey(index uint16, sub byte) uint32 {
	return uint32(index)<<8 | uint32(sub)
}

// start launches the receiver and dispatcher goroutines.
func (s *session) start() {
	s.wg.Add(2)
	go s.receiverMain()
	go s.dispatcherMain()
}

// close stops the goroutines and the transport. Idempotent.
func (s *session) close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	err := s.transport.Close()
	s.wg.Wait()

	// Fail anything still in flight.
	for i := range s.units {
		s.complete(&s.units[i], ErrClosed)
	}
	for i := range s.rawSlots {
		slot := &s.rawSlots[i]
		if slot.inUse.Load() {
			slot.mu.Lock()
			if slot.done != nil {
				close(slot.done)
				slot.done = nil
			}
			slot.mu.Unlock()
		}
	}
	return err
}

func (s *session) jointUnit(finger, joint int, e entry) *storageUnit {
	base := s.jointBase[finger][joint]
	for i, je := range jointEntries {
		if je.index == e.index && je.sub == e.sub {
			return &s.units[base+i]
		}
	}
	panic(fmt.Sprintf("unknown joint entry 0x%02X.%d", e.index, e.sub))
}

func (s *session) handUnit(e entry) *storageUnit {
	for i, he := range handEntries {
		if he.index == e.index && he.sub == e.sub {
			return &s.units[s.handBase+i]
		}
	}
	panic(fmt.Sprintf("unknown hand entry 0x%04X.%d", e.index, e.sub))
}

// startRead begins an asynchronous read of a unit. timeout <= 0 never
// expires.
func (s *session) startRead(u *storageUnit, timeout time.Duration) *Pending {
	if s.closed.Load() {
		return donePending(ErrClosed)
	}
	if !u.ent.readable {
		return donePending(&ParameterError{Op: "read", Reason: fmt.Sprintf("0x%04X.%d is not readable", u.ent.index, u.ent.sub)})
	}
	if u.ent.policy&policyMasked != 0 {
		return donePending(nil)
	}

	// Claim the unit before touching its waiter or timeout; a losing
	// caller must not disturb the in-flight operation.
	if !u.op.CompareAndSwap(opIdle, packOp(modeRead, stateClaimed)) {
		return donePending(&ParameterError{Op: "read", Reason: "operation already pending on this field"})
	}
	p := &Pending{done: make(chan struct{})}
	u.waiter.Store(p)
	u.timeoutNS.Store(int64(timeout))
	u.op.Store(packOp(modeRead, stateWaiting))
	return p
}

// startWrite begins an asynchronous checked write. The raw value is
// cached immediately so Get reflects the requested state, matching the
// write-then-confirm protocol.
func (s *session) startWrite(u *storageUnit, raw uint64, timeout time.Duration) *Pending {
	if s.closed.Load() {
		return donePending(ErrClosed)
	}
	if !u.ent.writable {
		return donePending(&ParameterError{Op: "write", Reason: fmt.Sprintf("0x%04X.%d is not writable", u.ent.index, u.ent.sub)})
	}
	if u.ent.policy&policyMasked != 0 {
		u.value.Store(raw)
		bumpVersion(u)
		return donePending(nil)
	}

	if !u.op.CompareAndSwap(opIdle, packOp(modeWrite, stateClaimed)) {
		return donePending(&ParameterError{Op: "write", Reason: "operation already pending on this field"})
	}
	// Cache the requested state immediately so Get reflects it while the
	// write confirms.
	u.value.Store(raw)
	bumpVersion(u)
	p := &Pending{done: make(chan struct{})}
	u.waiter.Store(p)
	u.timeoutNS.Store(int64(timeout))
	u.op.Store(packOp(modeWrite, stateWaiting))
	return p
}

func bumpVersion(u *storageUnit) {
	v := u.version.Load() + 1
	if v == 0 {
		v = 1
	}
	u.version.Store(v)
}

// cached returns the raw cached value, or ErrNoCachedValue when the
// field was never read or written.
func (s *session) cached(u *storageUnit) (uint64, error) {
	if u.version.Load() == 0 {
		return 0, ErrNoCachedValue
	}
	return u.value.Load(), nil
}

func (s *session) complete(u *storageUnit, err error) {
	// Detach the waiter before releasing the op word; a caller claiming
	// the unit the instant it goes idle must never have its fresh waiter
	// closed with this operation's outcome.
	p := u.waiter.Swap(nil)
	u.op.Store(opIdle)
	if p == nil {
		return
	}
	p.err = err
	close(p.done)
}

// sendUnchecked transmits a single-record SDO frame immediately,
// bypassing the state machine. Used for fire-and-forget operations.
func (s *session) sendUnchecked(fill func(*frameBuilder) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.outB.reset(frameTypeSDO)
	if !fill(s.outB) {
		return &ParameterError{Op: "send", Reason: "record does not fit in frame"}
	}
	return s.writeFrameLocked(s.outB)
}

func (s *session) writeFrameLocked(b *frameBuilder) error {
	wire := b.finalize()
	n, err := s.transport.Write(wire)
	if err != nil {
		return fmt.Errorf("transport write: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("transport write: %d of %d bytes", n, len(wire))
	}
	return nil
}

// writePDOFrame transmits a prebuilt PDO frame. Called by the realtime
// loop with its own builder.
func (s *session) writePDOFrame(b *frameBuilder) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.writeFrameLocked(b)
}

// dispatcherMain retries pending requests and expires deadlines at the
// dispatch rate, batching all due records into one frame per tick.
func (s *session) dispatcherMain() {
	defer s.wg.Done()

	ticker := time.NewTicker(dispatchPeriod)
	defer ticker.Stop()

	const heartbeatEvery = dispatchHz / 2 // twice per second
	tick := 0

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		now := time.Now()

		s.txMu.Lock()
		s.sdoB.reset(frameTypeSDO)

		for i := range s.units {
			s.dispatchUnit(&s.units[i], now)
		}
		for i := range s.rawSlots {
			s.dispatchRawSlot(&s.rawSlots[i], now)
		}

		tick++
		if s.heartbeat.Load() && tick%heartbeatEvery == 0 {
			s.sdoB.appendSDOWrite(handHostTimeoutCounter.index, handHostTimeoutCounter.sub, heartbeatTimeoutMS, handHostTimeoutCounter.size)
		}

		if !s.sdoB.empty() {
			if err := s.writeFrameLocked(s.sdoB); err != nil && !s.closed.Load() {
				s.logger.Errorw("sdo frame transmit failed", "error", err)
			}
		}
		s.txMu.Unlock()
	}
}

// heartbeatTimeoutMS is the host-timeout value refreshed while the
// proactive report feature is active.
const heartbeatTimeoutMS = 1500

func (s *session) dispatchUnit(u *storageUnit, now time.Time) {
	op := u.op.Load()
	mode, state := unpackOp(op)
	if mode == modeNone {
		return
	}

	if state == stateSuccess {
		s.complete(u, nil)
		return
	}

	switch state {
	case stateClaimed:
		return
	case stateWaiting:
		timeout := time.Duration(u.timeoutNS.Load())
		if timeout <= 0 {
			u.deadline = time.Time{}
		} else {
			u.deadline = now.Add(timeout)
		}
		if mode == modeRead {
			u.op.Store(packOp(mode, stateReading))
		} else {
			u.op.Store(packOp(mode, stateWriting))
		}
		return
	default:
	}

	if !u.deadline.IsZero() && now.After(u.deadline) {
		s.complete(u, &TimeoutError{Op: fmt.Sprintf("sdo 0x%04X.%d", u.ent.index, u.ent.sub)})
		return
	}

	switch state {
	case stateReading, stateConfirming:
		s.sdoB.appendSDORead(u.ent.index, u.ent.sub)
	case stateWriting:
		u.op.Store(packOp(mode, stateConfirming))
		s.sdoB.appendSDOWrite(u.ent.index, u.ent.sub, u.value.Load(), u.ent.size)
	}
}

func (s *session) dispatchRawSlot(slot *rawSlot, now time.Time) {
	if !slot.inUse.Load() {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.done == nil {
		return
	}
	if slot.write {
		s.sdoB.appendSDOWrite(slot.index, slot.sub, slot.value, slot.size)
	} else {
		s.sdoB.appendSDORead(slot.index, slot.sub)
	}
}

// receiverMain reassembles inbound frames and routes records to their
// storage units and the PDO snapshot.
func (s *session) receiverMain() {
	defer s.wg.Done()

	scanner := newFrameScanner(s.transport)
	for {
		fr, err := scanner.next()
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				s.logger.Warnw("inbound frame discarded", "error", perr)
				continue
			}
			if s.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			// Serial read timeouts surface as zero-byte reads with an
			// error on some platforms; keep scanning until closed.
			select {
			case <-s.stop:
				return
			default:
				continue
			}
		}

		switch fr.frameType {
		case frameTypeSDO:
			if err := parseSDORecords(fr.body, s.handleSDORecord); err != nil {
				s.logger.Warnw("sdo frame parsing failed", "error", err)
			}
		case frameTypePDO:
			if err := s.handlePDOFrame(fr.body); err != nil {
				s.logger.Warnw("pdo frame parsing failed", "error", err)
			}
		}
	}
}

func (s *session) handleSDORecord(rec sdoRecord) error {
	switch rec.control {
	case sdoReadOK8, sdoReadOK16, sdoReadOK32, sdoReadOK64:
		if s.handleRawReadReply(rec) {
			return nil
		}
		u := s.index[indexKey(rec.index, rec.sub)]
		if u == nil {
			return &ProtocolError{Op: "sdo dispatch", Reason: fmt.Sprintf("unknown object 0x%04X.%d", rec.index, rec.sub)}
		}
		mode, state := unpackOp(u.op.Load())
		if mode == modeNone {
			return nil
		}
		switch state {
		case stateReading:
			u.value.Store(rec.value)
			bumpVersion(u)
			u.op.Store(packOp(mode, stateSuccess))
		case stateConfirming:
			if rec.value == u.value.Load() {
				u.op.Store(packOp(mode, stateSuccess))
			} else {
				u.op.Store(packOp(mode, stateWriting))
			}
		}

	case sdoWriteOK:
		if s.handleRawWriteReply(rec) {
			return nil
		}
		u := s.index[indexKey(rec.index, rec.sub)]
		if u == nil {
			return &ProtocolError{Op: "sdo dispatch", Reason: fmt.Sprintf("unknown object 0x%04X.%d", rec.index, rec.sub)}
		}
		mode, state := unpackOp(u.op.Load())
		if mode == modeWrite && state == stateWriting {
			u.op.Store(packOp(mode, stateSuccess))
		}

	case sdoReadErr, sdoWriteErr:
		s.logger.Debugw("sdo abort received",
			"index", fmt.Sprintf("0x%04X", rec.index),
			"sub", rec.sub,
			"code", fmt.Sprintf("0x%08X", rec.errCode))
	}
	return nil
}

func (s *session) handlePDOFrame(body []byte) error {
	if len(body) < 2 {
		return &ProtocolError{Op: "pdo parse", Reason: "missing record header"}
	}
	readID := body[1]
	payload := body[2:]

	prev := s.pdo.Load()
	next := *prev
	next.version = prev.version + 1

	switch readID {
	case pdoReadPositions:
		if err := decodePDOPositions(payload, &next.positions); err != nil {
			return err
		}
	case pdoReadFull:
		var full [NumFingers][NumJoints]pdoJointState
		if err := decodePDOFull(payload, &full); err != nil {
			return err
		}
		for f := 0; f < NumFingers; f++ {
			for j := 0; j < NumJoints; j++ {
				next.positions[f][j] = full[f][j].Position
				next.efforts[f][j] = full[f][j].EffortA
				next.errorCodes[f][j] = full[f][j].ErrorCode
			}
		}
		next.hasEffort = true
		s.logFaultTransitions(&prev.errorCodes, &next.errorCodes)
	default:
		return &ProtocolError{Op: "pdo parse", Reason: fmt.Sprintf("invalid read id 0x%02X", readID)}
	}

	s.pdo.Store(&next)
	return nil
}

// rawSDO performs a raw object-dictionary transfer through one of the
// bounded slots. The dispatcher retries the request until the device
// answers or the deadline passes.
func (s *session) rawSDO(index uint16, sub byte, data []byte, write bool, timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if write {
		switch len(data) {
		case 1, 2, 4, 8:
		default:
			return nil, &ParameterError{Op: "raw sdo write", Reason: fmt.Sprintf("payload must be 1, 2, 4 or 8 bytes, got %d", len(data))}
		}
	}

	var slot *rawSlot
	for i := range s.rawSlots {
		if s.rawSlots[i].inUse.CompareAndSwap(false, true) {
			slot = &s.rawSlots[i]
			break
		}
	}
	if slot == nil {
		return nil, &ParameterError{Op: "raw sdo", Reason: fmt.Sprintf("all %d raw transfer slots are busy", rawSlotCount)}
	}
	defer slot.inUse.Store(false)

	done := make(chan struct{})
	slot.mu.Lock()
	slot.index = index
	slot.sub = sub
	slot.write = write
	slot.result = nil
	slot.ok = false
	slot.done = done
	if write {
		slot.value = uintLE(data, len(data))
		slot.size = len(data)
	}
	slot.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-done:
	case <-timer:
		slot.mu.Lock()
		slot.done = nil
		slot.mu.Unlock()
		return nil, &TimeoutError{Op: fmt.Sprintf("raw sdo 0x%04X.%d", index, sub)}
	case <-s.stop:
		return nil, ErrClosed
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.ok {
		return nil, ErrClosed
	}
	return slot.result, nil
}

func (s *session) handleRawReadReply(rec sdoRecord) bool {
	for i := range s.rawSlots {
		slot := &s.rawSlots[i]
		if !slot.inUse.Load() {
			continue
		}
		slot.mu.Lock()
		if slot.done != nil && !slot.write && slot.index == rec.index && slot.sub == rec.sub {
			out := make([]byte, rec.size)
			putUintLE(out, rec.value, rec.size)
			slot.result = out
			slot.ok = true
			close(slot.done)
			slot.done = nil
			slot.mu.Unlock()
			return true
		}
		slot.mu.Unlock()
	}
	return false
}

func (s *session) handleRawWriteReply(rec sdoRecord) bool {
	for i := range s.rawSlots {
		slot := &s.rawSlots[i]
		if !slot.inUse.Load() {
			continue
		}
		slot.mu.Lock()
		if slot.done != nil && slot.write && slot.index == rec.index && slot.sub == rec.sub {
			slot.ok = true
			close(slot.done)
			slot.done = nil
			slot.mu.Unlock()
			return true
		}
		slot.mu.Unlock()
	}
	return false
}
