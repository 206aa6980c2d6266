package fido

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/picoforge/passkey-agent/internal/logging"
)

// MinPINLengthFloor is the smallest PIN length CTAP2 allows. Requests below
// it are rejected locally, without a device call.
const MinPINLengthFloor = 4

// maxPINLength is the CTAP2 ceiling for a client PIN.
const maxPINLength = 63

// LockState is the credential-storage lock state of a session.
type LockState int

const (
	Locked LockState = iota
	Unlocking
	Unlocked
	Locking
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	case Locking:
		return "locking"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string name.
func (s LockState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the string name back into a state.
func (s *LockState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "locked":
		*s = Locked
	case "unlocking":
		*s = Unlocking
	case "unlocked":
		*s = Unlocked
	case "locking":
		*s = Locking
	default:
		return fmt.Errorf("unknown lock state %q", name)
	}
	return nil
}

// MarshalCBOR encodes the state as its string name, matching the JSON form.
func (s LockState) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.String())
}

// Snapshot is a point-in-time copy of the observable session state.
// Credentials is empty unless the session is unlocked.
type Snapshot struct {
	LockState   LockState          `json:"lockState"`
	InFlight    bool               `json:"inFlight"`
	Credentials []StoredCredential `json:"credentials"`
}

// EventType identifies a session event.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventNotification EventType = "notification"
)

// Event is delivered to subscribers whenever the session state changes or a
// submitted operation produces a user-facing outcome.
type Event struct {
	Type         EventType `json:"type"`
	State        *Snapshot `json:"state,omitempty"`
	Notification string    `json:"notification,omitempty"`
}

// Result is the outcome of one submitted operation.
type Result struct {
	Err          error
	Notification string
	State        Snapshot
}

// Op is a handle to an in-flight operation. Wait blocks until the device
// call has completed and its result has been applied to the session.
type Op struct {
	done   chan struct{}
	result Result
}

func newOp() *Op {
	return &Op{done: make(chan struct{})}
}

func completedOp(r Result) *Op {
	op := newOp()
	op.finish(r)
	return op
}

func (o *Op) finish(r Result) {
	o.result = r
	close(o.done)
}

// Wait blocks until the operation completes and returns its result.
func (o *Op) Wait() Result {
	<-o.done
	return o.result
}

// Session owns the lock state, the cached PIN, and the credential set for
// one connected device context. It is the sole authority on whether a
// device-mutating call may proceed: at most one device call is in flight at
// any time, and a second submission is rejected with ErrSessionBusy rather
// than queued.
//
// The cached PIN exists only while the session is unlocked and is zeroed on
// every transition out of the unlocked state.
type Session struct {
	gateway *Gateway

	mu          sync.Mutex
	state       LockState
	pin         []byte
	credentials []StoredCredential
	inFlight    bool
	// gen is bumped on every transition to Locked. Completions carry the
	// generation they were admitted under; a stale completion is dropped so
	// it can never repopulate credentials or re-cache a PIN after a lock.
	gen uint64

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewSession returns a locked session over the given gateway.
func NewSession(gateway *Gateway) *Session {
	return &Session{
		gateway: gateway,
		state:   Locked,
		subs:    make(map[chan Event]struct{}),
	}
}

// State returns the current observable state. It never blocks on the device.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers an event channel. Events are dropped rather than
// blocking a slow subscriber. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
}

// Unlock verifies the PIN against the device by listing the resident
// credentials with it. On success the PIN is cached and the session becomes
// unlocked. Calling Unlock while already unlocked is a no-op success that
// returns the cached set without touching the device.
func (s *Session) Unlock(pin string) (*Op, error) {
	if pin == "" {
		return nil, fmt.Errorf("%w: PIN must not be empty", ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.state == Unlocked {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return completedOp(Result{Notification: "Storage already unlocked", State: snap}), nil
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.state = Unlocking
	s.inFlight = true
	gen := s.gen
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	logging.Info(logging.CatSession, "Unlock requested", nil)

	op := newOp()
	go func() {
		defer logging.RecoverAndLog("session unlock", false)
		creds, err := s.gateway.ListCredentials(pin)
		s.completeUnlock(op, gen, pin, creds, err)
	}()
	return op, nil
}

func (s *Session) completeUnlock(op *Op, gen uint64, pin string, creds []StoredCredential, err error) {
	s.mu.Lock()
	s.inFlight = false

	if s.gen != gen {
		// The session was forced to Locked while the call was in flight
		// (device removal). The result must not be applied.
		snap := s.snapshotLocked()
		s.mu.Unlock()
		op.finish(Result{Err: ErrNoDevice, Notification: userMessage(ErrNoDevice), State: snap})
		return
	}

	if err != nil {
		s.lockLocked()
		notif := "Failed to unlock: " + userMessage(err)
		snap := s.snapshotLocked()
		s.mu.Unlock()

		logging.Warn(logging.CatSession, "Unlock failed", map[string]any{
			"error": err.Error(),
		})
		s.publishState(snap)
		s.publishNotification(notif)
		op.finish(Result{Err: err, Notification: notif, State: snap})
		return
	}

	s.state = Unlocked
	s.pin = []byte(pin)
	s.credentials = creds
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logging.Info(logging.CatSession, "Storage unlocked", map[string]any{
		"credentials": len(creds),
	})
	s.publishState(snap)
	s.publishNotification("Storage unlocked")
	op.finish(Result{Notification: "Storage unlocked", State: snap})
}

// Lock clears the cached PIN and credential set. It is a local operation:
// it issues no device call and cannot fail. Locking while not unlocked is a
// no-op.
func (s *Session) Lock() Snapshot {
	s.mu.Lock()
	if s.state != Unlocked {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.state = Locking
	s.lockLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logging.Info(logging.CatSession, "Storage locked", nil)
	s.publishState(snap)
	s.publishNotification("Storage locked")
	return snap
}

// ForceLock locks the session regardless of current state and notifies with
// the given reason. Used when the device disappears or a cached PIN turns
// out to be stale.
func (s *Session) ForceLock(reason string) {
	s.mu.Lock()
	wasLocked := s.state == Locked && !s.inFlight
	s.lockLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if wasLocked {
		return
	}
	logging.Warn(logging.CatSession, "Session force-locked", map[string]any{
		"reason": reason,
	})
	s.publishState(snap)
	if reason != "" {
		s.publishNotification(reason)
	}
}

// DeleteCredential removes one credential using the cached PIN, then
// re-lists from the device so the local set matches the authoritative
// on-device state. The relist is issued only after the delete succeeds.
func (s *Session) DeleteCredential(credentialID string) (*Op, error) {
	if credentialID == "" {
		return nil, fmt.Errorf("%w: credential ID must not be empty", ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if s.state != Unlocked || len(s.pin) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: storage is locked", ErrInvalidRequest)
	}
	pin := string(s.pin)
	s.inFlight = true
	gen := s.gen
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	logging.Info(logging.CatSession, "Delete requested", map[string]any{
		"credentialId": credentialID,
	})

	op := newOp()
	go func() {
		defer logging.RecoverAndLog("session delete", false)
		err := s.gateway.DeleteCredential(pin, credentialID)

		relistPIN, ok := s.completeDelete(op, gen, err)
		if !ok {
			return
		}
		creds, lerr := s.gateway.ListCredentials(relistPIN)
		s.completeRelist(op, gen, creds, lerr)
	}()
	return op, nil
}

// completeDelete applies the outcome of the delete call. On success it
// re-admits the follow-up relist under the same mutex hold, so no other
// request can slip in between delete and relist. It returns the cached PIN
// for the relist and whether the relist should run.
func (s *Session) completeDelete(op *Op, gen uint64, err error) (string, bool) {
	s.mu.Lock()
	s.inFlight = false

	if s.gen != gen {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		op.finish(Result{Err: ErrNoDevice, Notification: userMessage(ErrNoDevice), State: snap})
		return "", false
	}

	if err != nil {
		notif := "Error deleting credential: " + userMessage(err)
		if pinInvalidated(err) {
			// Session expired at the device; the cached PIN is worthless.
			s.lockLocked()
			notif = "Session expired on device, please unlock again"
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		logging.Warn(logging.CatSession, "Delete failed", map[string]any{
			"error": err.Error(),
		})
		s.publishState(snap)
		s.publishNotification(notif)
		op.finish(Result{Err: err, Notification: notif, State: snap})
		return "", false
	}

	// Delete confirmed. Re-admit immediately for the reconciling relist.
	s.inFlight = true
	pin := string(s.pin)
	s.mu.Unlock()
	return pin, true
}

func (s *Session) completeRelist(op *Op, gen uint64, creds []StoredCredential, err error) {
	s.mu.Lock()
	s.inFlight = false

	if s.gen != gen {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		op.finish(Result{Err: ErrNoDevice, Notification: userMessage(ErrNoDevice), State: snap})
		return
	}

	notif := "Credential deleted"
	if err != nil {
		if pinInvalidated(err) {
			s.lockLocked()
			notif = "Credential deleted, session expired on device"
		} else {
			// Keep the (stale) local list; the next listing is
			// device-authoritative anyway.
			notif = "Credential deleted, but refreshing the list failed: " + userMessage(err)
		}
		logging.Warn(logging.CatSession, "Relist after delete failed", map[string]any{
			"error": err.Error(),
		})
	} else {
		s.credentials = creds
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	s.publishNotification(notif)
	op.finish(Result{Notification: notif, State: snap})
}

// ChangePIN sets the first device PIN (currentPIN == nil) or changes an
// existing one. It may be called whether or not storage is unlocked. A
// successful change invalidates any cached PIN, so the session is forced to
// Locked afterwards.
func (s *Session) ChangePIN(currentPIN *string, newPIN string) (*Op, error) {
	if len(newPIN) < MinPINLengthFloor || len(newPIN) > maxPINLength {
		return nil, fmt.Errorf("%w: PIN must be between %d and %d characters",
			ErrInvalidRequest, MinPINLengthFloor, maxPINLength)
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.inFlight = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	firstPIN := currentPIN == nil
	logging.Info(logging.CatSession, "PIN change requested", map[string]any{
		"firstPin": firstPIN,
	})

	op := newOp()
	go func() {
		defer logging.RecoverAndLog("session change pin", false)
		err := s.gateway.ChangePIN(currentPIN, newPIN)
		s.completeChangePIN(op, firstPIN, err)
	}()
	return op, nil
}

func (s *Session) completeChangePIN(op *Op, firstPIN bool, err error) {
	s.mu.Lock()
	s.inFlight = false

	var notif string
	switch {
	case err == nil:
		// A changed PIN invalidates any cached copy.
		s.lockLocked()
		if firstPIN {
			notif = "PIN set successfully"
		} else {
			notif = "PIN changed successfully"
		}
	case deviceGone(err):
		s.lockLocked()
		notif = "Failed to change PIN: " + userMessage(err)
	default:
		notif = "Failed to change PIN: " + userMessage(err)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		logging.Warn(logging.CatSession, "PIN change failed", map[string]any{
			"error": err.Error(),
		})
	}
	s.publishState(snap)
	s.publishNotification(notif)
	op.finish(Result{Err: err, Notification: notif, State: snap})
}

// SetMinPINLength updates the device's minimum PIN length policy. The
// length is validated locally first; values below the CTAP2 floor never
// reach the device. The call is PIN-gated but does not alter lock state.
func (s *Session) SetMinPINLength(pin string, length int) (*Op, error) {
	if length < MinPINLengthFloor || length > maxPINLength {
		return nil, fmt.Errorf("%w: minimum PIN length must be between %d and %d",
			ErrInvalidRequest, MinPINLengthFloor, maxPINLength)
	}
	if pin == "" {
		return nil, fmt.Errorf("%w: PIN must not be empty", ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.inFlight = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)

	op := newOp()
	go func() {
		defer logging.RecoverAndLog("session set min pin length", false)
		err := s.gateway.SetMinPINLength(pin, length)
		s.completeSetMinPINLength(op, length, err)
	}()
	return op, nil
}

func (s *Session) completeSetMinPINLength(op *Op, length int, err error) {
	s.mu.Lock()
	s.inFlight = false

	var notif string
	if err != nil {
		if deviceGone(err) {
			s.lockLocked()
		}
		notif = "Failed to set minimum PIN length: " + userMessage(err)
	} else {
		notif = fmt.Sprintf("Minimum PIN length set to %d", length)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		logging.Warn(logging.CatSession, "Set minimum PIN length failed", map[string]any{
			"error": err.Error(),
		})
	}
	s.publishState(snap)
	s.publishNotification(notif)
	op.finish(Result{Err: err, Notification: notif, State: snap})
}

// lockLocked transitions to Locked, wipes the cached PIN and clears the
// credential set. Caller must hold s.mu.
func (s *Session) lockLocked() {
	for i := range s.pin {
		s.pin[i] = 0
	}
	s.pin = nil
	s.credentials = nil
	s.state = Locked
	s.gen++
}

// snapshotLocked copies the observable state. Caller must hold s.mu.
func (s *Session) snapshotLocked() Snapshot {
	creds := make([]StoredCredential, len(s.credentials))
	copy(creds, s.credentials)
	return Snapshot{
		LockState:   s.state,
		InFlight:    s.inFlight,
		Credentials: creds,
	}
}

func (s *Session) publishState(snap Snapshot) {
	s.publish(Event{Type: EventStateChanged, State: &snap})
}

func (s *Session) publishNotification(text string) {
	s.publish(Event{Type: EventNotification, Notification: text})
}

func (s *Session) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop rather than block the session.
		}
	}
}
