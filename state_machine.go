package signin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	reasonCancelled = "cancelled"
	reasonTimedOut  = "sign in timed out"
)

// Observer receives every session state change in the order it happened.
type Observer func(state SessionState)

// SessionBackend is the part of the credential broker the state machine
// needs: the startup identity check and sign out.
type SessionBackend interface {
	IdentitySource
	SignOut(ctx context.Context) error
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish session events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *StateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink and backend failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithAttemptTimeout fails an in-flight attempt that has not resolved within d.
// Zero disables the timeout and leaves abandoned attempts in progress until
// cancelled.
func WithAttemptTimeout(d time.Duration) StateMachineOption {
	return func(sm *StateMachine) {
		if d > 0 {
			sm.attemptTimeout = d
		}
	}
}

// WithAttemptIDGenerator overrides how attempt identifiers are minted.
func WithAttemptIDGenerator(fn func() string) StateMachineOption {
	return func(sm *StateMachine) {
		if fn != nil {
			sm.newAttemptID = fn
		}
	}
}

// StateMachine owns the sign-in SessionState. All transitions are serialized
// and at most one sign-in attempt is in flight at a time.
type StateMachine struct {
	mu          sync.Mutex
	state       SessionState
	transitions map[SessionStatus]map[SessionStatus]struct{}
	backend     SessionBackend
	signingOut  bool

	observers      map[int]Observer
	observerOrder  []int
	nextObserverID int
	queue          []SessionState
	dispatching    bool
	lastNotified   SessionState

	attemptTimeout time.Duration
	timer          *time.Timer

	now          func() time.Time
	newAttemptID func() string
	activitySink ActivitySink
	logger       Logger
}

// NewStateMachine builds a machine whose initial state is Succeeded when the
// backend already holds an identity and Idle otherwise.
func NewStateMachine(ctx context.Context, backend SessionBackend, opts ...StateMachineOption) *StateMachine {
	sm := &StateMachine{
		backend: backend,
		transitions: map[SessionStatus]map[SessionStatus]struct{}{
			StatusIdle: {
				StatusInProgress: {},
			},
			StatusInProgress: {
				StatusSucceeded: {},
				StatusFailed:    {},
			},
			StatusSucceeded: {
				StatusIdle: {},
			},
			StatusFailed: {
				StatusIdle:       {},
				StatusInProgress: {},
			},
		},
		observers:    map[int]Observer{},
		now:          time.Now,
		newAttemptID: func() string { return uuid.NewString() },
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	sm.state = SessionState{Status: StatusIdle, UpdatedAt: sm.now()}
	if backend != nil {
		if identity := backend.CurrentIdentity(ctx); identity != nil {
			restored := *identity
			sm.state = SessionState{
				Status:    StatusSucceeded,
				Identity:  &restored,
				UpdatedAt: sm.now(),
			}
			sm.recordActivity(ctx, ActivityEvent{
				EventType:  ActivityEventSessionRestored,
				IdentityID: restored.ID,
				ToStatus:   StatusSucceeded,
			})
		}
	}
	sm.lastNotified = sm.state

	return sm
}

// State returns a snapshot of the current session state.
func (sm *StateMachine) State() SessionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return copyState(sm.state)
}

// Identity returns the signed-in identity, if any.
func (sm *StateMachine) Identity() *Identity {
	state := sm.State()
	if !state.IsSignInSuccessful() {
		return nil
	}
	return state.Identity
}

// Subscribe registers an observer and immediately delivers the current state
// to it. The returned function removes the observer.
func (sm *StateMachine) Subscribe(observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	sm.mu.Lock()
	id := sm.nextObserverID
	sm.nextObserverID++
	sm.observers[id] = observer
	sm.observerOrder = append(sm.observerOrder, id)
	current := copyState(sm.state)
	sm.mu.Unlock()

	observer(current)

	return func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		delete(sm.observers, id)
		for i, oid := range sm.observerOrder {
			if oid == id {
				sm.observerOrder = append(sm.observerOrder[:i], sm.observerOrder[i+1:]...)
				break
			}
		}
	}
}

// StartSignIn moves the session into InProgress. A call while an attempt is
// already in flight is rejected with ErrSignInInProgress and changes nothing.
func (sm *StateMachine) StartSignIn(ctx context.Context) (SessionState, error) {
	sm.mu.Lock()
	from := sm.state.Status
	if from == StatusInProgress {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, ErrSignInInProgress
	}
	if !sm.canTransition(from, StatusInProgress) {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, transitionError(ErrInvalidTransition, map[string]any{
			"from": from,
			"to":   StatusInProgress,
		})
	}

	attemptID := sm.newAttemptID()
	next := SessionState{
		Status:    StatusInProgress,
		AttemptID: attemptID,
		UpdatedAt: sm.now(),
	}
	sm.applyLocked(next)
	sm.armTimerLocked(attemptID)
	sm.mu.Unlock()

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSignInStarted,
		AttemptID:  attemptID,
		FromStatus: from,
		ToStatus:   StatusInProgress,
	})
	sm.dispatch()

	return copyState(next), nil
}

// ReceiveResult resolves the in-flight attempt. A result with an identity
// yields Succeeded; any other result yields Failed with its reason.
func (sm *StateMachine) ReceiveResult(ctx context.Context, result SignInAttemptResult) (SessionState, error) {
	sm.mu.Lock()
	from := sm.state.Status
	if from != StatusInProgress {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, transitionError(ErrInvalidTransition, map[string]any{
			"from":   from,
			"reason": "no sign in attempt in progress",
		})
	}

	attemptID := sm.state.AttemptID
	if result.AttemptID == UnmatchedAttempt || (result.AttemptID != "" && result.AttemptID != attemptID) {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, transitionError(ErrStaleAttempt, map[string]any{
			"attempt_id":         result.AttemptID,
			"current_attempt_id": attemptID,
		})
	}

	sm.stopTimerLocked()

	var (
		next  SessionState
		event ActivityEvent
	)
	if result.Identity != nil {
		identity := *result.Identity
		next = SessionState{
			Status:    StatusSucceeded,
			Identity:  &identity,
			AttemptID: attemptID,
			UpdatedAt: sm.now(),
		}
		event = ActivityEvent{
			EventType:  ActivityEventSignInSucceeded,
			IdentityID: identity.ID,
			Metadata:   map[string]any{"provider": identity.Provider},
		}
	} else {
		reason := result.Reason()
		next = SessionState{
			Status:      StatusFailed,
			SignInError: reason,
			AttemptID:   attemptID,
			UpdatedAt:   sm.now(),
		}
		event = ActivityEvent{
			EventType: ActivityEventSignInFailed,
			Metadata:  map[string]any{"reason": reason},
		}
	}
	sm.applyLocked(next)
	sm.mu.Unlock()

	event.AttemptID = attemptID
	event.FromStatus = from
	event.ToStatus = next.Status
	sm.recordActivity(ctx, event)
	sm.dispatch()

	return copyState(next), nil
}

// CancelSignIn fails the in-flight attempt with reason, defaulting to
// "cancelled".
func (sm *StateMachine) CancelSignIn(ctx context.Context, reason string) (SessionState, error) {
	if reason == "" {
		reason = reasonCancelled
	}
	attemptID := sm.State().AttemptID
	return sm.ReceiveResult(ctx, SignInFailed(reason).ForAttempt(attemptID))
}

// SignOut clears the provider session and returns the machine to Idle. It is
// a no-op unless the session is Succeeded. The machine reaches Idle even when
// the backend reports an error; that error is returned to the caller.
func (sm *StateMachine) SignOut(ctx context.Context) (SessionState, error) {
	sm.mu.Lock()
	if sm.state.Status != StatusSucceeded || sm.signingOut {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, nil
	}
	sm.signingOut = true
	identityID := ""
	if sm.state.Identity != nil {
		identityID = sm.state.Identity.ID
	}
	sm.mu.Unlock()

	var backendErr error
	if sm.backend != nil {
		backendErr = sm.backend.SignOut(ctx)
		if backendErr != nil {
			sm.logger.Warn("session backend sign out failed", "identity_id", identityID, "error", backendErr)
		}
	}

	sm.mu.Lock()
	sm.signingOut = false
	if sm.state.Status != StatusSucceeded {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, backendErr
	}
	next := SessionState{Status: StatusIdle, UpdatedAt: sm.now()}
	sm.applyLocked(next)
	sm.mu.Unlock()

	meta := map[string]any{}
	if backendErr != nil {
		meta["error"] = backendErr.Error()
	}
	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSignOut,
		IdentityID: identityID,
		FromStatus: StatusSucceeded,
		ToStatus:   StatusIdle,
		Metadata:   meta,
	})
	sm.dispatch()

	return copyState(next), backendErr
}

// Reset acknowledges a failed attempt and returns to Idle. It is a no-op in
// any other state.
func (sm *StateMachine) Reset(ctx context.Context) (SessionState, error) {
	sm.mu.Lock()
	if sm.state.Status != StatusFailed {
		current := copyState(sm.state)
		sm.mu.Unlock()
		return current, nil
	}
	reason := sm.state.SignInError
	next := SessionState{Status: StatusIdle, UpdatedAt: sm.now()}
	sm.applyLocked(next)
	sm.mu.Unlock()

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSignInReset,
		FromStatus: StatusFailed,
		ToStatus:   StatusIdle,
		Metadata:   map[string]any{"reason": reason},
	})
	sm.dispatch()

	return copyState(next), nil
}

func (sm *StateMachine) canTransition(from, to SessionStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *StateMachine) applyLocked(next SessionState) {
	sm.state = next
	sm.queue = append(sm.queue, copyState(next))
}

// dispatch drains queued states to observers outside the lock. Transitions
// triggered by an observer are queued and delivered by the loop already
// running, which keeps delivery in transition order.
func (sm *StateMachine) dispatch() {
	sm.mu.Lock()
	if sm.dispatching {
		sm.mu.Unlock()
		return
	}
	sm.dispatching = true

	for len(sm.queue) > 0 {
		next := sm.queue[0]
		sm.queue = sm.queue[1:]
		if sm.lastNotified.Equal(next) {
			continue
		}
		sm.lastNotified = next

		observers := make([]Observer, 0, len(sm.observerOrder))
		for _, id := range sm.observerOrder {
			observers = append(observers, sm.observers[id])
		}

		sm.mu.Unlock()
		for _, observer := range observers {
			observer(copyState(next))
		}
		sm.mu.Lock()
	}

	sm.dispatching = false
	sm.mu.Unlock()
}

func (sm *StateMachine) armTimerLocked(attemptID string) {
	sm.stopTimerLocked()
	if sm.attemptTimeout <= 0 {
		return
	}
	sm.timer = time.AfterFunc(sm.attemptTimeout, func() {
		sm.expire(attemptID)
	})
}

func (sm *StateMachine) stopTimerLocked() {
	if sm.timer != nil {
		sm.timer.Stop()
		sm.timer = nil
	}
}

func (sm *StateMachine) expire(attemptID string) {
	ctx := context.Background()
	if _, err := sm.ReceiveResult(ctx, SignInFailed(reasonTimedOut).ForAttempt(attemptID)); err == nil {
		sm.logger.Info("sign in attempt timed out", "attempt_id", attemptID, "timeout", sm.attemptTimeout)
	}
}

func (sm *StateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}
	if len(event.Metadata) == 0 {
		event.Metadata = nil
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "event", event.EventType, "error", err)
	}
}

func copyState(state SessionState) SessionState {
	if state.Identity != nil {
		identity := *state.Identity
		state.Identity = &identity
	}
	return state
}
