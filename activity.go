package signin

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignInStarted   ActivityEventType = "signin.started"
	ActivityEventSignInSucceeded ActivityEventType = "signin.succeeded"
	ActivityEventSignInFailed    ActivityEventType = "signin.failed"
	ActivityEventSignInReset     ActivityEventType = "signin.reset"
	ActivityEventSignOut         ActivityEventType = "signin.signout"
	ActivityEventSessionRestored ActivityEventType = "signin.restored"
	ActivityEventRemoteCall      ActivityEventType = "remote.call"
)

// ActivityEvent captures audit-friendly information about a session change or
// a remote call.
type ActivityEvent struct {
	EventType  ActivityEventType
	IdentityID string
	AttemptID  string
	FromStatus SessionStatus
	ToStatus   SessionStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans an event out to every sink, returning the first error.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
