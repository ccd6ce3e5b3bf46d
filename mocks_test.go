package signin_test

import (
	"context"
	"sync"

	signin "github.com/goliatone/go-signin"
	"github.com/stretchr/testify/mock"
)

// MockBroker implements signin.CredentialBroker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) CurrentIdentity(ctx context.Context) *signin.Identity {
	args := m.Called(ctx)
	if identity, ok := args.Get(0).(*signin.Identity); ok {
		return identity
	}
	return nil
}

func (m *MockBroker) BeginSignIn(ctx context.Context, attemptID string) (*signin.SignInRequest, error) {
	args := m.Called(ctx, attemptID)
	req, _ := args.Get(0).(*signin.SignInRequest)
	return req, args.Error(1)
}

func (m *MockBroker) CompleteSignIn(ctx context.Context, response signin.CredentialResponse) signin.SignInAttemptResult {
	args := m.Called(ctx, response)
	return args.Get(0).(signin.SignInAttemptResult)
}

func (m *MockBroker) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockRemoteInvoker implements signin.RemoteInvoker and completes
// synchronously with the configured outcome.
type MockRemoteInvoker struct {
	mock.Mock
}

func (m *MockRemoteInvoker) Invoke(ctx context.Context, name, region string, done func(signin.RemoteCallOutcome)) {
	args := m.Called(ctx, name, region)
	done(args.Get(0).(signin.RemoteCallOutcome))
}

// MockActivitySink implements signin.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event signin.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []signin.ActivityEvent
}

func (r *eventRecorder) Record(_ context.Context, event signin.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Types() []signin.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signin.ActivityEventType, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType)
	}
	return out
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

func newBroker(current *signin.Identity) *MockBroker {
	broker := &MockBroker{}
	broker.On("CurrentIdentity", mock.Anything).Return(current).Once()
	return broker
}
