package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	signin "github.com/goliatone/go-signin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkCountsAttempts(t *testing.T) {
	ctx := context.Background()
	sink, err := NewPrometheusSink(prometheus.NewRegistry(), "")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []signin.ActivityEvent{
		{EventType: signin.ActivityEventSignInStarted, AttemptID: "a1", OccurredAt: start},
		{EventType: signin.ActivityEventSignInFailed, AttemptID: "a1", OccurredAt: start.Add(2 * time.Second)},
		{EventType: signin.ActivityEventSignInStarted, AttemptID: "a2", OccurredAt: start.Add(3 * time.Second)},
		{EventType: signin.ActivityEventSignInSucceeded, AttemptID: "a2", OccurredAt: start.Add(10 * time.Second)},
	}
	for _, event := range events {
		require.NoError(t, sink.Record(ctx, event))
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.attempts.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.attempts.WithLabelValues("failure")))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.events.WithLabelValues(string(signin.ActivityEventSignInStarted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.signedIn))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.attemptSeconds))
	assert.Empty(t, sink.started)

	require.NoError(t, sink.Record(ctx, signin.ActivityEvent{EventType: signin.ActivityEventSignOut}))
	assert.Equal(t, float64(0), testutil.ToFloat64(sink.signedIn))
}

func TestPrometheusSinkRemoteCalls(t *testing.T) {
	ctx := context.Background()
	sink, err := NewPrometheusSink(nil, "app")
	require.NoError(t, err)

	require.NoError(t, sink.Record(ctx, signin.ActivityEvent{
		EventType: signin.ActivityEventRemoteCall,
		Metadata:  map[string]any{"function": "helloWorld", "outcome": "success"},
	}))
	require.NoError(t, sink.Record(ctx, signin.ActivityEvent{
		EventType: signin.ActivityEventRemoteCall,
		Metadata:  map[string]any{"function": "helloWorld", "outcome": "failure"},
	}))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.remoteCalls.WithLabelValues("helloWorld", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.remoteCalls.WithLabelValues("helloWorld", "failure")))
}

func TestPrometheusSinkHandler(t *testing.T) {
	sink, err := NewPrometheusSink(prometheus.NewRegistry(), "signin")
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), signin.ActivityEvent{EventType: signin.ActivityEventSessionRestored}))

	server := httptest.NewServer(sink.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "signin_signed_in 1")
	assert.Contains(t, string(body), `signin_activity_events_total{event="signin.restored"} 1`)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg, "")
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg, "")
	assert.Error(t, err)
}

func TestPrometheusSinkWithStateMachine(t *testing.T) {
	ctx := context.Background()
	sink, err := NewPrometheusSink(nil, "")
	require.NoError(t, err)

	sm := signin.NewStateMachine(ctx, staticBackend{},
		signin.WithStateMachineActivitySink(sink),
		signin.WithStateMachineLogger(quietLogger{}),
	)

	_, err = sm.StartSignIn(ctx)
	require.NoError(t, err)
	_, err = sm.ReceiveResult(ctx, signin.SignInSucceeded(signin.Identity{ID: "u1"}))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.attempts.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.signedIn))
}

type staticBackend struct{}

func (staticBackend) CurrentIdentity(context.Context) *signin.Identity { return nil }
func (staticBackend) SignOut(context.Context) error                  { return nil }

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}
