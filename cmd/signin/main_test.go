package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type stubBroker struct{}

func (stubBroker) CurrentIdentity(context.Context) *signin.Identity { return nil }

func (stubBroker) BeginSignIn(context.Context, string) (*signin.SignInRequest, error) {
	return &signin.SignInRequest{URL: "https://accounts.example/auth?state=s1", State: "s1", Provider: "google"}, nil
}

func (stubBroker) CompleteSignIn(_ context.Context, response signin.CredentialResponse) signin.SignInAttemptResult {
	if response.State != "s1" {
		return signin.SignInFailed("invalid sign in state").ForAttempt(signin.UnmatchedAttempt)
	}
	if response.Code == "good" {
		return signin.SignInSucceeded(signin.Identity{ID: "u1", DisplayName: "Ada Lovelace", Email: "ada@example.com"})
	}
	return signin.SignInFailed("cancelled")
}

func (stubBroker) SignOut(context.Context) error { return nil }

type stubInvoker struct {
	outcome signin.RemoteCallOutcome
}

func (s stubInvoker) Invoke(_ context.Context, name, region string, done func(signin.RemoteCallOutcome)) {
	outcome := s.outcome
	outcome.Function, outcome.Region = name, region
	done(outcome)
}

type fixture struct {
	coordinator *signin.Coordinator
	stack       *signin.BackStack
	buf         *bytes.Buffer
	out         *syncWriter
	console     *Console
}

func (f *fixture) output() string {
	f.out.mu.Lock()
	defer f.out.mu.Unlock()
	return f.buf.String()
}

func (f *fixture) reset() {
	f.out.mu.Lock()
	defer f.out.mu.Unlock()
	f.buf.Reset()
}

func newFixture(t *testing.T, opts ...signin.CoordinatorOption) *fixture {
	t.Helper()
	buf := &bytes.Buffer{}
	out := newSyncWriter(buf)
	stack := signin.NewBackStack()
	opts = append([]signin.CoordinatorOption{
		signin.WithCoordinatorLogger(quietLogger{}),
		signin.WithNotifier(terminalNotifier{out: out}),
	}, opts...)
	coordinator := signin.NewCoordinator(context.Background(), stubBroker{}, stack, opts...)
	t.Cleanup(coordinator.Close)

	return &fixture{
		coordinator: coordinator,
		stack:       stack,
		buf:         buf,
		out:         out,
		console:     &Console{session: coordinator, screen: stack.Current, out: out},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestCallbackServerCompletesSignIn(t *testing.T) {
	f := newFixture(t)
	srv := NewCallbackServer(f.coordinator, nil, "/metrics")

	resp, err := srv.Test(httptest.NewRequest("GET", "/callback?code=good&state=s1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode, "no attempt in progress")

	_, err = f.coordinator.OnSignInClick(context.Background())
	require.NoError(t, err)

	resp, err = srv.Test(httptest.NewRequest("GET", "/callback?code=good&state=s1", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, pageSignedIn, string(body))

	waitFor(t, func() bool { return f.stack.Current() == signin.DestinationProfile })
	assert.Contains(t, f.output(), "* "+signin.MessageSignInSuccessful)
}

func TestCallbackServerIgnoresStrayCallback(t *testing.T) {
	f := newFixture(t)
	srv := NewCallbackServer(f.coordinator, nil, "/metrics")

	_, err := f.coordinator.OnSignInClick(context.Background())
	require.NoError(t, err)

	resp, err := srv.Test(httptest.NewRequest("GET", "/callback?code=good&state=old-tab", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
	assert.True(t, f.coordinator.State().IsSignInInProgress())

	resp, err = srv.Test(httptest.NewRequest("GET", "/callback?code=good&state=s1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	waitFor(t, func() bool { return f.stack.Current() == signin.DestinationProfile })
}

func TestSyncWriterSerializesNotifications(t *testing.T) {
	f := newFixture(t)
	notifier := terminalNotifier{out: f.out}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			notifier.Notify(context.Background(), signin.MessageSignedOut)
		}()
		go func() {
			defer wg.Done()
			f.console.printScreen()
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(f.output()), "\n")
	require.Len(t, lines, 40)
	for _, line := range lines {
		assert.Contains(t, []string{"* " + signin.MessageSignedOut, "[sign_in]"}, line)
	}
}

func TestCallbackServerReportsFailure(t *testing.T) {
	f := newFixture(t)
	srv := NewCallbackServer(f.coordinator, nil, "/metrics")

	_, err := f.coordinator.OnSignInClick(context.Background())
	require.NoError(t, err)

	resp, err := srv.Test(httptest.NewRequest("GET", "/callback?error=access_denied&state=s1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, signin.StatusFailed, f.coordinator.State().Status)
	assert.Equal(t, signin.DestinationSignIn, f.stack.Current())
}

func TestCallbackServerServesMetrics(t *testing.T) {
	sink, err := metrics.NewPrometheusSink(nil, "signin")
	require.NoError(t, err)

	f := newFixture(t, signin.WithActivitySink(sink))
	srv := NewCallbackServer(f.coordinator, sink, "/metrics")

	_, err = f.coordinator.OnSignInClick(context.Background())
	require.NoError(t, err)

	resp, err := srv.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `signin_activity_events_total{event="signin.started"} 1`)
}

func TestConsoleSignInAndOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, f.console.Exec(ctx, "signin"))
	assert.Contains(t, f.output(), "https://accounts.example/auth?state=s1")

	_, err := f.coordinator.OnCredentialResponse(ctx, signin.CredentialResponse{Code: "good", State: "s1"})
	require.NoError(t, err)
	waitFor(t, func() bool { return f.stack.Current() == signin.DestinationProfile })

	f.reset()
	assert.True(t, f.console.Exec(ctx, "profile"))
	assert.Contains(t, f.output(), "name:    Ada Lovelace")
	assert.Contains(t, f.output(), "email:   ada@example.com")
	assert.Contains(t, f.output(), "[profile]")

	f.reset()
	assert.True(t, f.console.Exec(ctx, "signout"))
	waitFor(t, func() bool { return f.stack.Current() == signin.DestinationSignIn })
	assert.Contains(t, f.output(), "* "+signin.MessageSignedOut)
	assert.Equal(t, []signin.Destination{signin.DestinationSignIn}, f.stack.Entries())
}

func TestConsoleCallFunction(t *testing.T) {
	f := newFixture(t, signin.WithRemoteInvoker(stubInvoker{
		outcome: signin.RemoteCallOutcome{Message: "Hello, world"},
	}))

	assert.True(t, f.console.Exec(context.Background(), "call"))
	assert.Contains(t, f.output(), "* Hello, world")
	assert.Contains(t, f.output(), "[sign_in]")
}

func TestConsoleRun(t *testing.T) {
	f := newFixture(t)
	f.console.in = strings.NewReader("help\nstatus\nbogus\nquit\nsignin\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.console.Run(ctx)

	out := f.output()
	assert.Contains(t, out, "commands:")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.NotContains(t, out, "open this URL", "commands after quit are ignored")
}
