package signin

import (
	"context"
	"time"
)

const (
	DefaultFunctionName   = "helloWorld"
	DefaultFunctionRegion = "asia-northeast3"
)

// Notification texts shown by the host.
const (
	MessageSignInSuccessful = "Sign in successful"
	MessageSignedOut        = "Signed out"
	MessageFunctionFailed   = "Function call failed"
	MessageNoData           = "No data"
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNotifier sets where transient messages go.
func WithNotifier(n Notifier) CoordinatorOption {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRemoteInvoker sets the client used by OnFunctionClick.
func WithRemoteInvoker(r RemoteInvoker) CoordinatorOption {
	return func(c *Coordinator) {
		c.remote = r
	}
}

// WithFunction overrides the remote function name and region.
func WithFunction(name, region string) CoordinatorOption {
	return func(c *Coordinator) {
		if name != "" {
			c.functionName = name
		}
		if region != "" {
			c.functionRegion = region
		}
	}
}

// WithCoordinatorLogger sets the logger shared by the coordinator, its state
// machine and its navigation controller.
func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithActivitySink publishes session and remote call events.
func WithActivitySink(sink ActivitySink) CoordinatorOption {
	return func(c *Coordinator) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineOptions forwards options to the state machine.
func WithStateMachineOptions(opts ...StateMachineOption) CoordinatorOption {
	return func(c *Coordinator) {
		c.machineOpts = append(c.machineOpts, opts...)
	}
}

// WithNavigationOptions forwards options to the navigation controller.
func WithNavigationOptions(opts ...NavigationOption) CoordinatorOption {
	return func(c *Coordinator) {
		c.navOpts = append(c.navOpts, opts...)
	}
}

// Coordinator turns host intents into broker, state machine and remote
// invoker calls. It owns no state besides what the StateMachine holds.
type Coordinator struct {
	broker  CredentialBroker
	machine *StateMachine
	nav     *NavigationController
	remote  RemoteInvoker

	notifier       Notifier
	functionName   string
	functionRegion string
	logger         Logger
	activitySink   ActivitySink
	machineOpts    []StateMachineOption
	navOpts        []NavigationOption
	unsubscribe    func()
}

// NewCoordinator checks the broker for an existing session, builds the state
// machine and wires navigation to it. A restored session lands on the profile
// destination right away.
func NewCoordinator(ctx context.Context, broker CredentialBroker, navigator Navigator, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		broker:         broker,
		notifier:       noopNotifier{},
		functionName:   DefaultFunctionName,
		functionRegion: DefaultFunctionRegion,
		logger:         defLogger{},
		activitySink:   noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	machineOpts := append([]StateMachineOption{
		WithStateMachineLogger(c.logger),
		WithStateMachineActivitySink(c.activitySink),
	}, c.machineOpts...)
	c.machine = NewStateMachine(ctx, broker, machineOpts...)

	navOpts := append([]NavigationOption{WithNavigationLogger(c.logger)}, c.navOpts...)
	c.nav = NewNavigationController(navigator, navOpts...)
	c.unsubscribe = c.machine.Subscribe(c.nav.OnStateChange)

	return c
}

func (c *Coordinator) Machine() *StateMachine {
	return c.machine
}

func (c *Coordinator) Navigation() *NavigationController {
	return c.nav
}

func (c *Coordinator) State() SessionState {
	return c.machine.State()
}

// Profile returns the identity shown on the profile screen.
func (c *Coordinator) Profile() *Identity {
	return c.machine.Identity()
}

// Close detaches navigation from the state machine.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// OnSignInClick starts an attempt and asks the broker for a launchable
// request. When the provider is unavailable the attempt fails with the
// provider's reason and the error is returned so the host can degrade.
func (c *Coordinator) OnSignInClick(ctx context.Context) (*SignInRequest, error) {
	state, err := c.machine.StartSignIn(ctx)
	if err != nil {
		return nil, err
	}

	req, err := c.broker.BeginSignIn(ctx, state.AttemptID)
	if err != nil {
		c.logger.Warn("sign in request unavailable", "attempt_id", state.AttemptID, "error", err)
		failed, _ := c.machine.ReceiveResult(ctx, SignInFailed(err.Error()).ForAttempt(state.AttemptID))
		c.notifier.Notify(ctx, failed.SignInError)
		return nil, err
	}

	c.logger.Debug("sign in request ready", "attempt_id", state.AttemptID, "provider", req.Provider)
	return req, nil
}

// OnCredentialResponse hands the provider's response to the broker and feeds
// the result to the state machine. A response that answers another attempt
// is rejected with ErrStaleAttempt and leaves the current attempt running.
func (c *Coordinator) OnCredentialResponse(ctx context.Context, response CredentialResponse) (SessionState, error) {
	current := c.machine.State()
	if !current.IsSignInInProgress() {
		return current, transitionError(ErrInvalidTransition, map[string]any{
			"from":   current.Status,
			"reason": "credential response without sign in attempt",
		})
	}

	result := c.broker.CompleteSignIn(ctx, response)
	if result.AttemptID == "" {
		result = result.ForAttempt(current.AttemptID)
	}
	state, err := c.machine.ReceiveResult(ctx, result)
	if err != nil {
		if HasTextCode(err, TextCodeStaleAttempt) {
			c.logger.Warn("credential response ignored", "attempt_id", current.AttemptID, "response_attempt_id", result.AttemptID, "reason", result.Reason())
		}
		return state, err
	}

	if state.IsSignInSuccessful() {
		c.notifier.Notify(ctx, MessageSignInSuccessful)
	} else {
		c.notifier.Notify(ctx, state.SignInError)
	}
	return state, nil
}

// OnSignOut signs the user out and returns to the sign in screen.
func (c *Coordinator) OnSignOut(ctx context.Context) error {
	wasSignedIn := c.machine.State().IsSignInSuccessful()
	state, err := c.machine.SignOut(ctx)
	if wasSignedIn && state.Status == StatusIdle {
		c.notifier.Notify(ctx, MessageSignedOut)
	}
	return err
}

// CancelSignIn abandons the in-flight attempt, e.g. when the user closes the
// provider UI without answering.
func (c *Coordinator) CancelSignIn(ctx context.Context) error {
	_, err := c.machine.CancelSignIn(ctx, reasonCancelled)
	return err
}

// AcknowledgeError clears a failed attempt.
func (c *Coordinator) AcknowledgeError(ctx context.Context) error {
	_, err := c.machine.Reset(ctx)
	return err
}

// OnFunctionClick invokes the configured remote function once. The outcome is
// logged, surfaced as a notification and then passed to done, if set. It
// never touches the session state.
func (c *Coordinator) OnFunctionClick(ctx context.Context, done func(RemoteCallOutcome)) {
	name, region := c.functionName, c.functionRegion
	if c.remote == nil {
		c.handleOutcome(ctx, RemoteCallOutcome{
			Function: name,
			Region:   region,
			Err: transitionError(ErrRemoteCallFailed, map[string]any{
				"function": name,
				"reason":   "no remote invoker configured",
			}),
		}, done)
		return
	}

	c.remote.Invoke(ctx, name, region, func(outcome RemoteCallOutcome) {
		c.handleOutcome(ctx, outcome, done)
	})
}

func (c *Coordinator) handleOutcome(ctx context.Context, outcome RemoteCallOutcome, done func(RemoteCallOutcome)) {
	meta := map[string]any{
		"function": outcome.Function,
		"region":   outcome.Region,
	}

	if outcome.Failed() {
		c.logger.Error("function call failed", "function", outcome.Function, "region", outcome.Region, "error", outcome.Err)
		c.notifier.Notify(ctx, MessageFunctionFailed)
		meta["outcome"] = "failure"
		meta["error"] = outcome.ErrorMessage()
	} else {
		message := outcome.Message
		if message == "" {
			message = MessageNoData
		}
		c.logger.Info("function call succeeded", "function", outcome.Function, "message", message)
		c.notifier.Notify(ctx, message)
		meta["outcome"] = "success"
	}

	event := ActivityEvent{
		EventType:  ActivityEventRemoteCall,
		Metadata:   meta,
		OccurredAt: time.Now(),
	}
	if identity := c.machine.Identity(); identity != nil {
		event.IdentityID = identity.ID
	}
	if err := c.activitySink.Record(ctx, event); err != nil {
		c.logger.Warn("coordinator activity sink error", "event", event.EventType, "error", err)
	}

	if done != nil {
		done(outcome)
	}
}
