package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/credential"
	"golang.org/x/oauth2"
)

const defaultTimeout = 70 * time.Second

// Config configures the callable function client.
type Config struct {
	ProjectID string

	// EmulatorURL points to a local functions emulator, e.g.
	// "http://127.0.0.1:5001". Requests then go to
	// "<EmulatorURL>/<project>/<region>/<name>".
	EmulatorURL string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Invoker calls Firebase callable functions over HTTPS. It implements
// signin.RemoteInvoker.
type Invoker struct {
	config     Config
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     signin.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTokenSource attaches a bearer ID token to every call when a session
// is available.
func WithTokenSource(tokens oauth2.TokenSource) Option {
	return func(i *Invoker) {
		i.tokens = tokens
	}
}

// WithLogger sets the logger.
func WithLogger(logger signin.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an Invoker.
func New(cfg Config, opts ...Option) (*Invoker, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("remote: project id is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.EmulatorURL = strings.TrimSuffix(cfg.EmulatorURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	i := &Invoker{
		config:     cfg,
		httpClient: client,
		logger:     signin.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

var _ signin.RemoteInvoker = (*Invoker)(nil)

// Endpoint returns the URL for function name in region.
func (i *Invoker) Endpoint(name, region string) string {
	if i.config.EmulatorURL != "" {
		return fmt.Sprintf("%s/%s/%s/%s", i.config.EmulatorURL, i.config.ProjectID, region, name)
	}
	return fmt.Sprintf("https://%s-%s.cloudfunctions.net/%s", region, i.config.ProjectID, name)
}

// Invoke implements signin.RemoteInvoker. The call runs on its own
// goroutine and done is called exactly once.
func (i *Invoker) Invoke(ctx context.Context, name, region string, done func(signin.RemoteCallOutcome)) {
	var once sync.Once
	finish := func(outcome signin.RemoteCallOutcome) {
		once.Do(func() {
			if done != nil {
				done(outcome)
			}
		})
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				finish(signin.RemoteCallOutcome{
					Function: name,
					Region:   region,
					Err:      callError(name, region, 0, "", fmt.Errorf("panic: %v", r)),
				})
			}
		}()
		finish(i.Call(ctx, name, region, nil))
	}()
}

// Call invokes the function synchronously with data as the request payload.
func (i *Invoker) Call(ctx context.Context, name, region string, data any) signin.RemoteCallOutcome {
	outcome := signin.RemoteCallOutcome{Function: name, Region: region}

	payload, err := json.Marshal(callableRequest{Data: data})
	if err != nil {
		outcome.Err = callError(name, region, 0, "", err)
		return outcome
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.Endpoint(name, region), bytes.NewReader(payload))
	if err != nil {
		outcome.Err = callError(name, region, 0, "", err)
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")
	i.authorize(req)

	start := time.Now()
	resp, err := i.httpClient.Do(req)
	if err != nil {
		i.logger.Warn("function call transport error", "function", name, "region", region, "error", err)
		outcome.Err = callError(name, region, 0, "", err)
		return outcome
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome.Err = callError(name, region, resp.StatusCode, "", err)
		return outcome
	}

	i.logger.Debug("function call completed", "function", name, "status", resp.StatusCode, "elapsed", time.Since(start))

	var decoded callableResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		status, message := "", strings.TrimSpace(string(body))
		if decodeErr == nil && decoded.Error != nil {
			status, message = decoded.Error.Status, decoded.Error.Message
		}
		outcome.Err = callError(name, region, resp.StatusCode, status, errors.New(message))
		return outcome
	}
	if decodeErr != nil {
		outcome.Err = callError(name, region, resp.StatusCode, "INTERNAL", decodeErr)
		return outcome
	}

	outcome.Payload = payloadOf(decoded.Result)
	if message, ok := outcome.Payload["message"].(string); ok {
		outcome.Message = message
	}
	return outcome
}

func (i *Invoker) authorize(req *http.Request) {
	if i.tokens == nil {
		return
	}
	tok, err := i.tokens.Token()
	if err != nil {
		if !errors.Is(err, credential.ErrSessionNotFound) {
			i.logger.Warn("calling function without credentials", "error", err)
		}
		return
	}
	if tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}
}

type callableRequest struct {
	Data any `json:"data"`
}

type callableResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *callableError  `json:"error"`
}

type callableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func payloadOf(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var value any
	if err := json.Unmarshal(raw, &value); err == nil {
		return map[string]any{"result": value}
	}
	return nil
}

func callError(name, region string, httpStatus int, status string, err error) error {
	meta := map[string]any{
		"function": name,
		"region":   region,
	}
	if httpStatus != 0 {
		meta["http_status"] = httpStatus
	}
	if status != "" {
		meta["status"] = status
	}
	if err != nil {
		meta["cause"] = err.Error()
	}

	clone := signin.ErrRemoteCallFailed.Clone()
	if clone == nil {
		return err
	}
	clone.Source = err
	return clone.WithMetadata(meta)
}
