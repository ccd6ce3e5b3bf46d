package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	VerifierNone  = "none"
	VerifierToken = "token"
	VerifierAdmin = "admin"
)

// Config is the host configuration.
type Config struct {
	Google   Google   `koanf:"google" json:"google"`
	Firebase Firebase `koanf:"firebase" json:"firebase"`
	Function Function `koanf:"function" json:"function"`
	Session  Session  `koanf:"session" json:"session"`
	SignIn   SignIn   `koanf:"signin" json:"signin"`
	Server   Server   `koanf:"server" json:"server"`
	Metrics  Metrics  `koanf:"metrics" json:"metrics"`
}

type Google struct {
	ClientID     string   `koanf:"client_id" json:"client_id"`
	ClientSecret string   `koanf:"client_secret" json:"client_secret"`
	Scopes       []string `koanf:"scopes" json:"scopes"`
	JWKSURL      string   `koanf:"jwks_url" json:"jwks_url"`
}

// Firebase names the project hosting the callable functions. When Enabled
// is false the Google identity is used as is and no federation happens.
type Firebase struct {
	Enabled         bool   `koanf:"enabled" json:"enabled"`
	ProjectID       string `koanf:"project_id" json:"project_id"`
	APIKey          string `koanf:"api_key" json:"api_key"`
	CredentialsFile string `koanf:"credentials_file" json:"credentials_file"`
	// Verifier selects how restored sessions are checked: "none", "token"
	// (JWKS only) or "admin" (Admin SDK, supports revocation).
	Verifier string `koanf:"verifier" json:"verifier"`
}

type Function struct {
	Name              string `koanf:"name" json:"name"`
	Region            string `koanf:"region" json:"region"`
	EmulatorURL       string `koanf:"emulator_url" json:"emulator_url"`
	TimeoutExpression string `koanf:"timeout" json:"timeout"`
}

type Session struct {
	Store          string `koanf:"store" json:"store"`
	RedisAddr      string `koanf:"redis_addr" json:"redis_addr"`
	RedisPassword  string `koanf:"redis_password" json:"redis_password"`
	RedisDB        int    `koanf:"redis_db" json:"redis_db"`
	KeyPrefix      string `koanf:"key_prefix" json:"key_prefix"`
	InstallationID string `koanf:"installation_id" json:"installation_id"`
	TTLExpression  string `koanf:"ttl" json:"ttl"`
}

// SignIn configures attempts. Keys are hex encoded; when both are empty a
// random pair is generated per process.
type SignIn struct {
	AttemptTimeoutExpression string `koanf:"attempt_timeout" json:"attempt_timeout"`
	StateTTLExpression       string `koanf:"state_ttl" json:"state_ttl"`
	StateEncryptionKey       string `koanf:"state_encryption_key" json:"state_encryption_key"`
	StateMACKey              string `koanf:"state_mac_key" json:"state_mac_key"`
}

type Server struct {
	CallbackAddr string `koanf:"callback_addr" json:"callback_addr"`
}

type Metrics struct {
	Enabled   bool   `koanf:"enabled" json:"enabled"`
	Path      string `koanf:"path" json:"path"`
	Namespace string `koanf:"namespace" json:"namespace"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		Google: Google{
			Scopes: []string{"openid", "email", "profile"},
		},
		Firebase: Firebase{
			Verifier: VerifierNone,
		},
		Function: Function{
			Name:              "helloWorld",
			Region:            "asia-northeast3",
			TimeoutExpression: "70s",
		},
		Session: Session{
			Store:         StoreMemory,
			RedisAddr:     "127.0.0.1:6379",
			KeyPrefix:     "signin:session",
			TTLExpression: "720h",
		},
		SignIn: SignIn{
			AttemptTimeoutExpression: "5m",
			StateTTLExpression:       "10m",
		},
		Server: Server{
			CallbackAddr: "127.0.0.1:8085",
		},
		Metrics: Metrics{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "signin",
		},
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Google),
		validation.Field(&c.Firebase),
		validation.Field(&c.Function),
		validation.Field(&c.Session),
		validation.Field(&c.SignIn),
		validation.Field(&c.Server),
		validation.Field(&c.Metrics),
	)
}

func (g Google) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.ClientID, validation.Required),
		validation.Field(&g.Scopes, validation.Required),
		validation.Field(&g.JWKSURL, is.URL),
	)
}

func (f Firebase) Validate() error {
	apiKey := []validation.Rule{}
	if f.Enabled {
		apiKey = append(apiKey, validation.Required)
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.ProjectID, validation.Required),
		validation.Field(&f.APIKey, apiKey...),
		validation.Field(&f.Verifier, validation.Required, validation.In(VerifierNone, VerifierToken, VerifierAdmin)),
	)
}

func (f Function) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Region, validation.Required),
		validation.Field(&f.EmulatorURL, is.URL),
		validation.Field(&f.TimeoutExpression, validation.Required, validation.By(duration)),
	)
}

func (s Session) Validate() error {
	addr := []validation.Rule{}
	if s.Store == StoreRedis {
		addr = append(addr, validation.Required, validation.By(hostPort))
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Store, validation.Required, validation.In(StoreMemory, StoreRedis)),
		validation.Field(&s.RedisAddr, addr...),
		validation.Field(&s.RedisDB, validation.Min(0)),
		validation.Field(&s.TTLExpression, validation.Required, validation.By(duration)),
	)
}

func (s SignIn) Validate() error {
	keys := []validation.Rule{is.Hexadecimal}
	if s.StateEncryptionKey != "" || s.StateMACKey != "" {
		keys = append(keys, validation.Required)
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.AttemptTimeoutExpression, validation.Required, validation.By(duration)),
		validation.Field(&s.StateTTLExpression, validation.Required, validation.By(duration)),
		validation.Field(&s.StateEncryptionKey, keys...),
		validation.Field(&s.StateMACKey, keys...),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.CallbackAddr, validation.Required, validation.By(hostPort)),
	)
}

func (m Metrics) Validate() error {
	path := []validation.Rule{}
	if m.Enabled {
		path = append(path, validation.Required)
	}
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path, path...),
	)
}

func (f Function) GetTimeout() time.Duration {
	return mustDuration(f.TimeoutExpression)
}

func (s Session) GetTTL() time.Duration {
	return mustDuration(s.TTLExpression)
}

// GetInstallationID returns the configured installation id or one derived
// from the client id, so restarts find the same stored session.
func (s Session) GetInstallationID(clientID string) string {
	if s.InstallationID != "" {
		return s.InstallationID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("signin:"+clientID)).String()
}

func (s SignIn) GetAttemptTimeout() time.Duration {
	return mustDuration(s.AttemptTimeoutExpression)
}

func (s SignIn) GetStateTTL() time.Duration {
	return mustDuration(s.StateTTLExpression)
}

// GetStateKeys decodes the state codec keys. ok is false when none are set.
func (s SignIn) GetStateKeys() (enc, mac []byte, ok bool, err error) {
	if s.StateEncryptionKey == "" && s.StateMACKey == "" {
		return nil, nil, false, nil
	}
	if enc, err = hex.DecodeString(s.StateEncryptionKey); err != nil {
		return nil, nil, false, fmt.Errorf("state encryption key: %w", err)
	}
	if mac, err = hex.DecodeString(s.StateMACKey); err != nil {
		return nil, nil, false, fmt.Errorf("state mac key: %w", err)
	}
	return enc, mac, true, nil
}

// CallbackURL is the redirect URI registered with the identity provider.
func (s Server) CallbackURL() string {
	return "http://" + s.CallbackAddr + "/callback"
}

func mustDuration(expr string) time.Duration {
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", expr),
		)
	}
	return dur
}

func duration(value any) error {
	expr, _ := value.(string)
	if expr == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return fmt.Errorf("must be a duration like 30s or 5m")
	}
	return nil
}

func hostPort(value any) error {
	addr, _ := value.(string)
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("must be host:port")
	}
	return nil
}
