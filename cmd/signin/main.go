package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/activitymap"
	"github.com/goliatone/go-signin/config"
	"github.com/goliatone/go-signin/credential"
	"github.com/goliatone/go-signin/credential/providers/firebase"
	"github.com/goliatone/go-signin/credential/providers/google"
	"github.com/goliatone/go-signin/metrics"
	"github.com/goliatone/go-signin/remote"
	"github.com/goliatone/go-signin/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

// App holds the wired host components.
type App struct {
	config      *config.Config
	logger      *glog.BaseLogger
	store       credential.SessionStore
	broker      *credential.Broker
	coordinator *signin.Coordinator
	stack       *signin.BackStack
	metrics     *metrics.PrometheusSink
	out         io.Writer
	closers     []func(context.Context) error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	if a.coordinator != nil {
		a.coordinator.Close()
	}
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("signin"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(config.New()).
		WithLogger(lgr.GetLogger("config"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Load(ctx); err != nil {
		lgr.Error("load config", "error", err)
		os.Exit(1)
	}

	fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))

	app := &App{
		config: cfg.Raw(),
		logger: lgr,
		out:    newSyncWriter(os.Stdout),
	}
	defer app.Close(context.Background())

	steps := []func(context.Context, *App) error{
		WithSessionStore,
		WithMetrics,
		WithBroker,
		WithCoordinator,
		WithCallbackServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			lgr.Error("startup", "error", err)
			os.Exit(1)
		}
	}

	NewConsole(app, os.Stdin, app.out).Run(ctx)
}

func WithSessionStore(ctx context.Context, app *App) error {
	cfg := app.config.Session
	if cfg.Store != config.StoreRedis {
		app.store = repository.NewMemorySessionStore()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "redis session store unreachable")
	}
	app.onClose(func(context.Context) error { return client.Close() })

	store, err := repository.NewRedisSessionStore(client,
		cfg.GetInstallationID(app.config.Google.ClientID),
		repository.WithKeyPrefix(cfg.KeyPrefix),
		repository.WithSessionTTL(cfg.GetTTL()),
	)
	if err != nil {
		return err
	}
	app.store = store
	app.GetLogger("store").Info("using redis session store", "key", store.Key())
	return nil
}

func WithMetrics(_ context.Context, app *App) error {
	if !app.config.Metrics.Enabled {
		return nil
	}
	sink, err := metrics.NewPrometheusSink(prometheus.NewRegistry(), app.config.Metrics.Namespace)
	if err != nil {
		return err
	}
	app.metrics = sink
	return nil
}

func WithBroker(ctx context.Context, app *App) error {
	cfg := app.config
	logger := app.GetLogger("broker")

	provider, err := google.New(google.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		CallbackURL:  cfg.Server.CallbackURL(),
		Scopes:       cfg.Google.Scopes,
		JWKSURL:      cfg.Google.JWKSURL,
		Logger:       app.GetLogger("google"),
	})
	if err != nil {
		return err
	}
	app.onClose(provider.Close)

	codec, err := stateCodec(cfg.SignIn)
	if err != nil {
		return err
	}

	opts := []credential.BrokerOption{
		credential.WithSessionStore(app.store),
		credential.WithStateCodec(codec),
		credential.WithBrokerLogger(logger),
	}

	if cfg.Firebase.Enabled {
		toolkit, err := firebase.NewIdentityToolkit(firebase.IdentityToolkitConfig{
			APIKey:     cfg.Firebase.APIKey,
			RequestURI: cfg.Server.CallbackURL(),
		})
		if err != nil {
			return err
		}
		opts = append(opts, credential.WithFederator(toolkit))
	}

	switch cfg.Firebase.Verifier {
	case config.VerifierToken:
		verifier, err := firebase.NewTokenVerifier(cfg.Firebase.ProjectID, nil, app.GetLogger("firebase"))
		if err != nil {
			return err
		}
		app.onClose(verifier.Close)
		opts = append(opts, credential.WithSessionVerifier(verifier))
	case config.VerifierAdmin:
		var clientOpts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		admin, err := firebase.NewAdmin(ctx, cfg.Firebase.ProjectID, app.GetLogger("firebase"), clientOpts...)
		if err != nil {
			return err
		}
		opts = append(opts, credential.WithSessionVerifier(admin), credential.WithRevoker(admin))
	}

	broker, err := credential.NewBroker(provider, opts...)
	if err != nil {
		return err
	}
	app.broker = broker
	return nil
}

func WithCoordinator(ctx context.Context, app *App) error {
	cfg := app.config

	invoker, err := remote.New(remote.Config{
		ProjectID:   cfg.Firebase.ProjectID,
		EmulatorURL: cfg.Function.EmulatorURL,
		Timeout:     cfg.Function.GetTimeout(),
	},
		remote.WithTokenSource(remote.NewSessionTokenSource(app.store)),
		remote.WithLogger(app.GetLogger("remote")),
	)
	if err != nil {
		return err
	}

	activityLogger := app.GetLogger("activity")
	sink := activitymap.Sink(func(record activitymap.Normalized) {
		activityLogger.Info(record.Verb, record.Fields()...)
	})
	if app.metrics != nil {
		sink = signin.MultiActivitySink(sink, app.metrics)
	}

	app.stack = signin.NewBackStack()
	app.coordinator = signin.NewCoordinator(ctx, app.broker, app.stack,
		signin.WithNotifier(terminalNotifier{out: app.out}),
		signin.WithRemoteInvoker(invoker),
		signin.WithFunction(cfg.Function.Name, cfg.Function.Region),
		signin.WithCoordinatorLogger(app.GetLogger("coordinator")),
		signin.WithActivitySink(sink),
		signin.WithStateMachineOptions(
			signin.WithAttemptTimeout(cfg.SignIn.GetAttemptTimeout()),
		),
	)
	return nil
}

func stateCodec(cfg config.SignIn) (credential.StateCodec, error) {
	enc, mac, ok, err := cfg.GetStateKeys()
	if err != nil {
		return nil, err
	}
	if !ok {
		return credential.NewEphemeralStateCodec(cfg.GetStateTTL())
	}
	return credential.NewEncryptedStateCodec(enc, mac, cfg.GetStateTTL())
}
