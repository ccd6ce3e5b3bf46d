package main

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/metrics"
)

const (
	pageSignedIn = "Signed in. You can close this window and return to the terminal."
	pageFailed   = "Sign in did not complete. Return to the terminal for details."
)

// CredentialHandler receives the provider redirect.
type CredentialHandler interface {
	OnCredentialResponse(ctx context.Context, response signin.CredentialResponse) (signin.SessionState, error)
}

// NewCallbackServer serves the OAuth redirect and, when sink is set, the
// metrics endpoint.
func NewCallbackServer(handler CredentialHandler, sink *metrics.PrometheusSink, metricsPath string) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/callback", func(c *fiber.Ctx) error {
		values := url.Values{}
		for _, key := range []string{"state", "code", "id_token", "error", "error_description"} {
			if v := c.Query(key); v != "" {
				values.Set(key, v)
			}
		}

		state, err := handler.OnCredentialResponse(c.UserContext(), signin.ParseCredentialResponse(values))
		if err != nil {
			return c.Status(fiber.StatusConflict).SendString(err.Error())
		}
		if !state.IsSignInSuccessful() {
			return c.Status(fiber.StatusUnauthorized).SendString(pageFailed)
		}
		return c.SendString(pageSignedIn)
	})

	if sink != nil {
		app.Get(metricsPath, adaptor.HTTPHandler(sink.Handler()))
	}

	return app
}

func WithCallbackServer(_ context.Context, app *App) error {
	srv := NewCallbackServer(app.coordinator, app.metrics, app.config.Metrics.Path)
	logger := app.GetLogger("server")

	go func() {
		if err := srv.Listen(app.config.Server.CallbackAddr); err != nil {
			logger.Error("callback server stopped", "error", err)
		}
	}()
	app.onClose(srv.ShutdownWithContext)

	logger.Info("listening for sign in callbacks", "url", app.config.Server.CallbackURL())
	return nil
}
