package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	signin "github.com/goliatone/go-signin"
)

const consoleHelp = `commands:
  signin    start a sign in attempt and print the provider URL
  cancel    abandon the attempt in progress
  dismiss   clear a failed attempt
  signout   sign out
  call      invoke the configured function
  profile   show the signed in user
  status    show the session state
  quit      exit`

// Session is the part of the coordinator the console drives.
type Session interface {
	State() signin.SessionState
	Profile() *signin.Identity
	OnSignInClick(ctx context.Context) (*signin.SignInRequest, error)
	OnSignOut(ctx context.Context) error
	CancelSignIn(ctx context.Context) error
	AcknowledgeError(ctx context.Context) error
	OnFunctionClick(ctx context.Context, done func(signin.RemoteCallOutcome))
}

// syncWriter serializes writes to the terminal. Notifications arrive on the
// callback server and invoker goroutines while the console prints prompts.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter {
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// terminalNotifier prints notifications as "* message" lines. out should be
// the console's syncWriter.
type terminalNotifier struct {
	out io.Writer
}

func (n terminalNotifier) Notify(_ context.Context, message string) {
	fmt.Fprintf(n.out, "* %s\n", message)
}

// Console is a line oriented front end. The screen printed after each
// command is the top of the back stack.
type Console struct {
	session Session
	screen  func() signin.Destination
	in      io.Reader
	out     io.Writer
}

func NewConsole(app *App, in io.Reader, out io.Writer) *Console {
	return &Console{
		session: app.coordinator,
		screen:  app.stack.Current,
		in:      in,
		out:     out,
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printScreen()
	for {
		fmt.Fprint(c.out, "> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.Exec(ctx, line) {
				return
			}
		}
	}
}

// Exec runs one command. It returns false when the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "":
		return true
	case "quit", "exit":
		return false
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "signin":
		req, err := c.session.OnSignInClick(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "sign in unavailable: %v\n", err)
			break
		}
		fmt.Fprintf(c.out, "open this URL to continue:\n  %s\n", req.URL)
	case "cancel":
		c.report(c.session.CancelSignIn(ctx))
	case "dismiss":
		c.report(c.session.AcknowledgeError(ctx))
	case "signout":
		c.report(c.session.OnSignOut(ctx))
	case "call":
		done := make(chan signin.RemoteCallOutcome, 1)
		c.session.OnFunctionClick(ctx, func(outcome signin.RemoteCallOutcome) {
			done <- outcome
		})
		select {
		case outcome := <-done:
			if outcome.Failed() {
				fmt.Fprintf(c.out, "error: %s\n", outcome.ErrorMessage())
			}
		case <-ctx.Done():
			return false
		}
	case "profile":
		c.printProfile()
	case "status":
		fmt.Fprintln(c.out, c.session.State().String())
	default:
		fmt.Fprintf(c.out, "unknown command %q, try help\n", line)
		return true
	}

	c.printScreen()
	return true
}

func (c *Console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func (c *Console) printScreen() {
	fmt.Fprintf(c.out, "[%s]\n", c.screen())
}

func (c *Console) printProfile() {
	identity := c.session.Profile()
	if identity == nil {
		fmt.Fprintln(c.out, "not signed in")
		return
	}
	fmt.Fprintf(c.out, "name:    %s\n", identity.DisplayName)
	if identity.Email != "" {
		fmt.Fprintf(c.out, "email:   %s\n", identity.Email)
	}
	if identity.HasProfilePicture() {
		fmt.Fprintf(c.out, "picture: %s\n", identity.ProfilePictureURL)
	}
	fmt.Fprintf(c.out, "id:      %s\n", identity.ID)
}
