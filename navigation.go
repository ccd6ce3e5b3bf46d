package signin

import (
	"fmt"
	"sync"
)

// Destination names one of the two screens of the host.
type Destination string

const (
	DestinationSignIn  Destination = "sign_in"
	DestinationProfile Destination = "profile"
)

// Decide maps a session state to the screen that should be visible.
func Decide(state SessionState) Destination {
	if state.IsSignInSuccessful() {
		return DestinationProfile
	}
	return DestinationSignIn
}

// Navigator is the host's navigation stack.
type Navigator interface {
	// Current returns the destination on top of the stack.
	Current() Destination
	// Push adds dest on top of the stack.
	Push(dest Destination) error
	// PopTo removes entries until dest is on top.
	PopTo(dest Destination) error
}

// NavigationOption customizes a NavigationController.
type NavigationOption func(*NavigationController)

// WithNavigationLogger overrides the controller logger.
func WithNavigationLogger(logger Logger) NavigationOption {
	return func(nc *NavigationController) {
		if logger != nil {
			nc.logger = logger
		}
	}
}

// WithNavigationListener is called after every navigation the controller
// performs.
func WithNavigationListener(fn func(from, to Destination)) NavigationOption {
	return func(nc *NavigationController) {
		if fn != nil {
			nc.listeners = append(nc.listeners, fn)
		}
	}
}

// NavigationController applies Decide to a Navigator, navigating only when
// the decision changes.
type NavigationController struct {
	mu        sync.Mutex
	nav       Navigator
	logger    Logger
	listeners []func(from, to Destination)
}

func NewNavigationController(nav Navigator, opts ...NavigationOption) *NavigationController {
	nc := &NavigationController{
		nav:    nav,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(nc)
		}
	}
	return nc
}

// Current returns the visible destination.
func (nc *NavigationController) Current() Destination {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.nav.Current()
}

// OnStateChange is an Observer. Repeated decisions for the same destination
// are ignored; returning to sign in pops the profile entry instead of
// covering it.
func (nc *NavigationController) OnStateChange(state SessionState) {
	nc.mu.Lock()
	from := nc.nav.Current()
	to := Decide(state)
	if from == to {
		nc.mu.Unlock()
		return
	}

	var err error
	switch to {
	case DestinationProfile:
		err = nc.nav.Push(DestinationProfile)
	case DestinationSignIn:
		err = nc.nav.PopTo(DestinationSignIn)
	}
	listeners := append([]func(from, to Destination){}, nc.listeners...)
	nc.mu.Unlock()

	if err != nil {
		nc.logger.Error("navigation failed", "from", from, "to", to, "state", state.String(), "error", err)
		return
	}

	nc.logger.Debug("navigated", "from", from, "to", to, "state", state.String())
	for _, fn := range listeners {
		fn(from, to)
	}
}

// BackStack is an in-memory Navigator rooted at the sign in screen.
type BackStack struct {
	mu      sync.Mutex
	entries []Destination
	history []Destination
}

func NewBackStack() *BackStack {
	return &BackStack{entries: []Destination{DestinationSignIn}}
}

func (b *BackStack) Current() Destination {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[len(b.entries)-1]
}

func (b *BackStack) Push(dest Destination) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, dest)
	b.history = append(b.history, dest)
	return nil
}

func (b *BackStack) PopTo(dest Destination) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i] == dest {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("destination %q not on back stack", dest)
	}
	if idx == len(b.entries)-1 {
		return nil
	}
	b.entries = b.entries[:idx+1]
	b.history = append(b.history, dest)
	return nil
}

// Back pops the top entry, like a system back press. It reports false at the
// root.
func (b *BackStack) Back() (Destination, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) <= 1 {
		return b.entries[0], false
	}
	b.entries = b.entries[:len(b.entries)-1]
	return b.entries[len(b.entries)-1], true
}

// Entries returns a copy of the stack, bottom first.
func (b *BackStack) Entries() []Destination {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Destination(nil), b.entries...)
}

// History returns every destination navigated to, in order.
func (b *BackStack) History() []Destination {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Destination(nil), b.history...)
}
