// Package session owns the authenticated/anonymous state of the client and
// notifies observers when it changes.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/missionlog/internal/credentials"
)

// State is the session lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every state transition.
type Event struct {
	State  State
	Reason error // set when the session was invalidated
}

// Context is the process-wide session. Construct one per process (or per
// test) with New; it has no package-level state.
type Context struct {
	tokens credentials.Store
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(Event)
}

// New creates a Context over the given credential store. Call Initialize
// before relying on State.
func New(tokens credentials.Store) *Context {
	return &Context{
		tokens: tokens,
		logger: slog.Default(),
		subs:   make(map[int]func(Event)),
	}
}

// Initialize derives the state from stored credentials: authenticated iff an
// access token is present. The token is not validated.
func (c *Context) Initialize() (State, error) {
	_, ok, err := c.tokens.Get(credentials.AccessTokenKey)
	if err != nil {
		return StateUnknown, fmt.Errorf("reading access token: %w", err)
	}
	next := StateAnonymous
	if ok {
		next = StateAuthenticated
	}
	c.transition(next, nil)
	return next, nil
}

// Authenticate stores a fresh token pair, as returned by login.
func (c *Context) Authenticate(access, refresh string) error {
	if err := credentials.SaveTokens(c.tokens, access, refresh); err != nil {
		return err
	}
	c.transition(StateAuthenticated, nil)
	return nil
}

// Invalidate clears both tokens and moves to the anonymous state. Subscribers
// are notified only if the session was not already anonymous.
func (c *Context) Invalidate(reason error) {
	if err := credentials.ClearTokens(c.tokens); err != nil {
		c.logger.Error("clearing credentials", "error", err)
	}
	c.transition(StateAnonymous, reason)
}

// State returns the current state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for state transitions and returns a function that
// removes it.
func (c *Context) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Context) transition(next State, reason error) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if reason != nil {
		c.logger.Info("session invalidated", "reason", reason)
	}
	ev := Event{State: next, Reason: reason}
	for _, fn := range fns {
		fn(ev)
	}
}
