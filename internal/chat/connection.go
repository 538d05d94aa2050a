package chat

import (
	"context"
	"sync"
)

// Connection is the shared session state machine used by both adapters.
// Transitions are monotonic per connection attempt: Disconnected →
// Connecting on a connect attempt, Connecting → Connected on a successful
// handshake plus initial sync, any state → Disconnected on explicit
// disconnect or fatal auth failure. An awaiter is created when entering
// Connecting and released when Connected; all callers issued before
// Connected share it.
//
// A failed handshake leaves the state at Connecting: the failure is
// surfaced to the caller and retry is caller-driven. Only one attempt may
// be in flight at a time; a concurrent connect must await the in-flight
// attempt rather than starting a duplicate handshake.
type Connection struct {
	mu       sync.Mutex
	state    ConnectionState
	inFlight bool
	ready    chan struct{}
}

// NewConnection returns a connection in the Disconnected state.
func NewConnection() *Connection {
	return &Connection{state: Disconnected}
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginAttempt claims the single connect slot. It returns false when an
// attempt is already in flight or the connection is established; the caller
// must then AwaitReady instead of performing a handshake. On the first
// attempt it moves Disconnected to Connecting and creates the awaiter.
func (c *Connection) BeginAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight || c.state == Connected {
		return false
	}
	c.inFlight = true
	if c.state == Disconnected {
		c.state = Connecting
		c.ready = make(chan struct{})
	}
	return true
}

// EndAttempt releases the connect slot. On success the state advances to
// Connected and all awaiters are released. On failure the state stays at
// Connecting so a later retry can resume the same awaiter.
func (c *Connection) EndAttempt(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if success && c.state == Connecting {
		c.state = Connected
		close(c.ready)
	}
}

// SetDisconnected moves to Disconnected. Awaiters from an aborted attempt
// are released so they can observe the state and produce empty defaults.
func (c *Connection) SetDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connecting && c.ready != nil {
		close(c.ready)
	}
	c.state = Disconnected
	c.inFlight = false
	c.ready = nil
}

// AwaitReady blocks until the connection reaches Connected, the attempt is
// torn down, or ctx is done. When Disconnected it returns immediately;
// callers are expected to check State and return an empty default instead
// of erroring.
func (c *Connection) AwaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	state := c.state
	c.mu.Unlock()

	if state != Connecting || ready == nil {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
