package relay

import (
	"github.com/example/presence-relay/domain/presence"
	"github.com/example/presence-relay/modules/registry"
)

// State is the lifecycle state of one connection.
type State int

const (
	// StateConnected means the transport is open but no user_join was seen yet.
	StateConnected State = iota
	// StateIdentified means a valid user_join bound an identity to the connection.
	StateIdentified
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the router-side state of one connection. It is owned by the
// connection's reader goroutine; the router never touches it from elsewhere.
type Conn struct {
	transport registry.Transport
	state     State
	userID    string
	userName  string
	userRole  presence.Role
}

// NewConn wraps a freshly opened transport.
func NewConn(t registry.Transport) *Conn {
	return &Conn{transport: t, state: StateConnected}
}

// ID returns the transport id.
func (c *Conn) ID() string { return c.transport.ID() }

// State returns the current lifecycle state.
func (c *Conn) State() State { return c.state }

// UserID returns the identity bound by user_join, or "" before that.
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) identify(userID, userName string, role presence.Role) {
	c.userID = userID
	c.userName = userName
	c.userRole = role
	c.state = StateIdentified
}
