package session

import (
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
)

const sendBufferSize = 256

// Conn is one live duplex session. The coordinator owns its lifecycle and
// is the only goroutine that touches identity/channel; the write pump only
// drains the send channel.
type Conn struct {
	id     string
	remote string
	send   chan types.ServerMessage

	// coordinator-goroutine state
	identity *types.Identity
	channel  string
}

// NewConn builds a connection with the given process-unique id. The id is
// assigned at accept time (a KSUID in the server path).
func NewConn(id, remote string) *Conn {
	return &Conn{
		id:     id,
		remote: remote,
		send:   make(chan types.ServerMessage, sendBufferSize),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Outbound exposes the send channel for the write pump (and tests). The
// channel is closed by the coordinator when the connection detaches.
func (c *Conn) Outbound() <-chan types.ServerMessage { return c.send }
