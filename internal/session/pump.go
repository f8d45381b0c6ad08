package session

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/segmentio/ksuid"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
)

// ServeConn runs the read/write pumps for one websocket until the client
// disconnects or ctx is canceled. Application state transitions stay on the
// coordinator goroutine; the pumps only move frames.
func (co *Coordinator) ServeConn(ctx context.Context, sock *websocket.Conn, remote string) {
	c := NewConn(ksuid.New().String(), remote)
	co.Attach(c)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		writePump(ctx, sock, c)
	}()

	readPump(ctx, sock, co, c)
	// Detach closes c.send on the coordinator goroutine, which lets the
	// write pump drain and exit.
	co.Detach(c)
	<-writeDone
}

func readPump(ctx context.Context, sock *websocket.Conn, co *Coordinator, c *Conn) {
	for {
		var msg types.ClientMessage
		if err := wsjson.Read(ctx, sock, &msg); err != nil {
			// a malformed frame or closed socket ends only this connection
			co.log.Debug().Err(err).Str("conn", c.id).Msg("read pump exit")
			return
		}
		co.Deliver(c, msg)
	}
}

func writePump(ctx context.Context, sock *websocket.Conn, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, sock, msg); err != nil {
				// drain until the coordinator closes the channel so Send
				// never observes a stuck buffer as anything but drops
				for range c.send {
				}
				return
			}
		}
	}
}
