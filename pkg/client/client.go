// Package client is a Go client for the walkie-talkie relay protocol. It
// covers the full session lifecycle: identify (token or screen name), join
// a channel, push-to-talk transmit, and history retrieval.
package client

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	cidpkg "github.com/awehttam/walkie-talkie-html5-sub000/internal/cid"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

// Config carries dial parameters.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// UserAgent defaults to walkie-talkie-client/1.0 when empty.
	UserAgent string
}

// buildDialHeaders constructs the HTTP header map used for websocket.Dial.
// Extracted to allow unit testing of header propagation.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// RandomScreenName returns a throwaway anonymous screen name like
// user_1a2b3c4d. Callers that lose a name race can retry with a fresh one.
func RandomScreenName() string {
	return fmt.Sprintf("user_%s", uuid.NewString()[:8])
}

// Client is a connected relay client. Listen must be running for handler
// callbacks to fire.
type Client struct {
	conn    *websocket.Conn
	cfg     Config
	handler Handler
}

// Dial connects to the relay server. The returned client owns the
// connection; call Close (or cancel Listen's context) to tear it down.
func Dial(ctx context.Context, cfg Config, handler Handler) (*Client, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "walkie-talkie-client/1.0"
	}
	if handler == nil {
		handler = &DefaultHandler{}
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, cfg.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	// history payloads can be large
	conn.SetReadLimit(16 << 20)

	return &Client{conn: conn, cfg: cfg, handler: handler}, nil
}

// Listen reads server messages and dispatches them to the handler until
// the connection drops or ctx is canceled. It always returns a non-nil
// error describing why it stopped.
func (c *Client) Listen(ctx context.Context) error {
	for {
		var msg types.ServerMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			c.handler.OnDisconnected(err)
			return err
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg types.ServerMessage) {
	switch msg.Type {
	case protocol.TypeAuthRequired:
		c.handler.OnAuthRequired()
	case protocol.TypeAuthenticated:
		c.handler.OnIdentified(types.Identity{UserID: msg.UserID, ScreenName: msg.ScreenName})
	case protocol.TypeScreenNameSet:
		c.handler.OnIdentified(types.Identity{ScreenName: msg.ScreenName})
	case protocol.TypeChannelJoined:
		c.handler.OnChannelJoined(msg.Channel, msg.Participants)
	case protocol.TypeParticipantJoin:
		c.handler.OnParticipantJoined(msg.Channel, msg.ScreenName, msg.Participants)
	case protocol.TypeParticipantLeft:
		c.handler.OnParticipantLeft(msg.Channel, msg.ScreenName, msg.Participants)
	case protocol.TypeUserSpeaking:
		speaking := msg.Speaking != nil && *msg.Speaking
		c.handler.OnUserSpeaking(msg.Channel, msg.ScreenName, speaking)
	case protocol.TypeAudioData:
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.handler.OnError(protocol.CodeInvalidMessage, "bad audio payload from server")
			return
		}
		c.handler.OnAudio(msg.Channel, msg.ScreenName, raw, msg.Format, msg.SampleRate)
	case protocol.TypeHistoryResponse:
		c.handler.OnHistory(msg.Channel, msg.Messages)
	case protocol.TypeError:
		c.handler.OnError(msg.Code, msg.Message)
	default:
		c.handler.OnServerMessage(msg)
	}
}

func (c *Client) write(ctx context.Context, msg types.ClientMessage) error {
	return wsjson.Write(ctx, c.conn, msg)
}

// Authenticate resolves an authenticated identity from a bearer token.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypeAuthenticate, Token: token})
}

// SetScreenName claims an anonymous identity.
func (c *Client) SetScreenName(ctx context.Context, name string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypeSetScreenName, ScreenName: name})
}

// Join enters a channel, leaving the previous one if any.
func (c *Client) Join(ctx context.Context, channel string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypeJoinChannel, Channel: channel})
}

// Leave exits the channel.
func (c *Client) Leave(ctx context.Context, channel string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypeLeaveChannel, Channel: channel})
}

// StartTalk requests the channel's speaker slot.
func (c *Client) StartTalk(ctx context.Context, channel string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypePTTStart, Channel: channel})
}

// EndTalk finishes the transmission, committing it to history.
func (c *Client) EndTalk(ctx context.Context, channel string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypePTTEnd, Channel: channel})
}

// SendPCM transmits one chunk of 16-bit mono PCM.
func (c *Client) SendPCM(ctx context.Context, channel string, pcm []byte, sampleRate int) error {
	return c.write(ctx, types.ClientMessage{
		Type:       protocol.TypeAudioData,
		Channel:    channel,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		Format:     protocol.FormatPCM,
		SampleRate: sampleRate,
		Channels:   1,
	})
}

// RequestHistory asks for the channel's recent transmissions.
func (c *Client) RequestHistory(ctx context.Context, channel string) error {
	return c.write(ctx, types.ClientMessage{Type: protocol.TypeHistoryRequest, Channel: channel})
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
