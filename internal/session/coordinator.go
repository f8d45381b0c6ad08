// Package session implements the coordinator that owns all live relay
// state. Every connection/channel/transmission mutation happens on one
// goroutine fed by a command channel, so the registries underneath use
// plain maps with no locking.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/channel"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/hook"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/identity"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/transmission"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

// HistoryStore is what the coordinator needs from persistence. Appends are
// fire-and-forget; a failed save degrades to "history not saved" and must
// never stall the relay.
type HistoryStore interface {
	AppendAsync(entry types.HistoryEntry)
	Query(ctx context.Context, channel string) ([]types.HistoryEntry, error)
}

// Config carries the coordinator's runtime knobs.
type Config struct {
	LockoutEnabled   bool
	AnonymousEnabled bool
	ScreenNameMinLen int
	ScreenNameMaxLen int

	// RecordingCeiling force-ends a transmission whose end signal never
	// arrives (half-open connections). MaintenanceTick is how often the
	// ceiling is checked.
	RecordingCeiling time.Duration
	MaintenanceTick  time.Duration
}

var channelKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

type cmdKind int

const (
	cmdAttach cmdKind = iota
	cmdDetach
	cmdMessage
	cmdStats
	cmdChannels
)

type command struct {
	kind     cmdKind
	conn     *Conn
	msg      types.ClientMessage
	stats    chan types.ServerStats
	channels chan []types.ChannelInfo
}

// Coordinator is the top-level orchestrator. Construct with NewCoordinator,
// then call Run on its own goroutine before attaching connections.
type Coordinator struct {
	cfg   Config
	log   zerolog.Logger
	hooks *hook.Engine

	resolver  *identity.Resolver
	registry  *channel.Registry
	assembler *transmission.Assembler
	store     HistoryStore

	cmds chan command
	done chan struct{}

	// coordinator-goroutine state
	conns   map[string]*Conn
	dropped int
	ctx     context.Context
}

func NewCoordinator(cfg Config, verifier identity.Verifier, store HistoryStore, hooks *hook.Engine, log zerolog.Logger) *Coordinator {
	if cfg.RecordingCeiling <= 0 {
		cfg.RecordingCeiling = 60 * time.Second
	}
	if cfg.MaintenanceTick <= 0 {
		cfg.MaintenanceTick = 5 * time.Second
	}
	log = log.With().Str("component", "session").Logger()

	co := &Coordinator{
		cfg:   cfg,
		log:   log,
		hooks: hooks,
		store: store,
		cmds:  make(chan command, sendBufferSize),
		done:  make(chan struct{}),
		conns: make(map[string]*Conn),
	}
	co.resolver = identity.NewResolver(verifier, identity.Options{
		MinLen:           cfg.ScreenNameMinLen,
		MaxLen:           cfg.ScreenNameMaxLen,
		AnonymousEnabled: cfg.AnonymousEnabled,
	}, log)
	co.registry = channel.NewRegistry(co, hooks, cfg.LockoutEnabled, log)
	co.assembler = transmission.NewAssembler(log)
	return co
}

// Run processes commands until ctx is canceled. It is the single thread of
// control for all relay state.
func (co *Coordinator) Run(ctx context.Context) {
	co.ctx = ctx
	ticker := time.NewTicker(co.cfg.MaintenanceTick)
	defer ticker.Stop()
	defer close(co.done)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-co.cmds:
			co.handle(cmd)
		case now := <-ticker.C:
			co.expireRecordings(now)
		}
	}
}

func (co *Coordinator) handle(cmd command) {
	switch cmd.kind {
	case cmdAttach:
		co.attach(cmd.conn)
	case cmdDetach:
		co.detach(cmd.conn)
	case cmdMessage:
		co.dispatch(cmd.conn, cmd.msg)
	case cmdStats:
		cmd.stats <- co.snapshotStats()
	case cmdChannels:
		cmd.channels <- co.registry.List()
	}
}

// Attach hands a new connection to the coordinator.
func (co *Coordinator) Attach(c *Conn) { co.enqueue(command{kind: cmdAttach, conn: c}) }

// Detach removes a connection; its send channel is closed once processed.
func (co *Coordinator) Detach(c *Conn) { co.enqueue(command{kind: cmdDetach, conn: c}) }

// Deliver enqueues one inbound message from a connection's read pump.
func (co *Coordinator) Deliver(c *Conn, msg types.ClientMessage) {
	co.enqueue(command{kind: cmdMessage, conn: c, msg: msg})
}

func (co *Coordinator) enqueue(cmd command) {
	select {
	case co.cmds <- cmd:
	case <-co.done:
	}
}

// Stats returns a snapshot taken on the coordinator goroutine.
func (co *Coordinator) Stats() types.ServerStats {
	reply := make(chan types.ServerStats, 1)
	select {
	case co.cmds <- command{kind: cmdStats, stats: reply}:
	case <-co.done:
		return types.ServerStats{}
	}
	select {
	case s := <-reply:
		return s
	case <-co.done:
		return types.ServerStats{}
	}
}

// Channels returns the public channel listing.
func (co *Coordinator) Channels() []types.ChannelInfo {
	reply := make(chan []types.ChannelInfo, 1)
	select {
	case co.cmds <- command{kind: cmdChannels, channels: reply}:
	case <-co.done:
		return nil
	}
	select {
	case infos := <-reply:
		return infos
	case <-co.done:
		return nil
	}
}

// Send implements channel.Sender. Full buffers drop the frame rather than
// block the coordinator; audio relay tolerates loss, the client does not
// tolerate a stalled server.
func (co *Coordinator) Send(connID string, msg types.ServerMessage) bool {
	c, ok := co.conns[connID]
	if !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		co.dropped++
		co.log.Debug().Str("conn", connID).Str("type", msg.Type).Msg("send buffer full, frame dropped")
		return false
	}
}

func (co *Coordinator) attach(c *Conn) {
	co.conns[c.id] = c
	co.hooks.Dispatch("connection.opened", map[string]any{"conn": c.id, "remote": c.remote})
	co.log.Info().Str("conn", c.id).Str("remote", c.remote).Msg("connection attached")
	co.Send(c.id, types.ServerMessage{Type: protocol.TypeAuthRequired})
}

func (co *Coordinator) detach(c *Conn) {
	if _, ok := co.conns[c.id]; !ok {
		return
	}
	// a disconnect mid-recording discards the buffer and releases the lock
	if ch, ok := co.assembler.Channel(c.id); ok {
		co.assembler.Discard(c.id)
		co.registry.ClearSpeaker(c.id, ch)
		co.broadcastSpeaking(ch, c, false)
	}
	if c.channel != "" {
		_ = co.registry.Leave(c.id, c.channel)
		c.channel = ""
	}
	co.resolver.Release(c.id)
	co.hooks.Dispatch("connection.closed", map[string]any{"conn": c.id})
	delete(co.conns, c.id)
	close(c.send)
	co.log.Info().Str("conn", c.id).Msg("connection detached")
}

func (co *Coordinator) dispatch(c *Conn, msg types.ClientMessage) {
	if _, ok := co.conns[c.id]; !ok {
		return
	}
	switch msg.Type {
	case protocol.TypeAuthenticate:
		co.handleAuthenticate(c, msg)
	case protocol.TypeSetScreenName:
		co.handleSetScreenName(c, msg)
	case protocol.TypeJoinChannel:
		co.handleJoin(c, msg)
	case protocol.TypeLeaveChannel:
		co.handleLeave(c, msg)
	case protocol.TypePTTStart:
		co.handlePTTStart(c, msg)
	case protocol.TypePTTEnd:
		co.handlePTTEnd(c, msg)
	case protocol.TypeAudioData:
		co.handleAudioData(c, msg)
	case protocol.TypeHistoryRequest:
		co.handleHistoryRequest(c, msg)
	default:
		co.sendError(c, protocol.CodeInvalidMessage, "unknown message type")
	}
}

func (co *Coordinator) handleAuthenticate(c *Conn, msg types.ClientMessage) {
	if c.identity != nil {
		co.sendError(c, protocol.CodeInvalidMessage, "already identified")
		return
	}
	id, err := co.resolver.Authenticate(co.ctx, c.id, msg.Token)
	if err != nil {
		co.sendIdentityError(c, err)
		return
	}
	c.identity = &id
	co.hooks.Dispatch("user.authenticated", map[string]any{
		"conn":        c.id,
		"user_id":     id.UserID,
		"screen_name": id.ScreenName,
	})
	co.Send(c.id, types.ServerMessage{
		Type:       protocol.TypeAuthenticated,
		UserID:     id.UserID,
		ScreenName: id.ScreenName,
	})
}

func (co *Coordinator) handleSetScreenName(c *Conn, msg types.ClientMessage) {
	if c.identity != nil {
		co.sendError(c, protocol.CodeInvalidMessage, "already identified")
		return
	}
	id, err := co.resolver.SetScreenName(c.id, msg.ScreenName)
	if err != nil {
		co.sendIdentityError(c, err)
		return
	}
	c.identity = &id
	co.Send(c.id, types.ServerMessage{
		Type:       protocol.TypeScreenNameSet,
		ScreenName: id.ScreenName,
	})
}

func (co *Coordinator) handleJoin(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	if !channelKeyPattern.MatchString(msg.Channel) {
		co.sendError(c, protocol.CodeInvalidChannel, "invalid channel")
		return
	}
	if c.channel == msg.Channel {
		co.Send(c.id, types.ServerMessage{
			Type:         protocol.TypeChannelJoined,
			Channel:      c.channel,
			Participants: co.registry.Participants(c.channel),
		})
		return
	}
	if c.channel != "" {
		co.leaveCurrentChannel(c)
	}
	count := co.registry.Join(c.id, msg.Channel, *c.identity)
	c.channel = msg.Channel
	co.Send(c.id, types.ServerMessage{
		Type:         protocol.TypeChannelJoined,
		Channel:      msg.Channel,
		Participants: count,
	})
}

func (co *Coordinator) handleLeave(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	if c.channel == "" || c.channel != msg.Channel {
		co.sendError(c, protocol.CodeNotAMember, "not a member of channel")
		return
	}
	co.leaveCurrentChannel(c)
}

// leaveCurrentChannel tears down channel state for c: an in-flight
// transmission is discarded (never persisted) and the speaker slot freed.
func (co *Coordinator) leaveCurrentChannel(c *Conn) {
	if co.assembler.Recording(c.id) {
		co.assembler.Discard(c.id)
		co.registry.ClearSpeaker(c.id, c.channel)
		co.broadcastSpeaking(c.channel, c, false)
	}
	_ = co.registry.Leave(c.id, c.channel)
	c.channel = ""
}

func (co *Coordinator) handlePTTStart(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	if c.channel == "" || c.channel != msg.Channel {
		co.sendError(c, protocol.CodeNotAMember, "not a member of channel")
		return
	}
	// re-entrant start while already recording is a no-op
	if co.assembler.Recording(c.id) {
		return
	}
	if err := co.registry.TrySetSpeaker(c.id, c.channel); err != nil {
		var busy *channel.BusyError
		if errors.As(err, &busy) {
			co.sendError(c, protocol.CodeSpeakerBusy, busy.SpeakerName+" is speaking")
		} else {
			co.sendError(c, protocol.CodeNotAMember, "not a member of channel")
		}
		return
	}
	// the built-in gate and the plugin decision are ANDed
	out := co.hooks.Dispatch("audio.transmit.start", map[string]any{
		"conn":        c.id,
		"channel":     c.channel,
		"screen_name": c.identity.ScreenName,
	})
	if !out.Allowed {
		co.registry.ClearSpeaker(c.id, c.channel)
		co.sendError(c, protocol.CodePolicyDenied, "transmission denied by policy")
		return
	}
	if err := co.assembler.Start(c.id, c.channel, *c.identity, time.Now()); err != nil {
		co.registry.ClearSpeaker(c.id, c.channel)
		co.sendError(c, protocol.CodeInvalidMessage, err.Error())
		return
	}
	co.broadcastSpeaking(c.channel, c, true)
}

func (co *Coordinator) handlePTTEnd(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	entry, err := co.assembler.End(c.id, time.Now())
	if err != nil {
		co.sendError(c, protocol.CodeInvalidMessage, "no transmission in progress")
		return
	}
	co.finishTransmission(c, entry)
}

// finishTransmission releases the lockout, tells the channel the speaker
// stopped, and hands the entry to persistence.
func (co *Coordinator) finishTransmission(c *Conn, entry types.HistoryEntry) {
	co.registry.ClearSpeaker(c.id, entry.Channel)
	co.broadcastSpeaking(entry.Channel, c, false)
	co.hooks.Dispatch("audio.transmit.end", map[string]any{
		"conn":        c.id,
		"channel":     entry.Channel,
		"screen_name": entry.ScreenName,
		"duration_ms": entry.DurationMs,
	})
	// even a press-and-release with no audio yields one entry
	if co.store != nil {
		co.store.AppendAsync(entry)
	}
}

func (co *Coordinator) handleAudioData(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	if c.channel == "" || c.channel != msg.Channel {
		co.sendError(c, protocol.CodeNotAMember, "not a member of channel")
		return
	}
	if !co.assembler.Recording(c.id) {
		co.sendError(c, protocol.CodeInvalidMessage, "no transmission in progress")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		co.sendError(c, protocol.CodeInvalidMessage, "audio data is not valid base64")
		return
	}

	// live relay first; it is never gated on assembly or persistence
	exclude := c.id
	if msg.ExcludeSender != nil && !*msg.ExcludeSender {
		exclude = ""
	}
	co.registry.Broadcast(c.channel, types.ServerMessage{
		Type:       protocol.TypeAudioData,
		Channel:    c.channel,
		ScreenName: c.identity.ScreenName,
		Data:       msg.Data,
		Format:     msg.Format,
		SampleRate: msg.SampleRate,
		Channels:   msg.Channels,
	}, exclude)

	if _, err := co.assembler.Chunk(c.id, raw, msg.SampleRate, msg.Format); err != nil {
		co.log.Warn().Err(err).Str("conn", c.id).Msg("chunk rejected")
	}
}

func (co *Coordinator) handleHistoryRequest(c *Conn, msg types.ClientMessage) {
	if !co.requireIdentity(c) {
		return
	}
	if c.channel == "" || c.channel != msg.Channel {
		co.sendError(c, protocol.CodeNotAMember, "not a member of channel")
		return
	}
	if co.store == nil {
		co.sendError(c, protocol.CodeHistoryUnavailable, "history not available")
		return
	}
	ctx, cancel := context.WithTimeout(co.ctx, 2*time.Second)
	defer cancel()
	entries, err := co.store.Query(ctx, msg.Channel)
	if err != nil {
		co.log.Error().Err(err).Str("channel", msg.Channel).Msg("history query failed")
		co.sendError(c, protocol.CodeHistoryUnavailable, "history not available")
		return
	}
	messages := make([]types.HistoryMessage, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, types.HistoryMessage{
			ScreenName: e.ScreenName,
			AudioData:  base64.StdEncoding.EncodeToString(e.Audio),
			SampleRate: e.SampleRate,
			Duration:   e.DurationMs,
			Timestamp:  e.Timestamp,
		})
	}
	co.Send(c.id, types.ServerMessage{
		Type:     protocol.TypeHistoryResponse,
		Channel:  msg.Channel,
		Messages: messages,
	})
}

// expireRecordings force-ends transmissions whose end signal never arrived
// within the configured ceiling.
func (co *Coordinator) expireRecordings(now time.Time) {
	expired := co.assembler.ExpireBefore(now.Add(-co.cfg.RecordingCeiling), now)
	for connID, entry := range expired {
		c, ok := co.conns[connID]
		if !ok {
			continue
		}
		co.finishTransmission(c, entry)
	}
}

func (co *Coordinator) broadcastSpeaking(ch string, c *Conn, speaking bool) {
	name := ""
	if c.identity != nil {
		name = c.identity.ScreenName
	}
	co.registry.Broadcast(ch, types.ServerMessage{
		Type:       protocol.TypeUserSpeaking,
		Channel:    ch,
		ScreenName: name,
		Speaking:   &speaking,
	}, c.id)
}

func (co *Coordinator) requireIdentity(c *Conn) bool {
	if c.identity == nil {
		co.Send(c.id, types.ServerMessage{Type: protocol.TypeAuthRequired})
		return false
	}
	return true
}

func (co *Coordinator) sendError(c *Conn, code, message string) {
	co.Send(c.id, types.ServerMessage{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
}

func (co *Coordinator) sendIdentityError(c *Conn, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		co.sendError(c, protocol.CodeInvalidToken, "authentication failed")
	case errors.Is(err, identity.ErrNameTaken):
		co.sendError(c, protocol.CodeNameTaken, "screen name already in use")
	case errors.Is(err, identity.ErrNameInvalid):
		co.sendError(c, protocol.CodeNameInvalid, err.Error())
	case errors.Is(err, identity.ErrAnonymousDisabled):
		co.sendError(c, protocol.CodeAnonymousDisabled, "anonymous mode is disabled")
	default:
		co.sendError(c, protocol.CodeInvalidMessage, err.Error())
	}
}

func (co *Coordinator) snapshotStats() types.ServerStats {
	identified := 0
	for _, c := range co.conns {
		if c.identity != nil {
			identified++
		}
	}
	return types.ServerStats{
		Connections:    len(co.conns),
		Identified:     identified,
		Channels:       co.registry.ChannelCount(),
		ActiveSpeakers: co.registry.SpeakerCount(),
		DroppedFrames:  co.dropped,
	}
}
