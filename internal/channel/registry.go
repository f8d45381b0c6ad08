// Package channel tracks channel membership and the per-channel speaker
// slot used for push-to-talk lockout.
package channel

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/hook"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

// Sender delivers an outbound message to one connection. The coordinator
// implements it; the registry never owns connection lifecycle.
type Sender interface {
	Send(connID string, msg types.ServerMessage) bool
}

type member struct {
	screenName string
}

type ch struct {
	key      string
	members  map[string]member
	speakers map[string]struct{}
}

// Registry is the membership table: channel key -> member set plus speaker
// slot. Channels are created lazily on first join and dropped when empty.
// Not internally synchronized; mutated only on the coordinator goroutine.
type Registry struct {
	sender   Sender
	hooks    *hook.Engine
	log      zerolog.Logger
	lockout  bool
	channels map[string]*ch
}

func NewRegistry(sender Sender, hooks *hook.Engine, lockout bool, log zerolog.Logger) *Registry {
	return &Registry{
		sender:   sender,
		hooks:    hooks,
		log:      log.With().Str("component", "channels").Logger(),
		lockout:  lockout,
		channels: make(map[string]*ch),
	}
}

// Join adds connID to the channel, creating it on first join, and
// broadcasts participant_joined (including to the joiner) with the updated
// count. Returns the participant count after the join.
func (r *Registry) Join(connID, key string, id types.Identity) int {
	c, ok := r.channels[key]
	if !ok {
		c = &ch{key: key, members: make(map[string]member), speakers: make(map[string]struct{})}
		r.channels[key] = c
		r.hooks.Dispatch("channel.created", map[string]any{"channel": key})
		r.log.Debug().Str("channel", key).Msg("channel created")
	}
	c.members[connID] = member{screenName: id.ScreenName}

	r.Broadcast(key, types.ServerMessage{
		Type:         protocol.TypeParticipantJoin,
		Channel:      key,
		ScreenName:   id.ScreenName,
		Participants: len(c.members),
	}, "")
	return len(c.members)
}

// Leave removes connID from the channel. A leaving speaker releases the
// lockout. The channel itself is dropped once its member set empties.
func (r *Registry) Leave(connID, key string) error {
	c, ok := r.channels[key]
	if !ok {
		return ErrNotAMember
	}
	m, ok := c.members[connID]
	if !ok {
		return ErrNotAMember
	}
	delete(c.members, connID)
	delete(c.speakers, connID)

	if len(c.members) == 0 {
		delete(r.channels, key)
		r.hooks.Dispatch("channel.empty", map[string]any{"channel": key})
		r.log.Debug().Str("channel", key).Msg("channel empty, dropped")
		return nil
	}

	r.Broadcast(key, types.ServerMessage{
		Type:         protocol.TypeParticipantLeft,
		Channel:      key,
		ScreenName:   m.screenName,
		Participants: len(c.members),
	}, "")
	return nil
}

// IsMember reports whether connID currently belongs to the channel.
func (r *Registry) IsMember(connID, key string) bool {
	c, ok := r.channels[key]
	if !ok {
		return false
	}
	_, ok = c.members[connID]
	return ok
}

// TrySetSpeaker is the PTT admission gate. With lockout enabled it succeeds
// only when nobody else holds the slot; re-entry by the current speaker is
// idempotent. With lockout disabled it always succeeds but still tracks the
// speaker for user_speaking bookkeeping.
func (r *Registry) TrySetSpeaker(connID, key string) error {
	c, ok := r.channels[key]
	if !ok {
		return ErrNotAMember
	}
	if _, ok := c.members[connID]; !ok {
		return ErrNotAMember
	}
	if r.lockout {
		for other := range c.speakers {
			if other != connID {
				return &BusyError{SpeakerName: c.members[other].screenName}
			}
		}
	}
	c.speakers[connID] = struct{}{}
	return nil
}

// ClearSpeaker releases connID's hold on the channel's speaker slot. Safe
// to call when not speaking.
func (r *Registry) ClearSpeaker(connID, key string) {
	if c, ok := r.channels[key]; ok {
		delete(c.speakers, connID)
	}
}

// Broadcast fans msg out to every member of the channel except excludeConn
// (empty string excludes nobody).
func (r *Registry) Broadcast(key string, msg types.ServerMessage, excludeConn string) {
	c, ok := r.channels[key]
	if !ok {
		return
	}
	for connID := range c.members {
		if connID == excludeConn {
			continue
		}
		r.sender.Send(connID, msg)
	}
}

// Participants returns the current member count, zero for unknown channels.
func (r *Registry) Participants(key string) int {
	if c, ok := r.channels[key]; ok {
		return len(c.members)
	}
	return 0
}

// ChannelCount returns the number of live (non-empty) channels.
func (r *Registry) ChannelCount() int { return len(r.channels) }

// SpeakerCount returns the number of connections currently speaking across
// all channels.
func (r *Registry) SpeakerCount() int {
	n := 0
	for _, c := range r.channels {
		n += len(c.speakers)
	}
	return n
}

// List returns a sorted public snapshot of all live channels.
func (r *Registry) List() []types.ChannelInfo {
	infos := make([]types.ChannelInfo, 0, len(r.channels))
	for key, c := range r.channels {
		infos = append(infos, types.ChannelInfo{
			Channel:      key,
			Participants: len(c.members),
			Speaking:     len(c.speakers) > 0,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Channel < infos[j].Channel })
	return infos
}
