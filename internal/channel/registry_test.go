package channel_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/channel"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/hook"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

// recordingSender captures every message the registry fans out.
type recordingSender struct {
	sent map[string][]types.ServerMessage
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]types.ServerMessage)}
}

func (s *recordingSender) Send(connID string, msg types.ServerMessage) bool {
	s.sent[connID] = append(s.sent[connID], msg)
	return true
}

func newRegistry(lockout bool) (*channel.Registry, *recordingSender, *hook.Engine) {
	sender := newRecordingSender()
	hooks := hook.NewEngine(zerolog.Nop())
	reg := channel.NewRegistry(sender, hooks, lockout, zerolog.Nop())
	return reg, sender, hooks
}

func ident(name string) types.Identity { return types.Identity{ScreenName: name} }

func TestJoinCreatesChannelAndBroadcastsCount(t *testing.T) {
	reg, sender, hooks := newRegistry(true)

	created := 0
	hooks.Register("channel.created", 0, "test", func(e hook.Event) (hook.Result, error) {
		created++
		return hook.Result{}, nil
	})

	if n := reg.Join("c1", "5", ident("alice")); n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}
	if n := reg.Join("c2", "5", ident("bob")); n != 2 {
		t.Fatalf("expected 2 participants, got %d", n)
	}
	if created != 1 {
		t.Fatalf("channel.created should fire once, got %d", created)
	}

	// the joiner receives participant_joined too
	msgs := sender.sent["c2"]
	found := false
	for _, m := range msgs {
		if m.Type == protocol.TypeParticipantJoin && m.ScreenName == "bob" && m.Participants == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("joiner did not receive its own participant_joined: %+v", msgs)
	}
}

func TestLeaveDropsEmptyChannelAndFiresHook(t *testing.T) {
	reg, _, hooks := newRegistry(true)

	emptied := 0
	hooks.Register("channel.empty", 0, "test", func(e hook.Event) (hook.Result, error) {
		emptied++
		return hook.Result{}, nil
	})

	reg.Join("c1", "3", ident("alice"))
	if err := reg.Leave("c1", "3"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if emptied != 1 {
		t.Fatalf("channel.empty should fire once, got %d", emptied)
	}
	if reg.ChannelCount() != 0 {
		t.Fatalf("empty channel should be dropped")
	}

	// rejoin recreates with a fresh speaker slot
	reg.Join("c1", "3", ident("alice"))
	if err := reg.TrySetSpeaker("c1", "3"); err != nil {
		t.Fatalf("fresh channel should grant speaker: %v", err)
	}
}

func TestLeaveNotAMember(t *testing.T) {
	reg, _, _ := newRegistry(true)
	if err := reg.Leave("c1", "9"); !errors.Is(err, channel.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	reg.Join("c1", "9", ident("alice"))
	if err := reg.Leave("c2", "9"); !errors.Is(err, channel.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember for non-member, got %v", err)
	}
}

func TestSpeakerLockout(t *testing.T) {
	reg, _, _ := newRegistry(true)
	reg.Join("c1", "5", ident("alice"))
	reg.Join("c2", "5", ident("bob"))

	if err := reg.TrySetSpeaker("c1", "5"); err != nil {
		t.Fatalf("first speaker denied: %v", err)
	}
	// idempotent re-entry
	if err := reg.TrySetSpeaker("c1", "5"); err != nil {
		t.Fatalf("re-entry denied: %v", err)
	}

	err := reg.TrySetSpeaker("c2", "5")
	var busy *channel.BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected BusyError, got %v", err)
	}
	if busy.SpeakerName != "alice" {
		t.Fatalf("expected current speaker alice, got %s", busy.SpeakerName)
	}

	reg.ClearSpeaker("c1", "5")
	if err := reg.TrySetSpeaker("c2", "5"); err != nil {
		t.Fatalf("speaker slot should be free after clear: %v", err)
	}
}

func TestSpeakerLeavingReleasesLockout(t *testing.T) {
	reg, _, _ := newRegistry(true)
	reg.Join("c1", "5", ident("alice"))
	reg.Join("c2", "5", ident("bob"))

	if err := reg.TrySetSpeaker("c1", "5"); err != nil {
		t.Fatalf("speaker denied: %v", err)
	}
	if err := reg.Leave("c1", "5"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if err := reg.TrySetSpeaker("c2", "5"); err != nil {
		t.Fatalf("slot should be free after speaker left: %v", err)
	}
}

func TestLockoutDisabledAllowsConcurrentSpeakers(t *testing.T) {
	reg, _, _ := newRegistry(false)
	reg.Join("c1", "5", ident("alice"))
	reg.Join("c2", "5", ident("bob"))

	if err := reg.TrySetSpeaker("c1", "5"); err != nil {
		t.Fatalf("speaker 1 denied: %v", err)
	}
	if err := reg.TrySetSpeaker("c2", "5"); err != nil {
		t.Fatalf("speaker 2 denied with lockout off: %v", err)
	}
	if reg.SpeakerCount() != 2 {
		t.Fatalf("expected 2 speakers, got %d", reg.SpeakerCount())
	}
}

func TestTrySetSpeakerRequiresMembership(t *testing.T) {
	reg, _, _ := newRegistry(true)
	reg.Join("c1", "5", ident("alice"))
	if err := reg.TrySetSpeaker("c2", "5"); !errors.Is(err, channel.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg, sender, _ := newRegistry(true)
	reg.Join("c1", "7", ident("alice"))
	reg.Join("c2", "7", ident("bob"))
	sender.sent = make(map[string][]types.ServerMessage)

	reg.Broadcast("7", types.ServerMessage{Type: protocol.TypeAudioData}, "c1")
	if len(sender.sent["c1"]) != 0 {
		t.Fatalf("sender should be excluded, got %+v", sender.sent["c1"])
	}
	if len(sender.sent["c2"]) != 1 {
		t.Fatalf("expected 1 message for c2, got %d", len(sender.sent["c2"]))
	}
}
