package hook_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/hook"
)

func TestDispatchPriorityOrder(t *testing.T) {
	e := hook.NewEngine(zerolog.Nop())

	var order []string
	mk := func(name string) hook.Func {
		return func(ev hook.Event) (hook.Result, error) {
			order = append(order, name)
			return hook.Result{}, nil
		}
	}

	e.Register("audio.transmit.start", 20, "p-late", mk("late"))
	e.Register("audio.transmit.start", 10, "p-early", mk("early"))
	e.Register("audio.transmit.start", 10, "p-early2", mk("early2"))

	out := e.Dispatch("audio.transmit.start", nil)
	if !out.Allowed {
		t.Fatalf("expected allowed outcome")
	}
	want := []string{"early", "early2", "late"}
	if len(order) != len(want) {
		t.Fatalf("expected %d callbacks, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callback %d: expected %s got %s", i, want[i], order[i])
		}
	}
}

func TestDispatchVetoIsStickyButDoesNotStopDispatch(t *testing.T) {
	e := hook.NewEngine(zerolog.Nop())

	ranAfterVeto := false
	e.Register("audio.transmit.start", 0, "gate", func(ev hook.Event) (hook.Result, error) {
		return hook.Result{Veto: true}, nil
	})
	e.Register("audio.transmit.start", 5, "allower", func(ev hook.Event) (hook.Result, error) {
		// allow=true from a later callback must not override the veto
		return hook.Result{}, nil
	})
	e.Register("audio.transmit.start", 10, "observer", func(ev hook.Event) (hook.Result, error) {
		ranAfterVeto = true
		return hook.Result{}, nil
	})

	out := e.Dispatch("audio.transmit.start", nil)
	if out.Allowed {
		t.Fatalf("expected vetoed outcome")
	}
	if !ranAfterVeto {
		t.Fatalf("expected observer to run after veto")
	}
}

func TestDispatchIsolatesErrorsAndPanics(t *testing.T) {
	e := hook.NewEngine(zerolog.Nop())

	ran := false
	e.Register("channel.created", 0, "bad-error", func(ev hook.Event) (hook.Result, error) {
		return hook.Result{Veto: true}, errors.New("boom")
	})
	e.Register("channel.created", 1, "bad-panic", func(ev hook.Event) (hook.Result, error) {
		panic("boom")
	})
	e.Register("channel.created", 2, "good", func(ev hook.Event) (hook.Result, error) {
		ran = true
		return hook.Result{}, nil
	})

	out := e.Dispatch("channel.created", nil)
	if !ran {
		t.Fatalf("expected later callback to run after failures")
	}
	// the erroring callback's veto must not count
	if !out.Allowed {
		t.Fatalf("expected failures to be ignored in the fold")
	}
}

func TestDispatchPayloadFolding(t *testing.T) {
	e := hook.NewEngine(zerolog.Nop())

	e.Register("channel.join", 0, "tagger", func(ev hook.Event) (hook.Result, error) {
		p := map[string]any{}
		for k, v := range ev.Payload {
			p[k] = v
		}
		p["tag"] = "seen"
		return hook.Result{Payload: p}, nil
	})
	e.Register("channel.join", 1, "reader", func(ev hook.Event) (hook.Result, error) {
		if ev.Payload["tag"] != "seen" {
			t.Errorf("expected mutated payload to reach later callback")
		}
		return hook.Result{}, nil
	})

	out := e.Dispatch("channel.join", map[string]any{"channel": "5"})
	if out.Payload["tag"] != "seen" {
		t.Fatalf("expected folded payload in outcome")
	}
	if out.Payload["channel"] != "5" {
		t.Fatalf("expected original keys preserved")
	}
}

func TestDispatchUnknownHook(t *testing.T) {
	e := hook.NewEngine(zerolog.Nop())
	out := e.Dispatch("nope", map[string]any{"a": 1})
	if !out.Allowed || out.Payload["a"] != 1 {
		t.Fatalf("expected identity outcome for unknown hook")
	}
	if e.Registered("nope") != 0 {
		t.Fatalf("expected zero registrations")
	}
}
