// Package hook implements the plugin extension point dispatcher. External
// code registers callbacks against named hooks; the core dispatches
// lifecycle events through them without depending on any plugin.
package hook

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Event is the value handed to each callback during dispatch.
type Event struct {
	Name    string
	Payload map[string]any
}

// Result is what a callback returns. Veto marks the event denied; a non-nil
// Payload replaces the payload seen by later callbacks and by the caller.
type Result struct {
	Veto    bool
	Payload map[string]any
}

// Func is a hook callback. A returned error (or a panic) is logged and
// isolated; it never stops dispatch of the remaining callbacks.
type Func func(e Event) (Result, error)

// Outcome is the folded result of one dispatch.
type Outcome struct {
	Allowed bool
	Payload map[string]any
}

type registration struct {
	plugin   string
	priority int
	seq      int
	fn       Func
}

// Engine dispatches events to registered callbacks in ascending priority
// order, stable for equal priorities. It is not internally synchronized;
// registration happens at startup and dispatch on the coordinator goroutine.
type Engine struct {
	log   zerolog.Logger
	hooks map[string][]registration
	seq   int
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:   log.With().Str("component", "hooks").Logger(),
		hooks: make(map[string][]registration),
	}
}

// Register adds a callback for the named hook. plugin identifies the
// registrant for blame logging when its callback fails.
func (e *Engine) Register(name string, priority int, plugin string, fn Func) {
	regs := append(e.hooks[name], registration{
		plugin:   plugin,
		priority: priority,
		seq:      e.seq,
		fn:       fn,
	})
	e.seq++
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority < regs[j].priority
	})
	e.hooks[name] = regs
}

// Dispatch runs every callback registered for name. A veto is sticky: later
// callbacks still run (so observers can log denied events) but the outcome
// stays denied. Callbacks that error or panic are skipped for folding
// purposes and logged with the plugin identity.
func (e *Engine) Dispatch(name string, payload map[string]any) Outcome {
	out := Outcome{Allowed: true, Payload: payload}
	regs, ok := e.hooks[name]
	if !ok {
		return out
	}
	for _, reg := range regs {
		res, err := e.invoke(reg, Event{Name: name, Payload: out.Payload})
		if err != nil {
			e.log.Error().Err(err).
				Str("hook", name).
				Str("plugin", reg.plugin).
				Msg("hook callback failed")
			continue
		}
		if res.Veto {
			out.Allowed = false
		}
		if res.Payload != nil {
			out.Payload = res.Payload
		}
	}
	return out
}

func (e *Engine) invoke(reg registration, ev Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.fn(ev)
}

// Registered reports how many callbacks are attached to the named hook.
func (e *Engine) Registered(name string) int {
	return len(e.hooks[name])
}
