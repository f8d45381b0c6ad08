// Package transmission reassembles chunked push-to-talk audio into discrete
// messages. Each connection owns at most one in-flight buffer between a
// start and end signal; live relay happens elsewhere and is never gated on
// assembly.
package transmission

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

// Buffer is one in-flight transmission: Idle connections have no buffer,
// Recording connections have exactly one.
type buffer struct {
	channel    string
	identity   types.Identity
	startedAt  time.Time
	sampleRate int
	data       []byte
}

// Assembler tracks the Recording state of every connection. Not internally
// synchronized; driven only from the coordinator goroutine.
type Assembler struct {
	log    zerolog.Logger
	active map[string]*buffer
}

func NewAssembler(log zerolog.Logger) *Assembler {
	return &Assembler{
		log:    log.With().Str("component", "transmission").Logger(),
		active: make(map[string]*buffer),
	}
}

// Recording reports whether connID has an open transmission.
func (a *Assembler) Recording(connID string) bool {
	_, ok := a.active[connID]
	return ok
}

// Channel returns the channel of connID's open transmission, if any.
func (a *Assembler) Channel(connID string) (string, bool) {
	b, ok := a.active[connID]
	if !ok {
		return "", false
	}
	return b.channel, true
}

// Start opens a transmission for connID. The caller is responsible for the
// speaker-lockout and policy gates; this only enforces the Idle state.
func (a *Assembler) Start(connID, channel string, id types.Identity, now time.Time) error {
	if _, ok := a.active[connID]; ok {
		return ErrAlreadyRecording
	}
	a.active[connID] = &buffer{
		channel:   channel,
		identity:  id,
		startedAt: now,
	}
	return nil
}

// Chunk appends audio bytes to connID's open transmission. Only the
// canonical PCM format is buffered for history; other formats are accepted
// (the live relay already happened) but logged and skipped. The returned
// bool reports whether the chunk was buffered.
func (a *Assembler) Chunk(connID string, data []byte, sampleRate int, format string) (bool, error) {
	b, ok := a.active[connID]
	if !ok {
		return false, ErrNotRecording
	}
	if format != protocol.FormatPCM {
		a.log.Debug().
			Str("conn", connID).
			Str("format", format).
			Msg("non-pcm chunk relayed but not buffered")
		return false, nil
	}
	if b.sampleRate == 0 {
		b.sampleRate = sampleRate
	} else if sampleRate != b.sampleRate {
		a.log.Warn().
			Str("conn", connID).
			Int("have", b.sampleRate).
			Int("got", sampleRate).
			Msg("sample rate changed mid-transmission, keeping first")
	}
	b.data = append(b.data, data...)
	return true, nil
}

// End closes connID's transmission and yields the history entry candidate.
// A transmission that never received a chunk still completes with an empty
// payload: one entry per complete transmission, even for degenerate
// presses.
func (a *Assembler) End(connID string, now time.Time) (types.HistoryEntry, error) {
	b, ok := a.active[connID]
	if !ok {
		return types.HistoryEntry{}, ErrNotRecording
	}
	delete(a.active, connID)

	sampleRate := b.sampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	return types.HistoryEntry{
		ID:         ksuid.New().String(),
		Channel:    b.channel,
		UserID:     b.identity.UserID,
		ScreenName: b.identity.ScreenName,
		Audio:      b.data,
		SampleRate: sampleRate,
		DurationMs: DurationMs(len(b.data), sampleRate),
		Timestamp:  now.UnixMilli(),
	}, nil
}

// Discard drops connID's buffer without producing an entry. Called when a
// connection disconnects or leaves its channel mid-recording.
func (a *Assembler) Discard(connID string) {
	delete(a.active, connID)
}

// ExpireBefore force-ends every transmission started before the deadline,
// guarding against clients that vanish without an end or a disconnect
// reaching the server. Returns the completed entries keyed by connection.
func (a *Assembler) ExpireBefore(deadline, now time.Time) map[string]types.HistoryEntry {
	var expired map[string]types.HistoryEntry
	for connID, b := range a.active {
		if b.startedAt.Before(deadline) {
			if expired == nil {
				expired = make(map[string]types.HistoryEntry)
			}
			entry, err := a.End(connID, now)
			if err != nil {
				continue
			}
			a.log.Warn().
				Str("conn", connID).
				Str("channel", entry.Channel).
				Msg("transmission expired without end signal")
			expired[connID] = entry
		}
	}
	return expired
}

// DurationMs derives a millisecond duration from a 16-bit mono PCM byte
// length, rounded half-up to the nearest millisecond.
func DurationMs(byteLen, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(byteLen) / 2 / float64(sampleRate) * 1000))
}
