// Package history persists completed transmissions per channel as a
// bounded recent-history log. Storage is a WAL-mode SQLite file so readers
// never block the writer; transient lock contention is absorbed by a
// bounded retry loop instead of stalling the relay.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_history (
	id          TEXT PRIMARY KEY,
	channel     TEXT NOT NULL,
	user_id     TEXT,
	screen_name TEXT NOT NULL,
	audio_data  BLOB NOT NULL,
	sample_rate INTEGER NOT NULL,
	duration    INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_history_channel_ts
	ON message_history (channel, timestamp);
`

const (
	maxRetries     = 5
	retryBaseDelay = 10 * time.Millisecond
	appendQueueLen = 64
)

// Options are the retention knobs; both limits apply on every insert and
// the age limit is re-evaluated at read time.
type Options struct {
	MaxCount int
	MaxAge   time.Duration
}

// Store is safe for one logical writer plus concurrent readers. Appends can
// be offloaded through a worker goroutine (AppendAsync) so a slow disk
// degrades to "history not saved" rather than a stalled relay.
type Store struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	jobs chan types.HistoryEntry
	done chan struct{}
}

// Open opens (creating if needed) the database at path and starts the
// append worker.
func Open(path string, opts Options, log zerolog.Logger) (*Store, error) {
	if opts.MaxCount <= 0 {
		opts.MaxCount = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(1000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	s := &Store{
		db:   db,
		opts: opts,
		log:  log.With().Str("component", "history").Logger(),
		now:  time.Now,
		jobs: make(chan types.HistoryEntry, appendQueueLen),
		done: make(chan struct{}),
	}
	go s.appendWorker()
	return s, nil
}

// Close drains the append worker and closes the database.
func (s *Store) Close() error {
	close(s.jobs)
	<-s.done
	return s.db.Close()
}

// AppendAsync queues an entry for durable append without blocking the
// caller. A full queue drops the entry with a logged error; the live relay
// must never wait on persistence.
func (s *Store) AppendAsync(entry types.HistoryEntry) {
	select {
	case s.jobs <- entry:
	default:
		s.log.Error().
			Str("channel", entry.Channel).
			Msg("history append queue full, entry dropped")
	}
}

func (s *Store) appendWorker() {
	defer close(s.done)
	for entry := range s.jobs {
		if err := s.Append(context.Background(), entry); err != nil {
			s.log.Error().Err(err).
				Str("channel", entry.Channel).
				Str("screen_name", entry.ScreenName).
				Msg("history append failed")
		}
	}
}

// Append inserts the entry and prunes the channel to the retention window:
// a surviving row must be inside the newest MaxCount rows AND younger than
// MaxAge.
func (s *Store) Append(ctx context.Context, entry types.HistoryEntry) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var userID any
		if entry.UserID != "" {
			userID = entry.UserID
		}
		// a nil payload would bind as SQL NULL and violate the schema;
		// degenerate empty transmissions still get a row
		audio := entry.Audio
		if audio == nil {
			audio = []byte{}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_history
				(id, channel, user_id, screen_name, audio_data, sample_rate, duration, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Channel, userID, entry.ScreenName,
			audio, entry.SampleRate, entry.DurationMs, entry.Timestamp)
		if err != nil {
			return err
		}

		cutoff := s.now().Add(-s.opts.MaxAge).UnixMilli()
		_, err = tx.ExecContext(ctx,
			`DELETE FROM message_history
			 WHERE channel = ?
			   AND (timestamp <= ?
			        OR id NOT IN (
			            SELECT id FROM message_history
			            WHERE channel = ?
			            ORDER BY timestamp DESC, id DESC
			            LIMIT ?))`,
			entry.Channel, cutoff, entry.Channel, s.opts.MaxCount)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Query returns the channel's entries oldest-to-newest, at most MaxCount,
// each still inside the age window at read time.
func (s *Store) Query(ctx context.Context, channel string) ([]types.HistoryEntry, error) {
	cutoff := s.now().Add(-s.opts.MaxAge).UnixMilli()

	var entries []types.HistoryEntry
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, channel, user_id, screen_name, audio_data, sample_rate, duration, timestamp
			 FROM message_history
			 WHERE channel = ? AND timestamp > ?
			 ORDER BY timestamp DESC, id DESC
			 LIMIT ?`,
			channel, cutoff, s.opts.MaxCount)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		entries = entries[:0]
		for rows.Next() {
			var e types.HistoryEntry
			var userID sql.NullString
			if err := rows.Scan(&e.ID, &e.Channel, &userID, &e.ScreenName,
				&e.Audio, &e.SampleRate, &e.DurationMs, &e.Timestamp); err != nil {
				return err
			}
			e.UserID = userID.String
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	// newest-first from the query; callers want oldest-first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Count reports how many rows a channel currently holds, ignoring the age
// window. Used by tests and the stats endpoint.
func (s *Store) Count(ctx context.Context, channel string) (int, error) {
	var n int
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM message_history WHERE channel = ?`, channel).Scan(&n)
	})
	return n, err
}

// withRetry runs fn, retrying on transient lock contention with exponential
// backoff. After maxRetries the error surfaces rather than blocking the
// caller indefinitely.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("history store busy after %d attempts: %w", maxRetries, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
