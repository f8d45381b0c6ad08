// Package identity resolves inbound auth material into the principal bound
// to a connection and enforces global screen-name uniqueness.
package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
)

// Verifier is the external credential verifier (JWT/passkey ceremonies live
// behind it). It turns a bearer token into a (userID, screenName) pair.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID, screenName string, err error)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reservedNames can never be claimed, regardless of case.
var reservedNames = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"moderator":     {},
	"operator":      {},
	"system":        {},
	"server":        {},
	"root":          {},
	"anonymous":     {},
	"everyone":      {},
}

// Options controls validation and the anonymous path.
type Options struct {
	MinLen           int
	MaxLen           int
	AnonymousEnabled bool
}

// Resolver owns the active screen-name set. It carries no internal locking:
// it is mutated only from the session coordinator goroutine.
type Resolver struct {
	verifier Verifier
	opts     Options
	log      zerolog.Logger

	// lowercased name -> connection id holding it
	active map[string]string
	// connection id -> lowercased name, for release on disconnect
	byConn map[string]string
}

func NewResolver(verifier Verifier, opts Options, log zerolog.Logger) *Resolver {
	if opts.MinLen <= 0 {
		opts.MinLen = 2
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 20
	}
	return &Resolver{
		verifier: verifier,
		opts:     opts,
		log:      log.With().Str("component", "identity").Logger(),
		active:   make(map[string]string),
		byConn:   make(map[string]string),
	}
}

// Authenticate resolves a bearer token through the external verifier and
// reserves the verified screen name for connID.
func (r *Resolver) Authenticate(ctx context.Context, connID, token string) (types.Identity, error) {
	if r.verifier == nil {
		return types.Identity{}, ErrInvalidToken
	}
	userID, screenName, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.log.Debug().Err(err).Str("conn", connID).Msg("token rejected")
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := r.reserve(connID, screenName); err != nil {
		return types.Identity{}, err
	}
	return types.Identity{UserID: userID, ScreenName: screenName}, nil
}

// SetScreenName resolves an anonymous identity from a claimed name.
func (r *Resolver) SetScreenName(connID, name string) (types.Identity, error) {
	if !r.opts.AnonymousEnabled {
		return types.Identity{}, ErrAnonymousDisabled
	}
	if err := r.Validate(name); err != nil {
		return types.Identity{}, err
	}
	if err := r.reserve(connID, name); err != nil {
		return types.Identity{}, err
	}
	return types.Identity{ScreenName: name}, nil
}

// Validate checks name against the configured bounds, character class and
// reserved-word set without reserving it.
func (r *Resolver) Validate(name string) error {
	if len(name) < r.opts.MinLen || len(name) > r.opts.MaxLen {
		return fmt.Errorf("%w: length must be %d-%d", ErrNameInvalid, r.opts.MinLen, r.opts.MaxLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: letters, digits, _ and - only", ErrNameInvalid)
	}
	if _, ok := reservedNames[strings.ToLower(name)]; ok {
		return fmt.Errorf("%w: name is reserved", ErrNameInvalid)
	}
	return nil
}

// reserve claims the name for connID. Uniqueness is case-insensitive across
// authenticated and anonymous identities. A connection that already holds a
// name gives it up first, so re-resolution cannot leak reservations.
func (r *Resolver) reserve(connID, name string) error {
	key := strings.ToLower(name)
	if holder, ok := r.active[key]; ok && holder != connID {
		return ErrNameTaken
	}
	if prev, ok := r.byConn[connID]; ok && prev != key {
		delete(r.active, prev)
	}
	r.active[key] = connID
	r.byConn[connID] = key
	return nil
}

// Release returns connID's screen name to the pool. Called on disconnect.
func (r *Resolver) Release(connID string) {
	key, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.active[key] == connID {
		delete(r.active, key)
	}
}

// ActiveNames reports how many screen names are currently reserved.
func (r *Resolver) ActiveNames() int { return len(r.active) }
