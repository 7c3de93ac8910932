// Package auth guards the querio server with static bearer tokens taken
// from configuration.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/canonica-labs/querio/internal/errors"
)

// Principal is the caller a token belongs to.
type Principal struct {
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (p Principal) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Authenticator resolves a bearer token to its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type entry struct {
	digest    [sha256.Size]byte
	principal Principal
}

// TokenSet is an Authenticator over a fixed list of tokens. Only token
// digests are kept.
type TokenSet struct {
	mu      sync.RWMutex
	entries []entry
	now     func() time.Time
}

// NewTokenSet returns an empty token set.
func NewTokenSet() *TokenSet {
	return &TokenSet{now: time.Now}
}

// Add accepts token on behalf of p.
func (s *TokenSet) Add(token string, p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{digest: sha256.Sum256([]byte(token)), principal: p})
}

// Len returns the number of accepted tokens.
func (s *TokenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Authenticate compares the digest of token against every entry so the
// time taken does not depend on which entry matches.
func (s *TokenSet) Authenticate(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, errors.NewAuthFailed("token required")
	}
	digest := sha256.Sum256([]byte(token))

	s.mu.RLock()
	var (
		found Principal
		match bool
	)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(e.digest[:], digest[:]) == 1 {
			found, match = e.principal, true
		}
	}
	s.mu.RUnlock()

	switch {
	case !match:
		return Principal{}, errors.NewAuthFailed("invalid token")
	case found.expired(s.now()):
		return Principal{}, errors.NewAuthFailed("token expired")
	}
	return found, nil
}

// ParseBearer returns the token of an "Authorization: Bearer <token>"
// header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
