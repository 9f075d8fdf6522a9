// Package credential supplies bearer credentials to the REST and realtime
// clients.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned when no credential can be produced.
var ErrNoCredential = errors.New("no credential available")

// Provider returns a currently valid bearer credential.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// Static is a fixed credential.
type Static string

func (s Static) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// RefreshFunc obtains a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// Refreshing caches an access token and refreshes it shortly before the
// expiry recorded in its exp claim. Tokens without exp are never refreshed
// proactively.
type Refreshing struct {
	mu      sync.Mutex
	token   string
	expiry  time.Time
	skew    time.Duration
	refresh RefreshFunc
	now     func() time.Time
}

// NewRefreshing returns a provider seeded with initial, which may be empty.
// The token is refreshed once it is within skew of its expiry.
func NewRefreshing(initial string, skew time.Duration, refresh RefreshFunc) *Refreshing {
	r := &Refreshing{skew: skew, refresh: refresh, now: time.Now}
	if initial != "" {
		r.set(initial)
	}
	return r
}

// Credential returns the cached token, refreshing it first when it is
// missing or about to expire.
func (r *Refreshing) Credential(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && (r.expiry.IsZero() || r.now().Add(r.skew).Before(r.expiry)) {
		return r.token, nil
	}
	if r.refresh == nil {
		return "", ErrNoCredential
	}
	token, err := r.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh credential: %w", err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	r.set(token)
	return r.token, nil
}

// Invalidate forces a refresh on the next call, e.g. after a 401.
func (r *Refreshing) Invalidate() {
	r.mu.Lock()
	r.token = ""
	r.expiry = time.Time{}
	r.mu.Unlock()
}

func (r *Refreshing) set(token string) {
	r.token = token
	r.expiry = Expiry(token)
}

// Expiry reads the exp claim without verifying the signature. The zero
// time means unknown.
func Expiry(token string) time.Time {
	claims := &jwtv5.RegisteredClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Subject reads the sub claim (user id) without verifying the signature.
func Subject(token string) string {
	claims := &jwtv5.RegisteredClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Subject
}
