package auth

import (
	"context"
	"sync"
	"time"
)

type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

type userCutoff struct {
	before time.Time
	until  time.Time
}

// TokenRevocationStore keeps logged-out token IDs and per-user cutoffs in
// memory until the affected tokens would have expired anyway.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // JTI -> entry
	cutoffs map[string]userCutoff      // userID -> tokens issued before are invalid
}

func NewTokenRevocationStore() *TokenRevocationStore {
	return &TokenRevocationStore{
		entries: make(map[string]revocationEntry),
		cutoffs: make(map[string]userCutoff),
	}
}

// RevokeForUser revokes a single token.
func (s *TokenRevocationStore) RevokeForUser(jti, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
}

// RevokeUserBefore invalidates every token for userID issued at or before
// before. The cutoff is forgotten after until.
func (s *TokenRevocationStore) RevokeUserBefore(userID string, before, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs[userID] = userCutoff{before: before, until: until}
}

// IsRevoked checks the token ID and the user's cutoff.
func (s *TokenRevocationStore) IsRevoked(jti, userID string, issuedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entries[jti]; ok {
		return true
	}
	if c, ok := s.cutoffs[userID]; ok && !issuedAt.After(c.before) {
		return true
	}
	return false
}

// Count returns the number of individually revoked tokens.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run removes expired entries every interval until ctx is done.
func (s *TokenRevocationStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanup(now)
		}
	}
}

func (s *TokenRevocationStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
	for userID, c := range s.cutoffs {
		if now.After(c.until) {
			delete(s.cutoffs, userID)
		}
	}
}
