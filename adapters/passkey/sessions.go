package passkey

import (
	"context"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

const ceremonyTTL = 5 * time.Minute

type sessionEntry struct {
	session   *webauthn.SessionData
	expiresAt time.Time
}

// sessionStore holds in-flight ceremony sessions, keyed by session token.
// Ceremonies are short-lived so an in-memory store with TTL cleanup is
// enough; a restart only cancels ceremonies that were already in progress.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	cancel   context.CancelFunc
}

func newSessionStore() *sessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &sessionStore{
		sessions: make(map[string]sessionEntry),
		cancel:   cancel,
	}
	go s.cleanupLoop(ctx)
	return s
}

func (s *sessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *sessionStore) Set(token string, session *webauthn.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sessionEntry{
		session:   session,
		expiresAt: time.Now().Add(ceremonyTTL),
	}
}

func (s *sessionStore) Get(token string) (*webauthn.SessionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.session, true
}

func (s *sessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *sessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for token, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}
