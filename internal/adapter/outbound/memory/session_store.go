// Package memory provides in-memory implementations of the gateway's
// per-tenant outbound ports (session store, rate limiter).
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-door/agentdoor/internal/domain/session"
)

// SessionStore implements session.Store with an in-memory map. Thread-safe
// for concurrent access; a background goroutine purges expired entries.
type SessionStore struct {
	mu              sync.Mutex
	sessions        map[string]*session.Session
	ttl             time.Duration
	cleanupInterval time.Duration
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
}

// NewSessionStore creates a session store with the default TTL and
// compaction interval and starts its background compaction goroutine.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithConfig(session.DefaultTTL, session.DefaultCompactionInterval)
}

// NewSessionStoreWithConfig creates a session store with a custom TTL and
// compaction interval and starts its background compaction goroutine.
func NewSessionStoreWithConfig(ttl, cleanupInterval time.Duration) *SessionStore {
	s := &SessionStore{
		sessions:        make(map[string]*session.Session),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopChan:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.compactLoop()
	return s
}

func (s *SessionStore) compactLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.compact()
		}
	}
}

func (s *SessionStore) compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleaned := 0
	for token, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, token)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("session store compaction removed expired sessions", "count", cleaned)
	}
}

// Create mints a new session bound to the given capability snapshot.
func (s *SessionStore) Create(ctx context.Context, capabilities []string) (*session.Session, error) {
	token, err := session.GenerateToken()
	if err != nil {
		return nil, err
	}
	snapshot := make([]string, len(capabilities))
	copy(snapshot, capabilities)

	sess := &session.Session{
		Token:        token,
		Capabilities: snapshot,
		ExpiresAt:    time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()

	return sess, nil
}

// Validate returns the session for token, evicting it if expired.
func (s *SessionStore) Validate(ctx context.Context, token string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	if sess.IsExpired() {
		delete(s.sessions, token)
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// End idempotently removes a session.
func (s *SessionStore) End(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// Size returns the number of sessions currently stored.
func (s *SessionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Destroy stops compaction and drops all entries. Safe to call more than once.
func (s *SessionStore) Destroy() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.mu.Lock()
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()
}

var _ session.Store = (*SessionStore)(nil)
