package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
)

type sessionStore struct {
	mu     sync.Mutex
	cache  *lru.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionStore creates an in-memory session store holding at most
// maxSessions sessions. The least recently used session is evicted first;
// sessions idle for longer than ttl are dropped on access.
func NewSessionStore(maxSessions int, ttl time.Duration, logger *zap.Logger) (repository.SessionStore, error) {
	s := &sessionStore{ttl: ttl, logger: logger}

	cache, err := lru.NewWithEvict(maxSessions, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	s.cache = cache

	return s, nil
}

func (s *sessionStore) Create(_ context.Context, session *entity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Add(session.ID, session.Clone())
	return nil
}

func (s *sessionStore) Get(_ context.Context, id string) (*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

func (s *sessionStore) Update(_ context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.cache.Add(id, next)
	return next.Clone(), nil
}

// load must be called with mu held
func (s *sessionStore) load(id string) (*entity.Session, error) {
	value, ok := s.cache.Get(id)
	if !ok {
		return nil, repository.ErrSessionNotFound
	}

	session := value.(*entity.Session)
	if s.ttl > 0 && time.Since(session.UpdatedAt) > s.ttl {
		s.cache.Remove(id)
		return nil, repository.ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionStore) onEvict(key interface{}, _ interface{}) {
	if s.logger != nil {
		s.logger.Debug("Session evicted", zap.Any("session_id", key))
	}
}
