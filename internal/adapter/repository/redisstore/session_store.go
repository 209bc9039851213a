package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
)

const (
	keyPrefix        = "leafscan:session:"
	maxUpdateRetries = 10
)

// ErrConflict is returned when an update keeps losing optimistic lock races
var ErrConflict = errors.New("session update conflict")

type sessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a session store backed by Redis.
// Every write refreshes the key expiry to ttl.
func NewSessionStore(client *redis.Client, ttl time.Duration) repository.SessionStore {
	return &sessionStore{client: client, ttl: ttl}
}

func (s *sessionStore) Create(ctx context.Context, session *entity.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key(session.ID), payload, s.ttl).Err()
}

func (s *sessionStore) Get(ctx context.Context, id string) (*entity.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, err
	}
	return decodeSession(data)
}

func (s *sessionStore) Update(ctx context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error) {
	key := s.key(id)
	var updated *entity.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrSessionNotFound
			}
			return err
		}

		session, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}

		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = session
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, ErrConflict
}

func (s *sessionStore) key(id string) string {
	return keyPrefix + id
}

func decodeSession(data []byte) (*entity.Session, error) {
	var session entity.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}
