// Package redisstore persists rooms and guest users as JSON documents in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var (
	_ core.RoomRepository = (*Store)(nil)
	_ core.UserDirectory  = (*Store)(nil)
)

// New wraps client. A zero ttl keeps records forever.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Store {
	if client == nil {
		panic("redisstore: client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = "tripsync"
	}
	return &Store{client: client, keyPrefix: strings.TrimSuffix(keyPrefix, ":") + ":", ttl: ttl}
}

func (s *Store) roomKey(id domain.RoomID) string { return s.keyPrefix + "room:" + string(id) }

func (s *Store) codeKey(code string) string { return s.keyPrefix + "code:" + strings.ToUpper(code) }

func (s *Store) userKey(id domain.UserID) string { return s.keyPrefix + "user:" + string(id) }

// Create claims the join code with SETNX before writing the room document.
func (s *Store) Create(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	stored := room.Clone()
	stored.JoinCode = strings.ToUpper(room.JoinCode)
	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal room %s: %w", room.ID, err)
	}

	claimed, err := s.client.SetNX(ctx, s.codeKey(stored.JoinCode), string(stored.ID), s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: claim join code: %w", err)
	}
	if !claimed {
		return nil, domain.ErrDuplicateJoinCode
	}
	if err := s.client.Set(ctx, s.roomKey(stored.ID), doc, s.ttl).Err(); err != nil {
		if delErr := s.client.Del(ctx, s.codeKey(stored.JoinCode)).Err(); delErr != nil {
			log.Error().Err(delErr).Str("module", "redisstore").Str("join_code", stored.JoinCode).Msg("release join code")
		}
		return nil, fmt.Errorf("redis: write room %s: %w", stored.ID, err)
	}
	return stored, nil
}

func (s *Store) FindByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	raw, err := s.client.Get(ctx, s.roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: read room %s: %w", id, err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("redis: decode room %s: %w", id, err)
	}
	return &room, nil
}

func (s *Store) FindByJoinCode(ctx context.Context, code string) (*domain.Room, error) {
	id, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: resolve join code: %w", err)
	}
	return s.FindByID(ctx, domain.RoomID(id))
}

func (s *Store) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.codeKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check join code: %w", err)
	}
	return n > 0, nil
}

// Save overwrites an existing room document; unknown rooms are not created.
func (s *Store) Save(ctx context.Context, room *domain.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: marshal room %s: %w", room.ID, err)
	}
	ok, err := s.client.SetXX(ctx, s.roomKey(room.ID), doc, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: save room %s: %w", room.ID, err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.userKey(u.ID), doc, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: write user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	raw, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: read user %s: %w", id, err)
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("redis: decode user %s: %w", id, err)
	}
	return &u, nil
}
