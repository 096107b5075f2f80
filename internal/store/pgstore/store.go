// Package pgstore persists rooms in PostgreSQL. The room document is stored as JSONB
// next to the columns that are queried directly.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	join_code  TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT rooms_join_code_key UNIQUE (join_code)
);`

type Store struct {
	db *sql.DB
}

var (
	_ core.RoomRepository = (*Store)(nil)
	_ core.UserDirectory  = (*Store)(nil)
)

// Open connects and pings the database.
func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "pgstore").Msg("schema ready")
	return nil
}

func (s *Store) Create(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	stored := room.Clone()
	stored.JoinCode = strings.ToUpper(room.JoinCode)
	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal room %s: %w", room.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, join_code, owner_id, status, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(stored.ID), stored.JoinCode, string(stored.OwnerID), string(stored.Status), doc,
		nonZero(stored.CreatedAt), nonZero(stored.UpdatedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "rooms_join_code_key" {
			return nil, domain.ErrDuplicateJoinCode
		}
		return nil, fmt.Errorf("insert room %s: %w", stored.ID, err)
	}
	return stored, nil
}

func (s *Store) FindByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.findOne(ctx, `SELECT doc FROM rooms WHERE id = $1`, string(id))
}

func (s *Store) FindByJoinCode(ctx context.Context, code string) (*domain.Room, error) {
	return s.findOne(ctx, `SELECT doc FROM rooms WHERE join_code = $1`, strings.ToUpper(code))
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*domain.Room, error) {
	var doc []byte
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	var room domain.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &room, nil
}

func (s *Store) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE join_code = $1)`, strings.ToUpper(code)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check join code: %w", err)
	}
	return exists, nil
}

func (s *Store) Save(ctx context.Context, room *domain.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = $2, doc = $3, updated_at = $4 WHERE id = $1`,
		string(room.ID), string(room.Status), doc, nonZero(room.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update room %s: %w", room.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update room %s: %w", room.ID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email`,
		string(u.ID), u.DisplayName, u.Email,
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u := domain.User{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT display_name, email FROM users WHERE id = $1`, string(id)).Scan(&u.DisplayName, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}
	return &u, nil
}

func nonZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
