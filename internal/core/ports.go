package core

import (
	"context"

	"github.com/dkeye/tripsync/internal/domain"
)

// RoomRepository persists Room records. Implementations return domain.ErrNotFound
// for unknown rooms and domain.ErrDuplicateJoinCode when a join code is already taken.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) (*domain.Room, error)
	FindByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// FindByJoinCode expects an upper-cased code.
	FindByJoinCode(ctx context.Context, code string) (*domain.Room, error)
	JoinCodeExists(ctx context.Context, code string) (bool, error)
	Save(ctx context.Context, room *domain.Room) error
}

// IdentityResolver resolves an authenticated caller to a known user.
type IdentityResolver interface {
	LookupUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// UserDirectory is the writable side used by the guest login endpoint.
type UserDirectory interface {
	IdentityResolver
	CreateUser(ctx context.Context, u *domain.User) error
}
