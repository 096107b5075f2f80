// Package domain contains trip-planning entities and the rules that keep their ledgers consistent.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(displayName, email string) (*User, error) {
	displayName = strings.TrimSpace(displayName)
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	id := UserID("usr_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	return &User{ID: id, DisplayName: displayName, Email: strings.TrimSpace(email)}, nil
}

func (u *User) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if err := validateDisplayName(name); err != nil {
		return err
	}
	u.DisplayName = name
	return nil
}

func validateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
