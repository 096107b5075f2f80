package domain

import "time"

type PresenceStatus string

const (
	PresenceActive  PresenceStatus = "active"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

func ParsePresenceStatus(s string) (PresenceStatus, error) {
	switch st := PresenceStatus(s); st {
	case PresenceActive, PresenceIdle, PresenceOffline:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// Presence is ephemeral liveness meta; it is never persisted with the Room.
type Presence struct {
	UserID      UserID         `json:"userId"`
	DisplayName string         `json:"displayName"`
	Status      PresenceStatus `json:"status"`
	LastSeen    time.Time      `json:"lastSeen"`
}
