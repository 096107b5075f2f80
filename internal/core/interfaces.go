package core

import (
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
)

// Frame is one encoded envelope.
type Frame []byte

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a user and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.User
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID          domain.UserID         `json:"id"`
	DisplayName string                `json:"displayName"`
	Status      domain.PresenceStatus `json:"status"`
}

// RoomService is the core-facing API of a live room.
// It owns the membership set and the authoritative ledgers but never touches transport resources.
type RoomService interface {
	ID() domain.RoomID
	// Room returns a deep copy of the current room state.
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Presence() []domain.Presence

	AddMember(sid SessionID, ms MemberSession, now time.Time) error
	RemoveMember(sid SessionID, now time.Time) (domain.UserID, bool)
	Broadcast(from SessionID, data Frame) PublishResult

	// Apply folds one inbound event into room state. It reports false for a replayed event id.
	Apply(env protocol.Envelope, now time.Time) (bool, error)
	SweepPresence(now time.Time) []domain.Presence

	// Dirty reports unsaved ledger changes since the last MarkClean.
	Dirty() bool
	MarkClean()
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	Name        string        `json:"name"`
	MemberCount int           `json:"client_count"`
}
