package domain

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RoomID string

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

type RoomStatus string

const (
	StatusPlanning  RoomStatus = "planning"
	StatusConfirmed RoomStatus = "confirmed"
	StatusCompleted RoomStatus = "completed"
	StatusCancelled RoomStatus = "cancelled"
)

const DefaultMaxParticipants = 10

// NewRoomID returns an unguessable room identifier backed by crypto/rand.
func NewRoomID() RoomID {
	return RoomID("room_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func ParseRoomStatus(s string) (RoomStatus, error) {
	switch st := RoomStatus(s); st {
	case StatusPlanning, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", ErrInvalidStatus
}

type Budget struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Allocated float64 `json:"allocated"`
}

type Participant struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type ItineraryItem struct {
	ActivityID  string     `json:"activityId"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	Position    int        `json:"position"`
}

// Room is the durable record of one shared trip-planning session.
type Room struct {
	ID              RoomID          `json:"id"`
	Name            string          `json:"name"`
	Destination     string          `json:"destination"`
	Description     string          `json:"description,omitempty"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	Budget          *Budget         `json:"budget,omitempty"`
	OwnerID         UserID          `json:"ownerId"`
	Participants    []Participant   `json:"participants"`
	Status          RoomStatus      `json:"status"`
	JoinCode        string          `json:"joinCode"`
	ShareLink       string          `json:"shareLink"`
	IsPublic        bool            `json:"isPublic"`
	MaxParticipants int             `json:"maxParticipants"`
	Tags            []string        `json:"tags,omitempty"`
	Itinerary       []ItineraryItem `json:"itinerary"`
	Votes           []Vote          `json:"votes"`
	Comments        []Comment       `json:"comments"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (r *Room) Participant(uid UserID) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == uid {
			return p, true
		}
	}
	return Participant{}, false
}

// AddParticipant keeps the roster free of duplicate users and within MaxParticipants.
func (r *Room) AddParticipant(p Participant) error {
	if _, ok := r.Participant(p.UserID); ok {
		return ErrAlreadyParticipant
	}
	if r.MaxParticipants > 0 && len(r.Participants) >= r.MaxParticipants {
		return ErrRoomFull
	}
	r.Participants = append(r.Participants, p)
	return nil
}

// Active reports whether the room still accepts sessions.
func (r *Room) Active() bool {
	return r.Status != StatusCancelled && r.Status != StatusCompleted
}

// Transition moves the room along planning -> confirmed -> completed.
// Any non-terminal room may be cancelled.
func (r *Room) Transition(to RoomStatus) error {
	if r.Status == to {
		return nil
	}
	ok := false
	switch to {
	case StatusConfirmed:
		ok = r.Status == StatusPlanning
	case StatusCompleted:
		ok = r.Status == StatusConfirmed
	case StatusCancelled:
		ok = r.Active()
	}
	if !ok {
		return ErrInvalidTransition
	}
	r.Status = to
	return nil
}

// UpsertItinerary replaces items by activity id and keeps the sequence ordered by position.
func (r *Room) UpsertItinerary(items ...ItineraryItem) {
	for _, it := range items {
		idx := slices.IndexFunc(r.Itinerary, func(cur ItineraryItem) bool { return cur.ActivityID == it.ActivityID })
		if idx >= 0 {
			r.Itinerary[idx] = it
			continue
		}
		r.Itinerary = append(r.Itinerary, it)
	}
	sort.SliceStable(r.Itinerary, func(i, j int) bool { return r.Itinerary[i].Position < r.Itinerary[j].Position })
}

// AddComment appends c unless a comment with the same id is already recorded.
func (r *Room) AddComment(c Comment) bool {
	for _, cur := range r.Comments {
		if cur.ID == c.ID {
			return false
		}
	}
	r.Comments = append(r.Comments, c)
	return true
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (r *Room) Clone() *Room {
	out := *r
	if r.Budget != nil {
		b := *r.Budget
		out.Budget = &b
	}
	out.Participants = slices.Clone(r.Participants)
	out.Tags = slices.Clone(r.Tags)
	out.Itinerary = slices.Clone(r.Itinerary)
	out.Votes = slices.Clone(r.Votes)
	out.Comments = slices.Clone(r.Comments)
	return &out
}
