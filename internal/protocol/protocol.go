// Package protocol defines the wire schema shared by Session Clients and the broker.
//
// Every frame is an Envelope; its Type selects exactly one payload variant.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/google/uuid"
)

type Kind string

const (
	KindJoin         Kind = "join"
	KindLeave        Kind = "leave"
	KindUpdate       Kind = "update"
	KindComment      Kind = "comment"
	KindVote         Kind = "vote"
	KindChat         Kind = "chat"
	KindPresence     Kind = "presence"
	KindTyping       Kind = "typing"
	KindSyncRequest  Kind = "sync_request"
	KindSyncResponse Kind = "sync_response"
	KindError        Kind = "error"
)

var (
	ErrUnknownKind  = errors.New("unknown event kind")
	ErrKindMismatch = errors.New("payload does not match envelope kind")
)

// StateChanging reports whether loss of an event of this kind would corrupt shared state.
// Such events go through the client outbox.
func (k Kind) StateChanging() bool {
	switch k {
	case KindUpdate, KindComment, KindVote, KindChat:
		return true
	}
	return false
}

// Subscribable lists the categories handlers may attach to with OnMessage.
func (k Kind) Subscribable() bool {
	switch k {
	case KindUpdate, KindComment, KindVote, KindChat, KindPresence, KindJoin, KindLeave:
		return true
	}
	return false
}

// Payload is implemented by every variant of the union.
type Payload interface {
	Kind() Kind
}

type JoinPayload struct{}

type LeavePayload struct{}

// UpdatePayload is an itinerary or trip-state delta. Data is relayed untouched.
type UpdatePayload struct {
	Itinerary []domain.ItineraryItem `json:"itinerary,omitempty"`
	Status    domain.RoomStatus      `json:"status,omitempty"`
	Data      json.RawMessage        `json:"data,omitempty"`
}

type CommentPayload struct {
	Content    string `json:"content"`
	ActivityID string `json:"activityId,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
}

type VotePayload struct {
	ActivityID string          `json:"activityId"`
	VoteType   domain.VoteKind `json:"voteType"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type PresencePayload struct {
	Status domain.PresenceStatus `json:"status"`
}

type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

type SyncRequestPayload struct{}

type SyncResponsePayload struct {
	Room     *domain.Room      `json:"room"`
	Presence []domain.Presence `json:"presence"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (JoinPayload) Kind() Kind         { return KindJoin }
func (LeavePayload) Kind() Kind        { return KindLeave }
func (UpdatePayload) Kind() Kind       { return KindUpdate }
func (CommentPayload) Kind() Kind      { return KindComment }
func (VotePayload) Kind() Kind         { return KindVote }
func (ChatPayload) Kind() Kind         { return KindChat }
func (PresencePayload) Kind() Kind     { return KindPresence }
func (TypingPayload) Kind() Kind       { return KindTyping }
func (SyncRequestPayload) Kind() Kind  { return KindSyncRequest }
func (SyncResponsePayload) Kind() Kind { return KindSyncResponse }
func (ErrorPayload) Kind() Kind        { return KindError }

// Origin stamps every outgoing event with the sender identity.
type Origin struct {
	RoomID   domain.RoomID
	UserID   domain.UserID
	UserName string
}

type Envelope struct {
	ID        string          `json:"id"`
	Type      Kind            `json:"type"`
	RoomID    domain.RoomID   `json:"roomId"`
	UserID    domain.UserID   `json:"userId"`
	UserName  string          `json:"userName"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEventID returns a client-generated id used for outbox de-duplication.
func NewEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New wraps p into an envelope stamped with origin and ts.
func New(origin Origin, p Payload, ts time.Time) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return Envelope{
		ID:        NewEventID(),
		Type:      p.Kind(),
		RoomID:    origin.RoomID,
		UserID:    origin.UserID,
		UserName:  origin.UserName,
		Timestamp: ts.UTC(),
		Payload:   raw,
	}, nil
}

// Decode returns the typed payload selected by e.Type.
func (e Envelope) Decode() (Payload, error) {
	var p Payload
	switch e.Type {
	case KindJoin:
		p = &JoinPayload{}
	case KindLeave:
		p = &LeavePayload{}
	case KindUpdate:
		p = &UpdatePayload{}
	case KindComment:
		p = &CommentPayload{}
	case KindVote:
		p = &VotePayload{}
	case KindChat:
		p = &ChatPayload{}
	case KindPresence:
		p = &PresencePayload{}
	case KindTyping:
		p = &TypingPayload{}
	case KindSyncRequest:
		p = &SyncRequestPayload{}
	case KindSyncResponse:
		p = &SyncResponsePayload{}
	case KindError:
		p = &ErrorPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Type)
	}
	if len(e.Payload) > 0 && string(e.Payload) != "null" {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *JoinPayload:
		return *v
	case *LeavePayload:
		return *v
	case *UpdatePayload:
		return *v
	case *CommentPayload:
		return *v
	case *VotePayload:
		return *v
	case *ChatPayload:
		return *v
	case *PresencePayload:
		return *v
	case *TypingPayload:
		return *v
	case *SyncRequestPayload:
		return *v
	case *SyncResponsePayload:
		return *v
	case *ErrorPayload:
		return *v
	}
	return p
}

// Marshal encodes e as a single text frame.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrUnknownKind)
	}
	return e, nil
}
