package session

import (
	"context"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
)

// Credentials are presented when the channel is opened.
type Credentials struct {
	RoomID   domain.RoomID
	UserID   domain.UserID
	UserName string
}

func (c Credentials) validate() error {
	v := &domain.ValidationError{}
	if c.RoomID == "" {
		v.Add("roomId")
	}
	if c.UserID == "" {
		v.Add("userId")
	}
	if c.UserName == "" {
		v.Add("userName")
	}
	return v.OrNil()
}

func (c Credentials) origin() protocol.Origin {
	return protocol.Origin{RoomID: c.RoomID, UserID: c.UserID, UserName: c.UserName}
}

// Conn is one open channel. Inbound is closed when the channel drops or is closed.
type Conn interface {
	Send(env protocol.Envelope) error
	Inbound() <-chan protocol.Envelope
	Close() error
}

// Dialer opens channels. The websocket implementation lives in adapters/wsclient.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, creds Credentials) (Conn, error)
}
