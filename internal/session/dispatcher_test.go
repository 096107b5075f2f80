package session

import (
	"testing"
	"time"

	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsHandlersInOrderDespitePanics(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	var calls []string
	d.On(protocol.KindChat, func(protocol.Envelope, protocol.Payload) { calls = append(calls, "first") })
	d.On(protocol.KindChat, func(protocol.Envelope, protocol.Payload) { panic("boom") })
	d.On(protocol.KindChat, func(_ protocol.Envelope, p protocol.Payload) {
		calls = append(calls, "third:"+p.(protocol.ChatPayload).Message)
	})
	d.On(protocol.KindVote, func(protocol.Envelope, protocol.Payload) { calls = append(calls, "vote") })

	chat, err := protocol.New(protocol.Origin{RoomID: "room_x"}, protocol.ChatPayload{Message: "hi"}, time.Now())
	require.NoError(t, err)
	vote, err := protocol.New(protocol.Origin{RoomID: "room_x"}, protocol.VotePayload{ActivityID: "a", VoteType: "upvote"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(chat))
	require.NoError(t, d.Dispatch(vote))
	assert.Equal(t, []string{"first", "third:hi", "vote"}, calls)
}

func TestDispatcherRejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	err := d.Dispatch(protocol.Envelope{Type: "teleport"})
	assert.ErrorIs(t, err, protocol.ErrUnknownKind)
}

func TestOutboxDiscardsEventsForOtherRooms(t *testing.T) {
	var o outbox
	o.push(protocol.Envelope{ID: "1", RoomID: "room_old"})
	o.push(protocol.Envelope{ID: "2", RoomID: "room_x"})

	var sent []string
	n, discarded, err := o.flush("room_x", func(e protocol.Envelope) error {
		sent = append(sent, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2"}, sent)
	require.Len(t, discarded, 1)
	assert.Equal(t, 0, o.len())
}
