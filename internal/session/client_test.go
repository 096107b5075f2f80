package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	creds = Credentials{RoomID: "room_x", UserID: "usr_a", UserName: "Ana"}
)

const wait = 2 * time.Second

func newTestClient(d Dialer, clock clockwork.Clock) *Client {
	nop := zerolog.Nop()
	return NewClient(d, Options{Clock: clock, Logger: &nop})
}

func connected(t *testing.T, d *fakeDialer, clock clockwork.Clock) (*Client, *fakeConn) {
	t.Helper()
	c := newTestClient(d, clock)
	require.NoError(t, c.Connect(context.Background(), "ws://test", creds))
	require.Equal(t, Connected, c.State())
	return c, d.conn(0)
}

func TestConnectAnnouncesJoin(t *testing.T) {
	d := &fakeDialer{}
	_, conn := connected(t, d, clockwork.NewFakeClockAt(start))

	require.Equal(t, []protocol.Kind{protocol.KindJoin}, conn.kinds())
	join := conn.sent[0]
	assert.Equal(t, creds.RoomID, join.RoomID)
	assert.Equal(t, creds.UserID, join.UserID)
	assert.Equal(t, creds.UserName, join.UserName)
	assert.Equal(t, start, join.Timestamp)
	assert.NotEmpty(t, join.ID)
}

func TestConnectRejectsMissingCredentials(t *testing.T) {
	c := newTestClient(&fakeDialer{}, clockwork.NewFakeClock())
	err := c.Connect(context.Background(), "ws://test", Credentials{RoomID: "room_x"})
	require.ErrorIs(t, err, ErrInvalidInput)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"userId", "userName"}, verr.Fields)
}

func TestInitialConnectFailureIsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	clock := clockwork.NewFakeClockAt(start)
	d := &fakeDialer{fail: func(int) error { return boom }}
	c := newTestClient(d, clock)

	err := c.Connect(context.Background(), "ws://test", creds)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Disconnected, c.State())

	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return d.dialCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestHeartbeatWhileConnected(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	_, conn := connected(t, &fakeDialer{}, clock)

	clock.Advance(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return conn.count(protocol.KindPresence) == 1 }, wait, 5*time.Millisecond)
	clock.Advance(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return conn.count(protocol.KindPresence) == 2 }, wait, 5*time.Millisecond)

	p, err := conn.sent[len(conn.sent)-1].Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.PresencePayload{Status: domain.PresenceActive}, p)
}

func TestNoHeartbeatAfterDisconnect(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	c, conn := connected(t, &fakeDialer{}, clock)

	clock.Advance(DefaultHeartbeatInterval / 2)
	require.NoError(t, c.Disconnect(context.Background()))
	clock.Advance(2 * DefaultHeartbeatInterval)

	assert.Never(t, func() bool { return conn.count(protocol.KindPresence) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, conn := connected(t, &fakeDialer{}, clockwork.NewFakeClockAt(start))

	require.NoError(t, c.Disconnect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))

	assert.Equal(t, []protocol.Kind{protocol.KindJoin, protocol.KindLeave}, conn.kinds())
	assert.True(t, conn.closed)
	assert.Equal(t, Disconnected, c.State())
}

func TestReconnectBackoffUntilExhausted(t *testing.T) {
	clock := &instantClock{FakeClock: clockwork.NewFakeClockAt(start)}
	refused := errors.New("refused")
	d := &fakeDialer{fail: func(n int) error {
		if n == 0 {
			return nil
		}
		return refused
	}}
	c, conn := connected(t, d, clock)

	gaveUp := make(chan error, 1)
	c.OnDisconnected(func(err error) { gaveUp <- err })

	conn.drop()

	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, ErrReconnectionExhausted)
	case <-time.After(wait):
		t.Fatal("reconnection never gave up")
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, clock.recorded())
	assert.Equal(t, 1+DefaultMaxAttempts, d.dialCount())
	assert.Equal(t, Disconnected, c.State())
}

func TestReconnectRejoinsSyncsAndFlushesOutbox(t *testing.T) {
	clock := &instantClock{FakeClock: clockwork.NewFakeClockAt(start)}
	d := &fakeDialer{gate: make(chan struct{})}
	c, first := connected(t, d, clock)

	var states []State
	stateCh := make(chan State, 8)
	c.OnStateChange(func(s State) { stateCh <- s })

	first.drop()
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, wait, 5*time.Millisecond)

	require.NoError(t, c.SendVote("act_1", domain.VoteUp))
	require.NoError(t, c.SendTyping(true))
	assert.Equal(t, 1, c.Pending())

	close(d.gate)
	require.Eventually(t, func() bool { return c.State() == Connected }, wait, 5*time.Millisecond)

	second := d.conn(1)
	require.NotNil(t, second)
	assert.Equal(t, []protocol.Kind{protocol.KindJoin, protocol.KindSyncRequest, protocol.KindVote}, second.kinds())
	assert.Equal(t, 0, c.Pending())

	for len(states) < 2 {
		select {
		case s := <-stateCh:
			states = append(states, s)
		case <-time.After(wait):
			t.Fatalf("state changes: %v", states)
		}
	}
	assert.Equal(t, []State{Reconnecting, Connected}, states)
}

func TestDisconnectAbandonsReconnection(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	d := &fakeDialer{}
	c, conn := connected(t, d, clock)

	conn.drop()
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, wait, 5*time.Millisecond)
	require.NoError(t, c.Disconnect(context.Background()))
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return d.dialCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
	// no leave is sent on a channel that already dropped
	assert.Equal(t, 0, conn.count(protocol.KindLeave))
}

func TestClientIsReusableForAnotherRoom(t *testing.T) {
	d := &fakeDialer{}
	c, _ := connected(t, d, clockwork.NewFakeClockAt(start))
	require.NoError(t, c.Disconnect(context.Background()))

	other := creds
	other.RoomID = "room_y"
	require.NoError(t, c.Connect(context.Background(), "ws://test", other))
	second := d.conn(1)
	require.Equal(t, []protocol.Kind{protocol.KindJoin}, second.kinds())
	assert.Equal(t, domain.RoomID("room_y"), second.sent[0].RoomID)
}

func TestSendsBeforeAnyConnection(t *testing.T) {
	c := newTestClient(&fakeDialer{}, clockwork.NewFakeClock())

	assert.ErrorIs(t, c.SendVote("act_1", domain.VoteUp), ErrNotConnected)
	assert.NoError(t, c.SendTyping(true), "best-effort sends never fail")
	assert.NoError(t, c.RequestSync())
	assert.Equal(t, 0, c.Pending())
}

func TestSendValidation(t *testing.T) {
	c, _ := connected(t, &fakeDialer{}, clockwork.NewFakeClockAt(start))

	assert.ErrorIs(t, c.SendVote("act_1", "meh"), ErrInvalidInput)
	assert.ErrorIs(t, c.SendVote("", domain.VoteUp), ErrInvalidInput)
	assert.ErrorIs(t, c.SendComment("  ", "", ""), ErrInvalidInput)
	assert.ErrorIs(t, c.SendChat(""), ErrInvalidInput)
	assert.ErrorIs(t, c.SendPresence("away"), ErrInvalidInput)
	assert.ErrorIs(t, c.SendUpdate(protocol.UpdatePayload{}), ErrInvalidInput)
	assert.ErrorIs(t, c.SendUpdate(protocol.UpdatePayload{Status: "archived"}), ErrInvalidInput)
	assert.Error(t, c.OnMessage(protocol.KindSyncRequest, func(protocol.Envelope, protocol.Payload) {}))
}

func TestSendsPreserveProgramOrder(t *testing.T) {
	c, conn := connected(t, &fakeDialer{}, clockwork.NewFakeClockAt(start))

	require.NoError(t, c.SendComment("how about the castle?", "act_1", ""))
	require.NoError(t, c.SendVote("act_1", domain.VoteInterested))
	require.NoError(t, c.SendChat("brb"))
	require.NoError(t, c.SendUpdate(protocol.UpdatePayload{Itinerary: []domain.ItineraryItem{{ActivityID: "act_1", Position: 1}}}))
	require.NoError(t, c.SendTyping(false))

	assert.Equal(t, []protocol.Kind{
		protocol.KindJoin, protocol.KindComment, protocol.KindVote, protocol.KindChat, protocol.KindUpdate, protocol.KindTyping,
	}, conn.kinds())
}

func TestInboundRoutingAndRoster(t *testing.T) {
	c, conn := connected(t, &fakeDialer{}, clockwork.NewFakeClockAt(start))

	joined := make(chan protocol.Envelope, 1)
	typing := make(chan bool, 1)
	synced := make(chan protocol.SyncResponsePayload, 1)
	rosters := make(chan []domain.Presence, 4)
	require.NoError(t, c.OnMessage(protocol.KindJoin, func(env protocol.Envelope, _ protocol.Payload) { joined <- env }))
	c.OnTyping(func(_ domain.UserID, _ string, on bool) { typing <- on })
	c.OnSyncResponse(func(p protocol.SyncResponsePayload) { synced <- p })
	c.OnPresenceUpdate(func(r []domain.Presence) { rosters <- r })

	bo := protocol.Origin{RoomID: "room_x", UserID: "usr_b", UserName: "Bo"}
	join, err := protocol.New(bo, protocol.JoinPayload{}, start)
	require.NoError(t, err)
	conn.in <- join

	select {
	case env := <-joined:
		assert.Equal(t, domain.UserID("usr_b"), env.UserID)
		assert.Equal(t, "Bo", env.UserName)
	case <-time.After(wait):
		t.Fatal("join handler not invoked")
	}
	select {
	case r := <-rosters:
		require.Len(t, r, 1)
		assert.Equal(t, domain.PresenceActive, r[0].Status)
	case <-time.After(wait):
		t.Fatal("presence roster not published")
	}

	typ, _ := protocol.New(bo, protocol.TypingPayload{IsTyping: true}, start)
	conn.in <- typ
	assert.True(t, <-typing)

	snap := protocol.SyncResponsePayload{
		Room:     &domain.Room{ID: "room_x", Status: domain.StatusPlanning},
		Presence: []domain.Presence{{UserID: "usr_a", Status: domain.PresenceActive}, {UserID: "usr_b", Status: domain.PresenceIdle}},
	}
	resp, _ := protocol.New(protocol.Origin{RoomID: "room_x"}, snap, start)
	conn.in <- resp
	got := <-synced
	assert.Equal(t, domain.RoomID("room_x"), got.Room.ID)
	require.Eventually(t, func() bool { return len(c.Roster()) == 2 }, wait, 5*time.Millisecond)
}

func TestBackoffDelays(t *testing.T) {
	b := DefaultBackoff()
	cases := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 9: 5 * time.Second}
	for attempt, want := range cases {
		assert.Equal(t, want, b.Delay(attempt), "attempt %d", attempt)
	}
}
