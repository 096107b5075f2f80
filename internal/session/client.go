// Package session is the participant side of a collaboration room: it owns one channel,
// keeps it alive with a presence heartbeat, reconnects after drops and routes inbound
// events to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransport             = errors.New("transport error")
	ErrReconnectionExhausted = errors.New("reconnection attempts exhausted")
	ErrNotConnected          = errors.New("not connected")
	ErrAlreadyConnected      = errors.New("already connected")
	ErrInvalidInput          = errors.New("invalid input")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Clock             clockwork.Clock
	Backoff           Backoff
	HeartbeatInterval time.Duration
	Logger            *zerolog.Logger
}

type Client struct {
	dialer   Dialer
	clock    clockwork.Clock
	backoff  Backoff
	interval time.Duration
	log      zerolog.Logger
	events   *Dispatcher
	roster   *roster

	lifeMu       sync.RWMutex
	onState      []func(State)
	onDisconnect []func(error)
	onPresence   []func([]domain.Presence)

	mu       sync.Mutex
	state    State
	endpoint string
	creds    Credentials
	conn     Conn
	hb       *heartbeat
	gen      uint64
	cancel   context.CancelFunc
	pending  outbox
}

func NewClient(d Dialer, opts Options) *Client {
	if d == nil {
		panic("session: dialer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	l := log.With().Str("module", "session").Logger()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("module", "session").Logger()
	}
	return &Client{
		dialer:   d,
		clock:    opts.Clock,
		backoff:  opts.Backoff,
		interval: opts.HeartbeatInterval,
		log:      l,
		events:   NewDispatcher(l),
		roster:   newRoster(),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of state-changing events waiting for a connection.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.len()
}

// Roster returns the last known presence of every participant, ordered by user id.
func (c *Client) Roster() []domain.Presence {
	return c.roster.snapshot()
}

// Connect opens the channel and announces the participant. A failed first
// connect is returned to the caller and never retried automatically.
func (c *Client) Connect(ctx context.Context, endpoint string, creds Credentials) error {
	if err := creds.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.creds.RoomID != creds.RoomID {
		c.roster.reset()
	}
	c.state = Connecting
	c.endpoint = endpoint
	c.creds = creds
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.notifyState(Connecting)

	conn, err := c.dialer.Dial(ctx, endpoint, creds)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = Disconnected
		}
		c.mu.Unlock()
		c.notifyState(Disconnected)
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("connect failed")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !c.establish(conn, gen, Connecting, false) {
		_ = conn.Close()
		return ErrNotConnected
	}
	return nil
}

// establish installs conn as the owned channel if the client is still in the
// expected state for generation gen. It starts the heartbeat, announces the
// participant and flushes the outbox.
func (c *Client) establish(conn Conn, gen uint64, expect State, reconnect bool) bool {
	c.mu.Lock()
	if c.gen != gen || c.state != expect {
		c.mu.Unlock()
		return false
	}
	c.gen++
	gen = c.gen
	c.conn = conn
	c.state = Connected
	c.cancel = nil
	c.hb = startHeartbeat(c.clock, c.interval, c.beat)

	c.emitLocked(protocol.JoinPayload{})
	if reconnect {
		c.emitLocked(protocol.SyncRequestPayload{})
	}
	c.flushLocked()
	room := c.creds.RoomID
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	c.log.Info().Str("room", string(room)).Bool("reconnect", reconnect).Msg("connected")
	c.notifyState(Connected)
	return true
}

// Disconnect announces leave if connected, stops the heartbeat, abandons any
// reconnection in flight and closes the channel. Repeated calls do nothing.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == Connected {
		c.emitLocked(protocol.LeavePayload{})
	}
	conn, hb, cancel := c.conn, c.hb, c.cancel
	c.conn, c.hb, c.cancel = nil, nil, nil
	c.state = Disconnected
	c.gen++
	c.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close channel")
		}
	}
	c.log.Info().Msg("disconnected")
	c.notifyState(Disconnected)
	return nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for env := range conn.Inbound() {
		c.handleInbound(env)
	}
	c.onDrop(gen)
}

func (c *Client) handleInbound(env protocol.Envelope) {
	p, err := env.Decode()
	if err != nil {
		c.log.Warn().Err(err).Str("type", string(env.Type)).Msg("dropping undecodable event")
		return
	}
	if c.roster.apply(env, p) {
		c.notifyPresence(c.roster.snapshot())
	}
	c.events.Deliver(env, p)
}

// onDrop starts reconnection if gen is still the live connection.
func (c *Client) onDrop(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	conn, hb := c.conn, c.hb
	c.conn, c.hb = nil, nil
	c.state = Reconnecting
	c.gen++
	rgen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	endpoint, creds := c.endpoint, c.creds
	c.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	_ = conn.Close()
	c.log.Warn().Str("room", string(creds.RoomID)).Msg("channel dropped, reconnecting")
	c.notifyState(Reconnecting)
	go c.reconnect(ctx, rgen, endpoint, creds)
}

func (c *Client) reconnect(ctx context.Context, gen uint64, endpoint string, creds Credentials) {
	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		delay := c.backoff.Delay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(delay):
		}

		conn, err := c.dialer.Dial(ctx, endpoint, creds)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect failed")
			continue
		}
		if c.establish(conn, gen, Reconnecting, true) {
			return
		}
		_ = conn.Close()
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.cancel = nil
	c.gen++
	c.mu.Unlock()

	c.log.Error().Int("attempts", c.backoff.MaxAttempts).Msg("giving up on reconnection")
	c.notifyState(Disconnected)
	c.notifyDisconnected(ErrReconnectionExhausted)
}

func (c *Client) beat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(protocol.PresencePayload{Status: domain.PresenceActive})
}

// emitLocked stamps p and writes it, queueing state-changing kinds that cannot be sent.
func (c *Client) emitLocked(p protocol.Payload) {
	env, err := protocol.New(c.creds.origin(), p, c.clock.Now())
	if err != nil {
		c.log.Error().Err(err).Msg("encode event")
		return
	}
	kind := p.Kind()
	if c.state != Connected || c.conn == nil || (kind.StateChanging() && c.pending.len() > 0) {
		if kind.StateChanging() {
			c.pending.push(env)
			c.log.Warn().Str("type", string(kind)).Int("pending", c.pending.len()).Msg("queued until reconnected")
			return
		}
		c.log.Warn().Str("type", string(kind)).Str("state", c.state.String()).Msg("not connected, dropping event")
		return
	}
	if err := c.conn.Send(env); err != nil {
		if kind.StateChanging() {
			c.pending.push(env)
			c.log.Warn().Err(err).Str("type", string(kind)).Msg("send failed, queued")
			return
		}
		c.log.Warn().Err(err).Str("type", string(kind)).Msg("send failed")
	}
}

func (c *Client) flushLocked() {
	if c.pending.len() == 0 {
		return
	}
	sent, discarded, err := c.pending.flush(string(c.creds.RoomID), c.conn.Send)
	for _, env := range discarded {
		c.log.Warn().Str("id", env.ID).Str("room", string(env.RoomID)).Msg("discarding event queued for another room")
	}
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Int("sent", sent).Int("pending", c.pending.len()).Msg("outbox flushed")
}

// send emits p for the current room. State-changing kinds need a room to be queued for.
func (c *Client) send(p protocol.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Kind().StateChanging() && c.creds.RoomID == "" {
		return ErrNotConnected
	}
	c.emitLocked(p)
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SendUpdate proposes an itinerary or trip-state delta.
func (c *Client) SendUpdate(u protocol.UpdatePayload) error {
	if len(u.Itinerary) == 0 && u.Status == "" && len(u.Data) == 0 {
		return invalid("empty update")
	}
	if u.Status != "" {
		if _, err := domain.ParseRoomStatus(string(u.Status)); err != nil {
			return invalid("status %q", u.Status)
		}
	}
	for _, it := range u.Itinerary {
		if it.ActivityID == "" {
			return invalid("itinerary item without activity id")
		}
	}
	return c.send(u)
}

func (c *Client) SendComment(content, activityID, parentID string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("empty comment")
	}
	return c.send(protocol.CommentPayload{Content: content, ActivityID: activityID, ParentID: parentID})
}

func (c *Client) SendVote(activityID string, kind domain.VoteKind) error {
	if activityID == "" {
		return invalid("missing activity id")
	}
	if _, err := kind.Value(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return c.send(protocol.VotePayload{ActivityID: activityID, VoteType: kind})
}

func (c *Client) SendChat(message string) error {
	if strings.TrimSpace(message) == "" {
		return invalid("empty message")
	}
	return c.send(protocol.ChatPayload{Message: message})
}

func (c *Client) SendPresence(status domain.PresenceStatus) error {
	if _, err := domain.ParsePresenceStatus(string(status)); err != nil {
		return invalid("presence %q", status)
	}
	return c.send(protocol.PresencePayload{Status: status})
}

func (c *Client) SendTyping(typing bool) error {
	return c.send(protocol.TypingPayload{IsTyping: typing})
}

// RequestSync asks the room for its full state; the answer arrives via OnSyncResponse.
func (c *Client) RequestSync() error {
	return c.send(protocol.SyncRequestPayload{})
}

// OnMessage subscribes h to one event category.
func (c *Client) OnMessage(kind protocol.Kind, h Handler) error {
	if !kind.Subscribable() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownKind, kind)
	}
	c.events.On(kind, h)
	return nil
}

// OnPresenceUpdate receives the whole roster whenever any participant's presence changes.
func (c *Client) OnPresenceUpdate(h func([]domain.Presence)) {
	c.lifeMu.Lock()
	c.onPresence = append(c.onPresence, h)
	c.lifeMu.Unlock()
}

func (c *Client) OnTyping(h func(user domain.UserID, name string, typing bool)) {
	c.events.On(protocol.KindTyping, func(env protocol.Envelope, p protocol.Payload) {
		h(env.UserID, env.UserName, p.(protocol.TypingPayload).IsTyping)
	})
}

func (c *Client) OnSyncResponse(h func(protocol.SyncResponsePayload)) {
	c.events.On(protocol.KindSyncResponse, func(_ protocol.Envelope, p protocol.Payload) {
		h(p.(protocol.SyncResponsePayload))
	})
}

// OnError receives rejections the broker sends back for this participant's events.
func (c *Client) OnError(h func(protocol.ErrorPayload)) {
	c.events.On(protocol.KindError, func(_ protocol.Envelope, p protocol.Payload) {
		h(p.(protocol.ErrorPayload))
	})
}

func (c *Client) OnStateChange(h func(State)) {
	c.lifeMu.Lock()
	c.onState = append(c.onState, h)
	c.lifeMu.Unlock()
}

// OnDisconnected is told when the client gives up on its own, e.g. ErrReconnectionExhausted.
func (c *Client) OnDisconnected(h func(error)) {
	c.lifeMu.Lock()
	c.onDisconnect = append(c.onDisconnect, h)
	c.lifeMu.Unlock()
}

func (c *Client) notifyState(s State) {
	c.lifeMu.RLock()
	hs := slices.Clone(c.onState)
	c.lifeMu.RUnlock()
	for _, h := range hs {
		c.events.safeCall("state", func() { h(s) })
	}
}

func (c *Client) notifyDisconnected(err error) {
	c.lifeMu.RLock()
	hs := slices.Clone(c.onDisconnect)
	c.lifeMu.RUnlock()
	for _, h := range hs {
		c.events.safeCall("disconnected", func() { h(err) })
	}
}

func (c *Client) notifyPresence(roster []domain.Presence) {
	c.lifeMu.RLock()
	hs := slices.Clone(c.onPresence)
	c.lifeMu.RUnlock()
	for _, h := range hs {
		c.events.safeCall("presence", func() { h(roster) })
	}
}
