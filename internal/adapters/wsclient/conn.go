// Package wsclient carries Session Client traffic over gorilla websockets.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/dkeye/tripsync/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 25 * time.Second
	defaultReadLimit  = 1 << 20
)

var ErrClosed = errors.New("connection closed")

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Dialer opens the broker's room endpoint, passing credentials as query parameters.
type Dialer struct {
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	// Cookie is sent with the handshake, e.g. the session cookie from /api/login.
	Cookie string
}

var _ session.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, endpoint string, creds session.Credentials) (session.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("room", string(creds.RoomID))
	q.Set("user", string(creds.UserID))
	q.Set("name", creds.UserName)
	u.RawQuery = q.Encode()

	wd := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if wd.HandshakeTimeout == 0 {
		wd.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	if d.Cookie != "" {
		header.Set("Cookie", d.Cookie)
	}
	ws, resp, err := wd.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	ping := d.PingPeriod
	if ping <= 0 {
		ping = defaultPingPeriod
	}
	return NewConn(ws, ping), nil
}

// Conn is one websocket channel. It owns a read loop and a pinger; both exit on Close.
type Conn struct {
	ws      WSConn
	in      chan protocol.Envelope
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

func NewConn(ws WSConn, pingPeriod time.Duration) *Conn {
	ws.SetReadLimit(defaultReadLimit)
	c := &Conn{
		ws:   ws,
		in:   make(chan protocol.Envelope, 16),
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop(pingPeriod)
	return c
}

// Send writes env synchronously so a failed write is reported to the caller.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Conn) Inbound() <-chan protocol.Envelope { return c.in }

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.in)
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "wsclient").Msg("read loop ended")
			}
			return
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame")
			continue
		}
		select {
		case c.in <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
