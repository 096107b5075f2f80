package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/jonboulle/clockwork"
)

var errClosed = errors.New("closed")

type fakeConn struct {
	mu     sync.Mutex
	sent   []protocol.Envelope
	in     chan protocol.Envelope
	closed bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan protocol.Envelope)}
}

func (f *fakeConn) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) Inbound() <-chan protocol.Envelope { return f.in }

func (f *fakeConn) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.in)
	})
	return nil
}

// drop simulates the remote side going away.
func (f *fakeConn) drop() { _ = f.Close() }

func (f *fakeConn) kinds() []protocol.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Kind, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakeConn) count(k protocol.Kind) int {
	n := 0
	for _, got := range f.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	// fail decides the outcome of the n-th dial (0-based); nil means success.
	fail func(n int) error
	// gate, when set, blocks every dial after the first until closed.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ Credentials) (Conn, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	gate := d.gate
	d.mu.Unlock()

	if n > 0 && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fail != nil {
		if err := d.fail(n); err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// instantClock records every backoff delay and fires it immediately.
type instantClock struct {
	clockwork.FakeClock
	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *instantClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}
