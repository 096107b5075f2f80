package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultHeartbeatInterval = 30 * time.Second

// heartbeat owns one ticker goroutine. Stop is safe to call more than once
// and returns only after the goroutine has exited.
type heartbeat struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startHeartbeat(clock clockwork.Clock, every time.Duration, beat func()) *heartbeat {
	h := &heartbeat{
		ticker: clock.NewTicker(every),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		for {
			select {
			case <-h.stop:
				return
			case <-h.ticker.Chan():
				select {
				case <-h.stop:
					return
				default:
				}
				beat()
			}
		}
	}()
	return h
}

func (h *heartbeat) Stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.stop)
	})
	<-h.done
}
