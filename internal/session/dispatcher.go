package session

import (
	"fmt"
	"sync"

	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/rs/zerolog"
)

// Handler receives an inbound envelope and its decoded payload.
type Handler func(env protocol.Envelope, p protocol.Payload)

// Dispatcher maps event kinds to ordered handler lists. Handlers of one kind run
// synchronously in registration order; a panicking handler is logged and skipped.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.Kind][]Handler
	log      zerolog.Logger
}

func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{handlers: make(map[protocol.Kind][]Handler), log: log}
}

func (d *Dispatcher) On(kind protocol.Kind, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], h)
	d.mu.Unlock()
}

// Dispatch decodes env and runs every handler registered for its kind.
func (d *Dispatcher) Dispatch(env protocol.Envelope) error {
	p, err := env.Decode()
	if err != nil {
		return err
	}
	d.Deliver(env, p)
	return nil
}

// Deliver runs the handlers for an already decoded payload.
func (d *Dispatcher) Deliver(env protocol.Envelope, p protocol.Payload) {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[env.Type]...)
	d.mu.RUnlock()
	for i, h := range hs {
		d.safeCall(fmt.Sprintf("%s#%d", env.Type, i), func() { h(env, p) })
	}
}

func (d *Dispatcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("handler", name).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}
