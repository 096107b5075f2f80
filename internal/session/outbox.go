package session

import "github.com/dkeye/tripsync/internal/protocol"

// outbox holds state-changing events that could not be delivered yet.
// Entries keep their event id so the broker can drop replays.
type outbox struct {
	items []protocol.Envelope
}

func (o *outbox) push(env protocol.Envelope) {
	o.items = append(o.items, env)
}

func (o *outbox) len() int { return len(o.items) }

// flush sends queued events in order and stops at the first failure.
// Events addressed to another room are discarded and returned.
func (o *outbox) flush(room string, send func(protocol.Envelope) error) (sent int, discarded []protocol.Envelope, err error) {
	for len(o.items) > 0 {
		env := o.items[0]
		if string(env.RoomID) != room {
			discarded = append(discarded, env)
			o.items = o.items[1:]
			continue
		}
		if err = send(env); err != nil {
			return sent, discarded, err
		}
		o.items = o.items[1:]
		sent++
	}
	o.items = nil
	return sent, discarded, nil
}
