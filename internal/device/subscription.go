// internal/device/subscription.go
package device

import (
	"sync"

	"go.uber.org/zap"

	"hcom/internal/hcom"
)

// MatchFunc selects the messages a subscription receives
type MatchFunc func(*hcom.Message) bool

// MatchTypes matches any of the given message types
func MatchTypes(types ...hcom.MessageType) MatchFunc {
	return func(m *hcom.Message) bool {
		for _, t := range types {
			if m.Type == t {
				return true
			}
		}
		return false
	}
}

// Subscription is a cancellable registration for parsed messages.
// Delivery never blocks the reader; a full buffer drops the message for
// this subscriber only.
type Subscription struct {
	id     uint64
	match  MatchFunc
	ch     chan *hcom.Message
	owner  *registry
	cancel sync.Once
}

// C returns the delivery channel. It is never closed.
func (s *Subscription) C() <-chan *hcom.Message {
	return s.ch
}

// Cancel deregisters the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() { s.owner.remove(s.id) })
}

// registry is the only state shared between the reader goroutine and
// callers, so every access holds mu.
type registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	logger *zap.Logger
}

func newRegistry(logger *zap.Logger) *registry {
	return &registry{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

func (r *registry) add(match MatchFunc, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:    r.nextID,
		match: match,
		ch:    make(chan *hcom.Message, buffer),
		owner: r,
	}
	r.subs[sub.id] = sub
	return sub
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// dispatch delivers msg to every matching subscriber and reports
// whether anyone took it.
func (r *registry) dispatch(msg *hcom.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := false
	for _, sub := range r.subs {
		if !sub.match(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered = true
		default:
			r.logger.Warn("Subscriber buffer full, dropping message",
				zap.Uint64("subscription", sub.id),
				zap.Stringer("message_type", msg.Type),
			)
		}
	}
	return delivered
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
