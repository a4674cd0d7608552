package realtime

import "sync"

// Subscription is a scoped handle on one joined channel. It must be closed on
// every exit path of the owner; Close is idempotent and the handle is inert
// afterwards.
type Subscription struct {
	topic  string
	client *Client
	events chan Event

	once sync.Once
}

// Topic returns the channel name this subscription is joined to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events is the stream of server-initiated changes for this channel. It is
// closed when the subscription is released.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close releases the subscription. Safe to call multiple times and from any
// goroutine; events arriving after Close are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.client.unsubscribe(s.topic)
	})
}

// deliver hands an event to the subscriber, dropping it when the buffer is
// full rather than blocking the read pump. Only called with the client mutex
// held, which serialises it against channel close.
func (s *Subscription) deliver(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
