package hub

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// DefaultBuffer is the per-subscription queue length used when none is given.
const DefaultBuffer = 64

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Hub broadcasts canonical snapshots to subscribers.
//
// All methods are safe for concurrent use.
type Hub struct {
	endpoint string
	buffer   int
	logger   Logger

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	latest    state.Canonical
	hasLatest bool
	closed    bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription is one consumer's queue of snapshots.
type Subscription struct {
	ch   chan state.Canonical
	done chan struct{}
	once sync.Once
	err  error // set before done is closed
}

// New creates a hub for an endpoint.
//
// Parameters:
//   - endpoint: Endpoint ID, used only for logging
//   - buffer: Per-subscription queue length (DefaultBuffer if < 1)
func New(endpoint string, buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		endpoint: endpoint,
		buffer:   buffer,
		logger:   noopLogger{},
		subs:     make(map[*Subscription]struct{}),
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Subscribe registers a new consumer.
//
// When a snapshot has already been published, it is queued immediately so
// it is the first value the consumer receives. Subscribing to a closed hub
// returns a subscription that is already closed with ErrHubClosed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ch:   make(chan state.Canonical, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close(ErrHubClosed)
		return sub
	}
	if h.hasLatest {
		sub.ch <- h.latest
	}
	h.subs[sub] = struct{}{}
	h.logger.Debug("consumer subscribed", "endpoint", h.endpoint, "consumers", len(h.subs))
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.close(ErrUnsubscribed)
}

// Publish records snap as the latest snapshot and queues it for every
// consumer. It never blocks: consumers with a full queue are disconnected.
//
// Snapshots are built under the bridge lock but published after it is
// released, so they can arrive out of order. A snapshot whose Seq is not
// newer than the latest one is discarded.
func (h *Hub) Publish(snap state.Canonical) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.hasLatest && snap.Seq <= h.latest.Seq {
		h.logger.Debug("discarding stale snapshot", "endpoint", h.endpoint, "seq", snap.Seq, "latest", h.latest.Seq)
		return
	}
	h.latest = snap
	h.hasLatest = true
	h.published.Add(1)

	for sub := range h.subs {
		select {
		case sub.ch <- snap:
		default:
			delete(h.subs, sub)
			sub.close(ErrConsumerBackpressure)
			h.dropped.Add(1)
			h.logger.Warn("dropping slow consumer", "endpoint", h.endpoint, "seq", snap.Seq)
		}
	}
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() (state.Canonical, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats reports how many snapshots were published and consumers dropped.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Close disconnects every consumer with ErrHubClosed. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.close(ErrHubClosed)
	}
	h.subs = make(map[*Subscription]struct{})
}

// C returns the channel snapshots arrive on. It is closed when the
// subscription ends; check Err for the reason.
func (s *Subscription) C() <-chan state.Canonical {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, or nil while it is active.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// close must be called with the hub mutex held.
func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
		close(s.done)
	})
}
