package eventbus

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"devagent/internal/domain"
)

const (
	// DefaultQueueSize bounds a subscription's delivery queue when the
	// subscriber does not choose its own size.
	DefaultQueueSize = 1000
	// DefaultHistorySize bounds the retained event history.
	DefaultHistorySize = 10000
)

type subscription struct {
	id      string
	kinds   map[domain.EventKind]struct{} // nil = all kinds
	handler domain.EventHandler
	queue   chan domain.Event
	dropped atomic.Int64
}

func (s *subscription) matches(kind domain.EventKind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus is an in-process event bus with bounded per-subscriber queues.
// Publish is always non-blocking: a subscriber whose queue is full loses
// the event (for that subscriber only) instead of stalling the producer.
// Each subscription has its own consumer goroutine, so a slow or panicking
// handler never affects delivery to other subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	history *ring
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New creates an event bus retaining up to historySize events.
// historySize <= 0 selects DefaultHistorySize.
func New(historySize int, logger *slog.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		subs:    make(map[string]*subscription),
		history: newRing(historySize),
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Publish appends the event to the history buffer and offers it,
// non-blocking, to every subscription whose kind set matches. A full queue
// drops the event for that subscriber only and records a warning. Publish
// is a no-op after Shutdown. It never blocks and never returns an error.
func (b *Bus) Publish(_ context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.history.add(event)

	for _, sub := range b.subs {
		if !sub.matches(event.Kind) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			n := sub.dropped.Add(1)
			b.logger.Warn("subscriber queue full, event dropped",
				"subscription", sub.id,
				"event", string(event.Kind),
				"total_dropped", n,
			)
		}
	}
}

// Subscribe registers a handler for the given event kinds (nil or empty =
// all kinds) and starts its consumer goroutine. queueSize <= 0 selects
// DefaultQueueSize. Returns the subscription id.
func (b *Bus) Subscribe(kinds []domain.EventKind, handler domain.EventHandler, queueSize int) string {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	var kindSet map[domain.EventKind]struct{}
	if len(kinds) > 0 {
		kindSet = make(map[domain.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			kindSet[k] = struct{}{}
		}
	}

	sub := &subscription{
		id:      b.newID(),
		kinds:   kindSet,
		handler: handler,
		queue:   make(chan domain.Event, queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return sub.id
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(sub)

	return sub.id
}

// consume delivers queued events to the handler until the queue is closed.
// Handler panics are recovered and logged per event; delivery continues
// with the next event.
func (b *Bus) consume(sub *subscription) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.handle(sub, event)
	}
}

func (b *Bus) handle(sub *subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscription", sub.id,
				"event", string(event.Kind),
				"panic", r,
			)
		}
	}()
	sub.handler(context.Background(), event)
}

// Unsubscribe removes the subscription and closes its queue. The consumer
// goroutine drains any buffered events before exiting. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	// Safe to close outside the lock: once the subscription is removed
	// from the map, Publish can no longer send to this queue.
	if ok {
		close(sub.queue)
	}
}

// Dropped returns the number of events dropped for a subscription because
// its queue was full. Returns 0 for unknown ids.
func (b *Bus) Dropped(id string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// History returns a filtered, order-preserving snapshot of retained events.
// kinds nil or empty = all kinds; limit > 0 keeps only the newest entries.
// Purely observational: it never mutates delivery state.
func (b *Bus) History(kinds []domain.EventKind, limit int) []domain.Event {
	var kindSet map[domain.EventKind]struct{}
	if len(kinds) > 0 {
		kindSet = make(map[domain.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			kindSet[k] = struct{}{}
		}
	}

	b.mu.Lock()
	all := b.history.snapshot()
	b.mu.Unlock()

	events := all
	if kindSet != nil {
		events = events[:0:0]
		for _, ev := range all {
			if _, ok := kindSet[ev.Kind]; ok {
				events = append(events, ev)
			}
		}
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// Shutdown marks the bus inactive, stops every subscription, and waits for
// all consumer goroutines to drain. Idempotent.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
	}
	b.wg.Wait()
}

func (b *Bus) newID() string {
	b.entropyMu.Lock()
	defer b.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String()
}

// ring is a fixed-capacity ring buffer of events; oldest evicted on overflow.
type ring struct {
	buf  []domain.Event
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]domain.Event, size)}
}

func (r *ring) add(ev domain.Event) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns retained events in publish order.
func (r *ring) snapshot() []domain.Event {
	if !r.full {
		out := make([]domain.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]domain.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Compile-time interface check.
var _ domain.EventBus = (*Bus)(nil)
