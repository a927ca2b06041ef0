package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func publishN(bus *Bus, kind domain.EventKind, n int) {
	for i := 0; i < n; i++ {
		bus.Publish(context.Background(), domain.Event{
			Kind:     kind,
			Source:   "test",
			Metadata: map[string]string{"seq": fmt.Sprintf("%d", i)},
		})
	}
}

func TestPublishDeliversToMatchingKinds(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	got := make(chan domain.Event, 10)
	bus.Subscribe([]domain.EventKind{domain.EventStreamDelta}, func(_ context.Context, ev domain.Event) {
		got <- ev
	}, 10)

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventTokenCount})
	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamDelta})

	select {
	case ev := <-got:
		assert.Equal(t, domain.EventStreamDelta, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	// The token.count event must not have been delivered.
	select {
	case ev := <-got:
		t.Fatalf("unexpected delivery: %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNilKindsReceivesEverything(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	var mu sync.Mutex
	var kinds []domain.EventKind
	bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}, 10)

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamStart})
	bus.Publish(context.Background(), domain.Event{Kind: domain.EventError})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPerSubscriberOrderingMatchesPublishOrder(t *testing.T) {
	bus := New(200, testLogger())
	defer bus.Shutdown()

	const n = 100
	done := make(chan struct{})
	var seqs []string
	bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		seqs = append(seqs, ev.Metadata["seq"])
		if len(seqs) == n {
			close(done)
		}
	}, n)

	publishN(bus, domain.EventStreamDelta, n)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out, got %d of %d", len(seqs), n)
	}
	for i, seq := range seqs {
		require.Equal(t, fmt.Sprintf("%d", i), seq)
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	var mu sync.Mutex
	var survived []string
	bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		if ev.Metadata["seq"] == "0" {
			panic("handler blew up")
		}
		mu.Lock()
		survived = append(survived, ev.Metadata["seq"])
		mu.Unlock()
	}, 10)

	other := make(chan domain.Event, 10)
	bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		other <- ev
	}, 10)

	publishN(bus, domain.EventError, 2)

	// The panicking subscriber keeps consuming subsequent events.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(survived) == 1 && survived[0] == "1"
	}, 2*time.Second, 10*time.Millisecond)

	// The other subscriber receives both events regardless.
	for i := 0; i < 2; i++ {
		select {
		case <-other:
		case <-time.After(2 * time.Second):
			t.Fatal("second subscriber missed an event")
		}
	}
}

func TestQueueOverflowDropsExactlyOne(t *testing.T) {
	bus := New(2000, testLogger())
	defer bus.Shutdown()

	const queueSize = 1000

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	id := bus.Subscribe(nil, func(_ context.Context, _ domain.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}, queueSize)

	// Occupy the consumer so the queue fills without draining.
	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamDelta})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never started")
	}

	// Fill the queue exactly, then overflow by one.
	publishN(bus, domain.EventStreamDelta, queueSize)
	assert.EqualValues(t, 0, bus.Dropped(id))

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamDelta})
	assert.EqualValues(t, 1, bus.Dropped(id))

	close(release)
}

func TestSaturatedSubscriberNeverBlocksOthers(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	stall := make(chan struct{})
	bus.Subscribe(nil, func(_ context.Context, _ domain.Event) {
		<-stall
	}, 1)

	healthy := make(chan domain.Event, 20)
	bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		healthy <- ev
	}, 20)

	// Publish must return promptly even though the first subscriber is
	// stuck with a full queue.
	done := make(chan struct{})
	go func() {
		publishN(bus, domain.EventStreamDelta, 10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a saturated subscriber")
	}

	for i := 0; i < 10; i++ {
		select {
		case <-healthy:
		case <-time.After(2 * time.Second):
			t.Fatal("healthy subscriber missed an event")
		}
	}
	close(stall)
}

func TestHistoryFilterAndLimit(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	publishN(bus, domain.EventStreamDelta, 3)
	publishN(bus, domain.EventTokenCount, 2)

	all := bus.History(nil, 0)
	assert.Len(t, all, 5)

	deltas := bus.History([]domain.EventKind{domain.EventStreamDelta}, 0)
	require.Len(t, deltas, 3)
	for i, ev := range deltas {
		assert.Equal(t, fmt.Sprintf("%d", i), ev.Metadata["seq"])
	}

	last := bus.History(nil, 2)
	require.Len(t, last, 2)
	assert.Equal(t, domain.EventTokenCount, last[0].Kind)
	assert.Equal(t, domain.EventTokenCount, last[1].Kind)
}

func TestHistoryEvictsOldest(t *testing.T) {
	bus := New(3, testLogger())
	defer bus.Shutdown()

	publishN(bus, domain.EventStreamDelta, 5)

	events := bus.History(nil, 0)
	require.Len(t, events, 3)
	assert.Equal(t, "2", events[0].Metadata["seq"])
	assert.Equal(t, "4", events[2].Metadata["seq"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(100, testLogger())
	defer bus.Shutdown()

	got := make(chan domain.Event, 10)
	id := bus.Subscribe(nil, func(_ context.Context, ev domain.Event) {
		got <- ev
	}, 10)

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamDelta})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery before unsubscribe")
	}

	bus.Unsubscribe(id)
	bus.Publish(context.Background(), domain.Event{Kind: domain.EventStreamDelta})

	select {
	case <-got:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownIsIdempotentAndStopsPublish(t *testing.T) {
	bus := New(100, testLogger())

	bus.Subscribe(nil, func(_ context.Context, _ domain.Event) {}, 10)
	publishN(bus, domain.EventStreamDelta, 2)

	bus.Shutdown()
	bus.Shutdown() // must not panic

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventError})
	assert.Len(t, bus.History(nil, 0), 2, "publish after shutdown must be a no-op")
}
