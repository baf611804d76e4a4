package bus

import (
	"context"
	"testing"
	"time"

	"main/internal/venue"
)

func TestTryPublishAndRun(t *testing.T) {
	q := NewQueue(4)

	for i := 0; i < 3; i++ {
		if err := q.TryPublish(venue.Event{Kind: venue.KindOrderState}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	q.Close()

	got := 0
	q.Run(context.Background(), func(venue.Event) { got++ })
	if got != 3 {
		t.Fatalf("handled %d events, want 3", got)
	}
}

func TestTryPublishFullDrops(t *testing.T) {
	q := NewQueue(1)

	if err := q.TryPublish(venue.Event{}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := q.TryPublish(venue.Event{}); err != ErrQueueFull {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Drops() != 1 {
		t.Fatalf("drops = %d, want 1", q.Drops())
	}
}

func TestPublishAfterClose(t *testing.T) {
	q := NewQueue(4)
	q.Close()
	q.Close() // double close is safe

	if err := q.TryPublish(venue.Event{}); err != ErrQueueClosed {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(venue.Event) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestPumpCopiesStream(t *testing.T) {
	q := NewQueue(8)
	src := make(chan venue.Event, 8)

	src <- venue.Event{Kind: venue.KindExecutionReport}
	src <- venue.Event{Kind: venue.KindOrderState}
	close(src)

	q.Pump(context.Background(), src)
	q.Close()

	var kinds []venue.EventKind
	q.Run(context.Background(), func(e venue.Event) { kinds = append(kinds, e.Kind) })
	if len(kinds) != 2 || kinds[0] != venue.KindExecutionReport || kinds[1] != venue.KindOrderState {
		t.Fatalf("kinds = %v, want delivery order preserved", kinds)
	}
}
