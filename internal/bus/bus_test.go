package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := New(logger.Nop(), nil, cfg)
	if err := b.Start(); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestPublishRequiresStart(t *testing.T) {
	b := New(logger.Nop(), nil, Config{})
	e := models.NewEvent(models.EventMarketDataUpdate, "test", nil, models.PriorityNormal)
	if _, err := b.Publish(e); err == nil {
		t.Fatalf("expected error publishing on stopped bus")
	}
	if _, err := b.Publish(nil); err == nil {
		t.Fatalf("expected error publishing nil event")
	}
}

func TestPriorityOrdering(t *testing.T) {
	b := newTestBus(t, Config{IdleWait: 10 * time.Millisecond})

	var mu sync.Mutex
	var order []models.EventPriority
	release := make(chan struct{})

	b.SubscribeFunc("recorder", models.EventMarketDataUpdate, func(_ context.Context, e *models.Event) error {
		mu.Lock()
		order = append(order, e.Priority)
		first := len(order) == 1
		mu.Unlock()
		if first {
			<-release // hold the loop so the rest of the queue builds up
		}
		return nil
	})

	blocker := models.NewEvent(models.EventMarketDataUpdate, "test", nil, models.PriorityNormal)
	if _, err := b.Publish(blocker); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	})

	for _, p := range []models.EventPriority{models.PriorityLow, models.PriorityNormal, models.PriorityCritical, models.PriorityHigh} {
		if _, err := b.Publish(models.NewEvent(models.EventMarketDataUpdate, "test", nil, p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	close(release)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	want := []models.EventPriority{
		models.PriorityNormal, // blocker
		models.PriorityCritical,
		models.PriorityHigh,
		models.PriorityNormal,
		models.PriorityLow,
	}
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("delivery %d: got %v, want %v (order %v)", i, order[i], p, order)
		}
	}
}

func TestRetryThenFailed(t *testing.T) {
	b := newTestBus(t, Config{MaxRetries: 2, BackoffBase: time.Millisecond, IdleWait: 10 * time.Millisecond})

	var mu sync.Mutex
	attempts := 0
	b.SubscribeFunc("flaky", models.EventSystemError, func(_ context.Context, _ *models.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return fmt.Errorf("boom")
	})

	e := models.NewEvent(models.EventSystemError, "test", nil, models.PriorityHigh)
	e.MaxRetries = 2
	id, err := b.Publish(e)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return b.Statistics().Failed == 1
	})

	mu.Lock()
	if attempts != 3 { // initial delivery + 2 retries
		mu.Unlock()
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	mu.Unlock()

	s := b.Statistics()
	if s.Retried != 2 {
		t.Fatalf("retried = %d, want 2", s.Retried)
	}
	hist := b.History(HistoryFilter{Status: models.EventFailed}, 10)
	if len(hist) != 1 || hist[0].ID != id {
		t.Fatalf("expected failed event %s in history, got %v", id, hist)
	}
	if hist[0].RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", hist[0].RetryCount)
	}
}

func TestStopFailsPendingRetries(t *testing.T) {
	b := newTestBus(t, Config{BackoffBase: time.Hour, IdleWait: 10 * time.Millisecond})

	b.SubscribeFunc("broken", models.EventSystemError, func(_ context.Context, _ *models.Event) error {
		return fmt.Errorf("boom")
	})

	e := models.NewEvent(models.EventSystemError, "test", nil, models.PriorityNormal)
	id, err := b.Publish(e)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	// first delivery fails and parks the event on an hour-long backoff
	waitFor(t, time.Second, func() bool { return b.Statistics().Retried == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	s := b.Statistics()
	if s.Failed != 1 {
		t.Fatalf("failed = %d, want 1 (pending retry abandoned at stop)", s.Failed)
	}
	if s.ByKind[models.EventSystemError].Failed != 1 {
		t.Fatalf("per-kind failed = %d, want 1", s.ByKind[models.EventSystemError].Failed)
	}
	hist := b.History(HistoryFilter{Status: models.EventFailed}, 10)
	if len(hist) != 1 || hist[0].ID != id {
		t.Fatalf("expected abandoned event %s FAILED in history, got %v", id, hist)
	}
}

func TestHandlerIsolation(t *testing.T) {
	b := newTestBus(t, Config{IdleWait: 10 * time.Millisecond})

	var mu sync.Mutex
	delivered := 0
	b.SubscribeFunc("panicky", models.EventMarketDataUpdate, func(_ context.Context, _ *models.Event) error {
		panic("handler exploded")
	})
	b.SubscribeFunc("steady", models.EventMarketDataUpdate, func(_ context.Context, _ *models.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		if _, err := b.Publish(models.NewEvent(models.EventMarketDataUpdate, "test", nil, models.PriorityNormal)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool {
		return b.Statistics().Processed == 3
	})

	mu.Lock()
	if delivered != 3 {
		mu.Unlock()
		t.Fatalf("steady handler saw %d events, want 3", delivered)
	}
	mu.Unlock()

	s := b.Statistics()
	if s.Failed != 0 {
		t.Fatalf("failed = %d, want 0 (one handler succeeded)", s.Failed)
	}
	if s.HandlerErrors["panicky"] != 3 {
		t.Fatalf("panicky errors = %d, want 3", s.HandlerErrors["panicky"])
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t, Config{MaxRetries: 0, BackoffBase: time.Millisecond, IdleWait: 10 * time.Millisecond})

	var mu sync.Mutex
	seen := 0
	id := b.SubscribeFunc("once", models.EventMarketDataUpdate, func(_ context.Context, _ *models.Event) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	if _, err := b.Publish(models.NewEvent(models.EventMarketDataUpdate, "test", nil, models.PriorityNormal)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return b.Statistics().Processed == 1 })

	if !b.Unsubscribe(id) {
		t.Fatalf("unsubscribe returned false for known id")
	}
	if b.Unsubscribe(id) {
		t.Fatalf("unsubscribe returned true for removed id")
	}

	if _, err := b.Publish(models.NewEvent(models.EventMarketDataUpdate, "test", nil, models.PriorityNormal)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// no handlers left: the event fails after retries are exhausted
	waitFor(t, time.Second, func() bool { return b.Statistics().Failed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if seen != 1 {
		t.Fatalf("handler saw %d events after unsubscribe, want 1", seen)
	}
}

func TestHistoryFilterAndLimit(t *testing.T) {
	b := newTestBus(t, Config{IdleWait: 10 * time.Millisecond})
	b.SubscribeFunc("sink", models.EventMarketDataUpdate, func(_ context.Context, _ *models.Event) error { return nil })
	b.SubscribeFunc("sink2", models.EventMarketConditionUpdate, func(_ context.Context, _ *models.Event) error { return nil })

	for i := 0; i < 4; i++ {
		if _, err := b.Publish(models.NewEvent(models.EventMarketDataUpdate, "feed", nil, models.PriorityNormal)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if _, err := b.Publish(models.NewEvent(models.EventMarketConditionUpdate, "monitor", nil, models.PriorityHigh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return b.Statistics().Processed == 5 })

	byKind := b.History(HistoryFilter{Kind: models.EventMarketConditionUpdate}, 0)
	if len(byKind) != 1 {
		t.Fatalf("kind filter: got %d events, want 1", len(byKind))
	}
	bySource := b.History(HistoryFilter{Source: "feed"}, 2)
	if len(bySource) != 2 {
		t.Fatalf("limit: got %d events, want 2", len(bySource))
	}
	all := b.History(HistoryFilter{}, 0)
	if len(all) != 5 {
		t.Fatalf("unfiltered: got %d events, want 5", len(all))
	}
	// returned events are copies
	all[0].Status = models.EventFailed
	if again := b.History(HistoryFilter{Status: models.EventFailed}, 0); len(again) != 0 {
		t.Fatalf("history returned a live reference")
	}
}

func TestQueueDepths(t *testing.T) {
	b := New(logger.Nop(), nil, Config{})
	d := b.QueueDepths()
	for i, n := range d {
		if n != 0 {
			t.Fatalf("queue %d depth = %d, want 0", i, n)
		}
	}
}
