package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/condition"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/marketdata"
	"MarketPulse/pkg/logger"
)

type fakeMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{errors: make(map[string]int)} }

func (m *fakeMetrics) RecordTick(string, models.ValidationResult) {}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) RecordLatency(string, float64)   {}
func (m *fakeMetrics) RecordEvent(string, string, string) {}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeStream struct {
	ticks     chan *models.RawTick
	errs      chan error
	connected bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan *models.RawTick, 16), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(context.Context) error   { s.connected = true; return nil }
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Read(context.Context) (<-chan *models.RawTick, <-chan error) {
	return s.ticks, s.errs
}
func (s *fakeStream) Reconnect(context.Context) error { return nil }
func (s *fakeStream) Close() error                    { s.connected = false; return nil }
func (s *fakeStream) IsConnected() bool               { return s.connected }

func testPipeline(t *testing.T) (*marketdata.Processor, *condition.Monitor) {
	t.Helper()
	proc := marketdata.NewProcessor(logger.Nop(), nil, nil, nil, nil, marketdata.Config{
		Validator: marketdata.ValidatorConfig{
			Staleness: time.Minute, MinPrice: 0.01, MaxPrice: 1000000,
			ZScoreMax: 3.0, MaxChangePct: 10.0, Window: 10,
		},
	})
	cal, err := condition.NewWallClockCalendar(condition.CalendarConfig{
		Timezone: "UTC", PreMarketOpen: "04:00", RegularOpen: "09:30",
		RegularClose: "16:00", AfterHoursEnd: "20:00",
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	mon := condition.NewMonitor(logger.Nop(), nil, nil, cal, nil, condition.Config{})
	return proc, mon
}

func TestCollectorChainsProcessorAndMonitor(t *testing.T) {
	proc, mon := testPipeline(t)
	stream := newFakeStream()
	c := NewCollector(logger.Nop(), stream, proc, mon, newFakeMetrics(), WithMaxRPS(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("collector not connected after start")
	}

	now := time.Now()
	stream.ticks <- &models.RawTick{Symbol: "AAPL", Price: 100, Volume: 10, Timestamp: now.UnixMilli()}
	stream.ticks <- &models.RawTick{Symbol: "AAPL", Price: 101, Volume: 10, Timestamp: now.Add(time.Second).UnixMilli()}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if last := proc.LastObservation("AAPL"); last != nil && last.Price == 101 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	last := proc.LastObservation("AAPL")
	if last == nil || last.Price != 101 {
		t.Fatalf("processor did not admit streamed ticks: %v", last)
	}
	if snap := mon.CurrentCondition("AAPL"); snap == nil {
		t.Fatalf("monitor saw no admitted observation")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("collector still connected after stop")
	}
}

func TestCollectorThrottlesPerSymbol(t *testing.T) {
	proc, mon := testPipeline(t)
	metrics := newFakeMetrics()
	c := NewCollector(logger.Nop(), newFakeStream(), proc, mon, metrics, WithMaxRPS(1))

	ctx := context.Background()
	now := time.Now()
	c.Ingest(ctx, &models.RawTick{Symbol: "AAPL", Price: 100, Timestamp: now.UnixMilli()})
	c.Ingest(ctx, &models.RawTick{Symbol: "AAPL", Price: 101, Timestamp: now.UnixMilli() + 1})
	// a different symbol has its own budget
	c.Ingest(ctx, &models.RawTick{Symbol: "MSFT", Price: 50, Timestamp: now.UnixMilli()})

	if got := proc.Stats().Total; got != 2 {
		t.Fatalf("processed %d ticks, want 2 (one throttled)", got)
	}
	if metrics.errorCount("throttle_AAPL") != 1 {
		t.Fatalf("throttle not recorded")
	}
	if proc.LastObservation("MSFT") == nil {
		t.Fatalf("second symbol was throttled")
	}
}
