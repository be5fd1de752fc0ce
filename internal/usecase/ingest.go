package usecase

import (
	"context"
	"sync"
	"time"

	"MarketPulse/internal/condition"
	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
	"MarketPulse/pkg/logger"
)

// Collector drives the ingest pipeline: it reads raw ticks from the feed,
// throttles per symbol, runs them through the processor, and hands admitted
// observations to the condition monitor.
type Collector struct {
	log     *logger.Logger
	stream  drepo.TickStream
	proc    *marketdata.Processor
	monitor *condition.Monitor
	metrics drepo.Metrics

	maxRPS   int
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

type CollectorOption func(*Collector)

// WithMaxRPS caps accepted ticks per second per symbol; zero disables the
// throttle.
func WithMaxRPS(n int) CollectorOption {
	return func(c *Collector) { c.maxRPS = n }
}

// NewCollector creates a collector. The monitor may be nil when condition
// analysis is disabled.
func NewCollector(
	log *logger.Logger,
	stream drepo.TickStream,
	proc *marketdata.Processor,
	monitor *condition.Monitor,
	metrics drepo.Metrics,
	opts ...CollectorOption,
) *Collector {
	c := &Collector{
		log:      log,
		stream:   stream,
		proc:     proc,
		monitor:  monitor,
		metrics:  metrics,
		maxRPS:   20,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected reports whether the underlying stream is connected.
func (c *Collector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes, and launches the consume loop.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	tickCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *Collector) consume(ctx context.Context, tickCh <-chan *models.RawTick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.log.Warn("feed stream error", logger.Error(err))
				c.metrics.RecordError("stream")
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("feed reconnect failed", logger.Error(rerr))
				} else {
					tickCh, errCh = c.stream.Read(ctx)
				}
			}
		case t := <-tickCh:
			if t == nil {
				continue
			}
			c.Ingest(ctx, t)
		}
	}
}

// Ingest runs one raw tick through throttle, processor, and monitor.
func (c *Collector) Ingest(ctx context.Context, t *models.RawTick) {
	now := time.Now()
	if !c.allow(t.Symbol, now) {
		c.metrics.RecordError("throttle_" + t.Symbol)
		return
	}
	ok, obs := c.proc.ProcessUpdate(ctx, t, now)
	if !ok || obs == nil {
		return
	}
	if c.monitor != nil {
		c.monitor.AnalyzeUpdate(obs)
	}
}

// allow is a per-symbol minimum-interval throttle derived from maxRPS.
func (c *Collector) allow(symbol string, now time.Time) bool {
	if c.maxRPS <= 0 {
		return true
	}
	minGap := time.Second / time.Duration(c.maxRPS)
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeen[symbol]; ok && now.Sub(last) < minGap {
		return false
	}
	c.lastSeen[symbol] = now
	return true
}

// Stop closes the feed stream. The processor and monitor have their own
// lifecycles.
func (c *Collector) Stop() error { return c.stream.Close() }
