package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// Handler processes events of a single kind. Handlers must be safe to call
// from the dispatch goroutine; a panic is recovered and counted as a failure.
type Handler interface {
	// Name returns the unique identifier of the handler, used in logs and
	// failure statistics.
	Name() string

	// Kind returns the event kind this handler consumes.
	Kind() models.EventKind

	// Handle processes one event. A nil return marks the delivery successful.
	Handle(ctx context.Context, e *models.Event) error
}

// HandlerFunc adapts a closure to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	EventKind   models.EventKind
	Fn          func(ctx context.Context, e *models.Event) error
}

func (h HandlerFunc) Name() string           { return h.HandlerName }
func (h HandlerFunc) Kind() models.EventKind { return h.EventKind }
func (h HandlerFunc) Handle(ctx context.Context, e *models.Event) error {
	return h.Fn(ctx, e)
}

// Config controls retry and history behavior.
type Config struct {
	MaxRetries  int           // redeliveries before an event is marked FAILED
	BackoffBase time.Duration // retry delay is BackoffBase << retryCount
	HistorySize int           // bounded event history ring
	IdleWait    time.Duration // dispatch loop wake-up interval when idle
}

func (c *Config) fill() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 10000
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 250 * time.Millisecond
	}
}

const priorityLevels = int(models.PriorityCritical) + 1

type registration struct {
	id string
	h  Handler
}

// pendingRetry is an event waiting out its backoff delay.
type pendingRetry struct {
	timer *time.Timer
	event *models.Event
}

// Bus is a single-process, priority-ordered asynchronous event bus. One
// background loop drains the highest-priority non-empty queue; within a
// priority tier delivery is FIFO. Handler failures are isolated; an event is
// processed when at least one handler succeeds, otherwise it is redelivered
// with exponential backoff until retries are exhausted.
type Bus struct {
	log     *logger.Logger
	metrics repository.Metrics
	cfg     Config

	mu      sync.Mutex
	queues  [priorityLevels][]*models.Event
	history *historyRing
	stats   Statistics
	timers  map[string]pendingRetry

	hmu      sync.RWMutex
	handlers map[models.EventKind][]registration
	byID     map[string]models.EventKind

	notify    chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a bus. Call Start before publishing.
func New(log *logger.Logger, metrics repository.Metrics, cfg Config) *Bus {
	cfg.fill()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		log:      log,
		metrics:  metrics,
		cfg:      cfg,
		history:  newHistoryRing(cfg.HistorySize),
		timers:   make(map[string]pendingRetry),
		handlers: make(map[models.EventKind][]registration),
		byID:     make(map[string]models.EventKind),
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the dispatch loop.
func (b *Bus) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("bus already running")
	}
	b.isRunning = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatchLoop()
	b.log.Info("event bus started",
		logger.Int("max_retries", b.cfg.MaxRetries),
		logger.Duration("backoff_base", b.cfg.BackoffBase))
	return nil
}

// Stop cancels the dispatch loop and waits for acknowledgment. The event
// being dispatched completes; pending retries are marked FAILED. No new
// events are accepted after Stop returns.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	var abandoned []*models.Event
	for id, pr := range b.timers {
		pr.timer.Stop()
		// the timer may have fired already; requeue marks it then
		if pr.event.Status == models.EventRetryScheduled {
			pr.event.Status = models.EventFailed
			b.stats.Failed++
			b.stats.byKind(pr.event.Kind).Failed++
			abandoned = append(abandoned, pr.event)
		}
		delete(b.timers, id)
	}
	b.mu.Unlock()

	if b.metrics != nil {
		for _, e := range abandoned {
			b.metrics.RecordEvent(string(e.Kind), e.Priority.String(), "failed")
		}
	}
	b.cancel()
	close(b.stopCh)

	doneCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		b.log.Warn("timeout waiting for bus dispatch loop", logger.Error(ctx.Err()))
		return fmt.Errorf("bus stop: %w", ctx.Err())
	case <-doneCh:
		b.log.Info("event bus stopped")
		return nil
	}
}

// Publish enqueues an event and returns its id. It never blocks on handler
// behavior; delivery failures surface only through history and statistics.
func (b *Bus) Publish(e *models.Event) (string, error) {
	if e == nil {
		return "", fmt.Errorf("event is nil")
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = b.cfg.MaxRetries
	}

	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return "", fmt.Errorf("bus not running")
	}
	e.Status = models.EventQueued
	b.queues[int(e.Priority)] = append(b.queues[int(e.Priority)], e)
	b.history.add(e)
	b.stats.Published++
	b.stats.byKind(e.Kind).Published++
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordEvent(string(e.Kind), e.Priority.String(), "published")
	}
	b.wake()
	return e.ID, nil
}

// Subscribe registers a handler and returns its registration id.
func (b *Bus) Subscribe(h Handler) string {
	id := uuid.NewString()
	b.hmu.Lock()
	b.handlers[h.Kind()] = append(b.handlers[h.Kind()], registration{id: id, h: h})
	b.byID[id] = h.Kind()
	b.hmu.Unlock()
	b.log.Debug("handler subscribed",
		logger.String("handler", h.Name()),
		logger.String("kind", string(h.Kind())))
	return id
}

// SubscribeFunc registers a closure handler for one event kind.
func (b *Bus) SubscribeFunc(name string, kind models.EventKind, fn func(ctx context.Context, e *models.Event) error) string {
	return b.Subscribe(HandlerFunc{HandlerName: name, EventKind: kind, Fn: fn})
}

// Unsubscribe removes a registration. Returns false for unknown ids.
func (b *Bus) Unsubscribe(id string) bool {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	kind, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	regs := b.handlers[kind]
	for i, r := range regs {
		if r.id == id {
			b.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	return true
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	timer := time.NewTimer(b.cfg.IdleWait)
	defer timer.Stop()

	for {
		e := b.dequeue()
		if e != nil {
			b.dispatch(e)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.cfg.IdleWait)
		select {
		case <-b.stopCh:
			return
		case <-b.notify:
		case <-timer.C:
		}
	}
}

// dequeue pops the head of the highest-priority non-empty queue.
func (b *Bus) dequeue() *models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := priorityLevels - 1; p >= 0; p-- {
		q := b.queues[p]
		if len(q) == 0 {
			continue
		}
		e := q[0]
		b.queues[p] = q[1:]
		return e
	}
	return nil
}

// dispatch delivers the event to every handler registered for its kind.
// A handler panic or error never aborts dispatch to the remaining handlers.
func (b *Bus) dispatch(e *models.Event) {
	b.hmu.RLock()
	regs := append([]registration(nil), b.handlers[e.Kind]...)
	b.hmu.RUnlock()

	b.mu.Lock()
	e.Status = models.EventDispatched
	b.mu.Unlock()

	succeeded := 0
	for _, r := range regs {
		if err := b.callHandler(r.h, e); err != nil {
			b.mu.Lock()
			b.stats.handlerErr(r.h.Name())
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.RecordError("handler_" + r.h.Name())
			}
			b.log.Warn("handler failed",
				logger.String("handler", r.h.Name()),
				logger.String("event_id", e.ID),
				logger.String("kind", string(e.Kind)),
				logger.Error(err))
		} else {
			succeeded++
		}
	}

	if succeeded > 0 {
		now := time.Now()
		b.mu.Lock()
		e.Status = models.EventProcessed
		e.ProcessedAt = &now
		b.stats.Processed++
		b.stats.byKind(e.Kind).Processed++
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordEvent(string(e.Kind), e.Priority.String(), "processed")
		}
		return
	}

	if len(regs) == 0 {
		b.log.Debug("no handlers for event", logger.String("kind", string(e.Kind)))
	}
	b.scheduleRetry(e)
}

func (b *Bus) callHandler(h Handler, e *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(b.ctx, e)
}

// scheduleRetry re-enqueues the event after an exponential backoff delay, or
// marks it FAILED once retries are exhausted. The delay runs on a timer so
// backoff never stalls the dispatch loop.
func (b *Bus) scheduleRetry(e *models.Event) {
	b.mu.Lock()
	if e.RetryCount >= e.MaxRetries {
		e.Status = models.EventFailed
		b.stats.Failed++
		b.stats.byKind(e.Kind).Failed++
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordEvent(string(e.Kind), e.Priority.String(), "failed")
		}
		b.log.Error("event failed after retries",
			logger.String("event_id", e.ID),
			logger.String("kind", string(e.Kind)),
			logger.Int("retries", e.RetryCount))
		return
	}

	e.RetryCount++
	e.Status = models.EventRetryScheduled
	b.stats.Retried++
	delay := b.cfg.BackoffBase << uint(e.RetryCount)
	b.timers[e.ID] = pendingRetry{
		timer: time.AfterFunc(delay, func() { b.requeue(e) }),
		event: e,
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordEvent(string(e.Kind), e.Priority.String(), "retried")
	}
	b.log.Debug("retry scheduled",
		logger.String("event_id", e.ID),
		logger.Int("attempt", e.RetryCount),
		logger.Duration("delay", delay))
}

func (b *Bus) requeue(e *models.Event) {
	b.mu.Lock()
	delete(b.timers, e.ID)
	if !b.isRunning {
		// Stop may already have marked the event while cancelling timers
		if e.Status == models.EventRetryScheduled {
			e.Status = models.EventFailed
			b.stats.Failed++
			b.stats.byKind(e.Kind).Failed++
		}
		b.mu.Unlock()
		return
	}
	e.Status = models.EventQueued
	b.queues[int(e.Priority)] = append(b.queues[int(e.Priority)], e)
	b.mu.Unlock()
	b.wake()
}

// HistoryFilter narrows History results. Zero values match everything.
type HistoryFilter struct {
	Kind   models.EventKind
	Status models.EventStatus
	Source string
}

// History returns up to limit events matching the filter, newest first.
// Returned events are copies; mutating them does not touch the bus.
func (b *Bus) History(f HistoryFilter, limit int) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.query(f, limit)
}

// Statistics returns a snapshot of bus counters.
func (b *Bus) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.clone()
}

// QueueDepths reports current queue lengths indexed by priority.
func (b *Bus) QueueDepths() [priorityLevels]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var d [priorityLevels]int
	for i, q := range b.queues {
		d[i] = len(q)
	}
	return d
}
