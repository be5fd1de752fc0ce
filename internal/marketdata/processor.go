package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// Publisher is the slice of the event bus the processor needs.
type Publisher interface {
	Publish(e *models.Event) (string, error)
}

// Config holds processor tunables beyond the validation thresholds.
type Config struct {
	Validator      ValidatorConfig
	HistorySize    int           // bounded per-symbol observation ring
	LatencyWarn    time.Duration // log a warning above this end-to-end delay
	LatencySamples int
	PersistWorkers int
	PersistBuffer  int
	CacheTTL       time.Duration       // last-observation cache entry lifetime
	BarInterval    repository.Interval // bucket width for persisted bars
}

// UpdatePayload is the MARKET_DATA_UPDATE event payload.
type UpdatePayload struct {
	Observation *models.PriceObservation  `json:"observation"`
	Outcome     *models.ValidationOutcome `json:"outcome"`
	Latency     time.Duration             `json:"latency,omitempty"`
}

// symbolState is all per-symbol mutable state. It is owned exclusively by
// the processor (single-writer); readers get copies.
type symbolState struct {
	recent  []float64 // rolling window of admitted prices for outlier detection
	history *obsRing
	last    *models.PriceObservation

	bar   *models.HistoricalBar // open (incomplete) persistence bucket
	barPV float64               // running sum of price*volume for the open bar

	sessionOpen float64
	sessionHigh float64
	sessionLow  float64

	total      int64
	valid      int64
	invalid    int64
	duplicates int64
	corrected  int64
}

// rollBar folds the observation into the symbol's open bar. When the
// observation starts a new bucket, the finished bar is returned so the
// caller can hand it to persistence.
func (st *symbolState) rollBar(obs *models.PriceObservation, iv repository.Interval) *models.HistoricalBar {
	start := bucketStart(obs.Timestamp, iv)
	var done *models.HistoricalBar
	if st.bar != nil && !st.bar.Start.Equal(start) {
		done = st.closeBar()
	}
	if st.bar == nil {
		st.bar = &models.HistoricalBar{
			Symbol: obs.Symbol,
			Start:  start,
			Open:   obs.Price,
			High:   obs.Price,
			Low:    obs.Price,
		}
	}
	b := st.bar
	if obs.Price > b.High {
		b.High = obs.Price
	}
	if obs.Price < b.Low {
		b.Low = obs.Price
	}
	b.Close = obs.Price
	b.Volume += obs.Volume
	b.Samples++
	st.barPV += obs.Price * obs.Volume
	return done
}

// closeBar finalizes VWAP and detaches the open bar.
func (st *symbolState) closeBar() *models.HistoricalBar {
	b := st.bar
	if b == nil {
		return nil
	}
	if b.Volume > 0 {
		b.VWAP = st.barPV / b.Volume
	}
	st.bar = nil
	st.barPV = 0
	return b
}

// Processor validates and corrects raw ticks, maintains bounded per-symbol
// history, accounts for latency, and hands admitted observations off to
// persistence and the event bus.
type Processor struct {
	log       *logger.Logger
	metrics   repository.Metrics
	validator *Validator
	pub       Publisher
	store     repository.Storage
	cache     repository.SnapshotCache
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	symbols map[string]*symbolState
	latency *latencyTracker
	total   int64
	valid   int64
	invalid int64

	persistCh chan *models.PriceObservation
	barCh     chan *models.HistoricalBar
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runMu     sync.Mutex
}

// NewProcessor creates a processor. Storage and cache may be nil; persistence
// is then skipped entirely.
func NewProcessor(
	log *logger.Logger,
	metrics repository.Metrics,
	pub Publisher,
	store repository.Storage,
	cache repository.SnapshotCache,
	cfg Config,
) *Processor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.PersistWorkers <= 0 {
		cfg.PersistWorkers = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.PersistBuffer <= 0 {
		cfg.PersistBuffer = 1024
	}
	if cfg.BarInterval == "" {
		cfg.BarInterval = repository.DefaultInterval()
	}
	return &Processor{
		log:       log,
		metrics:   metrics,
		validator: NewValidator(cfg.Validator),
		pub:       pub,
		store:     store,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
		symbols:   make(map[string]*symbolState),
		latency:   newLatencyTracker(cfg.LatencySamples, time.Now()),
		persistCh: make(chan *models.PriceObservation, cfg.PersistBuffer),
		barCh:     make(chan *models.HistoricalBar, cfg.PersistBuffer),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the persistence workers.
func (p *Processor) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return fmt.Errorf("processor already running")
	}
	p.running = true
	if p.store != nil {
		for i := 0; i < p.cfg.PersistWorkers; i++ {
			p.wg.Add(1)
			go p.persistWorker()
		}
	}
	p.log.Info("market data processor started",
		logger.Int("persist_workers", p.cfg.PersistWorkers),
		logger.Int("history_size", p.cfg.HistorySize))
	return nil
}

// Stop drains the persistence workers. No ticks are accepted afterwards.
func (p *Processor) Stop(ctx context.Context) error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = false
	if p.store != nil {
		p.flushOpenBars()
	}
	close(p.stopCh)
	p.runMu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("processor stop: %w", ctx.Err())
	case <-doneCh:
		p.log.Info("market data processor stopped")
		return nil
	}
}

// Validate runs the validation rules against the symbol's current state
// without admitting anything.
func (p *Processor) Validate(raw *models.RawTick) *models.ValidationOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	var recent []float64
	var last *models.PriceObservation
	if raw != nil {
		if st, ok := p.symbols[raw.Symbol]; ok {
			recent = st.recent
			last = st.last
		}
	}
	return p.validator.Validate(raw, p.now(), recent, last)
}

// ProcessUpdate validates one raw tick and, when admissible, creates and
// admits a PriceObservation. receivedAt, when non-zero, is used for
// end-to-end latency accounting. The returned bool reports admission.
func (p *Processor) ProcessUpdate(ctx context.Context, raw *models.RawTick, receivedAt time.Time) (bool, *models.PriceObservation) {
	now := p.now()

	p.mu.Lock()
	var st *symbolState
	if raw != nil && raw.Symbol != "" {
		st = p.state(raw.Symbol)
	}
	var recent []float64
	var last *models.PriceObservation
	if st != nil {
		recent = st.recent
		last = st.last
	}
	outcome := p.validator.Validate(raw, now, recent, last)

	p.total++
	p.latency.tick()
	if st != nil {
		st.total++
	}

	var delay time.Duration
	if !receivedAt.IsZero() && raw != nil && raw.Timestamp > 0 {
		delay = receivedAt.Sub(raw.Time())
		p.latency.record(delay)
	}

	if !outcome.Admissible() {
		switch outcome.Result {
		case models.ValidationDuplicate:
			// not an error: same tick delivered twice, nothing new to admit
			if st != nil {
				st.duplicates++
			}
		default:
			p.invalid++
			if st != nil {
				st.invalid++
			}
		}
		p.mu.Unlock()
		p.observeOutcome(raw, outcome, delay)
		return false, nil
	}

	price := raw.Price
	obs := &models.PriceObservation{
		Symbol:    raw.Symbol,
		Price:     price,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		Volume:    raw.Volume,
		Timestamp: raw.Time(),
		Source:    raw.Source,
	}
	if outcome.CorrectedPrice != nil {
		// the corrected price is what gets admitted; the observed price
		// stays visible on the observation
		obs.Corrected = true
		obs.RawPrice = price
		obs.Price = *outcome.CorrectedPrice
		st.corrected++
	}

	if st.last != nil {
		obs.Change = obs.Price - st.last.Price
		if st.last.Price > 0 {
			obs.ChangePercent = obs.Change / st.last.Price * 100
		}
	}

	if st.sessionOpen == 0 {
		st.sessionOpen = obs.Price
		st.sessionHigh = obs.Price
		st.sessionLow = obs.Price
	}
	if obs.Price > st.sessionHigh {
		st.sessionHigh = obs.Price
	}
	if obs.Price < st.sessionLow {
		st.sessionLow = obs.Price
	}
	obs.SessionOpen = st.sessionOpen
	obs.SessionHigh = st.sessionHigh
	obs.SessionLow = st.sessionLow

	st.history.add(obs)
	st.last = obs
	st.recent = append(st.recent, obs.Price)
	if len(st.recent) > p.cfg.Validator.Window {
		st.recent = st.recent[1:]
	}
	var doneBar *models.HistoricalBar
	if p.store != nil {
		doneBar = st.rollBar(obs, p.cfg.BarInterval)
	}
	st.valid++
	p.valid++
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordLastPrice(obs.Symbol, obs.Price)
	}
	p.observeOutcome(raw, outcome, delay)
	p.persistAsync(obs)
	if doneBar != nil {
		p.persistBarAsync(doneBar)
	}
	p.cacheObservation(obs)
	p.publishUpdate(obs, outcome, delay)

	return true, obs
}

// observeOutcome records metrics and latency warnings outside the lock.
func (p *Processor) observeOutcome(raw *models.RawTick, outcome *models.ValidationOutcome, delay time.Duration) {
	symbol := "unknown"
	if raw != nil && raw.Symbol != "" {
		symbol = raw.Symbol
	}
	if p.metrics != nil {
		p.metrics.RecordTick(symbol, outcome.Result)
		if delay > 0 {
			p.metrics.RecordLatency("tick_e2e", delay.Seconds())
		}
	}
	if delay > p.cfg.LatencyWarn && p.cfg.LatencyWarn > 0 {
		p.log.Warn("tick latency above ceiling",
			logger.String("symbol", symbol),
			logger.Duration("delay", delay),
			logger.Duration("ceiling", p.cfg.LatencyWarn))
	}
	if outcome.Result == models.ValidationStale || outcome.Result == models.ValidationOutlier {
		p.log.Debug("tick degraded",
			logger.String("symbol", symbol),
			logger.String("result", string(outcome.Result)),
			logger.Strings("issues", outcome.Issues))
	}
}

func (p *Processor) publishUpdate(obs *models.PriceObservation, outcome *models.ValidationOutcome, delay time.Duration) {
	if p.pub == nil {
		return
	}
	priority := models.PriorityNormal
	if outcome.Quality == models.QualityHigh {
		priority = models.PriorityHigh
	}
	e := models.NewEvent(models.EventMarketDataUpdate, "market_data_processor", &UpdatePayload{
		Observation: obs,
		Outcome:     outcome,
		Latency:     delay,
	}, priority)
	if _, err := p.pub.Publish(e); err != nil {
		p.log.Warn("publish market data update", logger.Error(err))
		if p.metrics != nil {
			p.metrics.RecordError("publish_market_data")
		}
	}
}

// persistAsync hands the observation to the persistence workers without
// blocking the hot path. A full buffer drops and counts.
func (p *Processor) persistAsync(obs *models.PriceObservation) {
	if p.store == nil {
		return
	}
	select {
	case p.persistCh <- obs:
	default:
		if p.metrics != nil {
			p.metrics.RecordError("persist_buffer_full")
		}
	}
}

func (p *Processor) persistBarAsync(bar *models.HistoricalBar) {
	if p.store == nil {
		return
	}
	select {
	case p.barCh <- bar:
	default:
		if p.metrics != nil {
			p.metrics.RecordError("bar_buffer_full")
		}
	}
}

// flushOpenBars hands every open (partial) bar to the persistence workers so
// a shutdown does not lose the bucket in progress. The bars table replaces by
// (symbol, bucket), so a partial bar is superseded if the bucket is written
// again.
func (p *Processor) flushOpenBars() {
	p.mu.Lock()
	var open []*models.HistoricalBar
	for _, st := range p.symbols {
		if b := st.closeBar(); b != nil {
			open = append(open, b)
		}
	}
	p.mu.Unlock()
	for _, b := range open {
		p.persistBarAsync(b)
	}
}

func (p *Processor) persistWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			// drain what is already buffered before exiting
			for {
				select {
				case obs := <-p.persistCh:
					p.persistOne(obs)
				case bar := <-p.barCh:
					p.persistBar(bar)
				default:
					return
				}
			}
		case obs := <-p.persistCh:
			p.persistOne(obs)
		case bar := <-p.barCh:
			p.persistBar(bar)
		}
	}
}

func (p *Processor) persistOne(obs *models.PriceObservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := p.store.StoreObservation(ctx, obs); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("persist_observation")
		}
		p.log.Warn("store observation", logger.String("symbol", obs.Symbol), logger.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("persist_observation", time.Since(start).Seconds())
	}
}

func (p *Processor) persistBar(bar *models.HistoricalBar) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := p.store.StoreBar(ctx, bar); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("persist_bar")
		}
		p.log.Warn("store bar",
			logger.String("symbol", bar.Symbol),
			logger.String("bucket", bar.Start.Format(time.RFC3339)),
			logger.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("persist_bar", time.Since(start).Seconds())
	}
}

func (p *Processor) cacheObservation(obs *models.PriceObservation) {
	if p.cache == nil {
		return
	}
	b, err := json.Marshal(obs)
	if err != nil {
		return
	}
	if err := p.cache.SetBytes("obs:"+obs.Symbol, b, p.cfg.CacheTTL); err != nil {
		p.log.Debug("cache observation", logger.Error(err))
	}
}

// HistoricalBars aggregates the symbol's in-memory history into
// boundary-aligned OHLCV bars.
func (p *Processor) HistoricalBars(symbol string, iv repository.Interval) []models.HistoricalBar {
	p.mu.Lock()
	st, ok := p.symbols[symbol]
	var obs []*models.PriceObservation
	if ok {
		obs = st.history.snapshot()
	}
	p.mu.Unlock()
	return aggregateBars(symbol, obs, iv)
}

// History returns the symbol's admitted observations, oldest first.
func (p *Processor) History(symbol string) []*models.PriceObservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.symbols[symbol]
	if !ok {
		return nil
	}
	return st.history.snapshot()
}

// LastObservation returns the most recent admitted observation for a symbol.
func (p *Processor) LastObservation(symbol string) *models.PriceObservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.symbols[symbol]; ok {
		return st.last
	}
	return nil
}

// ResetSessionState clears per-symbol session open/high/low. Invoked by the
// session tracker when the market session rolls over.
func (p *Processor) ResetSessionState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.symbols {
		st.sessionOpen = 0
		st.sessionHigh = 0
		st.sessionLow = 0
	}
}

// SymbolStats are per-symbol processing counters.
type SymbolStats struct {
	Total      int64 `json:"total"`
	Valid      int64 `json:"valid"`
	Invalid    int64 `json:"invalid"`
	Duplicates int64 `json:"duplicates"`
	Corrected  int64 `json:"corrected"`
}

// Stats is the aggregate processor counter snapshot.
type Stats struct {
	Total      int64                  `json:"total"`
	Valid      int64                  `json:"valid"`
	Invalid    int64                  `json:"invalid"`
	Latency    LatencyStats           `json:"latency"`
	Throughput float64                `json:"throughput"` // updates/sec over the current window
	PerSymbol  map[string]SymbolStats `json:"perSymbol"`
}

// Stats returns a snapshot of the processing counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Total:      p.total,
		Valid:      p.valid,
		Invalid:    p.invalid,
		Latency:    p.latency.stats(),
		Throughput: p.latency.throughput(p.now()),
		PerSymbol:  make(map[string]SymbolStats, len(p.symbols)),
	}
	for sym, st := range p.symbols {
		s.PerSymbol[sym] = SymbolStats{
			Total:      st.total,
			Valid:      st.valid,
			Invalid:    st.invalid,
			Duplicates: st.duplicates,
			Corrected:  st.corrected,
		}
	}
	return s
}

// ResetThroughputWindow restarts the updates/second window.
func (p *Processor) ResetThroughputWindow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency.resetWindow(p.now())
}

// state returns (creating if needed) the owned state for a symbol.
// Caller holds p.mu.
func (p *Processor) state(symbol string) *symbolState {
	st, ok := p.symbols[symbol]
	if !ok {
		st = &symbolState{history: newObsRing(p.cfg.HistorySize)}
		p.symbols[symbol] = st
	}
	return st
}
