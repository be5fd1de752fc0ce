package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// Publisher is the slice of the event bus the monitor needs.
type Publisher interface {
	Publish(e *models.Event) (string, error)
}

// Callback receives every new snapshot, invoked synchronously on the
// analysis path. Keep callbacks fast.
type Callback func(*models.ConditionSnapshot)

// Config holds the classification thresholds and windows.
type Config struct {
	VolatilityWindow int     // observations per volatility window
	HighVolatility   float64 // score at or above is HIGH_VOLATILITY
	LowVolatility    float64 // score at or below is LOW_VOLATILITY
	GapThreshold     float64 // |gap%| at or above is significant
	CircuitBreaker   float64 // |gap%| at or above halts
	GapLookback      int     // observations into a session the gap window stays open
	TrendWindow      int     // minimum points for trend regression
	RangeLookback    int     // observations for support/resistance
	RangeMinSpread   float64 // minimum spread percent to report a range
	HistorySize      int     // bounded per-symbol snapshot ring
	ScoreHistory     int     // volatility score history for percentile rank
	RefreshInterval  time.Duration
	CacheTTL         time.Duration
}

func (c *Config) fill() {
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = 20
	}
	if c.HighVolatility <= 0 {
		c.HighVolatility = 2.0
	}
	if c.LowVolatility <= 0 {
		c.LowVolatility = 0.5
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = 2.0
	}
	if c.CircuitBreaker <= 0 {
		c.CircuitBreaker = 10.0
	}
	if c.GapLookback <= 0 {
		c.GapLookback = 5
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 5
	}
	if c.RangeLookback <= 0 {
		c.RangeLookback = 20
	}
	if c.RangeMinSpread <= 0 {
		c.RangeMinSpread = 2.0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 20
	}
	if c.ScoreHistory <= 0 {
		c.ScoreHistory = 100
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
}

// symbolTrack is the monitor's exclusively owned per-symbol state.
type symbolTrack struct {
	prices  []float64
	volumes []float64
	scores  *floatRing
	history *snapRing
	current *models.ConditionSnapshot

	// sessionRef is the gap reference: the first price ever seen for the
	// symbol, rolled to the latest price whenever the session changes.
	// sessionObs counts analyzed observations in the current session; the
	// gap window closes once it reaches GapLookback. refRolled marks a
	// reference inherited from a prior session, so the very first
	// observation after a rollover already measures against it.
	sessionRef float64
	sessionObs int
	refRolled  bool
	lastPrice  float64
}

// Monitor classifies per-symbol market behavior from validated price
// observations and maintains the session and market-wide rollup state.
type Monitor struct {
	log      *logger.Logger
	metrics  repository.Metrics
	pub      Publisher
	calendar repository.Calendar
	cache    repository.SnapshotCache
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	symbols   map[string]*symbolTrack
	session   models.MarketSession
	global    models.GlobalCondition
	callbacks map[string]Callback

	sessionHooks []func(old, new models.MarketSession)

	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
}

// NewMonitor creates a monitor. The calendar decides session boundaries;
// cache may be nil.
func NewMonitor(
	log *logger.Logger,
	metrics repository.Metrics,
	pub Publisher,
	calendar repository.Calendar,
	cache repository.SnapshotCache,
	cfg Config,
) *Monitor {
	cfg.fill()
	m := &Monitor{
		log:       log,
		metrics:   metrics,
		pub:       pub,
		calendar:  calendar,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
		symbols:   make(map[string]*symbolTrack),
		callbacks: make(map[string]Callback),
		stopCh:    make(chan struct{}),
	}
	m.session = calendar.SessionAt(m.now())
	return m
}

// Start launches the periodic session/global refresh loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.refreshLoop()
	m.log.Info("condition monitor started",
		logger.Duration("refresh_interval", m.cfg.RefreshInterval),
		logger.String("session", string(m.Session())))
	return nil
}

// Stop cancels the refresh loop and waits for it to acknowledge.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()
	close(m.stopCh)

	doneCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: %w", ctx.Err())
	case <-doneCh:
		m.log.Info("condition monitor stopped")
		return nil
	}
}

// OnSessionChange registers a hook invoked when the market session rolls
// over (e.g. to reset processor session state). Register before Start.
func (m *Monitor) OnSessionChange(fn func(old, new models.MarketSession)) {
	m.sessionHooks = append(m.sessionHooks, fn)
}

// AnalyzeUpdate classifies one observation and returns the snapshot. The
// snapshot is appended to the symbol's bounded history, callbacks fire
// synchronously, and a MARKET_CONDITION_UPDATE event is published.
func (m *Monitor) AnalyzeUpdate(obs *models.PriceObservation) *models.ConditionSnapshot {
	if obs == nil || obs.Symbol == "" {
		return nil
	}

	m.mu.Lock()
	tr := m.track(obs.Symbol)
	if tr.sessionRef == 0 {
		tr.sessionRef = obs.Price
	}

	// volume ratio vs the recent average, computed before admitting the
	// current volume into the window
	volumeRatio := 1.0
	if avg := meanOf(tr.volumes); avg > 0 && obs.Volume > 0 {
		volumeRatio = obs.Volume / avg
	}

	maxWindow := m.cfg.VolatilityWindow
	if m.cfg.RangeLookback > maxWindow {
		maxWindow = m.cfg.RangeLookback
	}
	tr.prices = append(tr.prices, obs.Price)
	if len(tr.prices) > maxWindow {
		tr.prices = tr.prices[1:]
	}
	tr.volumes = append(tr.volumes, obs.Volume)
	if len(tr.volumes) > maxWindow {
		tr.volumes = tr.volumes[1:]
	}
	tr.lastPrice = obs.Price

	volWindow := tr.prices
	if len(volWindow) > m.cfg.VolatilityWindow {
		volWindow = volWindow[len(volWindow)-m.cfg.VolatilityWindow:]
	}
	vol := volatilityScore(volWindow)
	volRank := percentileRank(tr.scores.values(), vol)
	tr.scores.add(vol)

	// In the first-ever session the reference IS the first observation, so
	// there is nothing to measure until the second one. After a rollover the
	// reference is the prior session's close and the first observation
	// already carries the opening gap.
	gap := 0.0
	if (tr.sessionObs > 0 || tr.refRolled) && tr.sessionObs < m.cfg.GapLookback && tr.sessionRef > 0 {
		gap = (obs.Price - tr.sessionRef) / tr.sessionRef * 100
	}
	tr.sessionObs++

	trend := 0.0
	if len(tr.prices) >= m.cfg.TrendWindow {
		trend = trendStrength(tr.prices)
	}

	var rng *models.PriceRange
	if len(tr.prices) > 1 {
		lookback := tr.prices
		if len(lookback) > m.cfg.RangeLookback {
			lookback = lookback[len(lookback)-m.cfg.RangeLookback:]
		}
		support, resistance := minMax(lookback)
		if support > 0 && (resistance-support)/support*100 > m.cfg.RangeMinSpread {
			rng = &models.PriceRange{Support: support, Resistance: resistance}
		}
	}

	snap := &models.ConditionSnapshot{
		Symbol:          obs.Symbol,
		Condition:       m.classify(gap, vol, trend),
		Volatility:      vol,
		VolatilityLevel: volatilityLevel(vol),
		PriceChangePct:  obs.ChangePercent,
		VolumeRatio:     volumeRatio,
		GapPercent:      gap,
		TrendStrength:   trend,
		Range:           rng,
		Confidence:      m.confidence(vol, volRank, len(tr.prices)),
		Timestamp:       m.now(),
	}
	tr.history.add(snap)
	tr.current = snap

	cbs := make([]Callback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(snap)
	}
	m.cacheSnapshot(snap)
	m.publishSnapshot(snap)
	return snap
}

// classify applies the condition decision rules; the first match wins.
func (m *Monitor) classify(gap, vol, trend float64) models.ConditionKind {
	switch {
	case math.Abs(gap) >= m.cfg.CircuitBreaker:
		return models.ConditionCircuitBreaker
	case gap >= m.cfg.GapThreshold:
		return models.ConditionGapUp
	case gap <= -m.cfg.GapThreshold:
		return models.ConditionGapDown
	case vol >= m.cfg.HighVolatility:
		return models.ConditionHighVolatility
	case vol <= m.cfg.LowVolatility:
		return models.ConditionLowVolatility
	case trend > 0.7:
		return models.ConditionTrendingUp
	case trend < -0.7:
		return models.ConditionTrendingDown
	case math.Abs(trend) < 0.3:
		return models.ConditionSideways
	default:
		return models.ConditionNormal
	}
}

func volatilityLevel(score float64) models.VolatilityLevel {
	switch {
	case score >= 3.0:
		return models.VolatilityExtreme
	case score >= 2.0:
		return models.VolatilityVeryHigh
	case score >= 1.5:
		return models.VolatilityHigh
	case score >= 0.5:
		return models.VolatilityNormal
	case score >= 0.2:
		return models.VolatilityLow
	default:
		return models.VolatilityVeryLow
	}
}

// confidence weights a snapshot by sample depth and how unusual the
// volatility reading is against its own history.
func (m *Monitor) confidence(vol, volRank float64, samples int) float64 {
	c := 1.0
	if vol > m.cfg.HighVolatility {
		c *= 0.8
	}
	if samples < 10 {
		c *= float64(samples) / 10
	}
	if volRank < 5 || volRank > 95 {
		c *= 0.7
	}
	return clamp(c, 0.1, 1.0)
}

func (m *Monitor) publishSnapshot(snap *models.ConditionSnapshot) {
	if m.pub == nil {
		return
	}
	priority := models.PriorityNormal
	if snap.Condition == models.ConditionCircuitBreaker || snap.Condition == models.ConditionHighVolatility {
		priority = models.PriorityHigh
	}
	e := models.NewEvent(models.EventMarketConditionUpdate, "condition_monitor", snap, priority)
	if _, err := m.pub.Publish(e); err != nil {
		m.log.Warn("publish condition update", logger.Error(err))
		if m.metrics != nil {
			m.metrics.RecordError("publish_condition")
		}
	}
}

func (m *Monitor) cacheSnapshot(snap *models.ConditionSnapshot) {
	if m.cache == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := m.cache.SetBytes("cond:"+snap.Symbol, b, m.cfg.CacheTTL); err != nil {
		m.log.Debug("cache snapshot", logger.Error(err))
	}
}

// CurrentCondition returns the latest snapshot for a symbol, or nil.
func (m *Monitor) CurrentCondition(symbol string) *models.ConditionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tr, ok := m.symbols[symbol]; ok {
		return tr.current
	}
	return nil
}

// ConditionHistory returns the symbol's snapshot ring, oldest first.
func (m *Monitor) ConditionHistory(symbol string) []*models.ConditionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tr, ok := m.symbols[symbol]; ok {
		return tr.history.snapshot()
	}
	return nil
}

// ShouldHaltTrading recommends a halt for circuit-breaker conditions or
// extreme volatility.
func (m *Monitor) ShouldHaltTrading(symbol string) bool {
	snap := m.CurrentCondition(symbol)
	if snap == nil {
		return false
	}
	return snap.Condition == models.ConditionCircuitBreaker ||
		snap.VolatilityLevel == models.VolatilityExtreme
}

// Session returns the current market session.
func (m *Monitor) Session() models.MarketSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// GlobalCondition returns the latest market-wide rollup, computing one on
// demand if the refresh loop has not run yet.
func (m *Monitor) GlobalCondition() models.GlobalCondition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global.ComputedAt.IsZero() {
		m.global = m.rollupLocked()
	}
	return m.global
}

// Summary is the external read-only view of monitor state.
type Summary struct {
	Session models.MarketSession                 `json:"session"`
	Global  models.GlobalCondition               `json:"global"`
	Symbols map[string]*models.ConditionSnapshot `json:"symbols"`
	Halted  []string                             `json:"halted,omitempty"`
}

// ConditionSummary returns the session, global rollup, and every symbol's
// current snapshot.
func (m *Monitor) ConditionSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{
		Session: m.session,
		Global:  m.global,
		Symbols: make(map[string]*models.ConditionSnapshot, len(m.symbols)),
	}
	if s.Global.ComputedAt.IsZero() {
		s.Global = m.rollupLocked()
	}
	for sym, tr := range m.symbols {
		if tr.current == nil {
			continue
		}
		s.Symbols[sym] = tr.current
		if tr.current.Condition == models.ConditionCircuitBreaker ||
			tr.current.VolatilityLevel == models.VolatilityExtreme {
			s.Halted = append(s.Halted, sym)
		}
	}
	return s
}

// AddCallback registers a synchronous snapshot callback and returns its id.
func (m *Monitor) AddCallback(cb Callback) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.callbacks[id] = cb
	m.mu.Unlock()
	return id
}

// RemoveCallback unregisters a callback by id.
func (m *Monitor) RemoveCallback(id string) {
	m.mu.Lock()
	delete(m.callbacks, id)
	m.mu.Unlock()
}

// Refresh recomputes the market session and the global rollup. The refresh
// loop calls this on its interval; tests may call it directly.
func (m *Monitor) Refresh() {
	now := m.now()
	next := m.calendar.SessionAt(now)

	m.mu.Lock()
	prev := m.session
	changed := next != prev
	if changed {
		m.session = next
		for _, tr := range m.symbols {
			// roll the gap reference: the last traded price becomes the
			// previous-session close
			if tr.lastPrice > 0 {
				tr.sessionRef = tr.lastPrice
				tr.refRolled = true
			}
			tr.sessionObs = 0
		}
	}
	m.global = m.rollupLocked()
	hooks := m.sessionHooks
	m.mu.Unlock()

	if changed {
		m.log.Info("market session changed",
			logger.String("from", string(prev)),
			logger.String("to", string(next)))
		for _, fn := range hooks {
			fn(prev, next)
		}
	}
}

// rollupLocked derives the market-wide condition from the distribution of
// current per-symbol snapshots. Caller holds m.mu.
func (m *Monitor) rollupLocked() models.GlobalCondition {
	g := models.GlobalCondition{Condition: models.ConditionNormal, ComputedAt: m.now()}
	for _, tr := range m.symbols {
		if tr.current == nil {
			continue
		}
		g.Symbols++
		switch tr.current.Condition {
		case models.ConditionCircuitBreaker:
			g.Circuit++
		case models.ConditionHighVolatility:
			g.HighVol++
		case models.ConditionGapUp:
			g.GapUp++
		case models.ConditionGapDown:
			g.GapDown++
		}
	}
	switch {
	case g.Circuit > 0:
		g.Condition = models.ConditionCircuitBreaker
	case g.Symbols > 0 && g.HighVol*2 > g.Symbols:
		g.Condition = models.ConditionHighVolatility
	case g.Symbols > 0 && g.GapUp*10 > g.Symbols*3:
		g.Condition = models.ConditionGapUp
	case g.Symbols > 0 && g.GapDown*10 > g.Symbols*3:
		g.Condition = models.ConditionGapDown
	}
	return g
}

func (m *Monitor) refreshLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// track returns (creating if needed) the owned state for a symbol.
// Caller holds m.mu.
func (m *Monitor) track(symbol string) *symbolTrack {
	tr, ok := m.symbols[symbol]
	if !ok {
		tr = &symbolTrack{
			scores:  newFloatRing(m.cfg.ScoreHistory),
			history: newSnapRing(m.cfg.HistorySize),
		}
		m.symbols[symbol] = tr
	}
	return tr
}
