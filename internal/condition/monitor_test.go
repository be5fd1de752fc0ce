package condition

import (
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

type fixedCalendar struct {
	session models.MarketSession
}

func (c *fixedCalendar) SessionAt(time.Time) models.MarketSession { return c.session }

func newTestMonitor(cal *fixedCalendar) *Monitor {
	if cal == nil {
		cal = &fixedCalendar{session: models.SessionRegular}
	}
	return NewMonitor(logger.Nop(), nil, nil, cal, nil, Config{})
}

func feedPrices(m *Monitor, symbol string, prices []float64) *models.ConditionSnapshot {
	var snap *models.ConditionSnapshot
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	for i, p := range prices {
		snap = m.AnalyzeUpdate(&models.PriceObservation{
			Symbol:    symbol,
			Price:     p,
			Volume:    1000,
			Timestamp: at.Add(time.Duration(i) * time.Second),
		})
	}
	return snap
}

func TestGapUpAgainstFirstPrice(t *testing.T) {
	m := newTestMonitor(nil)
	// second observation moves 8% off the reference price
	snap := feedPrices(m, "AAPL", []float64{100, 108})
	if snap.Condition != models.ConditionGapUp {
		t.Fatalf("condition = %s, want GAP_UP", snap.Condition)
	}
	if snap.GapPercent != 8 {
		t.Fatalf("gap = %v%%, want 8%%", snap.GapPercent)
	}
}

func TestCircuitBreakerOnLargeDrop(t *testing.T) {
	m := newTestMonitor(nil)
	snap := feedPrices(m, "AAPL", []float64{100, 85})
	if snap.Condition != models.ConditionCircuitBreaker {
		t.Fatalf("condition = %s, want CIRCUIT_BREAKER", snap.Condition)
	}
	if snap.GapPercent != -15 {
		t.Fatalf("gap = %v%%, want -15%%", snap.GapPercent)
	}
	if !m.ShouldHaltTrading("AAPL") {
		t.Fatalf("expected halt recommendation")
	}
	if m.ShouldHaltTrading("MSFT") {
		t.Fatalf("unknown symbol must not halt")
	}
}

func TestCircuitBreakerBeatsGap(t *testing.T) {
	m := newTestMonitor(nil)
	// 12% exceeds both the gap and the circuit breaker thresholds; the
	// breaker must win
	snap := feedPrices(m, "AAPL", []float64{100, 112})
	if snap.Condition != models.ConditionCircuitBreaker {
		t.Fatalf("condition = %s, want CIRCUIT_BREAKER over GAP_UP", snap.Condition)
	}
}

func TestGapWindowCloses(t *testing.T) {
	m := newTestMonitor(nil)
	// by the sixth observation the gap window is shut: a price far from the
	// session reference no longer reads as a gap
	snap := feedPrices(m, "AAPL", []float64{100, 100.1, 100, 100.1, 100, 108})
	if snap.GapPercent != 0 {
		t.Fatalf("gap = %v%% after window closed, want 0", snap.GapPercent)
	}
	if snap.Condition == models.ConditionGapUp || snap.Condition == models.ConditionCircuitBreaker {
		t.Fatalf("late move classified as %s", snap.Condition)
	}
}

func TestHighVolatilityClassification(t *testing.T) {
	m := newTestMonitor(nil)
	prices := []float64{100}
	p := 100.0
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			p *= 1.03
		} else {
			p *= 0.97
		}
		prices = append(prices, p)
	}
	snap := feedPrices(m, "AAPL", prices)
	if snap.Condition != models.ConditionHighVolatility {
		t.Fatalf("condition = %s (vol %.2f), want HIGH_VOLATILITY", snap.Condition, snap.Volatility)
	}
	if snap.VolatilityLevel < models.VolatilityVeryHigh {
		t.Fatalf("volatility level = %s, want at least VERY_HIGH", snap.VolatilityLevel)
	}
}

func TestLowVolatilityClassification(t *testing.T) {
	m := newTestMonitor(nil)
	prices := make([]float64, 12)
	for i := range prices {
		prices[i] = 100 + float64(i%2)*0.01 // ~0.01% wiggle
	}
	snap := feedPrices(m, "AAPL", prices)
	if snap.Condition != models.ConditionLowVolatility {
		t.Fatalf("condition = %s (vol %.4f), want LOW_VOLATILITY", snap.Condition, snap.Volatility)
	}
}

func TestTrendingUpClassification(t *testing.T) {
	m := newTestMonitor(nil)
	// persistent drift with enough noise to stay out of the volatility bands
	prices := []float64{100}
	p := 100.0
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			p *= 1.02
		} else {
			p *= 1.005
		}
		prices = append(prices, p)
	}
	snap := feedPrices(m, "AAPL", prices)
	if snap.Condition != models.ConditionTrendingUp {
		t.Fatalf("condition = %s (vol %.2f trend %.2f), want TRENDING_UP",
			snap.Condition, snap.Volatility, snap.TrendStrength)
	}
	if snap.TrendStrength <= 0.7 {
		t.Fatalf("trend strength = %v, want > 0.7", snap.TrendStrength)
	}
}

func TestSidewaysClassification(t *testing.T) {
	m := newTestMonitor(nil)
	prices := []float64{100}
	p := 100.0
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			p *= 1.01
		} else {
			p /= 1.01
		}
		prices = append(prices, p)
	}
	snap := feedPrices(m, "AAPL", prices)
	if snap.Condition != models.ConditionSideways {
		t.Fatalf("condition = %s (vol %.2f trend %.2f), want SIDEWAYS",
			snap.Condition, snap.Volatility, snap.TrendStrength)
	}
}

func TestConfidenceRampsWithSamples(t *testing.T) {
	m := newTestMonitor(nil)
	first := feedPrices(m, "AAPL", []float64{100, 100.5})
	if first.Confidence >= 1.0 {
		t.Fatalf("confidence = %v with 2 samples, want < 1.0", first.Confidence)
	}
	var last *models.ConditionSnapshot
	for i := 0; i < 20; i++ {
		last = m.AnalyzeUpdate(&models.PriceObservation{
			Symbol: "AAPL", Price: 100 + float64(i%3)*0.3, Volume: 1000,
			Timestamp: time.Now(),
		})
	}
	if last.Confidence <= first.Confidence {
		t.Fatalf("confidence did not grow with samples: %v -> %v", first.Confidence, last.Confidence)
	}
	if last.Confidence < 0.1 || last.Confidence > 1.0 {
		t.Fatalf("confidence %v out of [0.1, 1.0]", last.Confidence)
	}
}

func TestConditionHistoryBounded(t *testing.T) {
	m := NewMonitor(logger.Nop(), nil, nil, &fixedCalendar{session: models.SessionRegular}, nil, Config{HistorySize: 5})
	for i := 0; i < 12; i++ {
		m.AnalyzeUpdate(&models.PriceObservation{Symbol: "AAPL", Price: 100, Timestamp: time.Now()})
	}
	hist := m.ConditionHistory("AAPL")
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want bounded to 5", len(hist))
	}
	if m.ConditionHistory("MSFT") != nil {
		t.Fatalf("unknown symbol returned history")
	}
}

func TestCallbacks(t *testing.T) {
	m := newTestMonitor(nil)
	var got []*models.ConditionSnapshot
	id := m.AddCallback(func(s *models.ConditionSnapshot) { got = append(got, s) })

	m.AnalyzeUpdate(&models.PriceObservation{Symbol: "AAPL", Price: 100, Timestamp: time.Now()})
	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(got))
	}

	m.RemoveCallback(id)
	m.AnalyzeUpdate(&models.PriceObservation{Symbol: "AAPL", Price: 101, Timestamp: time.Now()})
	if len(got) != 1 {
		t.Fatalf("callback fired after removal")
	}
}

func TestGlobalRollup(t *testing.T) {
	m := newTestMonitor(nil)
	feedPrices(m, "AAPL", []float64{100, 100.1})
	feedPrices(m, "MSFT", []float64{200, 200.1})
	g := m.GlobalCondition()
	if g.Condition != models.ConditionNormal || g.Symbols != 2 {
		t.Fatalf("global = %+v, want NORMAL over 2 symbols", g)
	}

	// one circuit breaker dominates the whole market
	feedPrices(m, "TSLA", []float64{100, 85})
	m.Refresh()
	g = m.GlobalCondition()
	if g.Condition != models.ConditionCircuitBreaker || g.Circuit != 1 {
		t.Fatalf("global = %+v, want CIRCUIT_BREAKER", g)
	}
}

func TestSessionRolloverReopensGapWindow(t *testing.T) {
	cal := &fixedCalendar{session: models.SessionPreMarket}
	m := newTestMonitor(cal)

	var rolls [][2]models.MarketSession
	m.OnSessionChange(func(old, new models.MarketSession) {
		rolls = append(rolls, [2]models.MarketSession{old, new})
	})

	// exhaust the gap window during the first session
	feedPrices(m, "AAPL", []float64{100, 100.1, 100, 100.1, 100, 100.1})

	cal.session = models.SessionRegular
	m.Refresh()
	if m.Session() != models.SessionRegular {
		t.Fatalf("session = %s, want REGULAR", m.Session())
	}
	if len(rolls) != 1 || rolls[0][0] != models.SessionPreMarket || rolls[0][1] != models.SessionRegular {
		t.Fatalf("session hooks = %v", rolls)
	}

	// the reference rolled to the last pre-market price, so the very first
	// regular-session observation already reads as a gap
	snap := m.AnalyzeUpdate(&models.PriceObservation{Symbol: "AAPL", Price: 108, Timestamp: time.Now()})
	if snap.Condition != models.ConditionGapUp {
		t.Fatalf("condition on first tick after session roll = %s (gap %.2f%%), want GAP_UP", snap.Condition, snap.GapPercent)
	}
	if snap.GapPercent < 7.5 || snap.GapPercent > 8.5 {
		t.Fatalf("gap = %.2f%%, want ~7.9%%", snap.GapPercent)
	}

	// refreshing without a session change must not fire hooks again
	m.Refresh()
	if len(rolls) != 1 {
		t.Fatalf("hooks fired on unchanged session")
	}
}

func TestVolatilityScoreMonotonic(t *testing.T) {
	calm := volatilityScore([]float64{100, 100.1, 100, 100.1, 100})
	wild := volatilityScore([]float64{100, 103, 97, 104, 96})
	if calm >= wild {
		t.Fatalf("volatility not monotonic: calm %v >= wild %v", calm, wild)
	}
	if volatilityScore([]float64{100, 101}) != 0 {
		t.Fatalf("volatility needs at least two returns")
	}
}
