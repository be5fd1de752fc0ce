package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/condition"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/marketdata"
	icache "MarketPulse/internal/service/cache"
	"MarketPulse/pkg/logger"
)

func newTestHandler(t *testing.T, cache *icache.TTLCache) *StatusHandler {
	t.Helper()
	cal, err := condition.NewWallClockCalendar(condition.CalendarConfig{
		Timezone:      "UTC",
		PreMarketOpen: "04:00",
		RegularOpen:   "09:30",
		RegularClose:  "16:00",
		AfterHoursEnd: "20:00",
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	proc := marketdata.NewProcessor(logger.Nop(), nil, nil, nil, nil, marketdata.Config{})
	mon := condition.NewMonitor(logger.Nop(), nil, nil, cal, nil, condition.Config{})
	return NewStatusHandler(logger.Nop(), nil, proc, mon, nil, cache)
}

func invoke(t *testing.T, h func(echo.Context) error, path, symbol string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	c.SetParamNames("symbol")
	c.SetParamValues(symbol)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestLastFallsBackToCache(t *testing.T) {
	cache := icache.NewTTLCache()
	want := models.PriceObservation{Symbol: "AAPL", Price: 187.5, Volume: 120, Timestamp: time.Now().UTC()}
	b, err := json.Marshal(&want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := cache.SetBytes("obs:AAPL", b, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	h := newTestHandler(t, cache)

	rec := invoke(t, h.Last, "/api/v1/symbols/:symbol/last", "AAPL")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got models.PriceObservation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Symbol != "AAPL" || got.Price != 187.5 {
		t.Fatalf("got %s @ %.2f, want AAPL @ 187.50", got.Symbol, got.Price)
	}
}

func TestLastUnknownSymbolIs404(t *testing.T) {
	h := newTestHandler(t, icache.NewTTLCache())
	rec := invoke(t, h.Last, "/api/v1/symbols/:symbol/last", "NOPE")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestConditionFallsBackToCacheWithHalt(t *testing.T) {
	cache := icache.NewTTLCache()
	snap := models.ConditionSnapshot{
		Symbol:          "TSLA",
		Condition:       models.ConditionCircuitBreaker,
		VolatilityLevel: models.VolatilityExtreme,
		PriceChangePct:  -9.2,
		Timestamp:       time.Now().UTC(),
	}
	b, err := json.Marshal(&snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := cache.SetBytes("cond:TSLA", b, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	h := newTestHandler(t, cache)

	rec := invoke(t, h.Condition, "/api/v1/symbols/:symbol/condition", "TSLA")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Snapshot models.ConditionSnapshot `json:"snapshot"`
		Halt     bool                     `json:"halt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Snapshot.Condition != models.ConditionCircuitBreaker {
		t.Fatalf("condition = %s, want CIRCUIT_BREAKER", body.Snapshot.Condition)
	}
	if !body.Halt {
		t.Fatalf("halt = false, want true for a circuit-breaker snapshot")
	}
}
