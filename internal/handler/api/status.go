package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/bus"
	"MarketPulse/internal/condition"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
	xlogger "MarketPulse/pkg/logger"
)

// StatusHandler exposes the read-only pipeline API: processor stats, bus
// state, per-symbol history and bars, and condition snapshots. The snapshot
// cache backs the per-symbol reads when in-memory state is empty (e.g. right
// after a restart).
type StatusHandler struct {
	logger  *xlogger.Logger
	bus     *bus.Bus
	proc    *marketdata.Processor
	monitor *condition.Monitor
	store   repository.Storage
	cache   repository.SnapshotCache
}

func NewStatusHandler(
	logger *xlogger.Logger,
	b *bus.Bus,
	proc *marketdata.Processor,
	monitor *condition.Monitor,
	store repository.Storage,
	cache repository.SnapshotCache,
) *StatusHandler {
	return &StatusHandler{logger: logger, bus: b, proc: proc, monitor: monitor, store: store, cache: cache}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api/v1")
	g.GET("/stats", h.Stats)
	g.GET("/bus/stats", h.BusStats)
	g.GET("/bus/history", h.BusHistory)
	g.GET("/symbols/:symbol/last", h.Last)
	g.GET("/symbols/:symbol/history", h.History)
	g.GET("/symbols/:symbol/bars", h.Bars)
	g.GET("/symbols/:symbol/condition", h.Condition)
	g.GET("/symbols/:symbol/condition/history", h.ConditionHistory)
	g.GET("/condition/summary", h.Summary)
}

// Health reports liveness and storage reachability.
func (h *StatusHandler) Health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if h.store != nil {
		if err := h.store.Health(c.Request().Context()); err != nil {
			status["storage"] = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		status["storage"] = "ok"
	}
	return c.JSON(http.StatusOK, status)
}

func (h *StatusHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.proc.Stats())
}

func (h *StatusHandler) BusStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats":  h.bus.Statistics(),
		"queues": h.bus.QueueDepths(),
	})
}

func (h *StatusHandler) BusHistory(c echo.Context) error {
	f := bus.HistoryFilter{
		Kind:   models.EventKind(c.QueryParam("kind")),
		Status: models.EventStatus(c.QueryParam("status")),
		Source: c.QueryParam("source"),
	}
	limit := parseIntDefault(c.QueryParam("limit"), 100)
	return c.JSON(http.StatusOK, h.bus.History(f, limit))
}

func (h *StatusHandler) Last(c echo.Context) error {
	symbol := c.Param("symbol")
	if obs := h.proc.LastObservation(symbol); obs != nil {
		return c.JSON(http.StatusOK, obs)
	}
	var obs models.PriceObservation
	if h.cachedJSON("obs:"+symbol, &obs) {
		return c.JSON(http.StatusOK, &obs)
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown symbol"})
}

// History returns in-memory history, or persisted history when from/to
// query parameters are given and storage is configured.
func (h *StatusHandler) History(c echo.Context) error {
	symbol := c.Param("symbol")
	fromS, toS := c.QueryParam("from"), c.QueryParam("to")
	if fromS != "" && toS != "" && h.store != nil {
		from, err := time.Parse(time.RFC3339, fromS)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad from"})
		}
		to, err := time.Parse(time.RFC3339, toS)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad to"})
		}
		limit := parseIntDefault(c.QueryParam("limit"), 1000)
		obs, err := h.store.LoadHistory(c.Request().Context(), symbol, from, to, limit)
		if err != nil {
			h.logger.Error("load history", xlogger.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage error"})
		}
		return c.JSON(http.StatusOK, obs)
	}
	return c.JSON(http.StatusOK, h.proc.History(symbol))
}

func (h *StatusHandler) Bars(c echo.Context) error {
	symbol := c.Param("symbol")
	iv := c.QueryParam("interval")
	if iv == "" {
		iv = "1m"
	}
	if !repository.IsValidInterval(repository.Interval(iv)) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad interval"})
	}
	return c.JSON(http.StatusOK, h.proc.HistoricalBars(symbol, repository.NormalizeInterval(iv)))
}

func (h *StatusHandler) Condition(c echo.Context) error {
	symbol := c.Param("symbol")
	if snap := h.monitor.CurrentCondition(symbol); snap != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"snapshot": snap,
			"halt":     h.monitor.ShouldHaltTrading(symbol),
		})
	}
	var snap models.ConditionSnapshot
	if h.cachedJSON("cond:"+symbol, &snap) {
		halt := snap.Condition == models.ConditionCircuitBreaker ||
			snap.VolatilityLevel == models.VolatilityExtreme
		return c.JSON(http.StatusOK, map[string]interface{}{
			"snapshot": &snap,
			"halt":     halt,
		})
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "no condition yet"})
}

func (h *StatusHandler) ConditionHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.ConditionHistory(c.Param("symbol")))
}

func (h *StatusHandler) Summary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.ConditionSummary())
}

// cachedJSON loads and decodes a snapshot-cache entry into out.
func (h *StatusHandler) cachedJSON(key string, out interface{}) bool {
	if h.cache == nil {
		return false
	}
	b, ok, err := h.cache.GetBytes(key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
