package repository

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
)

// TickStream is an inbound source of raw ticks (WebSocket feed, replay, ...).
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.RawTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Storage is the durable persistence collaborator. All calls are made off
// the validation critical path; the pipeline never depends on their success.
type Storage interface {
	Init(ctx context.Context) error
	StoreObservation(ctx context.Context, obs *models.PriceObservation) error
	StoreBar(ctx context.Context, bar *models.HistoricalBar) error
	LoadHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PriceObservation, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline observability counters.
type Metrics interface {
	RecordTick(symbol string, result models.ValidationResult)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordEvent(kind string, priority string, outcome string)
}

// Calendar decides the market session for a wall-clock instant. It exists so
// session boundaries (timezones, holidays) are swappable rather than hardcoded.
type Calendar interface {
	SessionAt(t time.Time) models.MarketSession
}

// SnapshotCache holds latest-value state (last observation, current
// condition) for cheap reads by outside consumers.
type SnapshotCache interface {
	GetBytes(key string) ([]byte, bool, error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
