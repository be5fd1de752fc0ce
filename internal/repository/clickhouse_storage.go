package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// ClickHouseStorage persists observations and aggregated bars to ClickHouse.
// It implements Storage; all writes happen off the validation critical path.
type ClickHouseStorage struct {
	db        *sql.DB
	obsTable  string
	barsTable string
}

// NewClickHouseStorage creates ClickHouse-backed storage over an existing
// connection pool.
func NewClickHouseStorage(db *sql.DB, obsTable, barsTable string) repository.Storage {
	return &ClickHouseStorage{db: db, obsTable: obsTable, barsTable: barsTable}
}

// Init creates the tables if they do not exist (idempotent).
func (s *ClickHouseStorage) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts DateTime64(3),
			symbol LowCardinality(String),
			price Float64,
			bid Float64,
			ask Float64,
			volume Float64,
			change Float64,
			change_pct Float64,
			corrected UInt8,
			raw_price Float64,
			source LowCardinality(String)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (symbol, ts)`, s.obsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket DateTime,
			symbol LowCardinality(String),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			vwap Float64,
			samples UInt32
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(bucket)
		ORDER BY (symbol, bucket)`, s.barsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) StoreObservation(ctx context.Context, obs *models.PriceObservation) error {
	if obs == nil || obs.Symbol == "" {
		return fmt.Errorf("observation is nil or unkeyed")
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, bid, ask, volume, change, change_pct, corrected, raw_price, source) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.obsTable)
	corrected := uint8(0)
	if obs.Corrected {
		corrected = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		obs.Timestamp,
		obs.Symbol,
		obs.Price,
		obs.Bid,
		obs.Ask,
		obs.Volume,
		obs.Change,
		obs.ChangePercent,
		corrected,
		obs.RawPrice,
		obs.Source,
	)
	if err != nil {
		return fmt.Errorf("store observation: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) StoreBar(ctx context.Context, bar *models.HistoricalBar) error {
	if bar == nil || bar.Symbol == "" {
		return fmt.Errorf("bar is nil or unkeyed")
	}
	q := fmt.Sprintf("INSERT INTO %s (bucket, symbol, open, high, low, close, volume, vwap, samples) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.barsTable)
	_, err := s.db.ExecContext(ctx, q,
		bar.Start,
		bar.Symbol,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
		bar.VWAP,
		uint32(bar.Samples),
	)
	if err != nil {
		return fmt.Errorf("store bar: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) LoadHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.PriceObservation, error) {
	q := fmt.Sprintf("SELECT symbol, ts, price, bid, ask, volume, change, change_pct, corrected, raw_price, source FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.obsTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []*models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		var corrected uint8
		if err := rows.Scan(&o.Symbol, &o.Timestamp, &o.Price, &o.Bid, &o.Ask, &o.Volume, &o.Change, &o.ChangePercent, &corrected, &o.RawPrice, &o.Source); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Corrected = corrected != 0
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is owned by the clickhouse client.
func (s *ClickHouseStorage) Close() error {
	return nil
}
