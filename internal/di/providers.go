package di

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/bus"
	"MarketPulse/internal/condition"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/marketdata"
	internalrepo "MarketPulse/internal/repository"
	icache "MarketPulse/internal/service/cache"
	"MarketPulse/internal/service/feed"
	"MarketPulse/internal/usecase"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return logger.New(&logger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideBus creates the priority event bus.
func ProvideBus(log *logger.Logger, m repository.Metrics, cfg *config.Config) *bus.Bus {
	return bus.New(log, m, bus.Config{
		MaxRetries:  cfg.Bus.MaxRetries,
		BackoffBase: cfg.Bus.BackoffBase,
		HistorySize: cfg.Bus.HistorySize,
		IdleWait:    cfg.Bus.IdleWait,
	})
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// backend is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStorage creates ClickHouse-backed storage and ensures the schema,
// or returns nil without a client.
func ProvideStorage(chClient *pkgch.Client, cfg *config.Config) (repository.Storage, error) {
	if chClient == nil {
		return nil, nil
	}
	db := cfg.ClickHouse.Database
	store := internalrepo.NewClickHouseStorage(chClient.DB(), db+".observations", db+".bars")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := chClient.InitSchema(ctx, []string{"CREATE DATABASE IF NOT EXISTS " + db}); err != nil {
		return nil, fmt.Errorf("clickhouse database: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideSnapshotCache picks Redis when configured, in-process TTL otherwise.
func ProvideSnapshotCache(cfg *config.Config) repository.SnapshotCache {
	if cfg.Cache.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideProcessor creates the market data processor.
func ProvideProcessor(
	log *logger.Logger,
	m repository.Metrics,
	b *bus.Bus,
	store repository.Storage,
	cache repository.SnapshotCache,
	cfg *config.Config,
) *marketdata.Processor {
	return marketdata.NewProcessor(log, m, b, store, cache, marketdata.Config{
		Validator: marketdata.ValidatorConfig{
			Staleness:    cfg.MarketData.StalenessThreshold,
			MinPrice:     cfg.MarketData.MinPrice,
			MaxPrice:     cfg.MarketData.MaxPrice,
			ZScoreMax:    cfg.MarketData.OutlierZScore,
			MaxChangePct: cfg.MarketData.OutlierMaxChange,
			Window:       cfg.MarketData.OutlierWindow,
		},
		HistorySize:    cfg.MarketData.HistorySize,
		LatencyWarn:    cfg.MarketData.LatencyWarn,
		LatencySamples: cfg.MarketData.LatencySamples,
		PersistWorkers: cfg.MarketData.PersistWorkers,
		PersistBuffer:  cfg.MarketData.PersistBuffer,
		CacheTTL:       cfg.Cache.TTL,
	})
}

// ProvideCalendar creates the wall-clock session calendar.
func ProvideCalendar(cfg *config.Config) (repository.Calendar, error) {
	return condition.NewWallClockCalendar(condition.CalendarConfig{
		Timezone:       cfg.Session.Timezone,
		PreMarketOpen:  cfg.Session.PreMarketOpen,
		RegularOpen:    cfg.Session.RegularOpen,
		RegularClose:   cfg.Session.RegularClose,
		AfterHoursEnd:  cfg.Session.AfterHoursEnd,
		WeekendsClosed: cfg.Session.WeekendsClosed,
	})
}

// ProvideMonitor creates the market condition monitor and wires the session
// rollover hook back into the processor.
func ProvideMonitor(
	log *logger.Logger,
	m repository.Metrics,
	b *bus.Bus,
	calendar repository.Calendar,
	cache repository.SnapshotCache,
	proc *marketdata.Processor,
	cfg *config.Config,
) *condition.Monitor {
	mon := condition.NewMonitor(log, m, b, calendar, cache, condition.Config{
		VolatilityWindow: cfg.Condition.VolatilityWindow,
		HighVolatility:   cfg.Condition.HighVolatility,
		LowVolatility:    cfg.Condition.LowVolatility,
		GapThreshold:     cfg.Condition.GapThreshold,
		CircuitBreaker:   cfg.Condition.CircuitBreaker,
		GapLookback:      cfg.Condition.GapLookback,
		TrendWindow:      cfg.Condition.TrendWindow,
		RangeLookback:    cfg.Condition.RangeLookback,
		RangeMinSpread:   cfg.Condition.RangeMinSpread,
		HistorySize:      cfg.Condition.HistorySize,
		ScoreHistory:     cfg.Condition.ScoreHistory,
		RefreshInterval:  cfg.Condition.RefreshInterval,
		CacheTTL:         cfg.Cache.TTL,
	})
	// A session roll invalidates session open/high/low on the processor side.
	mon.OnSessionChange(func(_, _ models.MarketSession) {
		proc.ResetSessionState()
	})
	return mon
}

// ProvideFeedStream creates the WebSocket tick stream, or nil when disabled.
func ProvideFeedStream(log *logger.Logger, cfg *config.Config) repository.TickStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(log, feed.Config{
		APIKey:         cfg.Feed.APIKey,
		WebsocketURL:   cfg.Feed.WebSocketURL,
		Symbols:        cfg.Feed.Symbols,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
	})
}

// ProvideCollector creates the ingest collector, or nil without a feed.
func ProvideCollector(
	log *logger.Logger,
	stream repository.TickStream,
	proc *marketdata.Processor,
	mon *condition.Monitor,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.Collector {
	if stream == nil {
		return nil
	}
	return usecase.NewCollector(log, stream, proc, mon, m,
		usecase.WithMaxRPS(cfg.Feed.MaxTicksPerSec))
}

// ProvideKafkaBridge creates the Kafka egress bridge, or nil when disabled.
func ProvideKafkaBridge(log *logger.Logger, cfg *config.Config) (*usecase.KafkaBridge, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatchSize(cfg.Kafka.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	topic := cfg.Kafka.Topic
	return usecase.NewKafkaBridge(log, producer, topic+".updates", topic+".conditions"), nil
}

// ProvideHTTPHandler creates the read-only status API handler.
func ProvideHTTPHandler(
	log *logger.Logger,
	b *bus.Bus,
	proc *marketdata.Processor,
	mon *condition.Monitor,
	store repository.Storage,
	cache repository.SnapshotCache,
) xhttp.Handler {
	return api.NewStatusHandler(log, b, proc, mon, store, cache)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	b *bus.Bus,
	proc *marketdata.Processor,
	mon *condition.Monitor,
	collector *usecase.Collector,
	bridge *usecase.KafkaBridge,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, b, proc, mon, collector, bridge, chClient, handler)
}
