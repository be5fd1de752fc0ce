package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Invalid values are fatal at
// startup; nothing here is re-validated at runtime.
type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Bus struct {
		MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0"`
		BackoffBase time.Duration `yaml:"backoff_base" default:"100ms" validate:"gt=0"`
		HistorySize int           `yaml:"history_size" default:"10000" validate:"gt=0"`
		IdleWait    time.Duration `yaml:"idle_wait" default:"250ms" validate:"gt=0"`
	} `yaml:"bus"`

	MarketData struct {
		StalenessThreshold time.Duration `yaml:"staleness_threshold" default:"5s" validate:"gt=0"`
		MinPrice           float64       `yaml:"min_price" default:"0.01" validate:"gt=0"`
		MaxPrice           float64       `yaml:"max_price" default:"1000000" validate:"gt=0"`
		OutlierZScore      float64       `yaml:"outlier_zscore" default:"3.0" validate:"gt=0"`
		OutlierMaxChange   float64       `yaml:"outlier_max_change_pct" default:"10.0" validate:"gt=0"`
		OutlierWindow      int           `yaml:"outlier_window" default:"10" validate:"gt=1"`
		HistorySize        int           `yaml:"history_size" default:"1000" validate:"gt=0"`
		LatencyWarn        time.Duration `yaml:"latency_warn" default:"500ms" validate:"gt=0"`
		LatencySamples     int           `yaml:"latency_samples" default:"256" validate:"gt=0"`
		PersistWorkers     int           `yaml:"persist_workers" default:"2" validate:"gt=0"`
		PersistBuffer      int           `yaml:"persist_buffer" default:"1024" validate:"gt=0"`
	} `yaml:"market_data"`

	Condition struct {
		VolatilityWindow int           `yaml:"volatility_window" default:"20" validate:"gt=2"`
		HighVolatility   float64       `yaml:"high_volatility" default:"2.0" validate:"gt=0"`
		LowVolatility    float64       `yaml:"low_volatility" default:"0.5" validate:"gte=0"`
		GapThreshold     float64       `yaml:"gap_threshold_pct" default:"2.0" validate:"gt=0"`
		CircuitBreaker   float64       `yaml:"circuit_breaker_pct" default:"10.0" validate:"gt=0"`
		GapLookback      int           `yaml:"gap_lookback" default:"5" validate:"gt=0"`
		TrendWindow      int           `yaml:"trend_window" default:"5" validate:"gte=3"`
		RangeLookback    int           `yaml:"range_lookback" default:"20" validate:"gt=1"`
		RangeMinSpread   float64       `yaml:"range_min_spread_pct" default:"2.0" validate:"gt=0"`
		HistorySize      int           `yaml:"history_size" default:"20" validate:"gt=0"`
		ScoreHistory     int           `yaml:"score_history" default:"100" validate:"gt=0"`
		RefreshInterval  time.Duration `yaml:"refresh_interval" default:"60s" validate:"gt=0"`
	} `yaml:"condition"`

	Session struct {
		Timezone       string `yaml:"timezone" default:"America/New_York"`
		PreMarketOpen  string `yaml:"pre_market_open" default:"04:00"`
		RegularOpen    string `yaml:"regular_open" default:"09:30"`
		RegularClose   string `yaml:"regular_close" default:"16:00"`
		AfterHoursEnd  string `yaml:"after_hours_end" default:"20:00"`
		WeekendsClosed bool   `yaml:"weekends_closed" default:"true"`
	} `yaml:"session"`

	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		MaxTicksPerSec int           `yaml:"max_ticks_per_sec" default:"50"`
	} `yaml:"feed"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic" default:"marketpulse.events"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		Linger       time.Duration `yaml:"linger" default:"500ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Cache struct {
		TTL   time.Duration `yaml:"ttl" default:"60s"`
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Load reads and parses a YAML configuration file, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	return c, nil
}

// Default returns a fully defaulted, validated configuration. Used by tests
// and by callers embedding the pipeline without a config file.
func Default() *Config {
	var c Config
	if err := c.Finalize(); err != nil {
		panic(err) // built-in defaults must be self-consistent
	}
	return &c
}

// Finalize applies defaults and validates the configuration.
func (c *Config) Finalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return c.check()
}

// check covers cross-field rules the struct tags cannot express.
func (c *Config) check() error {
	if c.MarketData.MinPrice >= c.MarketData.MaxPrice {
		return fmt.Errorf("market_data: min_price (%v) must be below max_price (%v)",
			c.MarketData.MinPrice, c.MarketData.MaxPrice)
	}
	if c.Condition.LowVolatility >= c.Condition.HighVolatility {
		return fmt.Errorf("condition: low_volatility (%v) must be below high_volatility (%v)",
			c.Condition.LowVolatility, c.Condition.HighVolatility)
	}
	if c.Condition.GapThreshold >= c.Condition.CircuitBreaker {
		return fmt.Errorf("condition: gap_threshold_pct (%v) must be below circuit_breaker_pct (%v)",
			c.Condition.GapThreshold, c.Condition.CircuitBreaker)
	}
	if c.Feed.Enabled && c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed: websocket_url is required when feed is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers are required when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse: host is required when clickhouse is enabled")
	}
	for _, s := range []string{c.Session.PreMarketOpen, c.Session.RegularOpen, c.Session.RegularClose, c.Session.AfterHoursEnd} {
		if _, err := time.Parse("15:04", s); err != nil {
			return fmt.Errorf("session: bad boundary %q: %w", s, err)
		}
	}
	return nil
}
