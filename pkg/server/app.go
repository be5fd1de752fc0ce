package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketPulse/internal/bus"
	"MarketPulse/internal/condition"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/usecase"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

// App encapsulates the entire pipeline lifecycle: event bus, processor,
// condition monitor, optional feed collector and Kafka bridge, and the
// HTTP surface.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	bus        *bus.Bus
	proc       *marketdata.Processor
	monitor    *condition.Monitor
	collector  *usecase.Collector
	bridge     *usecase.KafkaBridge
	chClient   *pkgch.Client
	httpServer *xhttp.Server
	handler    xhttp.Handler
}

// New creates an App with all dependencies. Collector, bridge, and the
// ClickHouse client may be nil when the corresponding backends are disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	b *bus.Bus,
	proc *marketdata.Processor,
	monitor *condition.Monitor,
	collector *usecase.Collector,
	bridge *usecase.KafkaBridge,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		bus:       b,
		proc:      proc,
		monitor:   monitor,
		collector: collector,
		bridge:    bridge,
		chClient:  chClient,
		handler:   handler,
	}
}

// Run starts all components and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.bus.Start(); err != nil {
		return err
	}
	if a.bridge != nil {
		ids := a.bridge.Register(a.bus)
		a.log.Info("kafka bridge registered", applogger.Int("handlers", len(ids)))
	}
	if err := a.proc.Start(); err != nil {
		return err
	}
	if err := a.monitor.Start(); err != nil {
		return err
	}
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
	}

	a.httpServer = xhttp.NewServer(a.log, a.handler,
		xhttp.WithHost("0.0.0.0"),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops components in reverse dependency order: ingest first so no
// new events enter, the bus last so in-flight events drain.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Warn("http shutdown error", applogger.Error(err))
		}
	}
	if err := a.monitor.Stop(ctx); err != nil {
		a.log.Warn("monitor stop error", applogger.Error(err))
	}
	if err := a.proc.Stop(ctx); err != nil {
		a.log.Warn("processor stop error", applogger.Error(err))
	}
	if err := a.bus.Stop(ctx); err != nil {
		a.log.Warn("bus stop error", applogger.Error(err))
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.log.Warn("kafka bridge close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
