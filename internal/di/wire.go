//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Core pipeline
		ProvideBus,
		ProvideProcessor,
		ProvideCalendar,
		ProvideMonitor,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideStorage,
		ProvideSnapshotCache,
		ProvideKafkaBridge,

		// Ingest
		ProvideFeedStream,
		ProvideCollector,

		// HTTP surface
		ProvideHTTPHandler,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
