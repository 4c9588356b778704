package bootstrap

import (
	"context"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/BlearKK/deepdriver/internal/config"
	"github.com/BlearKK/deepdriver/internal/controller"
	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/internal/search"
	"github.com/BlearKK/deepdriver/internal/service"
	"github.com/BlearKK/deepdriver/internal/stream"
	"github.com/BlearKK/deepdriver/pkg/investigate"
	"github.com/BlearKK/deepdriver/pkg/nrolist"
)

type Container struct {
	SearchController controller.ISearchController

	Registry *search.Registry
	Logger   logger.ILogger
}

func NewContainer(ctx context.Context, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	// Buffered so a slow or absent stream consumer never blocks dispatch.
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)

	// 3. Reference list + lookup provider
	items, err := nrolist.Load(cfg.Search.ReferenceListPath)
	if err != nil {
		log.Printf("[WARN] Failed to load reference list from %s: %v. Using built-in fallback", cfg.Search.ReferenceListPath, err)
		items = nrolist.Default()
	}
	log.Printf("[INFO] Loaded %d reference organizations", len(items))

	investigator, err := investigate.NewInvestigator(cfg.Lookup.Provider, cfg.Lookup.OpenRouterKey, cfg.Lookup.Model)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize lookup provider: %v", err)
	}
	log.Printf("[INFO] Using Lookup Provider: %s (%s)", cfg.Lookup.Provider, cfg.Lookup.Model)

	// 4. Search domain
	registry := search.NewRegistry(cfg.Search.SessionTTL)
	dispatcher := search.NewDispatcher(
		investigator,
		pubSub,
		sysLogger,
		cfg.Search.WorkerPoolSize,
		cfg.Search.BatchSize,
		cfg.Search.LookupTimeout,
	)

	// Stream transport gets its own file-only logger so frame-level chatter
	// stays out of the main application log.
	streamLogger := logger.NewIsolatedLogger(cfg.App.StreamLogFilePath)
	streamer := stream.NewStreamer(pubSub, streamLogger, stream.Config{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MaxConnectionAge:  cfg.Stream.MaxConnectionAge,
		SimulateTimeout:   cfg.Stream.SimulateTimeout,
		SimulateAfter:     cfg.Stream.SimulateTimeoutAfter,
	})
	if cfg.Stream.SimulateTimeout {
		log.Printf("[WARN] SIMULATE_TIMEOUT active: streams will be dropped after %s", cfg.Stream.SimulateTimeoutAfter)
	}

	searchService := service.NewSearchService(
		ctx,
		registry,
		dispatcher,
		items,
		cfg.Search.PollWindow,
		cfg.Search.BatchSize,
		sysLogger,
	)

	return &Container{
		SearchController: controller.NewSearchController(searchService, streamer, sysLogger),
		Registry:         registry,
		Logger:           sysLogger,
	}
}
