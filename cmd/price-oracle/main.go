package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/logging"
	"github.com/rz1989s/saros-price-oracle/pkg/metrics"
	"github.com/rz1989s/saros-price-oracle/pkg/server/api"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/quality"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
	"github.com/rz1989s/saros-price-oracle/pkg/version"

	// Import sources to register them
	_ "github.com/rz1989s/saros-price-oracle/pkg/server/sources/cex"
	_ "github.com/rz1989s/saros-price-oracle/pkg/server/sources/evm"
	_ "github.com/rz1989s/saros-price-oracle/pkg/server/sources/oracle"
	_ "github.com/rz1989s/saros-price-oracle/pkg/server/sources/sim"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s\n", version.AgentString())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting price oracle", "version", version.Version)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- run(ctx, cfg, logger)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}

	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// Initialize source adapters
	srcs := make(map[string]sources.Source)
	for _, sourceCfg := range cfg.Sources {
		if !sourceCfg.Enabled {
			continue
		}

		logger.Info("Initializing source", "type", sourceCfg.Type, "name", sourceCfg.Name)

		// Add logger to config so sources don't create their own
		if sourceCfg.Config == nil {
			sourceCfg.Config = make(map[string]interface{})
		}
		sourceCfg.Config["logger"] = logger

		source, err := sources.Create(sourceCfg.Type, sourceCfg.Name, sourceCfg.Config)
		if err != nil {
			logger.Warn("Failed to create source", "type", sourceCfg.Type, "name", sourceCfg.Name, "error", err)
			continue
		}

		srcs[source.Name()] = source
		logger.Info("Source ready", "source", source.Name(), "symbols", source.Symbols())
	}

	if len(srcs) == 0 {
		return fmt.Errorf("no sources available")
	}

	// Merge per-symbol feed configs
	feeds, err := config.BuildFeedConfigs(cfg)
	if err != nil {
		return fmt.Errorf("failed to build feed configs: %w", err)
	}

	tracker := history.NewTracker(history.Bounds{
		Retention:            cfg.History.Retention.ToDuration(),
		MaxPoints:            cfg.History.MaxDataPoints,
		CompressionThreshold: cfg.History.CompressionThreshold,
	}, logger)

	manager := feed.NewManager(feeds, srcs, tracker, cfg.Server.MaxConcurrentFetches, logger)
	reports := quality.NewGenerator(manager, tracker, 10*time.Second, logger)

	// Background refresh for every configured symbol
	for _, symbol := range manager.Symbols() {
		if err := manager.StartTracking(symbol); err != nil {
			logger.Warn("Failed to start tracking", "symbol", symbol, "error", err)
		}
	}

	// HTTP API server, with WebSocket streaming if enabled
	server := api.NewServer(cfg.Server.HTTP.Addr, manager, reports, tracker, logger)

	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(manager, logger)
		server.SetWebSocketServer(wsServer)
		wsServer.Start()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Stop(shutdownCtx)
		if wsServer != nil {
			wsServer.Stop()
		}
		manager.Close()
	}()

	return server.Start()
}
