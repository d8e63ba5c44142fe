package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dashflow/config"
	"dashflow/internal/dashboard"
	"dashflow/internal/market"
	"dashflow/internal/metrics"
	"dashflow/logger"
	"dashflow/models"
	"dashflow/reader"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	resolvedPath := config.ResolveConfigPath(*configPath)
	cfg, err := config.LoadConfig(resolvedPath)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": resolvedPath}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Dashflow.Name,
		"version":     cfg.Dashflow.Version,
		"environment": env,
		"feed":        cfg.Feed.URL,
	}).Info("starting dashflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(cfg.Metrics.CloudWatch, cfg.Dashflow.Name); err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("CloudWatch is required in this environment")
				os.Exit(1)
			}
			log.WithError(err).Warn("continuing without CloudWatch metrics")
		}
	}

	storeOpts, err := market.OptionsFromConfig(cfg.Market)
	if err != nil {
		log.WithError(err).Error("invalid market configuration")
		os.Exit(1)
	}
	store := market.NewStore(storeOpts, log)

	classifier := models.ValueThresholdClassifier{
		Whale: cfg.Market.Classifier.Whale,
		Large: cfg.Market.Classifier.Large,
		Micro: cfg.Market.Classifier.Micro,
	}
	tracker := market.NewTracker(store, market.NewCalculator(classifier))
	defer tracker.Close()

	clientCfg, err := reader.ClientConfigFromConfig(cfg.Feed)
	if err != nil {
		log.WithError(err).Error("invalid feed configuration")
		os.Exit(1)
	}
	handle := reader.NewClient(clientCfg, store, reader.WithLogger(log)).Start(ctx)

	metrics.StartBufferSizeMetrics(ctx, log, 30*time.Second, store)

	server, err := dashboard.NewServer(cfg.Dashboard, dashboard.Sources{
		Store:      store,
		Tracker:    tracker,
		Feed:       handle,
		Prometheus: cfg.Metrics.Prometheus,
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.Dashflow.Name); err != nil {
				log.WithError(err).Error("dashboard stopped")
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	// The dashboard keeps serving the last state after the feed client
	// gives up, so only a signal ends the process.
	go func() {
		<-handle.Done()
		if err := handle.Err(); err != nil {
			log.WithError(err).Error("feed client exited")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	handle.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		<-handle.Done()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("dashflow stopped")
}
