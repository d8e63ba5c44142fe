// Command feedserver produces the market envelope stream consumed by the
// dashboard: a WebSocket broadcast on /ws plus optional NATS and Kafka
// publishing.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"dashflow/config"
	"dashflow/internal/metrics"
	"dashflow/internal/source"
	"dashflow/logger"
	"dashflow/writer"
)

const statsInterval = 30 * time.Second

func main() {
	log := logger.GetLogger()

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
		"service":     cfg.Dashflow.Name + "-feedserver",
		"version":     cfg.Dashflow.Version,
		"environment": env,
		"source":      cfg.Server.Source,
		"symbol":      cfg.Server.Symbol,
	}).Info("starting feed server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, statsInterval)
	}
	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(cfg.Metrics.CloudWatch, cfg.Dashflow.Name+"-feedserver"); err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("CloudWatch is required in this environment")
				os.Exit(1)
			}
			log.WithError(err).Warn("continuing without CloudWatch metrics")
		}
	}

	src, err := source.New(cfg.Server, log)
	if err != nil {
		log.WithError(err).Error("failed to create market source")
		os.Exit(1)
	}

	hub := writer.NewHub(writer.DefaultClientBuffer, log)
	sinks := writer.Fanout{hub}
	reporters := []writer.StatsReporter{hub}
	sizers := []metrics.BufferSizer{hub}

	var natsPub *writer.NatsPublisher
	if cfg.Server.Publish.Nats.Enabled {
		natsPub, err = writer.NewNatsPublisher(cfg.Server.Publish.Nats, log)
		if err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("failed to create NATS publisher")
				os.Exit(1)
			}
			log.WithError(err).Warn("continuing without NATS publishing")
		} else {
			sinks = append(sinks, natsPub)
			reporters = append(reporters, natsPub)
		}
	}

	var kafkaPub *writer.KafkaPublisher
	if cfg.Server.Publish.Kafka.Enabled {
		kafkaPub, err = writer.NewKafkaPublisher(cfg.Server.Publish.Kafka, log)
		if err != nil {
			log.WithError(err).Error("failed to create Kafka publisher")
			os.Exit(1)
		}
		if err := kafkaPub.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start Kafka publisher")
			os.Exit(1)
		}
		sinks = append(sinks, kafkaPub)
		reporters = append(reporters, kafkaPub)
		sizers = append(sizers, kafkaPub)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", gin.WrapH(hub))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"source":  src.Name(),
			"clients": hub.Clients(),
		})
	})
	if cfg.Metrics.Prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithComponent("feed_server").WithFields(logger.Fields{"address": cfg.Server.Address}).Info("feed server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("feed server listener failed")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(ctx, sinks); err != nil {
			log.WithError(err).WithFields(logger.Fields{"source": src.Name()}).Error("market source stopped")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.ReportStats(ctx, log, statsInterval, reporters...)
	}()

	metrics.StartBufferSizeMetrics(ctx, log, statsInterval, sizers...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("feed server shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if kafkaPub != nil {
		log.Info("stopping Kafka publisher")
		if err := kafkaPub.Stop(); err != nil {
			log.WithError(err).Warn("kafka writer close failed")
		}
	}
	if natsPub != nil {
		log.Info("draining NATS publisher")
		if err := natsPub.Close(); err != nil {
			log.WithError(err).Warn("nats drain failed")
		}
	}

	log.Info("feed server stopped")
}
