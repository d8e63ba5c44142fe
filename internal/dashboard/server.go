package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dashflow/config"
	"dashflow/internal/market"
	"dashflow/internal/metrics"
	"dashflow/logger"
)

// FeedStatus is the liveness view of the feed client; *reader.Handle
// implements it.
type FeedStatus interface {
	LastHeartbeat() time.Time
	Stopped() bool
}

// Sources are the read-only inputs served by the dashboard.
type Sources struct {
	Store   *market.Store
	Tracker *market.Tracker
	Feed    FeedStatus
	// Prometheus mounts the default registry on /metrics.
	Prometheus bool
}

// Server exposes the market store, recent metrics and recent logs over HTTP.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	src           Sources
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, src Sources, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if src.Store == nil {
		return nil, errors.New("dashboard requires a market store")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	cfg.Address = normalizeAddress(cfg.Address)

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		src:           src,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: metrics.RegisterMetricHandler(metricStore.handle),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		routes := router.Routes()
		paths := make([]string, 0, len(routes))
		for _, r := range routes {
			paths = append(paths, r.Method+" "+r.Path)
		}
		c.JSON(http.StatusOK, gin.H{"app": appName, "routes": paths})
	})
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.GET("/market", s.handleMarket)
	api.GET("/trades", s.handleTrades)
	api.GET("/candles", s.handleCandles)
	api.GET("/orderbook", s.handleOrderBook)
	api.GET("/chart/candles", s.handleCandleChart)
	api.GET("/chart/depth", s.handleDepthChart)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)

	if s.src.Prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if !strings.Contains(addr, ":") || net.ParseIP(addr) != nil {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
