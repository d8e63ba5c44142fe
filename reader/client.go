package reader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dashflow/config"
	"dashflow/internal/metrics"
	"dashflow/internal/reconnect"
	"dashflow/logger"
	"dashflow/models"
)

const component = "feed_client"

var (
	// ErrMaxAttempts is returned by Handle.Err when the reconnection policy
	// gave up.
	ErrMaxAttempts = errors.New("max reconnection attempts reached")
	// ErrUnsupportedScheme is returned when no Dialer is registered for the
	// feed URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported feed url scheme")
)

var timeNow = time.Now

// Sink receives decoded market data and connection status. *market.Store
// implements it.
type Sink interface {
	AddTrade(models.Trade)
	UpdateOrderBook(models.OrderBookSnapshot)
	UpdateTicker(models.Ticker)
	UpdateCandle(models.Candle)
	SetDepth(models.MarketDepth)
	SetConnectionState(models.ConnectionState)
	SetError(msg string)
}

// ClientConfig is the construction-time configuration of a Client.
type ClientConfig struct {
	URL               string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	Policy            reconnect.Policy
}

// ClientConfigFromConfig builds a ClientConfig from the feed section.
func ClientConfigFromConfig(cfg config.FeedConfig) (ClientConfig, error) {
	policy, err := reconnect.FromConfig(cfg.Reconnect)
	if err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{
		URL:               cfg.URL,
		ConnectTimeout:    cfg.ConnectTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Policy:            policy,
	}, nil
}

type Option func(*Client)

// WithDialer registers d for the URL scheme, replacing the built-in one.
func WithDialer(scheme string, d Dialer) Option {
	return func(c *Client) { c.dialers[scheme] = d }
}

func WithLogger(log *logger.Log) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDecodeLogLimit caps how many decode failures per second are logged.
// Failures past the limit are still counted.
func WithDecodeLogLimit(perSecond int) Option {
	return func(c *Client) {
		c.decodeLog = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

// Client owns the connection loop for one feed and writes into one Sink.
type Client struct {
	cfg       ClientConfig
	sink      Sink
	dialers   map[string]Dialer
	log       *logger.Log
	decodeLog *rate.Limiter
}

func NewClient(cfg ClientConfig, sink Sink, opts ...Option) *Client {
	if cfg.Policy == nil {
		cfg.Policy = reconnect.DefaultExponential()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	c := &Client{
		cfg:       cfg,
		sink:      sink,
		dialers:   defaultDialers(),
		log:       logger.GetLogger(),
		decodeLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle controls a running connection loop.
type Handle struct {
	cancel        context.CancelFunc
	stopped       atomic.Bool
	done          chan struct{}
	lastHeartbeat atomic.Int64

	mu  sync.Mutex
	err error
}

// Stop requests termination. The loop observes it at the next state
// transition, during a pending read or during the reconnect wait. Stop is
// idempotent.
func (h *Handle) Stop() {
	h.stopped.Store(true)
	h.cancel()
}

func (h *Handle) Stopped() bool { return h.stopped.Load() }

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the loop ended: nil after Stop or context cancellation,
// ErrMaxAttempts when retries were exhausted, or a configuration error.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// LastHeartbeat is the local receive time of the latest heartbeat, or the
// zero time when none arrived yet.
func (h *Handle) LastHeartbeat() time.Time {
	ms := h.lastHeartbeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Start launches the connection loop in its own goroutine. Cancelling ctx
// has the same effect as Handle.Stop.
func (c *Client) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, h)
	return h
}

func (c *Client) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer h.cancel()

	log := c.log.WithComponent(component).WithFields(logger.Fields{"url": c.cfg.URL})

	u, dialer, err := c.resolve()
	if err != nil {
		log.WithError(err).Error("cannot start feed client")
		c.sink.SetError(err.Error())
		c.setState(models.StateDisconnected)
		h.fail(err)
		return
	}

	policy := c.cfg.Policy
	attempt := 0

	for {
		if ctx.Err() != nil {
			break
		}
		c.setState(models.StateConnecting)

		start := timeNow()
		conn, err := c.dial(ctx, dialer, u)
		if err == nil {
			latency := timeNow().Sub(start)
			c.setState(models.StateConnected)
			policy.Reset()
			attempt = 0

			logger.LogPerformanceEntry(log, component, "connect", latency, nil)
			metrics.EmitMetric(c.log, component, "connect_latency", latency, "gauge", logger.Fields{"unit": "milliseconds"})

			readErr := c.session(ctx, conn, h, log)
			if ctx.Err() != nil {
				break
			}
			if readErr != nil {
				log.WithError(readErr).Warn("feed connection lost")
			}
			c.setState(models.StateDisconnected)
		} else {
			if ctx.Err() != nil {
				break
			}
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("feed connection failed")
			c.sink.SetError("Connection failed: " + err.Error())
		}

		if !policy.ShouldReconnect(attempt) {
			log.WithFields(logger.Fields{"attempts": attempt}).Error("giving up on feed")
			c.sink.SetError(ErrMaxAttempts.Error())
			c.setState(models.StateDisconnected)
			h.fail(ErrMaxAttempts)
			return
		}

		c.setState(models.StateReconnecting)
		delay := policy.Delay(attempt)

		logger.IncrementReconnect()
		metrics.IncReconnect()
		metrics.EmitMetric(c.log, component, "reconnect_attempt", attempt+1, "gauge", logger.Fields{"unit": "count"})
		log.WithFields(logger.Fields{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		}).Info("reconnecting to feed")

		if !wait(ctx, delay) {
			break
		}
		attempt++
	}

	c.setState(models.StateStopped)
	log.Info("feed client stopped")
}

func (c *Client) resolve() (*url.URL, Dialer, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed url: %w", err)
	}
	dialer, ok := c.dialers[u.Scheme]
	if !ok || dialer == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return u, dialer, nil
}

func (c *Client) dial(ctx context.Context, dialer Dialer, u *url.URL) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, err := dialer.Dial(dialCtx, u)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// session reads frames until the connection fails or ctx ends. The
// connection is always closed on return.
func (c *Client) session(ctx context.Context, conn Conn, h *Handle, log *logger.Entry) error {
	stats := metrics.FeedSessionStats{URL: c.cfg.URL}
	started := timeNow()

	sessionDone := make(chan struct{})
	var watchers sync.WaitGroup
	watchers.Add(1)
	go func() {
		defer watchers.Done()
		c.watch(ctx, conn, h, started, sessionDone, log)
	}()

	err := c.readLoop(ctx, conn, h, &stats, log)

	close(sessionDone)
	watchers.Wait()
	conn.Close()

	stats.Duration = timeNow().Sub(started)
	metrics.ReportFeedSession(c.log, stats)
	return err
}

// watch closes conn when ctx ends so a blocked read returns, and warns when
// heartbeats go stale.
func (c *Client) watch(ctx context.Context, conn Conn, h *Handle, started time.Time, sessionDone <-chan struct{}, log *logger.Entry) {
	var tick <-chan time.Time
	if c.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(c.cfg.HeartbeatInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-sessionDone:
			return
		case <-tick:
			last := h.LastHeartbeat()
			if last.Before(started) {
				last = started
			}
			if silent := timeNow().Sub(last); silent > 2*c.cfg.HeartbeatInterval {
				log.WithFields(logger.Fields{"silent_ms": silent.Milliseconds()}).Warn("no heartbeat from feed")
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn, h *Handle, stats *metrics.FeedSessionStats, log *logger.Entry) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		stats.Frames++
		logger.IncrementFrameRead(len(frame))
		metrics.IncFrames()

		msg, err := models.DecodeMessage(frame)
		if err != nil {
			stats.DecodeErrors++
			logger.IncrementDecodeError()
			metrics.IncDecodeError()
			if c.decodeLog.Allow() {
				log.WithError(err).WithFields(logger.Fields{"size": len(frame)}).Warn("skipping undecodable frame")
			}
			continue
		}

		stats.Messages++
		if msg.Kind == models.KindHeartbeat {
			stats.Heartbeats++
		}
		c.dispatch(msg, h)
	}
}

// dispatch routes one decoded message to the sink.
func (c *Client) dispatch(msg models.Message, h *Handle) {
	logger.IncrementMessage(string(msg.Kind))
	metrics.IncMessage(string(msg.Kind))

	switch msg.Kind {
	case models.KindTrade:
		c.sink.AddTrade(*msg.Trade)
	case models.KindOrderBook:
		c.sink.UpdateOrderBook(*msg.OrderBook)
	case models.KindTicker:
		c.sink.UpdateTicker(*msg.Ticker)
	case models.KindCandle:
		c.sink.UpdateCandle(*msg.Candle)
	case models.KindDepth:
		c.sink.SetDepth(*msg.Depth)
	case models.KindHeartbeat:
		h.lastHeartbeat.Store(timeNow().UnixMilli())
	}
}

func (c *Client) setState(state models.ConnectionState) {
	c.sink.SetConnectionState(state)
	metrics.SetConnectionState(string(state))
}

// wait sleeps for d and reports false if ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
