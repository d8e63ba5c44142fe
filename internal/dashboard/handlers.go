package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dashflow/internal/chart"
	"dashflow/models"
)

const (
	defaultTradeLimit  = 50
	defaultChartWidth  = 800
	defaultChartHeight = 400
	maxChartSide       = 10000
)

func (s *Server) handleHealth(c *gin.Context) {
	state, errMsg := s.src.Store.Connection()
	body := gin.H{"connection": state, "label": state.Label()}
	if errMsg != "" {
		body["error"] = errMsg
	}
	if s.src.Feed != nil {
		if hb := s.src.Feed.LastHeartbeat(); !hb.IsZero() {
			body["last_heartbeat"] = hb.UTC().Format(time.RFC3339Nano)
		}
	}

	status := http.StatusOK
	if !state.IsConnected() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (s *Server) handleMarket(c *gin.Context) {
	store := s.src.Store
	state, errMsg := store.Connection()
	ticker, hasTicker := store.Ticker()

	body := gin.H{
		"symbol":      store.Symbol(),
		"interval":    store.Interval(),
		"connection":  state,
		"last_update": store.LastUpdate(),
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	if hasTicker {
		body["ticker"] = ticker
		body["mini"] = ticker.Mini()
	}
	if s.src.Tracker != nil {
		body["indicators"] = s.src.Tracker.Current()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultTradeLimit, 1, s.src.Store.MaxTrades())
	if !ok {
		return
	}
	trades := s.src.Store.RecentTrades(limit)

	// trades are newest first; the summary runs oldest to newest.
	chronological := make([]models.Trade, len(trades))
	for i, t := range trades {
		chronological[len(trades)-1-i] = t
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":  trades,
		"summary": models.Aggregate(s.src.Store.Symbol(), chronological),
	})
}

func (s *Server) handleCandles(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Store.Candles())
}

func (s *Server) handleOrderBook(c *gin.Context) {
	book, depth := s.src.Store.OrderBook()
	if book == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no order book yet"})
		return
	}
	body := gin.H{"orderbook": book, "depth": depth}
	if spread, ok := book.Spread(); ok {
		body["spread"] = spread
	}
	if mid, ok := book.MidPrice(); ok {
		body["mid_price"] = mid
	}
	body["imbalance"] = book.Imbalance()
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleCandleChart(c *gin.Context) {
	dims, ok := chartDimensions(c)
	if !ok {
		return
	}
	bars, ok := intQuery(c, "bars", 0, 0, s.src.Store.MaxCandles())
	if !ok {
		return
	}
	c.JSON(http.StatusOK, chart.CandleGeometry(s.src.Store.Candles(), dims, bars))
}

func (s *Server) handleDepthChart(c *gin.Context) {
	dims, ok := chartDimensions(c)
	if !ok {
		return
	}
	_, depth := s.src.Store.OrderBook()
	if depth == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no depth yet"})
		return
	}
	c.JSON(http.StatusOK, chart.DepthGeometry(*depth, dims))
}

func (s *Server) handleMetrics(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0, 0, s.metricStore.limit)
	if !ok {
		return
	}
	snapshot := s.metricStore.snapshot(c.Query("component"), limit)
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload, "latest": s.metricStore.latest()})
}

func (s *Server) handleLogs(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0, 0, s.logStore.limit)
	if !ok {
		return
	}
	minLevel := logrus.TraceLevel
	if raw := c.Query("level"); raw != "" {
		lvl, err := logrus.ParseLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		minLevel = lvl
	}

	records := s.logStore.snapshot(minLevel, limit)
	payload := make([]gin.H, 0, len(records))
	for _, l := range records {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

// intQuery parses an optional integer parameter within [min, max]. On a bad
// value it writes a 400 response and reports false.
func intQuery(c *gin.Context, key string, def, min, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max > 0 && v > max) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key, "min": min, "max": max})
		return 0, false
	}
	return v, true
}

func chartDimensions(c *gin.Context) (chart.Dimensions, bool) {
	w, ok := intQuery(c, "width", defaultChartWidth, 1, maxChartSide)
	if !ok {
		return chart.Dimensions{}, false
	}
	h, ok := intQuery(c, "height", defaultChartHeight, 1, maxChartSide)
	if !ok {
		return chart.Dimensions{}, false
	}
	return chart.DefaultDimensions(float64(w), float64(h)), true
}

