package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dashflow/config"
	"dashflow/internal/market"
	"dashflow/internal/metrics"
	"dashflow/logger"
	"dashflow/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                          "0.0.0.0:8080",
		"  :9090  ":                 "0.0.0.0:9090",
		"localhost":                 "localhost:8080",
		"0.0.0.0:80":                "0.0.0.0:80",
		"[::1]:443":                 "[::1]:443",
		"::1":                       "[::1]:8080",
		"*:8080":                    "0.0.0.0:8080",
		"http://10.0.0.5:8080":      "10.0.0.5:8080",
		"http://:7070":              "0.0.0.0:7070",
		"https://dash.example.com/": "dash.example.com:8080",
	}
	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

type fakeFeed struct{ hb time.Time }

func (f fakeFeed) LastHeartbeat() time.Time { return f.hb }
func (f fakeFeed) Stopped() bool            { return false }

func newTestServer(t *testing.T) (*Server, *market.Store, *gin.Engine) {
	t.Helper()
	log := logger.Logger()
	store := market.NewStore(market.Options{Symbol: "BTC-USD", Interval: models.Interval1m, MaxTrades: 10}, log)
	tracker := market.NewTracker(store, market.NewCalculator(models.ValueThresholdClassifier{Whale: 1e6, Large: 1e5, Micro: 100}))
	t.Cleanup(tracker.Close)

	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000", MetricsHistory: 10, LogHistory: 10}, Sources{
		Store:      store,
		Tracker:    tracker,
		Feed:       fakeFeed{hb: time.Unix(1_700_000_000, 0)},
		Prometheus: true,
	}, log)
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v, %v", srv, err)
	}
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("dashflow")
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	return srv, store, router
}

func get(t *testing.T, router http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if strings.HasPrefix(res.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid json: %v", path, err)
		}
	}
	return res.Code, body
}

func TestNewServerDisabledOrMissingStore(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, Sources{}, nil)
	if srv != nil || err != nil {
		t.Fatalf("disabled dashboard should be nil, got %v, %v", srv, err)
	}
	if _, err := NewServer(config.DashboardConfig{Enabled: true}, Sources{}, nil); err == nil {
		t.Fatal("expected error without a store")
	}
	var nilServer *Server
	if nilServer.Address() != "" {
		t.Fatal("nil server has no address")
	}
}

func TestHealthReflectsConnection(t *testing.T) {
	srv, store, router := newTestServer(t)
	if srv.Address() != "0.0.0.0:9000" {
		t.Fatalf("unexpected address %q", srv.Address())
	}

	code, body := get(t, router, "/healthz")
	if code != http.StatusServiceUnavailable || body["connection"] != "disconnected" {
		t.Fatalf("expected unavailable while disconnected, got %d %v", code, body)
	}

	store.SetConnectionState(models.StateConnected)
	code, body = get(t, router, "/healthz")
	if code != http.StatusOK || body["label"] != "Connected" || body["last_heartbeat"] == nil {
		t.Fatalf("unexpected health %d %v", code, body)
	}
}

func TestMarketEndpoints(t *testing.T) {
	_, store, router := newTestServer(t)

	for i := 0; i < 5; i++ {
		store.AddTrade(models.Trade{ID: string(rune('a' + i)), Symbol: "BTC-USD", Price: 100, Quantity: 1, Side: models.SideBuy})
	}
	store.UpdateTicker(models.NewTicker("BTC-USD", 101, time.UnixMilli(5)))
	store.UpdateCandle(models.NewCandle("BTC-USD", models.Interval1m, 60_000, 100))

	code, body := get(t, router, "/api/market")
	if code != http.StatusOK || body["symbol"] != "BTC-USD" || body["ticker"] == nil || body["mini"] == nil || body["indicators"] == nil {
		t.Fatalf("unexpected market response %d %v", code, body)
	}

	code, body = get(t, router, "/api/trades?limit=2")
	if code != http.StatusOK || len(body["trades"].([]interface{})) != 2 {
		t.Fatalf("unexpected trades response %d %v", code, body)
	}
	summary, ok := body["summary"].(map[string]interface{})
	if !ok || summary["count"] != float64(2) || summary["buy_count"] != float64(2) || summary["vwap"] != float64(100) {
		t.Fatalf("unexpected trade summary %v", body["summary"])
	}
	for _, bad := range []string{"/api/trades?limit=0", "/api/trades?limit=11", "/api/trades?limit=x"} {
		if code, _ := get(t, router, bad); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", bad, code)
		}
	}

	code, body = get(t, router, "/api/candles")
	if code != http.StatusOK || len(body["candles"].([]interface{})) != 1 {
		t.Fatalf("unexpected candles response %d %v", code, body)
	}

	code, body = get(t, router, "/api/chart/candles?width=400&height=200")
	if code != http.StatusOK || len(body["bars"].([]interface{})) != 1 {
		t.Fatalf("unexpected candle chart %d %v", code, body)
	}
}

func TestOrderBookAndDepthChart(t *testing.T) {
	_, store, router := newTestServer(t)

	if code, _ := get(t, router, "/api/orderbook"); code != http.StatusNotFound {
		t.Fatalf("expected 404 before any book, got %d", code)
	}
	if code, _ := get(t, router, "/api/chart/depth"); code != http.StatusNotFound {
		t.Fatalf("expected 404 before any depth, got %d", code)
	}

	store.UpdateOrderBook(models.OrderBookSnapshot{
		Symbol: "BTC-USD",
		Bids:   []models.OrderBookLevel{models.NewOrderBookLevel(99, 1, 1)},
		Asks:   []models.OrderBookLevel{models.NewOrderBookLevel(101, 1, 1)},
	})

	code, body := get(t, router, "/api/orderbook")
	if code != http.StatusOK || body["spread"] != float64(2) || body["mid_price"] != float64(100) {
		t.Fatalf("unexpected order book response %d %v", code, body)
	}

	code, body = get(t, router, "/api/chart/depth?width=300")
	if code != http.StatusOK || len(body["bids"].([]interface{})) != 1 {
		t.Fatalf("unexpected depth chart %d %v", code, body)
	}
	if code, _ := get(t, router, "/api/chart/depth?height=-1"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad height, got %d", code)
	}
}

func TestMetricsAndLogsEndpoints(t *testing.T) {
	srv, _, router := newTestServer(t)

	metrics.EmitMetric(srv.log, "buffer_sizes", "buffer_length", 5, "gauge", logger.Fields{"buffer": "trades"})
	srv.log.WithComponent("feed_client").Warn("feed connection lost")

	code, body := get(t, router, "/api/metrics?component=buffer_sizes")
	if code != http.StatusOK || len(body["metrics"].([]interface{})) == 0 {
		t.Fatalf("unexpected metrics response %d %v", code, body)
	}

	code, body = get(t, router, "/api/logs?level=warning")
	if code != http.StatusOK {
		t.Fatalf("unexpected logs status %d", code)
	}
	found := false
	for _, l := range body["logs"].([]interface{}) {
		if l.(map[string]interface{})["message"] == "feed connection lost" {
			found = true
		}
	}
	if !found {
		t.Fatalf("warning not captured: %v", body)
	}
	if code, _ := get(t, router, "/api/logs?level=loud"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown level, got %d", code)
	}

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "dashflow_feed_frames_total") {
		t.Fatalf("prometheus endpoint missing collectors: %d", res.Code)
	}
}
