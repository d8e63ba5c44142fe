package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dashflow/logger"
)

func resetMetricHandlers() {
	metricHandlersMu.Lock()
	metricHandlers = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID = 0
	metricHandlersMu.Unlock()
}

// collectMetrics registers a handler that buffers every metric until the
// test ends.
func collectMetrics(t *testing.T) func() []Metric {
	t.Helper()
	resetMetricHandlers()

	var mu sync.Mutex
	var got []Metric
	id := RegisterMetricHandler(func(m Metric) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	return func() []Metric {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Metric, len(got))
		copy(out, got)
		return out
	}
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}
	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
	if nilID := RegisterMetricHandler(nil); nilID != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", nilID)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	collected := collectMetrics(t)

	fields := logger.Fields{"buffer": "trades", "unit": "count"}
	EmitMetric(logger.Logger(), "buffer_sizes", "buffer_length", 3, "gauge", fields)

	got := collected()
	if len(got) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(got))
	}
	event := got[0]
	if event.Component != "buffer_sizes" || event.Name != "buffer_length" || event.Type != "gauge" {
		t.Fatalf("unexpected metric: %+v", event)
	}
	if _, ok := event.Fields["metric"]; ok {
		t.Fatalf("event fields should not contain metric key: %v", event.Fields)
	}
	event.Fields["buffer"] = "candles"
	if fields["buffer"] != "trades" {
		t.Fatalf("caller fields shared with the event")
	}
}

func TestEmitMetricDefaultsAndEmptyName(t *testing.T) {
	collected := collectMetrics(t)

	EmitMetric(nil, "feed_client", "frames_read", 7, "", nil)
	EmitMetric(nil, "feed_client", "", 1, "counter", nil)

	got := collected()
	if len(got) != 1 {
		t.Fatalf("metrics without a name should be dropped, got %d", len(got))
	}
	if got[0].Type != "counter" {
		t.Fatalf("expected default metric type to be counter, got %s", got[0].Type)
	}
	if got[0].Fields == nil {
		t.Fatal("fields should never be nil")
	}
}

func TestUnregisterMetricHandler(t *testing.T) {
	resetMetricHandlers()

	calls := 0
	id := RegisterMetricHandler(func(Metric) { calls++ })
	EmitMetric(nil, "c", "m", 1, "counter", nil)
	UnregisterMetricHandler(id)
	UnregisterMetricHandler(0)
	EmitMetric(nil, "c", "m", 1, "counter", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

type fixedSizer []BufferSize

func (f fixedSizer) BufferSizes() []BufferSize { return f }

func TestEmitBufferSizes(t *testing.T) {
	collected := collectMetrics(t)

	EmitBufferSizes(nil, fixedSizer{
		{Name: "trades", Length: 40, Capacity: 100},
		{Name: "candles", Length: 200, Capacity: 200},
	}, nil)

	got := collected()
	if len(got) != 2 {
		t.Fatalf("expected 2 gauges, got %d", len(got))
	}
	if got[1].Fields["buffer"] != "candles" || got[1].Value != 200 || got[1].Fields["capacity"] != 200 {
		t.Fatalf("unexpected gauge: %+v", got[1])
	}
}

func TestStartBufferSizeMetricsStopsWithContext(t *testing.T) {
	collected := collectMetrics(t)

	ctx, cancel := context.WithCancel(context.Background())
	StartBufferSizeMetrics(ctx, nil, 5*time.Millisecond, fixedSizer{{Name: "trades", Length: 1, Capacity: 100}})

	deadline := time.After(time.Second)
	for len(collected()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no buffer metric emitted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestEmitDropMetric(t *testing.T) {
	collected := collectMetrics(t)

	EmitDropMetric(nil, DropMetricBroadcast, "client-1", "trade", "")
	EmitDropMetric(nil, DropMetricDecode, "", "", "")

	got := collected()
	if len(got) != 2 {
		t.Fatalf("expected 2 drop metrics, got %d", len(got))
	}
	if got[0].Component != "broadcast_drops" || got[0].Fields["sink"] != "client-1" {
		t.Fatalf("unexpected broadcast drop: %+v", got[0])
	}
	if _, ok := got[0].Fields["symbol"]; ok {
		t.Fatal("empty symbol should be omitted")
	}
	if got[1].Component != "feed_drops" {
		t.Fatalf("unexpected decode drop component %q", got[1].Component)
	}
}

func TestReportFeedSessionAndPublisher(t *testing.T) {
	collected := collectMetrics(t)

	ReportFeedSession(nil, FeedSessionStats{URL: "ws://x", Duration: 2 * time.Second, Frames: 10, Messages: 9, DecodeErrors: 1})
	ReportPublisher(nil, "kafka_publisher", PublisherStats{Published: 3, Bytes: 120, Errors: 1})

	names := map[string]interface{}{}
	for _, m := range collected() {
		names[m.Component+"/"+m.Name] = m.Value
	}
	if names["feed_client/frames_read"] != int64(10) {
		t.Fatalf("frames_read = %v", names["feed_client/frames_read"])
	}
	if names["kafka_publisher/publish_error_rate"] != float64(25) {
		t.Fatalf("publish_error_rate = %v", names["kafka_publisher/publish_error_rate"])
	}
}

func TestPrometheusHandlerExposesFeedCollectors(t *testing.T) {
	Init()
	IncFrames()
	IncMessage("trade")
	IncDecodeError()
	IncReconnect()
	SetConnectionState("connected")
	SetBroadcastClients(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"dashflow_feed_frames_total",
		`dashflow_feed_messages_total{kind="trade"}`,
		`dashflow_feed_connection_state{state="connected"} 1`,
		`dashflow_feed_connection_state{state="reconnecting"} 0`,
		"dashflow_broadcast_clients 2",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
