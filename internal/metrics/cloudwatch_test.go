package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dashflow/logger"
)

// capturePublishes installs a fake CloudWatch client and records every batch
// handed to publishMetricsFunc. The clock starts at base.
func capturePublishes(t *testing.T, base time.Time) *[][]cwtypes.MetricDatum {
	t.Helper()

	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "Dashflow"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	timeNow = func() time.Time { return base }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	return &batches
}

func TestPublishMetricDatumThrottlesSameSeries(t *testing.T) {
	base := time.Now()
	batches := capturePublishes(t, base)

	metric := Metric{Component: "feed_client", Name: "frames_read", Timestamp: base, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return base.Add(25 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if aws.ToString(datum.MetricName) != "frames_read" {
		t.Fatalf("unexpected metric name: %v", aws.ToString(datum.MetricName))
	}
	if aws.ToFloat64(datum.Value) != 1 {
		t.Fatalf("unexpected metric value: %v", aws.ToFloat64(datum.Value))
	}

	timeNow = func() time.Time { return base.Add(75 * time.Millisecond) }
	publishMetricDatum(metric, 3)
	if len(*batches) != 2 {
		t.Fatalf("expected publish after interval, got %d batches", len(*batches))
	}
	if v := aws.ToFloat64((*batches)[1][0].Value); v != 3 {
		t.Fatalf("unexpected second value: %v", v)
	}
}

func TestPublishMetricDatumSeparatesDimensions(t *testing.T) {
	base := time.Now()
	batches := capturePublishes(t, base)

	trades := Metric{Component: "buffer_sizes", Name: "buffer_length", Fields: logger.Fields{"buffer": "trades", "capacity": 100}}
	candles := Metric{Component: "buffer_sizes", Name: "buffer_length", Fields: logger.Fields{"buffer": "candles", "capacity": 200}}

	publishMetricDatum(trades, 10)
	publishMetricDatum(candles, 20)

	if len(*batches) != 2 {
		t.Fatalf("expected each buffer series to publish, got %d", len(*batches))
	}

	dims := (*batches)[0][0].Dimensions
	if len(dims) != 2 {
		t.Fatalf("expected component and buffer dimensions only, got %d", len(dims))
	}
	if (*batches)[0][0].Timestamp == nil || !(*batches)[0][0].Timestamp.Equal(base) {
		t.Fatalf("zero timestamp should fall back to the clock")
	}
}

func TestPublishMetricDatumWithoutClient(t *testing.T) {
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{namespace: "Dashflow"})
	t.Cleanup(func() { cwState.Store(prevState) })

	called := false
	publishMetricsFunc = func(context.Context, *cloudWatchState, []cwtypes.MetricDatum) { called = true }
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	publishMetricDatum(Metric{Component: "feed_client", Name: "frames_read"}, 1)
	if called {
		t.Fatal("publish should be skipped without a client")
	}
}

func TestToFloat64(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{in: 3, want: 3, ok: true},
		{in: int64(4), want: 4, ok: true},
		{in: uint64(5), want: 5, ok: true},
		{in: float32(1.5), want: 1.5, ok: true},
		{in: 250 * time.Millisecond, want: 250, ok: true},
		{in: "7", ok: false},
		{in: nil, ok: false},
	}
	for _, c := range cases {
		got, ok := toFloat64(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("toFloat64(%v) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestMetricUnitFromString(t *testing.T) {
	cases := map[string]cwtypes.StandardUnit{
		"count":        cwtypes.StandardUnitCount,
		"Percent":      cwtypes.StandardUnitPercent,
		"ms":           cwtypes.StandardUnitMilliseconds,
		"seconds":      cwtypes.StandardUnitSeconds,
		"bytes":        cwtypes.StandardUnitBytes,
		"count/second": cwtypes.StandardUnitCountSecond,
	}
	for in, want := range cases {
		got, ok := metricUnitFromString(in)
		if !ok || got != want {
			t.Fatalf("metricUnitFromString(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := metricUnitFromString("furlongs"); ok {
		t.Fatal("unknown unit should not be recognised")
	}
}

func TestRenderDashboardSubstitutesNamespaceAndRegion(t *testing.T) {
	body := renderDashboard(&cloudWatchState{namespace: "Desk", region: "us-east-2"})
	if !json.Valid([]byte(body)) {
		t.Fatal("rendered dashboard is not valid JSON")
	}
	if strings.Contains(body, `"Dashflow"`) {
		t.Fatal("namespace placeholder left in dashboard")
	}
	if !strings.Contains(body, `"Desk"`) || !strings.Contains(body, `"us-east-2"`) {
		t.Fatal("namespace or region missing from dashboard")
	}
}
