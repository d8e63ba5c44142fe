package writer

import (
	"context"
	"time"

	"dashflow/internal/metrics"
	"dashflow/internal/source"
	"dashflow/logger"
)

// Fanout hands every frame to each sink in order.
type Fanout []source.Sink

func (f Fanout) Publish(ctx context.Context, frame source.Frame) {
	for _, s := range f {
		s.Publish(ctx, frame)
	}
}

// StatsReporter is implemented by the hub and the publishers.
type StatsReporter interface {
	Component() string
	Stats() metrics.PublisherStats
}

// ReportStats logs and emits the counters of every reporter each interval
// until ctx ends.
func ReportStats(ctx context.Context, log *logger.Log, interval time.Duration, reporters ...StatsReporter) {
	if interval <= 0 || len(reporters) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range reporters {
				metrics.ReportPublisher(log, r.Component(), r.Stats())
			}
		}
	}
}
