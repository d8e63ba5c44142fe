package metrics

import "dashflow/logger"

// PublisherStats holds counters for an envelope sink of the feed server.
type PublisherStats struct {
	Published int64
	Bytes     int64
	Errors    int64
	Dropped   int64
}

// ReportPublisher emits the counters of a sink and logs them under component.
func ReportPublisher(log *logger.Log, component string, stats PublisherStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.Published+stats.Errors > 0 {
		errorRate = float64(stats.Errors) / float64(stats.Published+stats.Errors)
	}

	EmitMetric(log, component, "published", stats.Published, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "published_bytes", stats.Bytes, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "publish_errors", stats.Errors, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "publish_error_rate", errorRate*100, "gauge", logger.Fields{"unit": "percent"})

	entry := l.WithFields(logger.Fields{
		"published":  stats.Published,
		"bytes":      stats.Bytes,
		"errors":     stats.Errors,
		"dropped":    stats.Dropped,
		"error_rate": errorRate,
	})

	if stats.Errors > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
