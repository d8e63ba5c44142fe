package metrics

import (
	"time"

	"dashflow/logger"
)

// FeedSessionStats summarises one feed connection from connect to teardown.
type FeedSessionStats struct {
	URL          string
	Duration     time.Duration
	Frames       int64
	Messages     int64
	DecodeErrors int64
	Heartbeats   int64
}

// ReportFeedSession emits the counters of a finished connection and logs a
// summary line. A session that only produced decode errors logs at warn.
func ReportFeedSession(log *logger.Log, stats FeedSessionStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	const component = "feed_client"

	errorRate := float64(0)
	if stats.Frames > 0 {
		errorRate = float64(stats.DecodeErrors) / float64(stats.Frames)
	}

	EmitMetric(log, component, "frames_read", stats.Frames, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "decode_errors", stats.DecodeErrors, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "session_duration", stats.Duration, "gauge", logger.Fields{"unit": "milliseconds"})

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"url":           stats.URL,
		"duration_ms":   stats.Duration.Milliseconds(),
		"frames":        stats.Frames,
		"messages":      stats.Messages,
		"decode_errors": stats.DecodeErrors,
		"heartbeats":    stats.Heartbeats,
		"error_rate":    errorRate,
	})

	if stats.Frames > 0 && stats.Messages == 0 {
		entry.Warn("feed session ended without a decodable message")
		return
	}
	entry.Info("feed session ended")
}
