package metrics

import (
	"context"
	"time"

	"dashflow/logger"
)

// BufferSize is the occupancy of one bounded buffer.
type BufferSize struct {
	Name     string
	Length   int
	Capacity int
}

// BufferSizer is implemented by components owning bounded buffers, such as
// the market store and the broadcast hub.
type BufferSizer interface {
	BufferSizes() []BufferSize
}

// StartBufferSizeMetrics emits buffer occupancy gauges every interval until
// ctx is cancelled. A non-positive interval defaults to one second.
func StartBufferSizeMetrics(ctx context.Context, log *logger.Log, interval time.Duration, sizers ...BufferSizer) {
	if len(sizers) == 0 {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitBufferSizes(log, sizers...)
			}
		}
	}()
}

// EmitBufferSizes emits one gauge per buffer of every sizer.
func EmitBufferSizes(log *logger.Log, sizers ...BufferSizer) {
	for _, sizer := range sizers {
		if sizer == nil {
			continue
		}
		for _, b := range sizer.BufferSizes() {
			EmitMetric(log, "buffer_sizes", "buffer_length", b.Length, "gauge", logger.Fields{
				"buffer":   b.Name,
				"capacity": b.Capacity,
				"unit":     "count",
			})
		}
	}
}
