package metrics

import "dashflow/logger"

// DropMetric names the counter emitted when a message is discarded instead
// of delivered.
type DropMetric string

const (
	// DropMetricBroadcast counts envelopes skipped for a slow WebSocket client.
	DropMetricBroadcast DropMetric = "broadcast_messages_dropped"
	// DropMetricPublish counts envelopes a publisher failed to hand off.
	DropMetricPublish DropMetric = "publish_messages_dropped"
	// DropMetricDecode counts feed frames skipped because they did not decode.
	DropMetricDecode DropMetric = "decode_messages_dropped"
)

// EmitDropMetric emits a count of one for a single discarded message. Empty
// metadata is omitted from the fields.
func EmitDropMetric(log *logger.Log, metric DropMetric, sink, kind, symbol string) {
	fields := logger.Fields{"unit": "count"}
	if sink != "" {
		fields["sink"] = sink
	}
	if kind != "" {
		fields["kind"] = kind
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}

	EmitMetric(log, dropComponent(metric), string(metric), 1, "counter", fields)
}

func dropComponent(metric DropMetric) string {
	switch metric {
	case DropMetricBroadcast:
		return "broadcast_drops"
	case DropMetricPublish:
		return "publish_drops"
	}
	return "feed_drops"
}
