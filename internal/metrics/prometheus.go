// Prometheus collectors for the feed pipeline:
//
//	dashflow_feed_frames_total
//	dashflow_feed_messages_total{kind}
//	dashflow_feed_decode_errors_total
//	dashflow_feed_reconnects_total
//	dashflow_feed_connection_state{state}
//	dashflow_broadcast_clients
//
// They live on the default registry and are served by Handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "stopped"}

var (
	once             sync.Once
	feedFrames       prometheus.Counter
	feedMessages     *prometheus.CounterVec
	feedDecodeErrors prometheus.Counter
	feedReconnects   prometheus.Counter
	feedConnection   *prometheus.GaugeVec
	broadcastClients prometheus.Gauge
)

// Init registers the collectors once. Calling the recording helpers before
// Init is a no-op.
func Init() {
	once.Do(func() {
		feedFrames = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashflow_feed_frames_total",
			Help: "Frames read from the market feed",
		})
		feedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashflow_feed_messages_total",
			Help: "Decoded feed messages dispatched into the market store",
		}, []string{"kind"})
		feedDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashflow_feed_decode_errors_total",
			Help: "Feed frames that could not be decoded and were skipped",
		})
		feedReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashflow_feed_reconnects_total",
			Help: "Reconnection attempts scheduled by the feed client",
		})
		feedConnection = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashflow_feed_connection_state",
			Help: "1 for the current feed connection state, 0 otherwise",
		}, []string{"state"})
		broadcastClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashflow_broadcast_clients",
			Help: "WebSocket clients attached to the feed server",
		})

		prometheus.MustRegister(feedFrames, feedMessages, feedDecodeErrors, feedReconnects, feedConnection, broadcastClients)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func IncFrames() {
	if feedFrames != nil {
		feedFrames.Inc()
	}
}

func IncMessage(kind string) {
	if feedMessages != nil {
		feedMessages.WithLabelValues(kind).Inc()
	}
}

func IncDecodeError() {
	if feedDecodeErrors != nil {
		feedDecodeErrors.Inc()
	}
}

func IncReconnect() {
	if feedReconnects != nil {
		feedReconnects.Inc()
	}
}

// SetConnectionState marks state as the only active connection state.
func SetConnectionState(state string) {
	if feedConnection == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		feedConnection.WithLabelValues(s).Set(v)
	}
}

func SetBroadcastClients(n int) {
	if broadcastClients != nil {
		broadcastClients.Set(float64(n))
	}
}
