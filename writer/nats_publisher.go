package writer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"dashflow/config"
	"dashflow/internal/metrics"
	"dashflow/internal/source"
	"dashflow/logger"
)

// NatsPublisher publishes every frame on one subject. The feed client can
// consume it with a nats://host/subject URL.
type NatsPublisher struct {
	nc      *nats.Conn
	subject string
	log     *logger.Log

	published atomic.Int64
	bytes     atomic.Int64
	errors    atomic.Int64
}

func NewNatsPublisher(cfg config.NatsPublishConfig, log *logger.Log) (*NatsPublisher, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent("nats_publisher")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("dashflow-feed-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.WithFields(logger.Fields{"url": nc.ConnectedUrl()}).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	l.WithFields(logger.Fields{"url": cfg.URL, "subject": cfg.Subject}).Info("nats publisher initialized")
	return &NatsPublisher{nc: nc, subject: cfg.Subject, log: log}, nil
}

func (p *NatsPublisher) Component() string { return "nats_publisher" }

func (p *NatsPublisher) Publish(_ context.Context, f source.Frame) {
	if err := p.nc.Publish(p.subject, f.Data); err != nil {
		p.errors.Add(1)
		metrics.EmitDropMetric(p.log, metrics.DropMetricPublish, "nats", string(f.Kind), string(f.Symbol))
		return
	}
	p.published.Add(1)
	p.bytes.Add(int64(len(f.Data)))
	logger.RecordFlowMessage("nats_out", len(f.Data))
}

func (p *NatsPublisher) Stats() metrics.PublisherStats {
	return metrics.PublisherStats{
		Published: p.published.Load(),
		Bytes:     p.bytes.Load(),
		Errors:    p.errors.Load(),
	}
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close() error {
	return p.nc.Drain()
}
