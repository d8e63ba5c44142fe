package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	"dashflow/config"
	"dashflow/internal/metrics"
	"dashflow/internal/source"
	"dashflow/logger"
)

const kafkaQueueSize = 1024

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes frames to a topic keyed by symbol. Publish only
// enqueues; a single goroutine started by Start performs the writes.
type KafkaPublisher struct {
	writer messageWriter
	queue  chan kafka.Message
	log    *logger.Log
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	published atomic.Int64
	bytes     atomic.Int64
	errors    atomic.Int64
	dropped   atomic.Int64
}

func NewKafkaPublisher(cfg config.KafkaPublishConfig, log *logger.Log) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka publisher initialized")

	return newKafkaPublisher(w, log), nil
}

func newKafkaPublisher(w messageWriter, log *logger.Log) *KafkaPublisher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &KafkaPublisher{
		writer: w,
		queue:  make(chan kafka.Message, kafkaQueueSize),
		log:    log,
	}
}

func (p *KafkaPublisher) Component() string { return "kafka_publisher" }

func (p *KafkaPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("kafka publisher already running")
	}
	p.running = true

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *KafkaPublisher) run(ctx context.Context) {
	defer p.wg.Done()
	log := p.log.WithComponent("kafka_publisher")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.errors.Add(1)
				log.WithError(err).Warn("failed to write message")
				continue
			}
			p.published.Add(1)
			p.bytes.Add(int64(len(msg.Value)))
			logger.RecordFlowMessage("kafka_out", len(msg.Value))
		}
	}
}

// Publish enqueues f. When the queue is full the frame is dropped.
func (p *KafkaPublisher) Publish(_ context.Context, f source.Frame) {
	msg := kafka.Message{
		Key:     []byte(f.Symbol),
		Value:   f.Data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(f.Kind)}},
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		metrics.EmitDropMetric(p.log, metrics.DropMetricPublish, "kafka", string(f.Kind), string(f.Symbol))
	}
}

func (p *KafkaPublisher) BufferSizes() []metrics.BufferSize {
	return []metrics.BufferSize{{Name: "kafka_queue", Length: len(p.queue), Capacity: cap(p.queue)}}
}

func (p *KafkaPublisher) Stats() metrics.PublisherStats {
	return metrics.PublisherStats{
		Published: p.published.Load(),
		Bytes:     p.bytes.Load(),
		Errors:    p.errors.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// Stop waits for the write loop to exit and closes the writer. The caller
// cancels the context passed to Start first.
func (p *KafkaPublisher) Stop() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	return p.writer.Close()
}
