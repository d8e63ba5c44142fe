package reader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaDialer consumes a topic: kafka://broker1,broker2/topic[?group=id].
// Without a group the reader starts at the end of partition 0.
type KafkaDialer struct{}

func (KafkaDialer) Dial(ctx context.Context, u *url.URL) (Conn, error) {
	topic := strings.Trim(u.Path, "/")
	if topic == "" {
		return nil, errors.New("kafka url has no topic")
	}
	brokers := strings.Split(u.Host, ",")

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial %s: %w", brokers[0], err)
	}
	conn.Close()

	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	group := u.Query().Get("group")
	if group != "" {
		cfg.GroupID = group
		cfg.StartOffset = kafka.LastOffset
	}

	r := kafka.NewReader(cfg)
	if group == "" {
		if err := r.SetOffset(kafka.LastOffset); err != nil {
			r.Close()
			return nil, fmt.Errorf("kafka set offset: %w", err)
		}
	}
	return &kafkaConn{reader: r}, nil
}

type kafkaConn struct {
	reader *kafka.Reader
	once   sync.Once
	err    error
}

func (c *kafkaConn) ReadFrame(ctx context.Context) ([]byte, error) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

func (c *kafkaConn) Close() error {
	c.once.Do(func() { c.err = c.reader.Close() })
	return c.err
}
