package writer

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	kafka "github.com/segmentio/kafka-go"

	"dashflow/config"
	"dashflow/internal/source"
	"dashflow/models"
)

func frame(kind models.MessageKind, data string) source.Frame {
	return source.Frame{Kind: kind, Symbol: "BTC-USD", Data: []byte(data)}
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(8, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer c.Close()
		conns[i] = c
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 clients, got %d", hub.Clients())
		}
		time.Sleep(2 * time.Millisecond)
	}

	hub.Publish(context.Background(), frame(models.KindHeartbeat, `{"type":"heartbeat","data":{"timestamp":1}}`))

	for i, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if !strings.Contains(string(data), "heartbeat") {
			t.Fatalf("client %d got %s", i, data)
		}
	}
	if stats := hub.Stats(); stats.Published != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", stats)
	}
}

func TestHubDropsForFullClient(t *testing.T) {
	hub := NewHub(1, nil)
	slow := &hubClient{id: "slow", send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	hub.Publish(context.Background(), frame(models.KindTrade, "a"))
	hub.Publish(context.Background(), frame(models.KindTrade, "b"))

	stats := hub.Stats()
	if stats.Published != 1 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := string(<-slow.send); got != "a" {
		t.Fatalf("expected first frame kept, got %q", got)
	}
	sizes := hub.BufferSizes()
	if len(sizes) != 1 || sizes[0].Capacity != 1 {
		t.Fatalf("unexpected buffer sizes %+v", sizes)
	}

	hub.Close()
	if hub.Clients() != 0 {
		t.Fatal("close should remove clients")
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("client queue should be closed")
	}
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeKafkaWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestKafkaPublisherWritesKeyedMessages(t *testing.T) {
	fw := &fakeKafkaWriter{}
	p := newKafkaPublisher(fw, nil)
	if p.log == nil {
		t.Fatal("nil logger should fall back to the global logger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}

	p.Publish(ctx, frame(models.KindTrade, "t"))
	p.Publish(ctx, frame(models.KindTicker, "k"))

	deadline := time.Now().Add(2 * time.Second)
	for fw.count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 messages, got %d", fw.count())
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !fw.closed {
		t.Fatal("writer not closed")
	}

	first := fw.msgs[0]
	if string(first.Key) != "BTC-USD" || string(first.Headers[0].Value) != "trade" {
		t.Fatalf("unexpected message %+v", first)
	}
	if stats := p.Stats(); stats.Published != 2 || stats.Bytes != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestKafkaPublisherDropsWhenQueueFull(t *testing.T) {
	p := newKafkaPublisher(&fakeKafkaWriter{}, nil)
	for i := 0; i < kafkaQueueSize+3; i++ {
		p.Publish(context.Background(), frame(models.KindTrade, "x"))
	}
	if stats := p.Stats(); stats.Dropped != 3 {
		t.Fatalf("expected 3 drops, got %+v", stats)
	}
	if sizes := p.BufferSizes(); sizes[0].Length != kafkaQueueSize {
		t.Fatalf("unexpected queue length %+v", sizes)
	}
}

func TestKafkaPublisherCountsWriteErrors(t *testing.T) {
	p := newKafkaPublisher(&fakeKafkaWriter{fail: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_ = p.Start(ctx)
	p.Publish(ctx, frame(models.KindTrade, "x"))

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Errors != 1 {
		if time.Now().After(deadline) {
			t.Fatal("write error not counted")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	_ = p.Stop()
}

func TestPublishersRequireDestination(t *testing.T) {
	if _, err := NewKafkaPublisher(config.KafkaPublishConfig{Topic: "t"}, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(config.KafkaPublishConfig{Brokers: []string{"b:9092"}}, nil); err == nil {
		t.Fatal("expected error without topic")
	}
	if _, err := NewNatsPublisher(config.NatsPublishConfig{URL: "nats://127.0.0.1:4222"}, nil); err == nil {
		t.Fatal("expected error without subject")
	}
}

func TestFanoutPreservesOrder(t *testing.T) {
	var got []string
	record := func(name string) source.Sink {
		return source.SinkFunc(func(_ context.Context, f source.Frame) {
			got = append(got, name+":"+string(f.Data))
		})
	}
	Fanout{record("a"), record("b")}.Publish(context.Background(), frame(models.KindTrade, "1"))

	if strings.Join(got, ",") != "a:1,b:1" {
		t.Fatalf("unexpected order %v", got)
	}
}
