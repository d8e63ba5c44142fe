package reader

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"dashflow/config"
	"dashflow/internal/reconnect"
)

func TestDialersRequireDestination(t *testing.T) {
	cases := []struct {
		raw    string
		dialer Dialer
		want   string
	}{
		{raw: "nats://127.0.0.1:4222", dialer: NatsDialer{}, want: "no subject"},
		{raw: "nats://127.0.0.1:4222/", dialer: NatsDialer{}, want: "no subject"},
		{raw: "kafka://127.0.0.1:9092", dialer: KafkaDialer{}, want: "no topic"},
	}
	for _, c := range cases {
		u, err := url.Parse(c.raw)
		if err != nil {
			t.Fatalf("parse %s: %v", c.raw, err)
		}
		_, err = c.dialer.Dial(context.Background(), u)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: expected %q error, got %v", c.raw, c.want, err)
		}
	}
}

func TestDefaultDialersCoverSchemes(t *testing.T) {
	dialers := defaultDialers()
	for _, scheme := range []string{"ws", "wss", "nats", "kafka"} {
		if dialers[scheme] == nil {
			t.Fatalf("no dialer for %s", scheme)
		}
	}
}

func TestClientConfigFromConfig(t *testing.T) {
	cfg := config.Default().Feed
	cfg.Reconnect.Policy = "linear"
	cfg.Reconnect.MaxAttempts = 3

	cc, err := ClientConfigFromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cc.URL != cfg.URL || cc.ConnectTimeout != 10*time.Second || cc.HeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected client config %+v", cc)
	}
	if _, ok := cc.Policy.(reconnect.LinearBackoff); !ok {
		t.Fatalf("expected linear policy, got %T", cc.Policy)
	}

	cfg.Reconnect.Policy = "fibonacci"
	if _, err := ClientConfigFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
