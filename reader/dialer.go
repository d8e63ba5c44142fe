package reader

import (
	"context"
	"net/url"
)

// Conn is one open feed connection delivering whole frames.
type Conn interface {
	// ReadFrame blocks until the next frame arrives, the connection fails or
	// ctx ends.
	ReadFrame(ctx context.Context) ([]byte, error)
	// Close releases the connection. It is safe to call more than once and
	// concurrently with ReadFrame.
	Close() error
}

// Dialer opens connections for one URL scheme. The dial context carries the
// connect timeout; it does not bound the lifetime of the returned Conn.
type Dialer interface {
	Dial(ctx context.Context, u *url.URL) (Conn, error)
}

type DialerFunc func(ctx context.Context, u *url.URL) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, u *url.URL) (Conn, error) { return f(ctx, u) }

func defaultDialers() map[string]Dialer {
	ws := WebSocketDialer{}
	return map[string]Dialer{
		"ws":    ws,
		"wss":   ws,
		"nats":  NatsDialer{},
		"kafka": KafkaDialer{},
	}
}
