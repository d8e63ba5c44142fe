package reader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsDialer subscribes to a subject: nats://host:port/subject. Each message
// payload is one envelope frame.
type NatsDialer struct{}

func (NatsDialer) Dial(ctx context.Context, u *url.URL) (Conn, error) {
	subject := strings.Trim(u.Path, "/")
	if subject == "" {
		return nil, errors.New("nats url has no subject")
	}
	server := (&url.URL{Scheme: "nats", User: u.User, Host: u.Host}).String()

	opts := []nats.Option{nats.Name("dashflow-feed-client"), nats.NoReconnect()}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(server, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return &natsConn{nc: nc, sub: sub}, nil
}

type natsConn struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	once sync.Once
}

func (c *natsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (c *natsConn) Close() error {
	c.once.Do(func() {
		_ = c.sub.Unsubscribe()
		c.nc.Close()
	})
	return nil
}
