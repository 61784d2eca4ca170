// Package nats publishes status-change notifications to a NATS server.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Publisher sends notifications on a NATS connection.
type Publisher struct {
	conn conn
}

// Connect dials url and returns a publisher on the new connection.
func Connect(url string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("cureline")}, opts...)
	c, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: c}, nil
}

// Publish sends data on subject. NATS core publishing is fire-and-forget;
// ctx is only checked before the write.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// HandlerFunc processes one received message.
type HandlerFunc func(ctx context.Context, subject string, data []byte) error

// Subscribe registers handler for subject until ctx is done. Handler errors
// are passed to onError when it is non-nil.
func (p *Publisher) Subscribe(ctx context.Context, subject string, handler HandlerFunc, onError func(error)) error {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil && onError != nil {
			onError(err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drops the connection.
func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}
