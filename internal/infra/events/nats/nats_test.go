package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    string
}

type fakeConn struct {
	sent     []published
	err      error
	handlers map[string]nats.MsgHandler
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{subject: subject, data: string(data)})
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.handlers == nil {
		f.handlers = map[string]nats.MsgHandler{}
	}
	f.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestPublishSendsPayload(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc}
	require.NoError(t, p.Publish(context.Background(), "cureline.unit.status_changed", []byte(`{"unit_id":"u1"}`)))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "cureline.unit.status_changed", fc.sent[0].subject)
	assert.JSONEq(t, `{"unit_id":"u1"}`, fc.sent[0].data)

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestPublishWrapsErrorsAndHonoursContext(t *testing.T) {
	fc := &fakeConn{err: nats.ErrConnectionClosed}
	p := &Publisher{conn: fc}
	err := p.Publish(context.Background(), "s", nil)
	require.ErrorIs(t, err, nats.ErrConnectionClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc.err = nil
	require.ErrorIs(t, p.Publish(ctx, "s", nil), context.Canceled)
	assert.Empty(t, fc.sent)
}

func TestSubscribeDispatchesToHandler(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc}
	var got []string
	var failures []error
	boom := errors.New("boom")
	err := p.Subscribe(context.Background(), "cureline.>", func(_ context.Context, subject string, data []byte) error {
		got = append(got, subject+":"+string(data))
		if string(data) == "bad" {
			return boom
		}
		return nil
	}, func(err error) { failures = append(failures, err) })
	require.NoError(t, err)

	cb := fc.handlers["cureline.>"]
	require.NotNil(t, cb)
	cb(&nats.Msg{Subject: "cureline.batch.status_changed", Data: []byte("ok")})
	cb(&nats.Msg{Subject: "cureline.batch.status_changed", Data: []byte("bad")})
	assert.Equal(t, []string{"cureline.batch.status_changed:ok", "cureline.batch.status_changed:bad"}, got)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], boom)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", nats.Timeout(50*time.Millisecond), nats.MaxReconnects(0))
	require.Error(t, err)
}
