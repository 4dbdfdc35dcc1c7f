package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrPermanent marks handler failures that must not be redelivered.
var ErrPermanent = errors.New("permanent failure")

// Bus wraps a NATS JetStream connection for publishing and consuming work items.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// StreamConfig describes the stream backing a set of subjects.
type StreamConfig struct {
	Name       string
	Subjects   []string
	MaxAge     time.Duration
	Duplicates time.Duration
}

// ConsumerConfig tunes redelivery for a durable consumer.
type ConsumerConfig struct {
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
	Backoff    time.Duration
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// EnsureStream creates the stream when it does not exist yet.
func (b *Bus) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if cfg.Name == "" || len(cfg.Subjects) == 0 {
		return errors.New("stream name and subjects are required")
	}

	_, err := b.js.StreamInfo(cfg.Name, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.Duplicates,
	}, nats.Context(ctx))
	return err
}

// Publish encodes v as JSON and publishes it to the given subject. A non-empty
// msgID lets the server drop duplicates inside the stream's dedupe window.
func (b *Bus) Publish(ctx context.Context, subj, msgID string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	_, err = b.js.Publish(subj, data, opts...)
	return err
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Subscribe creates a durable consumer on the given subject and invokes fn for
// each message. Handler errors Nak the message for redelivery unless they wrap
// ErrPermanent, in which case the message is terminated.
func (b *Bus) Subscribe(ctx context.Context, subj string, cfg ConsumerConfig, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		err := fn(handlerCtx, msg.Data)
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrPermanent):
			_ = msg.Term()
		case cfg.Backoff > 0:
			_ = msg.NakWithDelay(cfg.Backoff)
		default:
			_ = msg.Nak()
		}
	}

	opts := []nats.SubOpt{nats.Durable(cfg.Durable), nats.ManualAck(), nats.AckExplicit()}
	if cfg.AckWait > 0 {
		opts = append(opts, nats.AckWait(cfg.AckWait))
	}
	if cfg.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(cfg.MaxDeliver))
	}

	sub, err := b.js.Subscribe(subj, handler, opts...)
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}
