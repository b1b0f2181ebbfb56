package source

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// natsQueueDepth bounds the internal channel between the NATS subscription
// callback and Next, so a slow pipeline applies backpressure to the
// subscription rather than buffering unboundedly in this process.
const natsQueueDepth = 256

// NatsSource subscribes to one subject and surfaces each message payload as
// a SourceDataMessage, the {Nats{uri, subject, content_type}} source
// variant of spec.md §6. It takes no content type: every payload is passed
// on as is and decoded by internal/chainvalue as a JSON block message.
type NatsSource struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	msgs    chan *nats.Msg
}

// NewNatsSource connects to uri and subscribes to subject.
func NewNatsSource(uri, subject string) (*NatsSource, error) {
	conn, err := nats.Connect(uri)
	if err != nil {
		return nil, fmt.Errorf("source: connecting to nats %q: %w", uri, err)
	}

	msgs := make(chan *nats.Msg, natsQueueDepth)
	sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
		msgs <- m
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("source: subscribing to %q: %w", subject, err)
	}

	return &NatsSource{conn: conn, sub: sub, msgs: msgs}, nil
}

func (s *NatsSource) Next(ctx context.Context) (*SourceDataMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-s.msgs:
		if !ok {
			return nil, nil
		}
		return &SourceDataMessage{Raw: append([]byte(nil), m.Data...)}, nil
	}
}

func (s *NatsSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("source: unsubscribing: %w", err)
	}
	s.conn.Close()
	return nil
}
