package pub

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsPub struct{ nc *nats.Conn }

// NewNATS connects to the NATS server at url. The connection retries in the background
// until the server is reachable.
func NewNATS(url string) (*natsPub, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &natsPub{nc: nc}, nil
}

// PublishRaw publishes payload on subject. Change events carry their op and collection as
// headers.
func (n *natsPub) PublishRaw(ctx context.Context, subject string, payload []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  nats.Header{"content-type": []string{"application/json"}},
	}
	if ev, err := peekEvent(payload); err == nil {
		msg.Header.Set("op", ev.Op)
		msg.Header.Set("collection", ev.Collection)
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return n.nc.FlushWithContext(ctx)
	}
	return nil
}

func (n *natsPub) Close() {
	n.nc.Close()
}
