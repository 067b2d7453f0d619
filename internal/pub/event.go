package pub

import (
	"context"
	"errors"
	"time"

	"firestorm/internal/ports"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is published after every successful document write.
type ChangeEvent struct {
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
}

func peekEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, err
	}
	if ev.Op == "" || ev.Collection == "" {
		return ev, errors.New("not a change event")
	}
	return ev, nil
}

// Notifier publishes change events to one topic. A nil Notifier publishes nothing.
type Notifier struct {
	Publisher ports.Publisher
	Topic     string
}

func NewNotifier(p ports.Publisher, topic string) *Notifier {
	if p == nil || topic == "" {
		return nil
	}
	return &Notifier{Publisher: p, Topic: topic}
}

// Notify publishes ev. Failures are logged only; a lost event never fails the write.
func (n *Notifier) Notify(ctx context.Context, ev ChangeEvent) {
	if n == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Error("failed to marshal change event")
		return
	}
	if err := n.Publisher.PublishRaw(ctx, n.Topic, b); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"op":         ev.Op,
			"collection": ev.Collection,
			"id":         ev.ID,
			"topic":      n.Topic,
		}).Error("failed to publish change event")
	}
}
