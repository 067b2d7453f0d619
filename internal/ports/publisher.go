package ports

import "context"

// Publisher forwards document change events to an external topic.
type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}
