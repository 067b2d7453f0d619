package cmds

import (
	"context"
	"io"
	"sync"

	"firestorm/internal/listen"
	"firestorm/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type snapshotLine struct {
	Key  string           `json:"key"`
	Doc  types.Document   `json:"doc,omitempty"`
	Docs []types.Document `json:"docs,omitempty"`
}

// Watch prints every snapshot of cfg as one JSON line until ctx is done. With cfg.Once it
// returns after the first snapshot.
func Watch(ctx context.Context, out io.Writer, mux *listen.Multiplexer, cfg types.SubscriptionConfig) error {
	var mu sync.Mutex
	first := make(chan struct{})
	var firstOnce sync.Once

	detach, err := mux.Attach(ctx, cfg, func(snap types.Snapshot) {
		b, err := json.Marshal(snapshotLine{Key: snap.Key, Doc: snap.Doc, Docs: snap.Docs})
		if err != nil {
			log.WithError(err).WithField("key", snap.Key).Error("Failed to marshal snapshot")
			return
		}
		mu.Lock()
		_, _ = out.Write(append(b, '\n'))
		mu.Unlock()
		firstOnce.Do(func() { close(first) })
	})
	if err != nil {
		return err
	}
	defer detach()

	if cfg.Once {
		select {
		case <-first:
		case <-ctx.Done():
		}
		return nil
	}
	<-ctx.Done()
	return nil
}
