package ddb

import (
	"context"
	"sync"
	"time"

	"firestorm/internal/codec"
	"firestorm/internal/ports"
	"firestorm/internal/types"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
)

// fingerprint hashes docs in order. The codec sorts map keys, so equal content hashes equal.
func fingerprint(docs ...types.Document) (uint64, error) {
	h := xxhash.New()
	for _, d := range docs {
		if d == nil {
			_, _ = h.Write([]byte{0})
			continue
		}
		b, err := codec.Encode(d)
		if err != nil {
			return 0, err
		}
		_, _ = h.Write(b)
	}
	return h.Sum64(), nil
}

type poller struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func (p *poller) cancel() ports.Cancel {
	return func() { p.once.Do(func() { close(p.stop) }) }
}

// run calls tick every interval until ctx ends or the poller is canceled.
func (p *poller) run(ctx context.Context, tick func()) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-t.C:
			tick()
		}
	}
}

// WatchDocument polls the item and pushes it whenever its content changes.
// The baseline is read before returning so only later changes are pushed.
func (s *DataStore) WatchDocument(ctx context.Context, collection, id string,
	onNext func(types.Document), onError func(error)) (ports.Cancel, error) {
	doc, err := s.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	last, err := fingerprint(doc)
	if err != nil {
		return nil, err
	}

	p := &poller{interval: s.poll, stop: make(chan struct{})}
	fields := log.Fields{"collection": collection, "id": id}
	go p.run(ctx, func() {
		doc, err := s.GetDocument(ctx, collection, id)
		if err != nil {
			onError(err)
			return
		}
		sum, err := fingerprint(doc)
		if err != nil {
			onError(err)
			return
		}
		if sum == last {
			return
		}
		last = sum
		log.WithFields(fields).Debug("Document changed")
		onNext(doc)
	})
	return p.cancel(), nil
}

// WatchQuery polls q and pushes the full result whenever it changes.
func (s *DataStore) WatchQuery(ctx context.Context, q types.Query,
	onNext func([]types.Document), onError func(error)) (ports.Cancel, error) {
	docs, err := s.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	last, err := fingerprint(docs...)
	if err != nil {
		return nil, err
	}

	p := &poller{interval: s.poll, stop: make(chan struct{})}
	go p.run(ctx, func() {
		docs, err := s.RunQuery(ctx, q)
		if err != nil {
			onError(err)
			return
		}
		sum, err := fingerprint(docs...)
		if err != nil {
			onError(err)
			return
		}
		if sum == last {
			return
		}
		last = sum
		log.WithField("collection", q.Collection).Debug("Query result changed")
		onNext(docs)
	})
	return p.cancel(), nil
}
