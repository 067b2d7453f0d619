// Package redis stores each document as a codec blob under its own key, indexes the ids of
// a collection in a set and announces every write on a per-collection Pub/Sub channel,
// which is what watches listen on.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firestorm/internal/codec"
	"firestorm/internal/ports"
	"firestorm/internal/query"
	"firestorm/internal/types"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	docKeyNameTemplate        = "_firestorm_doc_%s_%s"
	collectionKeyNameTemplate = "_firestorm_coll_%s"
	channelNameTemplate       = "_firestorm_chg_%s"

	// merges retry this many times when a concurrent writer touches the key
	maxUpdateAttempts = 5
)

// DataStore implements ports.DocumentStore.
type DataStore struct {
	cli *redis.Client
}

var _ ports.DocumentStore = (*DataStore)(nil)

func NewDataStore(cli *redis.Client) *DataStore {
	return &DataStore{cli: cli}
}

func encodeDoc(id string, fields types.Document) ([]byte, error) {
	doc := fields.Clone()
	if doc == nil {
		doc = types.Document{}
	}
	doc[types.KeyID] = id
	return codec.Encode(doc)
}

func (s *DataStore) GetDocument(ctx context.Context, collection, id string) (types.Document, error) {
	b, err := s.cli.Get(ctx, getDocKeyName(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return codec.Decode(b)
}

func (s *DataStore) SetDocument(ctx context.Context, collection, id string, fields types.Document) error {
	b, err := encodeDoc(id, fields)
	if err != nil {
		return err
	}
	_, err = s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, getDocKeyName(collection, id), b, 0)
		p.SAdd(ctx, getCollectionKeyName(collection), id)
		return nil
	})
	if err != nil {
		return err
	}
	s.announce(ctx, collection, id)
	return nil
}

// CreateDocument writes the document with SETNX.
func (s *DataStore) CreateDocument(ctx context.Context, collection, id string, fields types.Document) (bool, error) {
	b, err := encodeDoc(id, fields)
	if err != nil {
		return false, err
	}
	created, err := s.cli.SetNX(ctx, getDocKeyName(collection, id), b, 0).Result()
	if err != nil || !created {
		return false, err
	}
	if err := s.cli.SAdd(ctx, getCollectionKeyName(collection), id).Err(); err != nil {
		return true, err
	}
	s.announce(ctx, collection, id)
	return true, nil
}

// UpdateDocument merges partial in an optimistic WATCH/MULTI transaction.
func (s *DataStore) UpdateDocument(ctx context.Context, collection, id string, partial types.Document) error {
	key := getDocKeyName(collection, id)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := codec.Decode(b)
		if err != nil {
			return err
		}
		next, err := encodeDoc(id, cur.Merge(partial))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.cli.Watch(ctx, txf, key)
		if err == nil {
			s.announce(ctx, collection, id)
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.WithFields(log.Fields{
			"collection": collection,
			"id":         id,
			"attempt":    attempt + 1,
		}).Debug("Concurrent write, retrying merge")
	}
	return errors.New("too many concurrent writers, giving up on merge")
}

func (s *DataStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, getDocKeyName(collection, id))
		p.SRem(ctx, getCollectionKeyName(collection), id)
		return nil
	})
	if err != nil {
		return err
	}
	s.announce(ctx, collection, id)
	return nil
}

// RunQuery loads every document of the collection and evaluates q in-process.
func (s *DataStore) RunQuery(ctx context.Context, q types.Query) ([]types.Document, error) {
	ids, err := s.cli.SMembers(ctx, getCollectionKeyName(q.Collection)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []types.Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = getDocKeyName(q.Collection, id)
	}
	vals, err := s.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]types.Document, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between SMEMBERS and MGET
			continue
		}
		doc, err := codec.Decode([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keys[i], err)
		}
		docs = append(docs, doc)
	}
	return query.Apply(docs, q), nil
}

// announce publishes the id of a written document on its collection channel.
func (s *DataStore) announce(ctx context.Context, collection, id string) {
	if err := s.cli.Publish(ctx, getChannelName(collection), id).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"collection": collection,
			"id":         id,
		}).Error("Failed to announce change")
	}
}

// subscribe opens the collection channel and waits for the subscription to be confirmed,
// so writes made after it returns are never missed.
func (s *DataStore) subscribe(ctx context.Context, collection string) (*redis.PubSub, ports.Cancel, error) {
	sub := s.cli.Subscribe(ctx, getChannelName(collection))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				log.WithError(err).WithField("collection", collection).Warn("Failed to close subscription")
			}
		})
	}
	return sub, cancel, nil
}

func (s *DataStore) WatchDocument(ctx context.Context, collection, id string,
	onNext func(types.Document), onError func(error)) (ports.Cancel, error) {
	sub, cancel, err := s.subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range sub.Channel() {
			if msg.Payload != id {
				continue
			}
			doc, err := s.GetDocument(ctx, collection, id)
			if err != nil {
				onError(err)
				continue
			}
			onNext(doc)
		}
	}()
	return cancel, nil
}

func (s *DataStore) WatchQuery(ctx context.Context, q types.Query,
	onNext func([]types.Document), onError func(error)) (ports.Cancel, error) {
	sub, cancel, err := s.subscribe(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	go func() {
		for range sub.Channel() {
			docs, err := s.RunQuery(ctx, q)
			if err != nil {
				onError(err)
				continue
			}
			onNext(docs)
		}
	}()
	return cancel, nil
}

func getDocKeyName(collection, id string) string {
	return fmt.Sprintf(docKeyNameTemplate, collection, id)
}

func getCollectionKeyName(collection string) string {
	return fmt.Sprintf(collectionKeyNameTemplate, collection)
}

func getChannelName(collection string) string {
	return fmt.Sprintf(channelNameTemplate, collection)
}
