// Package lifecycle implements the create/read/update/delete flows for documents,
// including created/updated/ownerId stamping and create-vs-update resolution.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"firestorm/internal/listen"
	"firestorm/internal/ports"
	"firestorm/internal/pub"
	"firestorm/internal/telemetry"
	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
)

// SaveOptions tunes Save.
type SaveOptions struct {
	// SetOwner stamps the current user's id as ownerId before the merge.
	SetOwner bool
}

type Engine struct {
	store       ports.DocumentStore
	currentUser func(ctx context.Context) *types.User
	notifier    *pub.Notifier
}

type Option func(*Engine)

// WithCurrentUser sets the identity source used by SaveOptions.SetOwner.
func WithCurrentUser(fn func(ctx context.Context) *types.User) Option {
	return func(e *Engine) { e.currentUser = fn }
}

// WithNotifier publishes a change event after every successful write.
func WithNotifier(n *pub.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(store ports.DocumentStore, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, o := range opts {
		o(e)
	}
	return e
}

func remoteErr(op, collection, id string, err error) error {
	telemetry.RemoteErrors.With(op).Inc()
	log.WithError(err).WithFields(log.Fields{
		"op":         op,
		"collection": collection,
		"id":         id,
	}).Error("Remote store call failed")
	return types.Err(types.ErrRemote, err, "%s %s/%s", op, collection, id)
}

// Get fetches one document. An absent document is returned as nil with no error.
func (e *Engine) Get(ctx context.Context, collection, id string) (types.Document, error) {
	if id == "" {
		return nil, types.Err(types.ErrConfiguration, nil, "id is required to get a document from %s", collection)
	}
	doc, err := e.store.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, remoteErr("get", collection, id, err)
	}
	return doc, nil
}

// GetMany resolves a subscription config into an id->document mapping without subscribing.
// With IDs set, every id is fetched in parallel and missing ones are left out of the result;
// any single failure fails the whole call. Otherwise the config's query is run once.
func (e *Engine) GetMany(ctx context.Context, cfg types.SubscriptionConfig) (map[string]types.Document, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case cfg.IDs != nil:
		return e.getByIDs(ctx, cfg.Collection, cfg.IDs)
	case cfg.HasID():
		return e.getByIDs(ctx, cfg.Collection, []string{cfg.DocID()})
	}

	q, err := listen.BuildQuery(ctx, e.store, cfg)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.RunQuery(ctx, q)
	if err != nil {
		return nil, remoteErr("query", cfg.Collection, "", err)
	}
	out := make(map[string]types.Document, len(docs))
	for _, d := range docs {
		out[d.ID()] = d
	}
	return out, nil
}

func (e *Engine) getByIDs(ctx context.Context, collection string, ids []string) (map[string]types.Document, error) {
	docs := make([]types.Document, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			docs[i], errs[i] = e.Get(ctx, collection, id)
		}(i, id)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	out := make(map[string]types.Document, len(ids))
	for i, id := range ids {
		if docs[i] != nil {
			out[id] = docs[i]
		}
	}
	return out, nil
}

// Update merges partial into an existing document. It performs no read, no timestamp
// stamping and no schema validation.
func (e *Engine) Update(ctx context.Context, collection, id string, partial types.Document) error {
	if id == "" {
		return types.Err(types.ErrConfiguration, nil, "id is required to update a document in %s", collection)
	}
	if err := e.store.UpdateDocument(ctx, collection, id, partial); err != nil {
		return remoteErr("update", collection, id, err)
	}
	e.notifier.Notify(ctx, pub.ChangeEvent{Op: pub.OpUpdate, Collection: collection, ID: id, At: Now()})
	return nil
}

// Save creates or updates doc, which must carry an id. Existing documents get the merge
// plus a fresh updated stamp; new ones get created == updated. A nil doc is a no-op.
// The returned document is what the store now holds, to the best of the engine's knowledge.
func (e *Engine) Save(ctx context.Context, collection string, doc types.Document, opts SaveOptions) (types.Document, error) {
	if doc == nil {
		log.WithField("collection", collection).Warn("No data to save")
		return nil, nil
	}
	id := doc.ID()
	if id == "" {
		return nil, types.Err(types.ErrConfiguration, nil, "id is required to save a document in %s", collection)
	}

	data := doc.Clone()
	if opts.SetOwner {
		if u := e.user(ctx); u != nil {
			data[types.KeyOwnerID] = u.ID
		} else {
			log.WithFields(log.Fields{"collection": collection, "id": id}).
				Warn("Owner requested but no user is signed in")
		}
	}

	existing, err := e.store.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, remoteErr("get", collection, id, err)
	}
	now := Now()
	if existing != nil {
		return e.saveExisting(ctx, collection, id, existing, data, now)
	}

	data[types.KeyCreated] = now
	data[types.KeyUpdated] = now
	created, err := e.store.CreateDocument(ctx, collection, id, data)
	if err != nil {
		return nil, remoteErr("create", collection, id, err)
	}
	if !created {
		log.WithFields(log.Fields{"collection": collection, "id": id}).
			Info("Document was created concurrently, saving as update")
		existing, err = e.store.GetDocument(ctx, collection, id)
		if err != nil {
			return nil, remoteErr("get", collection, id, err)
		}
		return e.saveExisting(ctx, collection, id, existing, data, now)
	}
	e.notifier.Notify(ctx, pub.ChangeEvent{Op: pub.OpCreate, Collection: collection, ID: id, At: now})
	return data, nil
}

// saveExisting writes data over an existing document. The created stamp is never rewritten.
func (e *Engine) saveExisting(ctx context.Context, collection, id string, existing, data types.Document, now time.Time) (types.Document, error) {
	delete(data, types.KeyCreated)
	data[types.KeyUpdated] = now
	if err := e.store.UpdateDocument(ctx, collection, id, data); err != nil {
		return nil, remoteErr("update", collection, id, err)
	}
	e.notifier.Notify(ctx, pub.ChangeEvent{Op: pub.OpUpdate, Collection: collection, ID: id, At: now})
	return existing.Merge(data), nil
}

// Delete removes a document without reporting failures to the caller. Errors are logged.
func (e *Engine) Delete(ctx context.Context, collection, id string) {
	if id == "" {
		log.WithField("collection", collection).Warn("No id given, nothing to delete")
		return
	}
	if err := e.store.DeleteDocument(ctx, collection, id); err != nil {
		_ = remoteErr("delete", collection, id, err)
		return
	}
	e.notifier.Notify(ctx, pub.ChangeEvent{Op: pub.OpDelete, Collection: collection, ID: id, At: Now()})
}

func (e *Engine) user(ctx context.Context) *types.User {
	if e.currentUser == nil {
		return nil
	}
	return e.currentUser(ctx)
}
