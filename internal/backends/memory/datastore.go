// Package memory is an in-process DocumentStore. Watchers are notified synchronously
// from the writing goroutine, which makes it the backend of choice for tests and for
// running the CLI without infrastructure.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"firestorm/internal/ports"
	"firestorm/internal/query"
	"firestorm/internal/types"
)

// Op names a store operation for error injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
	OpWatch  Op = "watch"
)

type docWatch struct {
	collection, id string
	onNext         func(types.Document)
	onError        func(error)
}

type queryWatch struct {
	q       types.Query
	onNext  func([]types.Document)
	onError func(error)
}

// DataStore implements ports.DocumentStore in memory.
type DataStore struct {
	mu          sync.Mutex
	collections map[string]map[string]types.Document
	docWatches  map[uint64]*docWatch
	qWatches    map[uint64]*queryWatch
	nextID      uint64
	failures    map[Op][]error

	watchesStarted  atomic.Int64
	watchesCanceled atomic.Int64
	calls           map[Op]int
}

func NewDataStore() *DataStore {
	return &DataStore{
		collections: make(map[string]map[string]types.Document),
		docWatches:  make(map[uint64]*docWatch),
		qWatches:    make(map[uint64]*queryWatch),
		failures:    make(map[Op][]error),
		calls:       make(map[Op]int),
	}
}

// FailNext makes the next call of op return err. Calls queue up in order.
func (s *DataStore) FailNext(op Op, err error) {
	s.mu.Lock()
	s.failures[op] = append(s.failures[op], err)
	s.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (s *DataStore) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// WatchesStarted and WatchesCanceled count underlying watch lifecycles.
func (s *DataStore) WatchesStarted() int64  { return s.watchesStarted.Load() }
func (s *DataStore) WatchesCanceled() int64 { return s.watchesCanceled.Load() }

// ActiveWatches returns the number of watches not yet canceled.
func (s *DataStore) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docWatches) + len(s.qWatches)
}

// BreakWatches reports err to every watcher on collection.
func (s *DataStore) BreakWatches(collection string, err error) {
	s.mu.Lock()
	var fns []func(error)
	for _, w := range s.docWatches {
		if w.collection == collection {
			fns = append(fns, w.onError)
		}
	}
	for _, w := range s.qWatches {
		if w.q.Collection == collection {
			fns = append(fns, w.onError)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// begin records the call and pops an injected failure. Must hold s.mu.
func (s *DataStore) begin(op Op) error {
	s.calls[op]++
	if errs := s.failures[op]; len(errs) > 0 {
		s.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (s *DataStore) GetDocument(ctx context.Context, collection, id string) (types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGet); err != nil {
		return nil, err
	}
	return s.collections[collection][id].Clone(), nil
}

func (s *DataStore) SetDocument(ctx context.Context, collection, id string, fields types.Document) error {
	s.mu.Lock()
	if err := s.begin(OpSet); err != nil {
		s.mu.Unlock()
		return err
	}
	s.put(collection, id, fields.Clone())
	s.notifyLocked(collection, id)
	return nil
}

func (s *DataStore) CreateDocument(ctx context.Context, collection, id string, fields types.Document) (bool, error) {
	s.mu.Lock()
	if err := s.begin(OpCreate); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, exists := s.collections[collection][id]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.put(collection, id, fields.Clone())
	s.notifyLocked(collection, id)
	return true, nil
}

func (s *DataStore) UpdateDocument(ctx context.Context, collection, id string, partial types.Document) error {
	s.mu.Lock()
	if err := s.begin(OpUpdate); err != nil {
		s.mu.Unlock()
		return err
	}
	cur, exists := s.collections[collection][id]
	if !exists {
		s.mu.Unlock()
		return types.ErrNotFound
	}
	s.put(collection, id, cur.Merge(partial))
	s.notifyLocked(collection, id)
	return nil
}

func (s *DataStore) DeleteDocument(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.begin(OpDelete); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.collections[collection], id)
	s.notifyLocked(collection, id)
	return nil
}

func (s *DataStore) WatchDocument(ctx context.Context, collection, id string,
	onNext func(types.Document), onError func(error)) (ports.Cancel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpWatch); err != nil {
		return nil, err
	}
	s.nextID++
	wid := s.nextID
	s.docWatches[wid] = &docWatch{collection: collection, id: id, onNext: onNext, onError: onError}
	s.watchesStarted.Add(1)
	return s.cancelFn(wid), nil
}

func (s *DataStore) WatchQuery(ctx context.Context, q types.Query,
	onNext func([]types.Document), onError func(error)) (ports.Cancel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpWatch); err != nil {
		return nil, err
	}
	s.nextID++
	wid := s.nextID
	s.qWatches[wid] = &queryWatch{q: q, onNext: onNext, onError: onError}
	s.watchesStarted.Add(1)
	return s.cancelFn(wid), nil
}

func (s *DataStore) RunQuery(ctx context.Context, q types.Query) ([]types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpQuery); err != nil {
		return nil, err
	}
	return s.runLocked(q), nil
}

func (s *DataStore) cancelFn(wid uint64) ports.Cancel {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.docWatches, wid)
			delete(s.qWatches, wid)
			s.mu.Unlock()
			s.watchesCanceled.Add(1)
		})
	}
}

func (s *DataStore) put(collection, id string, doc types.Document) {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]types.Document)
		s.collections[collection] = coll
	}
	if doc.ID() == "" {
		doc[types.KeyID] = id
	}
	coll[id] = doc
}

func (s *DataStore) runLocked(q types.Query) []types.Document {
	coll := s.collections[q.Collection]
	all := make([]types.Document, 0, len(coll))
	for _, d := range coll {
		all = append(all, d)
	}
	res := query.Apply(all, q)
	for i := range res {
		res[i] = res[i].Clone()
	}
	return res
}

// notifyLocked computes what every affected watcher should see, releases s.mu and
// delivers. Must be called with s.mu held; returns with it released.
func (s *DataStore) notifyLocked(collection, id string) {
	var calls []func()
	for _, w := range s.docWatches {
		if w.collection == collection && w.id == id {
			doc := s.collections[collection][id].Clone()
			fn := w.onNext
			calls = append(calls, func() { fn(doc) })
		}
	}
	for _, w := range s.qWatches {
		if w.q.Collection == collection {
			res := s.runLocked(w.q)
			fn := w.onNext
			calls = append(calls, func() { fn(res) })
		}
	}
	s.mu.Unlock()
	for _, c := range calls {
		c()
	}
}
