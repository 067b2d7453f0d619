package listen

import (
	"context"
	"sync"
	"sync/atomic"

	"firestorm/internal/ports"
	"firestorm/internal/telemetry"
	"firestorm/internal/types"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

// Callback receives snapshots. Each invocation gets its own deep copy.
type Callback func(types.Snapshot)

// Detach removes a callback. It is idempotent.
type Detach func()

// CallbackHandle identifies one attached callback. Handles are never reused.
type CallbackHandle = ulid.ULID

// BatchGetter resolves id-list subscriptions.
type BatchGetter interface {
	GetMany(ctx context.Context, cfg types.SubscriptionConfig) (map[string]types.Document, error)
}

type state int

const (
	unattached state = iota
	starting
	live
)

var stateNames = map[state]string{
	unattached: "unattached",
	starting:   "starting",
	live:       "live",
}

type entry struct {
	key       string
	cfg       types.SubscriptionConfig
	state     state
	gen       uint64
	callbacks map[CallbackHandle]*subscriber
	cancel    ports.Cancel

	// dispatch serializes deliveries for the key so callbacks see pushes in arrival order.
	dispatch sync.Mutex
}

// SubscriptionStat describes one active key.
type SubscriptionStat struct {
	Key       string `json:"key"`
	State     string `json:"state"`
	Callbacks int    `json:"callbacks"`
}

// Multiplexer keeps at most one underlying remote subscription per subscription key and
// fans its snapshots out to every attached callback.
type Multiplexer struct {
	mu      sync.Mutex
	store   ports.DocumentStore
	batch   BatchGetter
	cache   *Cache
	entries map[string]*entry
	gen     uint64
	// seq stamps every delivery; it only grows, also across Reset.
	seq uint64
}

// NewMultiplexer builds a multiplexer over store. A nil batch resolves id lists one by one
// against store; a nil cache gets DefaultStaleEntries.
func NewMultiplexer(store ports.DocumentStore, batch BatchGetter, cache *Cache) *Multiplexer {
	if cache == nil {
		cache = NewCache(DefaultStaleEntries)
	}
	if batch == nil {
		batch = storeBatch{store: store}
	}
	return &Multiplexer{
		store:   store,
		batch:   batch,
		cache:   cache,
		entries: make(map[string]*entry),
	}
}

// Attach registers cb for the subscription described by cfg and returns its Detach.
// An invalid config fails with ErrConfiguration before any remote call. A config whose id
// is present but empty is accepted and ignored: no remote call is made and cb never fires.
// A cached snapshot for the key, even a stale one, is delivered to cb before Attach returns.
// The first Attach for a key starts the remote subscription and blocks until its initial
// fetch has been delivered or has failed.
func (m *Multiplexer) Attach(ctx context.Context, cfg types.SubscriptionConfig, cb Callback) (Detach, error) {
	cfg = cfg.Normalize()
	key, err := DeriveKey(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.HasID() && cfg.DocID() == "" {
		log.WithField("collection", cfg.Collection).Debug("Document id not set yet, not attaching")
		return func() {}, nil
	}

	h := ulid.Make()
	detach := m.detachFn(key, h)
	sub := &subscriber{fn: wrap(cfg, cb, detach)}

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{key: key, cfg: cfg, callbacks: make(map[CallbackHandle]*subscriber)}
		m.entries[key] = e
	}
	e.callbacks[h] = sub
	needStart := e.state == unattached
	if needStart {
		m.gen++
		e.gen = m.gen
		e.cfg = cfg
		e.state = starting
	}
	gen := e.gen
	// read under m.mu so any push fanned out after this point carries a later seq
	cached, hasCached := m.cache.lookup(key)
	m.mu.Unlock()
	telemetry.AttachedCallbacks.Inc()

	if hasCached {
		sub.push(cached.seq, cached.snap.Clone())
	}
	if needStart {
		m.start(context.WithoutCancel(ctx), e, gen)
	}
	return detach, nil
}

// wrap applies the per-subscriber transform and once semantics.
func wrap(cfg types.SubscriptionConfig, cb Callback, detach Detach) Callback {
	fn := cb
	if cfg.Transform != nil {
		transform, inner := cfg.Transform, fn
		fn = func(s types.Snapshot) { inner(transform(s)) }
	}
	if cfg.Once {
		var fired atomic.Bool
		inner := fn
		fn = func(s types.Snapshot) {
			if !fired.CompareAndSwap(false, true) {
				return
			}
			detach()
			inner(s)
		}
	}
	return fn
}

func (m *Multiplexer) start(ctx context.Context, e *entry, gen uint64) {
	cfg := e.cfg
	key := e.key
	fields := log.Fields{"key": key}

	switch {
	case cfg.HasID():
		telemetry.SubscriptionStarts.With("doc").Inc()
		log.WithFields(fields).Debug("Mounting listener")
		cancel, err := m.store.WatchDocument(ctx, cfg.Collection, cfg.DocID(),
			func(doc types.Document) {
				m.deliver(key, gen, types.Snapshot{Key: key, Single: true, Doc: doc})
			},
			func(err error) { m.onSubscriptionError(key, err) },
		)
		if err != nil {
			m.abort(e, gen, "watch", err)
			return
		}
		if !m.setLive(e, gen, cancel) {
			return
		}
		doc, err := m.store.GetDocument(ctx, cfg.Collection, cfg.DocID())
		if err != nil {
			m.abort(e, gen, "get", err)
			return
		}
		m.deliver(key, gen, types.Snapshot{Key: key, Single: true, Doc: doc})

	case cfg.IDs != nil:
		telemetry.SubscriptionStarts.With("ids").Inc()
		if !m.setLive(e, gen, nil) {
			return
		}
		found, err := m.batch.GetMany(ctx, cfg)
		if err != nil {
			m.abort(e, gen, "get_many", err)
			return
		}
		docs := make([]types.Document, 0, len(found))
		for _, id := range cfg.IDs {
			if d, ok := found[id]; ok {
				docs = append(docs, d)
			}
		}
		m.deliver(key, gen, types.Snapshot{Key: key, Docs: docs})

	default:
		telemetry.SubscriptionStarts.With("query").Inc()
		q, err := BuildQuery(ctx, m.store, cfg)
		if err != nil {
			m.abort(e, gen, "build_query", err)
			return
		}
		cancel, err := m.store.WatchQuery(ctx, q,
			func(docs []types.Document) {
				m.deliver(key, gen, types.Snapshot{Key: key, Docs: docs})
			},
			func(err error) { m.onSubscriptionError(key, err) },
		)
		if err != nil {
			m.abort(e, gen, "watch", err)
			return
		}
		if !m.setLive(e, gen, cancel) {
			return
		}
		docs, err := m.store.RunQuery(ctx, q)
		if err != nil {
			m.abort(e, gen, "query", err)
			return
		}
		m.deliver(key, gen, types.Snapshot{Key: key, Docs: docs})
	}
}

// current reports whether e is still the registered entry for its key at generation gen.
// Must hold m.mu.
func (m *Multiplexer) current(e *entry, gen uint64) bool {
	return m.entries[e.key] == e && e.gen == gen
}

// setLive records the underlying subscription. If the entry drained while starting, the
// subscription is canceled right away and false is returned.
func (m *Multiplexer) setLive(e *entry, gen uint64, cancel ports.Cancel) bool {
	m.mu.Lock()
	if !m.current(e, gen) || e.state != starting {
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return false
	}
	e.cancel = cancel
	e.state = live
	m.mu.Unlock()
	telemetry.ActiveSubscriptions.Inc()
	return true
}

// abort tears down a subscription whose start failed. Callbacks stay registered so the
// next Attach for the key starts it again.
func (m *Multiplexer) abort(e *entry, gen uint64, op string, err error) {
	log.WithError(err).WithFields(log.Fields{"key": e.key, "op": op}).
		Error("Error on initial subscription fetch")
	telemetry.RemoteErrors.With(op).Inc()

	m.mu.Lock()
	if !m.current(e, gen) {
		m.mu.Unlock()
		return
	}
	cancel, wasLive := e.cancel, e.state == live
	e.cancel = nil
	e.state = unattached
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasLive {
		telemetry.ActiveSubscriptions.Dec()
	}
}

func (m *Multiplexer) onSubscriptionError(key string, err error) {
	log.WithError(err).WithField("key", key).Error("Subscription error")
	telemetry.RemoteErrors.With("watch").Inc()
}

// deliver caches snap and fans it out to every callback registered for key.
func (m *Multiplexer) deliver(key string, gen uint64, snap types.Snapshot) {
	m.mu.Lock()
	e, ok := m.entries[key]
	ok = ok && e.gen == gen
	m.mu.Unlock()
	if !ok {
		log.WithField("key", key).Warn("No listeners for key, dropping snapshot")
		telemetry.DroppedDeliveries.Inc()
		return
	}

	e.dispatch.Lock()
	defer e.dispatch.Unlock()

	m.mu.Lock()
	if !m.current(e, gen) {
		m.mu.Unlock()
		telemetry.DroppedDeliveries.Inc()
		return
	}
	m.seq++
	seq := m.seq
	m.cache.put(key, snap, seq)
	subs := make([]*subscriber, 0, len(e.callbacks))
	for _, sub := range e.callbacks {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	if len(subs) == 0 {
		log.WithField("key", key).Warn("No listeners for key, dropping snapshot")
		telemetry.DroppedDeliveries.Inc()
		return
	}
	for _, sub := range subs {
		sub.push(seq, snap.Clone())
		telemetry.Deliveries.Inc()
	}
}

// subscriber delivers to one callback in seq order. A snapshot older than the last one
// handed to the callback is dropped. Pushes that arrive while the callback runs, including
// re-entrant ones, are queued and drained by the goroutine already delivering.
type subscriber struct {
	fn Callback

	mu      sync.Mutex
	started bool
	last    uint64
	running bool
	queue   []types.Snapshot
}

func (s *subscriber) push(seq uint64, snap types.Snapshot) {
	s.mu.Lock()
	if s.started && seq <= s.last {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.last = seq
	s.queue = append(s.queue, snap)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(next)
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}

// storeBatch resolves id lists one by one against the store.
type storeBatch struct {
	store ports.DocumentStore
}

func (b storeBatch) GetMany(ctx context.Context, cfg types.SubscriptionConfig) (map[string]types.Document, error) {
	out := make(map[string]types.Document, len(cfg.IDs))
	for _, id := range cfg.IDs {
		d, err := b.store.GetDocument(ctx, cfg.Collection, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out[id] = d
		}
	}
	return out, nil
}

func (m *Multiplexer) detachFn(key string, h CallbackHandle) Detach {
	var once sync.Once
	return func() {
		once.Do(func() { m.detach(key, h) })
	}
}

func (m *Multiplexer) detach(key string, h CallbackHandle) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, ok := e.callbacks[h]; !ok {
		m.mu.Unlock()
		return
	}
	delete(e.callbacks, h)
	telemetry.AttachedCallbacks.Dec()
	if len(e.callbacks) > 0 {
		m.mu.Unlock()
		return
	}
	cancel, wasLive := e.cancel, e.state == live
	e.cancel = nil
	e.state = unattached
	delete(m.entries, key)
	m.mu.Unlock()

	m.cache.Retire(key)
	if cancel != nil {
		cancel()
	}
	if wasLive {
		telemetry.ActiveSubscriptions.Dec()
	}
	log.WithField("key", key).Debug("Unmounted listener")
}

// Keys returns the active subscription keys in no particular order.
func (m *Multiplexer) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats lists active keys.
func (m *Multiplexer) Stats() []SubscriptionStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubscriptionStat, 0, len(m.entries))
	for k, e := range m.entries {
		out = append(out, SubscriptionStat{Key: k, State: stateNames[e.state], Callbacks: len(e.callbacks)})
	}
	return out
}

// Cached returns the cached snapshot for key.
func (m *Multiplexer) Cached(key string) (types.Snapshot, bool) {
	snap, ok := m.cache.Get(key)
	if !ok {
		return types.Snapshot{}, false
	}
	return snap.Clone(), true
}

// Reset cancels every underlying subscription and drops all callbacks and cached data.
func (m *Multiplexer) Reset() {
	m.mu.Lock()
	cancels := make([]ports.Cancel, 0, len(m.entries))
	for _, e := range m.entries {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
		e.cancel = nil
		e.state = unattached
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.cache.Reset()
	telemetry.ActiveSubscriptions.Set(0)
	telemetry.AttachedCallbacks.Set(0)
}
