package schema

import (
	"context"
	"sort"
	"sync"

	"firestorm/internal/listen"
	"firestorm/internal/types"
)

// Registry maps collections to their schema. A collection has at most one schema.
type Registry struct {
	mu           sync.RWMutex
	byCollection map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{byCollection: make(map[string]*Schema)}
}

func (g *Registry) Register(s *Schema) error {
	if s == nil || s.Collection == "" {
		return types.Err(types.ErrConfiguration, nil, "schema needs a collection")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.byCollection[s.Collection]; ok {
		return types.Err(types.ErrConfiguration, nil,
			"collection %s already has schema %s", s.Collection, prev.Name)
	}
	g.byCollection[s.Collection] = s
	return nil
}

func (g *Registry) Lookup(collection string) (*Schema, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.byCollection[collection]
	return s, ok
}

// All returns the registered schemas ordered by collection.
func (g *Registry) All() []*Schema {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Schema, 0, len(g.byCollection))
	for _, s := range g.byCollection {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out
}

// Find loads one record of s. An absent document yields nil and no error.
func Find(ctx context.Context, w Writer, s *Schema, id string) (*Record, error) {
	doc, err := w.Get(ctx, s.Collection, id)
	if err != nil || doc == nil {
		return nil, err
	}
	if doc.ID() == "" {
		doc[types.KeyID] = id
	}
	return s.load(w, doc), nil
}

// Watch subscribes to records of s. cfg.Collection defaults to the schema's collection.
func Watch(ctx context.Context, mux *listen.Multiplexer, w Writer, s *Schema,
	cfg types.SubscriptionConfig, fn func([]*Record)) (listen.Detach, error) {
	if cfg.Collection == "" {
		cfg.Collection = s.Collection
	}
	if cfg.Collection != s.Collection {
		return nil, types.Err(types.ErrConfiguration, nil,
			"schema %s watches %s, not %s", s.Name, s.Collection, cfg.Collection)
	}
	return mux.Attach(ctx, cfg, func(snap types.Snapshot) {
		var records []*Record
		if snap.Single {
			if snap.Doc != nil {
				records = append(records, s.load(w, snap.Doc))
			}
		} else {
			records = make([]*Record, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				records = append(records, s.load(w, d))
			}
		}
		fn(records)
	})
}
