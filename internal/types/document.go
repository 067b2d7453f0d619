package types

import (
	"time"
)

// Reserved document keys managed by the lifecycle engine.
const (
	KeyID      = "id"
	KeyCreated = "created"
	KeyUpdated = "updated"
	KeyOwnerID = "ownerId"

	ProfileCollection = "profiles"
)

// Document is a single stored document. A nil Document is the absent marker.
type Document map[string]any

// ID returns the document id, or "" if it has none.
func (d Document) ID() string {
	if d == nil {
		return ""
	}
	id, _ := d[KeyID].(string)
	return id
}

// Clone returns a deep copy of the document. Nested maps and slices are copied so the
// result shares no mutable state with d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of d with every key of partial applied on top.
func (d Document) Merge(partial Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range partial {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case time.Time:
		return t
	default:
		return v
	}
}

// Snapshot is the materialized value of a subscription: one document when Single is set,
// otherwise the ordered result of a collection query.
type Snapshot struct {
	Key    string
	Single bool
	Doc    Document
	Docs   []Document
}

// ByID returns the collection snapshot as an id-keyed mapping.
func (s Snapshot) ByID() map[string]Document {
	out := make(map[string]Document, len(s.Docs))
	for _, d := range s.Docs {
		if id := d.ID(); id != "" {
			out[id] = d
		}
	}
	return out
}

// Exists reports whether a single-document snapshot holds a document.
func (s Snapshot) Exists() bool {
	return s.Single && s.Doc != nil
}

// Clone deep-copies the snapshot. Every callback receives its own clone.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Key: s.Key, Single: s.Single, Doc: s.Doc.Clone()}
	if s.Docs != nil {
		out.Docs = make([]Document, len(s.Docs))
		for i, d := range s.Docs {
			out.Docs[i] = d.Clone()
		}
	}
	return out
}
