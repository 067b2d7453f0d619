package schema

import (
	"context"

	"firestorm/internal/lifecycle"
	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
)

// Writer is the document store handle records persist through.
type Writer interface {
	Get(ctx context.Context, collection, id string) (types.Document, error)
	Save(ctx context.Context, collection string, doc types.Document, opts lifecycle.SaveOptions) (types.Document, error)
	Update(ctx context.Context, collection, id string, partial types.Document) error
	Delete(ctx context.Context, collection, id string)
}

// Record is one document of a schema. Only declared fields and reserved keys may be set.
type Record struct {
	schema *Schema
	w      Writer
	id     string
	fields types.Document
}

// NewRecord builds a record from data, rejecting keys the schema doesn't declare.
// A missing id is generated.
func (s *Schema) NewRecord(w Writer, data types.Document) (*Record, error) {
	for key := range data {
		if !s.IsKey(key) {
			return nil, types.Err(types.ErrValidation, nil, "%s is not part of the %s schema.", key, s.Name)
		}
	}
	r := s.load(w, data)
	if r.id == "" {
		r.id = lifecycle.NewID()
	}
	return r, nil
}

// load wraps a stored document without key checks.
func (s *Schema) load(w Writer, doc types.Document) *Record {
	fields := doc.Clone()
	if fields == nil {
		fields = types.Document{}
	}
	id := fields.ID()
	delete(fields, types.KeyID)
	return &Record{schema: s, w: w, id: id, fields: fields}
}

func (r *Record) ID() string {
	return r.id
}

func (r *Record) Schema() *Schema {
	return r.schema
}

func (r *Record) Get(key string) any {
	if key == types.KeyID {
		return r.id
	}
	return r.fields[key]
}

// Set assigns one field in memory. It does not validate the value.
func (r *Record) Set(key string, value any) error {
	if !r.schema.IsKey(key) {
		return types.Err(types.ErrValidation, nil, "%s is not part of the %s schema.", key, r.schema.Name)
	}
	if key == types.KeyID {
		id, ok := value.(string)
		if !ok || id == "" {
			return types.Err(types.ErrValidation, nil, "id of %s must be a non-empty string", r.schema.Name)
		}
		r.id = id
		return nil
	}
	r.fields[key] = value
	return nil
}

// Document returns a deep copy of the record including its id.
func (r *Record) Document() types.Document {
	doc := r.fields.Clone()
	doc[types.KeyID] = r.id
	return doc
}

// Validate checks every declared field.
func (r *Record) Validate() error {
	for _, key := range r.schema.Keys() {
		if err := r.schema.Validate(key, r.fields[key]); err != nil {
			return err
		}
	}
	return nil
}

// Save validates and then writes the declared fields plus the id. The record picks up the
// stamps the write produced.
func (r *Record) Save(ctx context.Context, opts lifecycle.SaveOptions) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data := types.Document{types.KeyID: r.id}
	for _, key := range r.schema.Keys() {
		if v, ok := r.fields[key]; ok {
			data[key] = v
		}
	}
	saved, err := r.w.Save(ctx, r.schema.Collection, data.Clone(), opts)
	if err != nil {
		return err
	}
	for _, key := range []string{types.KeyCreated, types.KeyUpdated, types.KeyOwnerID} {
		if v, ok := saved[key]; ok {
			r.fields[key] = v
		}
	}
	return nil
}

// Update applies partial, validates and writes it. Any failure rolls the in-memory
// fields back to what they were before the call.
func (r *Record) Update(ctx context.Context, partial types.Document) error {
	for key := range partial {
		if !r.schema.IsKey(key) || key == types.KeyID {
			return types.Err(types.ErrValidation, nil, "%s is not an updatable key of the %s schema.", key, r.schema.Name)
		}
	}
	before := r.fields.Clone()
	for k, v := range partial {
		r.fields[k] = v
	}
	if err := r.Validate(); err != nil {
		r.fields = before
		return err
	}
	if err := r.w.Update(ctx, r.schema.Collection, r.id, partial.Clone()); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"schema": r.schema.Name,
			"id":     r.id,
		}).Warn("Update failed, rolling record back")
		r.fields = before
		return err
	}
	return nil
}

func (r *Record) Delete(ctx context.Context) {
	r.w.Delete(ctx, r.schema.Collection, r.id)
}

// Call runs the named instance behaviour on r.
func (r *Record) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := r.schema.methods[name]
	if !ok {
		return nil, types.Err(types.ErrConfiguration, nil, "%s has no method %q", r.schema.Name, name)
	}
	return fn(ctx, r, args...)
}
