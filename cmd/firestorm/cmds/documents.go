// Package cmds implements the firestorm CLI. Each command is a plain function taking its
// collaborators and an output writer; root.go wires them into cobra.
package cmds

import (
	"context"
	"fmt"
	"io"

	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/ports"
	"firestorm/internal/schema"
	"firestorm/internal/types"

	"github.com/goccy/go-json"
)

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func parseDocument(raw string) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, types.Err(types.ErrConfiguration, err, "document is not a JSON object")
	}
	if doc == nil {
		return nil, types.Err(types.ErrConfiguration, nil, "document is not a JSON object")
	}
	return doc, nil
}

// GetDocument prints one document.
func GetDocument(ctx context.Context, out io.Writer, engine *lifecycle.Engine, collection, id string) error {
	doc, err := engine.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return types.Err(types.ErrNotFound, nil, "%s/%s", collection, id)
	}
	return printJSON(out, doc)
}

// Query prints the documents selected by cfg as a JSON array, in query order or, for id
// selections, in the order the ids were given.
func Query(ctx context.Context, out io.Writer, store ports.DocumentStore, engine *lifecycle.Engine,
	cfg types.SubscriptionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.HasID() || cfg.IDs != nil {
		found, err := engine.GetMany(ctx, cfg)
		if err != nil {
			return err
		}
		ids := cfg.IDs
		if cfg.HasID() {
			ids = []string{cfg.DocID()}
		}
		docs := make([]types.Document, 0, len(found))
		for _, id := range ids {
			if d, ok := found[id]; ok {
				docs = append(docs, d)
			}
		}
		return printJSON(out, docs)
	}
	q, err := listen.BuildQuery(ctx, store, cfg)
	if err != nil {
		return err
	}
	docs, err := store.RunQuery(ctx, q)
	if err != nil {
		return types.Err(types.ErrRemote, err, "query %s", cfg.Collection)
	}
	if docs == nil {
		docs = []types.Document{}
	}
	return printJSON(out, docs)
}

// PutDocument saves raw into collection and prints the merged result. With a schema file
// the document is validated and saved through a record of that schema.
func PutDocument(ctx context.Context, out io.Writer, engine *lifecycle.Engine, collection, raw, schemaPath string) error {
	doc, err := parseDocument(raw)
	if err != nil {
		return err
	}
	if schemaPath == "" {
		if doc.ID() == "" {
			doc[types.KeyID] = lifecycle.NewID()
		}
		saved, err := engine.Save(ctx, collection, doc, lifecycle.SaveOptions{})
		if err != nil {
			return err
		}
		return printJSON(out, saved)
	}

	s, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}
	if s.Collection != collection {
		return types.Err(types.ErrConfiguration, nil,
			"schema %s is for collection %s, not %s", s.Name, s.Collection, collection)
	}
	rec, err := s.NewRecord(engine, doc)
	if err != nil {
		return err
	}
	if err := rec.Save(ctx, lifecycle.SaveOptions{}); err != nil {
		return err
	}
	return printJSON(out, rec.Document())
}

// DeleteDocument removes a document. Store failures are logged, not returned.
func DeleteDocument(ctx context.Context, out io.Writer, engine *lifecycle.Engine, collection, id string) error {
	if id == "" {
		return types.Err(types.ErrConfiguration, nil, "id is required")
	}
	engine.Delete(ctx, collection, id)
	_, err := fmt.Fprintf(out, "deleted %s/%s\n", collection, id)
	return err
}

// ValidateSchema checks raw against the schema file and prints "valid".
func ValidateSchema(out io.Writer, schemaPath, raw string) error {
	s, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}
	doc, err := parseDocument(raw)
	if err != nil {
		return err
	}
	if err := s.ValidateDocument(doc); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "valid")
	return err
}
