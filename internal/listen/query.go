package listen

import (
	"context"

	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
)

// DocumentGetter resolves cursor documents.
type DocumentGetter interface {
	GetDocument(ctx context.Context, collection, id string) (types.Document, error)
}

// BuildQuery translates the filter, order, cursor and limit fields of cfg into a remote
// query description. Without an explicit filter or order the query is ordered by
// "updated" descending. A StartAfterID cursor is resolved with a blocking fetch; if that
// fetch fails or finds nothing the whole build fails with ErrRemote.
func BuildQuery(ctx context.Context, getter DocumentGetter, cfg types.SubscriptionConfig) (types.Query, error) {
	cfg = cfg.Normalize()
	q := types.Query{Collection: cfg.Collection, Limit: cfg.EffectiveLimit()}

	switch {
	case cfg.Filter != nil:
		q.Filters = []types.Filter{*cfg.Filter}
	case cfg.Filters != nil:
		q.Filters = append([]types.Filter(nil), cfg.Filters...)
	}

	if cfg.OrderBy != nil {
		dir := cfg.OrderBy.Direction
		if dir == "" {
			dir = types.Asc
		}
		q.OrderBy = []types.OrderBy{{Field: cfg.OrderBy.Field, Direction: dir}}
	} else if q.Filters == nil {
		q.OrderBy = []types.OrderBy{{Field: types.KeyUpdated, Direction: types.Desc}}
	}

	switch {
	case cfg.StartAfter != nil:
		q.StartAfter = cfg.StartAfter
	case cfg.StartAfterID != "":
		cursor, err := getter.GetDocument(ctx, cfg.Collection, cfg.StartAfterID)
		if err != nil {
			return types.Query{}, types.Err(types.ErrRemote, err,
				"resolving cursor %s/%s", cfg.Collection, cfg.StartAfterID)
		}
		if cursor == nil {
			return types.Query{}, types.Err(types.ErrRemote, types.ErrNotFound,
				"cursor document %s/%s", cfg.Collection, cfg.StartAfterID)
		}
		if cursor.ID() == "" {
			cursor[types.KeyID] = cfg.StartAfterID
		}
		q.StartAfter = cursor
	}

	log.WithFields(log.Fields{
		"collection": q.Collection,
		"filters":    q.Filters,
		"orderBy":    q.OrderBy,
		"limit":      q.Limit,
		"startAfter": q.StartAfter.ID(),
	}).Debug("Making query")
	return q, nil
}
