package listen

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"firestorm/internal/types"

	"github.com/goccy/go-json"
)

// DeriveKey maps a subscription config to its canonical subscription key.
//
//	no selector -> "items"
//	id          -> "items/abc"
//	filter      -> "items?f=status,%3D%3D,%22open%22"
//	filters     -> "items?f=...&f=..."   (caller order is significant)
//	ids         -> "items?ids=a,b"       (caller order is significant)
//
// Every component is query-escaped and filter values are JSON-encoded, so two configs share
// a key exactly when their rendered selectors are byte-identical. Non-default limit, order or
// cursor id add a "#" suffix. An empty filter list is the same as none.
func DeriveKey(cfg types.SubscriptionConfig) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	coll := url.PathEscape(cfg.Collection)

	var key string
	switch {
	case cfg.ID == nil && cfg.IDs == nil && cfg.Filter == nil && cfg.Filters == nil:
		key = coll
	case cfg.ID != nil:
		key = coll + "/" + url.PathEscape(*cfg.ID)
	case cfg.Filter != nil:
		f, err := renderFilter(*cfg.Filter)
		if err != nil {
			return "", err
		}
		key = coll + "?" + f
	case cfg.Filters != nil:
		parts := make([]string, 0, len(cfg.Filters))
		for _, flt := range cfg.Filters {
			f, err := renderFilter(flt)
			if err != nil {
				return "", err
			}
			parts = append(parts, f)
		}
		key = coll + "?" + strings.Join(parts, "&")
	default:
		escaped := make([]string, len(cfg.IDs))
		for i, id := range cfg.IDs {
			escaped[i] = url.QueryEscape(id)
		}
		key = coll + "?ids=" + strings.Join(escaped, ",")
	}
	return key + pageSuffix(cfg), nil
}

func renderFilter(f types.Filter) (string, error) {
	v, err := json.Marshal(f.Value)
	if err != nil {
		return "", types.Err(types.ErrConfiguration, err, "filter value for %s is not serializable", f.Field)
	}
	return "f=" + url.QueryEscape(f.Field) + "," + url.QueryEscape(string(f.Op)) + "," +
		url.QueryEscape(string(v)), nil
}

// pageSuffix renders the pagination/ordering part of the key. Configs on the default page
// render nothing. A StartAfter snapshot is keyed by its id.
func pageSuffix(cfg types.SubscriptionConfig) string {
	var parts []string
	if cfg.Limit > 0 && cfg.Limit != types.DefaultLimit {
		parts = append(parts, "limit="+strconv.Itoa(cfg.Limit))
	}
	if cfg.OrderBy != nil {
		dir := cfg.OrderBy.Direction
		if dir == "" {
			dir = types.Asc
		}
		parts = append(parts, fmt.Sprintf("order=%s:%s", url.QueryEscape(cfg.OrderBy.Field), dir))
	}
	switch {
	case cfg.StartAfter != nil:
		parts = append(parts, "after="+url.QueryEscape(cfg.StartAfter.ID()))
	case cfg.StartAfterID != "":
		parts = append(parts, "after="+url.QueryEscape(cfg.StartAfterID))
	}
	if len(parts) == 0 {
		return ""
	}
	return "#" + strings.Join(parts, "&")
}
