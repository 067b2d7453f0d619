package types

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ParseFilter parses "field,op,value". The value is decoded as JSON when it parses as
// JSON and is taken as a plain string otherwise, so status,==,open and status,==,"open"
// are the same filter.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return Filter{}, Err(ErrConfiguration, nil, "filter %q is not field,op,value", s)
	}
	var v any
	if err := json.Unmarshal([]byte(parts[2]), &v); err != nil {
		v = parts[2]
	}
	f := Filter{Field: strings.TrimSpace(parts[0]), Op: Operator(strings.TrimSpace(parts[1])), Value: v}
	if err := f.Validate(); err != nil {
		return Filter{}, Err(ErrConfiguration, err, "")
	}
	return f, nil
}

// ParseOrderBy parses "field" or "field:asc|desc".
func ParseOrderBy(s string) (OrderBy, error) {
	field, dir, _ := strings.Cut(s, ":")
	o := OrderBy{Field: field, Direction: Direction(strings.ToLower(dir))}
	if o.Field == "" {
		return OrderBy{}, Err(ErrConfiguration, nil, "order field is required")
	}
	if o.Direction != "" && o.Direction != Asc && o.Direction != Desc {
		return OrderBy{}, Err(ErrConfiguration, nil, "unknown order direction %q", dir)
	}
	return o, nil
}

// ConfigFromValues builds a subscription config from query-string style values:
// id, ids (comma separated), where (repeatable), order, limit and after.
func ConfigFromValues(collection string, v url.Values) (SubscriptionConfig, error) {
	cfg := SubscriptionConfig{Collection: collection, StartAfterID: v.Get("after")}
	if v.Has("id") {
		id := v.Get("id")
		cfg.ID = &id
	}
	if v.Has("ids") {
		cfg.IDs = []string{}
		for _, id := range strings.Split(v.Get("ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.IDs = append(cfg.IDs, id)
			}
		}
	}
	switch wheres := v["where"]; len(wheres) {
	case 0:
	case 1:
		f, err := ParseFilter(wheres[0])
		if err != nil {
			return cfg, err
		}
		cfg.Filter = &f
	default:
		for _, w := range wheres {
			f, err := ParseFilter(w)
			if err != nil {
				return cfg, err
			}
			cfg.Filters = append(cfg.Filters, f)
		}
	}
	if o := v.Get("order"); o != "" {
		ob, err := ParseOrderBy(o)
		if err != nil {
			return cfg, err
		}
		cfg.OrderBy = &ob
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return cfg, Err(ErrConfiguration, err, "invalid limit %q", l)
		}
		cfg.Limit = n
	}
	return cfg, cfg.Validate()
}
