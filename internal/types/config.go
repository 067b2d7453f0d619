package types

import "fmt"

const DefaultLimit = 20

// SubscriptionConfig describes what a subscriber wants to watch.
// At most one selector of {ID, IDs, Filter, Filters} may be set. ID is a pointer so a
// present-but-empty id (a document whose id isn't known yet) can be told apart from an
// unset one.
// Limit, StartAfterID, StartAfter and OrderBy drive the single page returned for
// collection subscriptions; Limit defaults to DefaultLimit.
// Transform is applied per subscriber before delivery.
// Once detaches the subscriber after its first delivery.
type SubscriptionConfig struct {
	Collection   string
	ID           *string
	IDs          []string
	Filter       *Filter
	Filters      []Filter
	Limit        int
	StartAfterID string
	StartAfter   Document
	OrderBy      *OrderBy
	Transform    func(Snapshot) Snapshot
	Once         bool
}

// Collection returns a config subscribing to a whole collection.
func Collection(name string) SubscriptionConfig {
	return SubscriptionConfig{Collection: name}
}

// Doc returns a config subscribing to one document.
func Doc(collection, id string) SubscriptionConfig {
	return SubscriptionConfig{Collection: collection, ID: &id}
}

// Where returns a config subscribing to a filtered collection.
func Where(collection, field string, op Operator, value any) SubscriptionConfig {
	return SubscriptionConfig{Collection: collection, Filter: &Filter{Field: field, Op: op, Value: value}}
}

// HasID reports whether the id selector is present, even if empty.
func (c SubscriptionConfig) HasID() bool {
	return c.ID != nil
}

// DocID returns the id selector or "".
func (c SubscriptionConfig) DocID() string {
	if c.ID == nil {
		return ""
	}
	return *c.ID
}

// Normalize returns c with an empty Filters list cleared, since no filters selects the whole
// collection. An empty IDs list stays: it selects nothing.
func (c SubscriptionConfig) Normalize() SubscriptionConfig {
	if c.Filters != nil && len(c.Filters) == 0 {
		c.Filters = nil
	}
	return c
}

func (c SubscriptionConfig) Validate() error {
	if c.Collection == "" {
		return Err(ErrConfiguration, nil, "collection is required")
	}
	selectors := 0
	if c.ID != nil {
		selectors++
	}
	if c.IDs != nil {
		selectors++
	}
	if c.Filter != nil {
		selectors++
	}
	if c.Filters != nil {
		selectors++
	}
	if selectors > 1 {
		return Err(ErrConfiguration, nil,
			"only one of id, ids, filter or filters may be set for collection %s", c.Collection)
	}
	if c.Filter != nil {
		if err := c.Filter.Validate(); err != nil {
			return Err(ErrConfiguration, err, "")
		}
	}
	for _, f := range c.Filters {
		if err := f.Validate(); err != nil {
			return Err(ErrConfiguration, err, "")
		}
	}
	if c.Limit < 0 {
		return Err(ErrConfiguration, nil, "limit must be non-negative")
	}
	if c.OrderBy != nil {
		if c.OrderBy.Field == "" {
			return Err(ErrConfiguration, nil, "order by field is required")
		}
		if c.OrderBy.Direction != "" && c.OrderBy.Direction != Asc && c.OrderBy.Direction != Desc {
			return Err(ErrConfiguration, nil, "unknown order direction %q", c.OrderBy.Direction)
		}
	}
	return nil
}

// EffectiveLimit returns the configured limit or DefaultLimit.
func (c SubscriptionConfig) EffectiveLimit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return DefaultLimit
}

func (c SubscriptionConfig) String() string {
	switch {
	case c.ID != nil:
		return fmt.Sprintf("%s/%s", c.Collection, *c.ID)
	case c.IDs != nil:
		return fmt.Sprintf("%s ids=%v", c.Collection, c.IDs)
	case c.Filter != nil:
		return fmt.Sprintf("%s where %v", c.Collection, *c.Filter)
	case c.Filters != nil:
		return fmt.Sprintf("%s where %v", c.Collection, c.Filters)
	default:
		return c.Collection
	}
}
