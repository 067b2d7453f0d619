// Package query evaluates query descriptions in-process for stores that have no native
// query engine for arbitrary document fields (Redis, the DynamoDB document table, memory).
package query

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"firestorm/internal/types"
)

// Apply filters, orders, positions after the cursor and limits docs.
// The input slice is not modified.
func Apply(docs []types.Document, q types.Query) []types.Document {
	out := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		if Match(d, q.Filters) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareDocs(out[i], out[j], q.OrderBy) < 0
	})
	if q.StartAfter != nil {
		pos := len(out)
		for i, d := range out {
			if compareDocs(d, q.StartAfter, q.OrderBy) > 0 {
				pos = i
				break
			}
		}
		out = out[pos:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Match reports whether doc satisfies every filter.
func Match(doc types.Document, filters []types.Filter) bool {
	for _, f := range filters {
		if !matchOne(doc, f) {
			return false
		}
	}
	return true
}

func matchOne(doc types.Document, f types.Filter) bool {
	v := Field(map[string]any(doc), f.Field)
	switch f.Op {
	case types.OpEqual:
		return Equal(v, f.Value)
	case types.OpNotEqual:
		return v != nil && !Equal(v, f.Value)
	case types.OpLess:
		c, ok := compareSameKind(v, f.Value)
		return ok && c < 0
	case types.OpLessOrEqual:
		c, ok := compareSameKind(v, f.Value)
		return ok && c <= 0
	case types.OpGreater:
		c, ok := compareSameKind(v, f.Value)
		return ok && c > 0
	case types.OpGreaterOrEqual:
		c, ok := compareSameKind(v, f.Value)
		return ok && c >= 0
	case types.OpIn:
		return contains(toSlice(f.Value), v)
	case types.OpNotIn:
		return v != nil && !contains(toSlice(f.Value), v)
	case types.OpArrayContains:
		return contains(toSlice(v), f.Value)
	case types.OpArrayContainsAny:
		arr := toSlice(v)
		for _, want := range toSlice(f.Value) {
			if contains(arr, want) {
				return true
			}
		}
		return false
	}
	return false
}

// Equal compares two field values, treating all numeric kinds as numbers.
func Equal(a, b any) bool {
	if c, ok := compareSameKind(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func contains(arr []any, v any) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

// compareSameKind compares a and b if both are of the same orderable kind.
func compareSameKind(a, b any) (int, bool) {
	ra, rb := rank(a), rank(b)
	if ra != rb || ra == rankOther || ra == rankNull {
		return 0, false
	}
	return compareValues(a, b), true
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(v any) int {
	if v == nil {
		return rankNull
	}
	switch v.(type) {
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	case string:
		return rankString
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

// compareValues orders any two values: by type rank first, then by value.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// compareDocs orders documents by the given keys, then by id so ordering is total.
// Documents missing an order field sort after those that have it.
func compareDocs(a, b types.Document, order []types.OrderBy) int {
	for _, o := range order {
		va := Field(map[string]any(a), o.Field)
		vb := Field(map[string]any(b), o.Field)
		var c int
		switch {
		case va == nil && vb == nil:
			c = 0
		case va == nil:
			return 1
		case vb == nil:
			return -1
		default:
			c = compareValues(va, vb)
		}
		if o.Direction == types.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID(), b.ID())
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
