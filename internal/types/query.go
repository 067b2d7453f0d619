package types

import "fmt"

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessOrEqual      Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterOrEqual   Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

var validOperators = map[Operator]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpLess: {}, OpLessOrEqual: {}, OpGreater: {},
	OpGreaterOrEqual: {}, OpIn: {}, OpNotIn: {}, OpArrayContains: {}, OpArrayContainsAny: {},
}

// Filter is a (field, operator, value) triple. Field is a JMESPath expression evaluated
// against each document, so nested fields are addressed as "a.b".
type Filter struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value" yaml:"value"`
}

func (f Filter) Validate() error {
	if f.Field == "" {
		return fmt.Errorf("filter field is required")
	}
	if _, ok := validOperators[f.Op]; !ok {
		return fmt.Errorf("unknown filter operator %q", f.Op)
	}
	return nil
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type OrderBy struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Query is the remote query description handed to a DocumentStore.
// Filters have AND semantics. StartAfter, when set, is the cursor document: results
// resume strictly after its position in the ordering.
type Query struct {
	Collection string    `json:"collection"`
	Filters    []Filter  `json:"filters,omitempty"`
	OrderBy    []OrderBy `json:"order_by,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	StartAfter Document  `json:"start_after,omitempty"`
}
