package query

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

// EvalAny returns the raw value selected by the JMESPath expression.
// It will return nil and no error if the expression does not match anything.
// That is the same effect as having the expression evaluate to `null`.
func EvalAny(expression string, data any) (any, error) {
	v, err := jmespath.Search(expression, data)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	return v, nil
}

// Field resolves a document field path. Plain keys are looked up directly so field names
// that aren't valid JMESPath identifiers (e.g. "owner-id") still work.
func Field(doc map[string]any, path string) any {
	if v, ok := doc[path]; ok {
		return v
	}
	v, err := EvalAny(path, doc)
	if err != nil {
		return nil
	}
	return v
}

// EvalTruthy evaluates expression against data and applies JMESPath truthiness: false,
// null, "", [] and {} are false. data is normalized through JSON first so Go numeric
// types compare like JSON numbers.
func EvalTruthy(expression string, data any) (bool, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("jmespath: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return false, fmt.Errorf("jmespath: %w", err)
	}
	v, err := EvalAny(expression, normalized)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return t != "", nil
	case []any:
		return len(t) > 0, nil
	case map[string]any:
		return len(t) > 0, nil
	default:
		return true, nil
	}
}
