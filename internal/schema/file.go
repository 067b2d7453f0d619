package schema

import (
	"fmt"
	"os"

	"firestorm/internal/query"
	"firestorm/internal/types"

	"github.com/goccy/go-yaml"
	"github.com/jmespath/go-jmespath"
)

// A schema file looks like
//
//	name: user
//	collection: users
//	fields:
//	  name: string
//	  age:
//	    type: number
//	    required: true
//	  email:
//	    type: string
//	    validate: "contains(@, '@')"
//
// validate is a JMESPath expression evaluated against the field value; a falsy result
// fails validation.
type fileSpec struct {
	Name       string         `yaml:"name"`
	Collection string         `yaml:"collection"`
	Fields     map[string]any `yaml:"fields"`
}

func LoadFile(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Err(types.ErrConfiguration, err, "reading schema file %s", path)
	}
	return Parse(b)
}

// Parse builds a schema from YAML.
func Parse(b []byte) (*Schema, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, types.Err(types.ErrConfiguration, err, "invalid schema yaml")
	}
	if spec.Name == "" || spec.Collection == "" {
		return nil, types.Err(types.ErrConfiguration, nil, "schema name and collection are required")
	}
	fields := make(map[string]Field, len(spec.Fields))
	for key, raw := range spec.Fields {
		f, err := parseField(key, raw)
		if err != nil {
			return nil, types.Err(types.ErrConfiguration, err, "schema %s", spec.Name)
		}
		fields[key] = f
	}
	return New(spec.Name, spec.Collection, fields), nil
}

var knownTypes = map[FieldType]struct{}{
	String: {}, Number: {}, Boolean: {}, Array: {}, Date: {}, Object: {},
}

func parseField(key string, raw any) (Field, error) {
	var f Field
	switch t := raw.(type) {
	case string:
		f.Type = FieldType(t)
	case map[string]any:
		typ, _ := t["type"].(string)
		f.Type = FieldType(typ)
		if req, ok := t["required"]; ok {
			b, ok := req.(bool)
			if !ok {
				return f, fmt.Errorf("field %s: required must be a boolean", key)
			}
			f.Required = b
		}
		if expr, ok := t["validate"]; ok {
			s, ok := expr.(string)
			if !ok {
				return f, fmt.Errorf("field %s: validate must be a string", key)
			}
			v, err := expressionValidator(s)
			if err != nil {
				return f, fmt.Errorf("field %s: %w", key, err)
			}
			f.Validate = v
		}
	default:
		return f, fmt.Errorf("field %s: expected a type name or a mapping", key)
	}
	if _, ok := knownTypes[f.Type]; !ok {
		return f, fmt.Errorf("field %s: unknown type %q", key, f.Type)
	}
	return f, nil
}

func expressionValidator(expr string) (Validator, error) {
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("validate expression %q: %w", expr, err)
	}
	return func(key string, value any) error {
		ok, err := query.EvalTruthy(expr, value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s does not satisfy %s", key, expr)
		}
		return nil
	}, nil
}
