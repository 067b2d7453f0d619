package schema

import (
	"errors"
	"time"

	"firestorm/internal/types"
)

func (s *UnitTestSuite) TestValidateTypes() {
	sc := New("thing", "things", map[string]Field{
		"s": Of(String),
		"n": Of(Number),
		"b": Of(Boolean),
		"a": Of(Array),
		"d": Of(Date),
		"o": Of(Object),
	})
	now := time.Now()
	good := map[string][]any{
		"s": {"x", ""},
		"n": {1, int64(2), uint8(3), 4.5, float32(1)},
		"b": {true, false},
		"a": {[]any{}, []string{"x"}, [2]int{1, 2}},
		"d": {now, &now},
		"o": {map[string]any{}, types.Document{"k": 1}, struct{ A int }{1}},
	}
	for key, values := range good {
		for _, v := range values {
			s.NoError(sc.Validate(key, v), "%s=%v", key, v)
		}
	}

	bad := []struct {
		key, value any
		msg        string
	}{
		{"s", 1, "ValidationFailed(thing): s is not a string, value: 1"},
		{"n", "1", "ValidationFailed(thing): n is not a number, value: 1"},
		{"b", "true", "ValidationFailed(thing): b is not a boolean, value: true"},
		{"a", map[string]any{}, "ValidationFailed(thing): a is not an array"},
		{"d", "2024-01-01", "ValidationFailed(thing): d is not a date"},
		{"o", []any{1}, "ValidationFailed(thing): o is an array, not an object"},
		{"o", now, "ValidationFailed(thing): o is a date, not an object"},
		{"o", "x", "ValidationFailed(thing): o is not an object, value: x"},
	}
	for _, c := range bad {
		err := sc.Validate(c.key.(string), c.value)
		s.ErrorIs(err, types.ErrValidation, "%s=%v", c.key, c.value)
		s.Contains(err.Error(), c.msg)
	}
}

func (s *UnitTestSuite) TestValidateRequiredAndAbsent() {
	err := s.users.Validate("age", nil)
	s.ErrorIs(err, types.ErrValidation)
	s.Contains(err.Error(), "ValidationFailed(user): age is required")

	var nilMap map[string]any
	s.Error(s.users.Validate("age", nilMap))

	// optional and absent: no type check
	s.NoError(s.users.Validate("name", nil))
}

func (s *UnitTestSuite) TestValidateUnknownAndReservedKeys() {
	err := s.users.Validate("nickname", "x")
	s.ErrorIs(err, types.ErrValidation)
	s.Contains(err.Error(), "nickname is not part of the schema.")

	for _, key := range []string{"id", "created", "updated", "ownerId"} {
		s.NoError(s.users.Validate(key, 123))
	}
}

func (s *UnitTestSuite) TestCustomValidator() {
	short := errors.New("too short")
	sc := New("user", "users", map[string]Field{
		"name": {Type: String, Validate: func(key string, value any) error {
			if len(value.(string)) < 2 {
				return short
			}
			return nil
		}},
	})
	err := sc.Validate("name", "A")
	s.ErrorIs(err, types.ErrValidation)
	s.ErrorIs(err, short)
	s.NoError(sc.Validate("name", "Ann"))
	s.NoError(sc.Validate("name", nil))
}

func (s *UnitTestSuite) TestUnknownFieldType() {
	sc := New("thing", "things", map[string]Field{"x": Of("uuid")})
	err := sc.Validate("x", "a")
	s.ErrorIs(err, types.ErrValidation)
	s.Contains(err.Error(), "unknown value type uuid")
}

func (s *UnitTestSuite) TestValidateDocument() {
	s.NoError(s.users.ValidateDocument(types.Document{"id": "u1", "age": 3, "created": t1}))
	s.Error(s.users.ValidateDocument(types.Document{"id": "u1"}))
	s.Error(s.users.ValidateDocument(types.Document{"age": 3, "extra": true}))
}
