package query

func (s *UnitTestSuite) TestEvalAny() {
	obj := map[string]any{
		"key1": "value1",
		"key2": map[string]any{
			"subkey1": "subvalue1",
			"subkey2": 42,
		},
		"key3": []any{"elem1", "elem2", "elem3"},
		"key4": nil,
	}

	v, err := EvalAny("key1", obj)
	s.NoError(err)
	s.Equal("value1", v.(string))

	v, err = EvalAny("key2.subkey2", obj)
	s.NoError(err)
	s.Equal(42, v.(int))

	v, err = EvalAny("key3[1]", obj)
	s.NoError(err)
	s.Equal("elem2", v.(string))

	v, err = EvalAny("nonexistent", obj)
	s.NoError(err)
	s.Nil(v)

	v, err = EvalAny("contains(key3, 'elem2')", obj)
	s.NoError(err)
	s.Equal(true, v.(bool))

	_, err = EvalAny("key1[", obj)
	s.Error(err)
}

func (s *UnitTestSuite) TestFieldPlainKeyWins() {
	doc := map[string]any{"owner-id": "u1", "a": map[string]any{"b": 2}}
	s.Equal("u1", Field(doc, "owner-id"))
	s.Equal(2, Field(doc, "a.b"))
	s.Nil(Field(doc, "missing"))
}

func (s *UnitTestSuite) TestEvalTruthy() {
	cases := []struct {
		expr string
		data any
		want bool
	}{
		{"@ > `17`", 30, true},
		{"@ > `17`", int64(3), false},
		{"length(@) > `0`", "Ann", true},
		{"length(@) > `0`", "", false},
		{"contains(@, '@')", "ann@example.com", true},
		{"tags", map[string]any{"tags": []any{}}, false},
		{"tags", map[string]any{"tags": []any{"x"}}, true},
		{"missing", map[string]any{}, false},
	}
	for _, c := range cases {
		got, err := EvalTruthy(c.expr, c.data)
		s.NoError(err, c.expr)
		s.Equal(c.want, got, "%s on %v", c.expr, c.data)
	}

	_, err := EvalTruthy("@ >", 1)
	s.Error(err)
}
