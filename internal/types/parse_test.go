package types

import (
	"errors"
	"net/url"
)

func (s *UnitTestSuite) TestParseFilter() {
	f, err := ParseFilter("status,==,open")
	s.NoError(err)
	s.Equal(Filter{Field: "status", Op: OpEqual, Value: "open"}, f)

	f, err = ParseFilter(`tags,array-contains-any,["a","b"]`)
	s.NoError(err)
	s.Equal([]any{"a", "b"}, f.Value)

	f, err = ParseFilter("n,>=,5")
	s.NoError(err)
	s.Equal(float64(5), f.Value)

	f, err = ParseFilter("note,==,a,b")
	s.NoError(err)
	s.Equal("a,b", f.Value)

	_, err = ParseFilter("status==open")
	s.True(errors.Is(err, ErrConfiguration))
	_, err = ParseFilter("status,~,open")
	s.True(errors.Is(err, ErrConfiguration))
}

func (s *UnitTestSuite) TestParseOrderBy() {
	o, err := ParseOrderBy("updated:DESC")
	s.NoError(err)
	s.Equal(OrderBy{Field: "updated", Direction: Desc}, o)

	o, err = ParseOrderBy("name")
	s.NoError(err)
	s.Equal(OrderBy{Field: "name"}, o)

	_, err = ParseOrderBy(":asc")
	s.Error(err)
	_, err = ParseOrderBy("name:sideways")
	s.Error(err)
}

func (s *UnitTestSuite) TestConfigFromValues() {
	cfg, err := ConfigFromValues("items", url.Values{"id": {""}})
	s.NoError(err)
	s.True(cfg.HasID())
	s.Equal("", cfg.DocID())

	cfg, err = ConfigFromValues("items", url.Values{"ids": {"a, b,,c"}})
	s.NoError(err)
	s.Equal([]string{"a", "b", "c"}, cfg.IDs)

	cfg, err = ConfigFromValues("items", url.Values{"where": {"status,==,open"}, "limit": {"5"}, "order": {"n:asc"}})
	s.NoError(err)
	s.Equal("status", cfg.Filter.Field)
	s.Equal(5, cfg.Limit)
	s.Equal(Asc, cfg.OrderBy.Direction)

	cfg, err = ConfigFromValues("items", url.Values{"where": {"a,==,1", "b,!=,2"}, "after": {"c1"}})
	s.NoError(err)
	s.Len(cfg.Filters, 2)
	s.Nil(cfg.Filter)
	s.Equal("c1", cfg.StartAfterID)

	_, err = ConfigFromValues("items", url.Values{"id": {"a"}, "ids": {"b"}})
	s.True(errors.Is(err, ErrConfiguration))
	_, err = ConfigFromValues("items", url.Values{"limit": {"many"}})
	s.True(errors.Is(err, ErrConfiguration))
}
