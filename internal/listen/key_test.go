package listen

import (
	"firestorm/internal/types"
)

func (s *UnitTestSuite) TestDeriveKeyRules() {
	cases := []struct {
		cfg  types.SubscriptionConfig
		want string
	}{
		{types.Collection("items"), "items"},
		{types.Doc("items", "abc"), "items/abc"},
		{types.Doc("items", "a b"), "items/a%20b"},
		{types.Where("items", "status", types.OpEqual, "open"), "items?f=status,%3D%3D,%22open%22"},
		{types.Where("items", "n", types.OpGreater, 3), "items?f=n,%3E,3"},
		{types.SubscriptionConfig{Collection: "items", Filters: []types.Filter{
			{Field: "a", Op: types.OpEqual, Value: true},
			{Field: "b", Op: types.OpIn, Value: []string{"x", "y"}},
		}}, "items?f=a,%3D%3D,true&f=b,in,%5B%22x%22%2C%22y%22%5D"},
		{types.SubscriptionConfig{Collection: "items", IDs: []string{"a", "b"}}, "items?ids=a,b"},
		{types.SubscriptionConfig{Collection: "items", Limit: 5}, "items#limit=5"},
		{types.SubscriptionConfig{Collection: "items", Limit: types.DefaultLimit}, "items"},
		{types.SubscriptionConfig{Collection: "items", OrderBy: &types.OrderBy{Field: "n"}}, "items#order=n:asc"},
		{types.SubscriptionConfig{Collection: "items", StartAfterID: "c1", Limit: 2}, "items#limit=2&after=c1"},
		{types.SubscriptionConfig{Collection: "items", StartAfter: types.Document{"id": "c2"}}, "items#after=c2"},
	}
	for _, c := range cases {
		got, err := DeriveKey(c.cfg)
		s.Require().NoError(err, "config %s", c.cfg)
		s.Equal(c.want, got, "config %s", c.cfg)
	}
}

func (s *UnitTestSuite) TestDeriveKeyIsOrderSensitive() {
	ab, err := DeriveKey(types.SubscriptionConfig{Collection: "items", IDs: []string{"a", "b"}})
	s.Require().NoError(err)
	ba, err := DeriveKey(types.SubscriptionConfig{Collection: "items", IDs: []string{"b", "a"}})
	s.Require().NoError(err)
	s.NotEqual(ab, ba)

	f1 := types.Filter{Field: "a", Op: types.OpEqual, Value: 1}
	f2 := types.Filter{Field: "b", Op: types.OpEqual, Value: 2}
	k12, err := DeriveKey(types.SubscriptionConfig{Collection: "items", Filters: []types.Filter{f1, f2}})
	s.Require().NoError(err)
	k21, err := DeriveKey(types.SubscriptionConfig{Collection: "items", Filters: []types.Filter{f2, f1}})
	s.Require().NoError(err)
	s.NotEqual(k12, k21)
}

func (s *UnitTestSuite) TestDeriveKeyIgnoresDeliveryOptions() {
	plain, err := DeriveKey(types.Doc("items", "a"))
	s.Require().NoError(err)

	cfg := types.Doc("items", "a")
	cfg.Once = true
	cfg.Transform = func(snap types.Snapshot) types.Snapshot { return snap }
	withOpts, err := DeriveKey(cfg)
	s.Require().NoError(err)
	s.Equal(plain, withOpts)
}

func (s *UnitTestSuite) TestDeriveKeyRejectsBadConfig() {
	id := "a"
	bad := []types.SubscriptionConfig{
		{},
		{Collection: "items", ID: &id, IDs: []string{"b"}},
		{Collection: "items", Filter: &types.Filter{Field: "a", Op: types.OpEqual}, Filters: []types.Filter{}},
		{Collection: "items", Filter: &types.Filter{Field: "a", Op: "~="}},
		{Collection: "items", Limit: -1},
		{Collection: "items", OrderBy: &types.OrderBy{Field: "a", Direction: "sideways"}},
	}
	for _, cfg := range bad {
		_, err := DeriveKey(cfg)
		s.ErrorIs(err, types.ErrConfiguration, "config %+v", cfg)
	}
}

func (s *UnitTestSuite) TestEmptyFilterListIsWholeCollection() {
	key, err := DeriveKey(types.SubscriptionConfig{Collection: "items", Filters: []types.Filter{}})
	s.Require().NoError(err)
	s.Equal("items", key)

	key, err = DeriveKey(types.SubscriptionConfig{Collection: "items", IDs: []string{}})
	s.Require().NoError(err)
	s.Equal("items?ids=", key)
}
