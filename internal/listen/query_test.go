package listen

import (
	"context"
	"errors"

	"firestorm/internal/backends/memory"
	"firestorm/internal/types"
)

func (s *UnitTestSuite) TestBuildQueryDefaults() {
	q, err := BuildQuery(context.Background(), s.store, types.Collection("items"))
	s.Require().NoError(err)
	s.Equal("items", q.Collection)
	s.Equal(types.DefaultLimit, q.Limit)
	s.Equal([]types.OrderBy{{Field: types.KeyUpdated, Direction: types.Desc}}, q.OrderBy)
	s.Nil(q.Filters)
	s.Nil(q.StartAfter)
}

func (s *UnitTestSuite) TestBuildQueryFilterHasNoDefaultOrder() {
	q, err := BuildQuery(context.Background(), s.store, types.Where("items", "status", types.OpEqual, "open"))
	s.Require().NoError(err)
	s.Len(q.Filters, 1)
	s.Empty(q.OrderBy)

	cfg := types.SubscriptionConfig{
		Collection: "items",
		Filters: []types.Filter{
			{Field: "a", Op: types.OpEqual, Value: 1},
			{Field: "b", Op: types.OpLess, Value: 2},
		},
		OrderBy: &types.OrderBy{Field: "b"},
		Limit:   3,
	}
	q, err = BuildQuery(context.Background(), s.store, cfg)
	s.Require().NoError(err)
	s.Equal(cfg.Filters, q.Filters)
	s.Equal([]types.OrderBy{{Field: "b", Direction: types.Asc}}, q.OrderBy)
	s.Equal(3, q.Limit)

	// the built query owns its filters
	cfg.Filters[0].Value = 99
	s.Equal(1, q.Filters[0].Value)
}

func (s *UnitTestSuite) TestBuildQueryResolvesCursorByID() {
	s.put("items", "c1", types.Document{"updated": t0})
	q, err := BuildQuery(context.Background(), s.store,
		types.SubscriptionConfig{Collection: "items", StartAfterID: "c1"})
	s.Require().NoError(err)
	s.Equal("c1", q.StartAfter.ID())
	s.Equal(1, s.store.Calls(memory.OpGet))
}

func (s *UnitTestSuite) TestBuildQueryCursorFailures() {
	cfg := types.SubscriptionConfig{Collection: "items", StartAfterID: "missing"}
	_, err := BuildQuery(context.Background(), s.store, cfg)
	s.ErrorIs(err, types.ErrRemote)
	s.ErrorIs(err, types.ErrNotFound)

	boom := errors.New("boom")
	s.store.FailNext(memory.OpGet, boom)
	_, err = BuildQuery(context.Background(), s.store, cfg)
	s.ErrorIs(err, types.ErrRemote)
	s.ErrorIs(err, boom)
}
