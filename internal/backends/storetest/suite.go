// Package storetest is a conformance suite every ports.DocumentStore adapter runs.
package storetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"firestorm/internal/ports"
	"firestorm/internal/types"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/suite"
)

// DocumentStoreSuite exercises the DocumentStore contract. Embedders set Store in
// SetupSuite. Watch assertions wait up to WatchTimeout, for adapters that poll.
type DocumentStoreSuite struct {
	suite.Suite

	Store        ports.DocumentStore
	WatchTimeout time.Duration

	coll string
}

func (s *DocumentStoreSuite) SetupTest() {
	s.coll = "t_" + strings.ToLower(ulid.Make().String())
	if s.WatchTimeout == 0 {
		s.WatchTimeout = 5 * time.Second
	}
}

func (s *DocumentStoreSuite) put(id string, doc types.Document) {
	created, err := s.Store.CreateDocument(context.Background(), s.coll, id, doc)
	s.Require().NoError(err)
	s.Require().True(created)
}

func (s *DocumentStoreSuite) TestGetMissing() {
	doc, err := s.Store.GetDocument(context.Background(), s.coll, "nope")
	s.NoError(err)
	s.Nil(doc)
}

func (s *DocumentStoreSuite) TestCreateIsConditional() {
	ctx := context.Background()
	s.put("a", types.Document{"n": int64(1)})

	created, err := s.Store.CreateDocument(ctx, s.coll, "a", types.Document{"n": int64(2)})
	s.NoError(err)
	s.False(created)

	doc, err := s.Store.GetDocument(ctx, s.coll, "a")
	s.NoError(err)
	s.Equal("a", doc.ID())
	s.EqualValues(1, doc["n"])
}

func (s *DocumentStoreSuite) TestUpdateMerges() {
	ctx := context.Background()
	s.put("a", types.Document{"n": int64(1), "keep": "yes"})

	s.NoError(s.Store.UpdateDocument(ctx, s.coll, "a", types.Document{"n": int64(2), "extra": "x"}))
	doc, err := s.Store.GetDocument(ctx, s.coll, "a")
	s.NoError(err)
	s.EqualValues(2, doc["n"])
	s.Equal("yes", doc["keep"])
	s.Equal("x", doc["extra"])

	err = s.Store.UpdateDocument(ctx, s.coll, "missing", types.Document{"n": int64(1)})
	s.True(errors.Is(err, types.ErrNotFound))
}

func (s *DocumentStoreSuite) TestSetReplacesAndDelete() {
	ctx := context.Background()
	s.put("a", types.Document{"n": int64(1), "gone": true})

	s.NoError(s.Store.SetDocument(ctx, s.coll, "a", types.Document{"n": int64(5)}))
	doc, err := s.Store.GetDocument(ctx, s.coll, "a")
	s.NoError(err)
	s.EqualValues(5, doc["n"])
	s.NotContains(doc, "gone")

	s.NoError(s.Store.DeleteDocument(ctx, s.coll, "a"))
	doc, err = s.Store.GetDocument(ctx, s.coll, "a")
	s.NoError(err)
	s.Nil(doc)
}

func (s *DocumentStoreSuite) TestRunQuery() {
	ctx := context.Background()
	s.put("a", types.Document{"status": "open", "rank": int64(3)})
	s.put("b", types.Document{"status": "closed", "rank": int64(1)})
	s.put("c", types.Document{"status": "open", "rank": int64(2)})
	s.put("d", types.Document{"status": "open", "rank": int64(1)})

	docs, err := s.Store.RunQuery(ctx, types.Query{
		Collection: s.coll,
		Filters:    []types.Filter{{Field: "status", Op: types.OpEqual, Value: "open"}},
		OrderBy:    []types.OrderBy{{Field: "rank", Direction: types.Desc}},
		Limit:      2,
	})
	s.NoError(err)
	s.Equal([]string{"a", "c"}, ids(docs))

	docs, err = s.Store.RunQuery(ctx, types.Query{
		Collection: s.coll,
		OrderBy:    []types.OrderBy{{Field: "rank", Direction: types.Desc}},
		StartAfter: types.Document{"id": "c", "rank": int64(2)},
	})
	s.NoError(err)
	s.Equal([]string{"b", "d"}, ids(docs))
}

func (s *DocumentStoreSuite) TestWatchDocumentPushesLaterChanges() {
	ctx := context.Background()
	s.put("a", types.Document{"n": int64(1)})

	var mu sync.Mutex
	var seen []types.Document
	cancel, err := s.Store.WatchDocument(ctx, s.coll, "a", func(d types.Document) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	}, func(error) {})
	s.Require().NoError(err)
	defer cancel()

	s.NoError(s.Store.UpdateDocument(ctx, s.coll, "a", types.Document{"n": int64(2)}))
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && toInt(seen[len(seen)-1]["n"]) == 2
	}, s.WatchTimeout, 10*time.Millisecond)

	s.NoError(s.Store.DeleteDocument(ctx, s.coll, "a"))
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[len(seen)-1] == nil
	}, s.WatchTimeout, 10*time.Millisecond)

	cancel()
	cancel()
}

func (s *DocumentStoreSuite) TestWatchQueryPushesFullResult() {
	ctx := context.Background()
	s.put("a", types.Document{"status": "open"})

	var mu sync.Mutex
	var last []types.Document
	pushes := 0
	cancel, err := s.Store.WatchQuery(ctx, types.Query{
		Collection: s.coll,
		Filters:    []types.Filter{{Field: "status", Op: types.OpEqual, Value: "open"}},
	}, func(docs []types.Document) {
		mu.Lock()
		last = docs
		pushes++
		mu.Unlock()
	}, func(error) {})
	s.Require().NoError(err)
	defer cancel()

	s.put("b", types.Document{"status": "open"})
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2
	}, s.WatchTimeout, 10*time.Millisecond)

	cancel()
	mu.Lock()
	before := pushes
	mu.Unlock()
	s.put("c", types.Document{"status": "open"})
	time.Sleep(s.WatchTimeout / 10)
	mu.Lock()
	s.Equal(before, pushes)
	mu.Unlock()
}

func ids(docs []types.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case uint8:
		return int64(n)
	case float64:
		return int64(n)
	}
	return -1
}
