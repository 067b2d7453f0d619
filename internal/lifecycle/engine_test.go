package lifecycle

import (
	"context"
	"errors"
	"time"

	"firestorm/internal/backends/memory"
	"firestorm/internal/pub"
	"firestorm/internal/types"

	"github.com/goccy/go-json"
)

func (s *UnitTestSuite) TestSaveNewDocumentStampsCreatedAndUpdated() {
	got, err := s.engine.Save(context.Background(), "users",
		types.Document{"id": "u1", "name": "Ann", "age": 30}, SaveOptions{})
	s.Require().NoError(err)
	s.Equal(types.Document{"id": "u1", "name": "Ann", "age": 30, "created": t1, "updated": t1}, got)

	stored, err := s.engine.Get(context.Background(), "users", "u1")
	s.Require().NoError(err)
	s.Equal(got, stored)
	s.Equal(1, s.store.Calls(memory.OpCreate))
	s.Equal(0, s.store.Calls(memory.OpUpdate))
}

func (s *UnitTestSuite) TestSaveExistingMergesAndKeepsCreated() {
	_, err := s.engine.Save(context.Background(), "users", types.Document{"id": "u1", "name": "Ann"}, SaveOptions{})
	s.Require().NoError(err)

	SetTimeNowFn(func() time.Time { return t2 })
	got, err := s.engine.Save(context.Background(), "users",
		types.Document{"id": "u1", "age": 31, "created": t2}, SaveOptions{})
	s.Require().NoError(err)
	s.Equal("Ann", got["name"])
	s.Equal(31, got["age"])
	s.Equal(t1, got["created"])
	s.Equal(t2, got["updated"])

	stored, _ := s.engine.Get(context.Background(), "users", "u1")
	s.Equal(got, stored)
}

func (s *UnitTestSuite) TestSaveDoesNotMutateInput() {
	in := types.Document{"id": "u1", "name": "Ann"}
	_, err := s.engine.Save(context.Background(), "users", in, SaveOptions{})
	s.Require().NoError(err)
	s.Equal(types.Document{"id": "u1", "name": "Ann"}, in)
}

func (s *UnitTestSuite) TestSaveRequiresID() {
	_, err := s.engine.Save(context.Background(), "users", types.Document{"name": "Ann"}, SaveOptions{})
	s.ErrorIs(err, types.ErrConfiguration)
	s.Equal(0, s.store.Calls(memory.OpGet))

	got, err := s.engine.Save(context.Background(), "users", nil, SaveOptions{})
	s.NoError(err)
	s.Nil(got)
}

func (s *UnitTestSuite) TestSaveSetsOwner() {
	s.user = &types.User{ID: "owner-1"}
	got, err := s.engine.Save(context.Background(), "posts",
		types.Document{"id": "p1", "ownerId": "spoofed"}, SaveOptions{SetOwner: true})
	s.Require().NoError(err)
	s.Equal("owner-1", got[types.KeyOwnerID])

	s.user = nil
	got, err = s.engine.Save(context.Background(), "posts", types.Document{"id": "p2"}, SaveOptions{SetOwner: true})
	s.Require().NoError(err)
	s.NotContains(got, types.KeyOwnerID)
}

func (s *UnitTestSuite) TestSaveRemoteFailure() {
	boom := errors.New("boom")
	s.store.FailNext(memory.OpGet, boom)
	_, err := s.engine.Save(context.Background(), "users", types.Document{"id": "u1"}, SaveOptions{})
	s.ErrorIs(err, types.ErrRemote)
	s.ErrorIs(err, boom)

	s.store.FailNext(memory.OpCreate, boom)
	_, err = s.engine.Save(context.Background(), "users", types.Document{"id": "u1"}, SaveOptions{})
	s.ErrorIs(err, types.ErrRemote)
}

// racingStore lets another writer create the document between Save's read and its create.
type racingStore struct {
	*memory.DataStore
	winner types.Document
}

func (r *racingStore) CreateDocument(ctx context.Context, collection, id string, fields types.Document) (bool, error) {
	if r.winner != nil {
		_ = r.DataStore.SetDocument(ctx, collection, id, r.winner)
		r.winner = nil
	}
	return r.DataStore.CreateDocument(ctx, collection, id, fields)
}

func (s *UnitTestSuite) TestSaveLosingCreateRaceFallsBackToUpdate() {
	store := &racingStore{
		DataStore: s.store,
		winner:    types.Document{"id": "u1", "name": "Bob", "nick": "b", "created": t2, "updated": t2},
	}
	engine := NewEngine(store)

	got, err := engine.Save(context.Background(), "users", types.Document{"id": "u1", "name": "Ann"}, SaveOptions{})
	s.Require().NoError(err)
	s.Equal("Ann", got["name"])
	s.Equal("b", got["nick"])
	s.Equal(t2, got["created"])
	s.Equal(t1, got["updated"])

	stored, _ := engine.Get(context.Background(), "users", "u1")
	s.Equal(got, stored)
	s.Equal(1, s.store.Calls(memory.OpUpdate))
}

func (s *UnitTestSuite) TestGetManyOmitsMissingIDs() {
	for _, id := range []string{"a", "b"} {
		s.Require().NoError(s.store.SetDocument(context.Background(), "items", id, types.Document{"n": 1}))
	}
	cfg := types.SubscriptionConfig{Collection: "items", IDs: []string{"a", "missing", "b"}}
	for i := 0; i < 2; i++ {
		got, err := s.engine.GetMany(context.Background(), cfg)
		s.Require().NoError(err)
		s.Len(got, 2)
		s.Contains(got, "a")
		s.Contains(got, "b")
		s.NotContains(got, "missing")
	}
}

func (s *UnitTestSuite) TestGetManyFailsOnAnyError() {
	s.store.FailNext(memory.OpGet, errors.New("unavailable"))
	_, err := s.engine.GetMany(context.Background(),
		types.SubscriptionConfig{Collection: "items", IDs: []string{"a", "b", "c"}})
	s.ErrorIs(err, types.ErrRemote)
}

func (s *UnitTestSuite) TestGetManyRunsQuery() {
	for i, status := range []string{"open", "closed", "open"} {
		id := string(rune('a' + i))
		s.Require().NoError(s.store.SetDocument(context.Background(), "items", id, types.Document{"status": status}))
	}
	got, err := s.engine.GetMany(context.Background(), types.Where("items", "status", types.OpEqual, "open"))
	s.Require().NoError(err)
	s.Len(got, 2)
	s.Contains(got, "a")
	s.Contains(got, "c")

	_, err = s.engine.GetMany(context.Background(), types.SubscriptionConfig{})
	s.ErrorIs(err, types.ErrConfiguration)
}

func (s *UnitTestSuite) TestUpdate() {
	s.ErrorIs(s.engine.Update(context.Background(), "items", "", types.Document{"n": 1}), types.ErrConfiguration)

	err := s.engine.Update(context.Background(), "items", "nope", types.Document{"n": 1})
	s.ErrorIs(err, types.ErrRemote)
	s.ErrorIs(err, types.ErrNotFound)

	s.Require().NoError(s.store.SetDocument(context.Background(), "items", "a", types.Document{"n": 1, "m": 1}))
	s.Require().NoError(s.engine.Update(context.Background(), "items", "a", types.Document{"n": 2}))
	got, _ := s.engine.Get(context.Background(), "items", "a")
	s.Equal(types.Document{"id": "a", "n": 2, "m": 1}, got)
}

func (s *UnitTestSuite) TestDeleteSwallowsErrors() {
	s.Require().NoError(s.store.SetDocument(context.Background(), "items", "a", types.Document{"n": 1}))
	s.store.FailNext(memory.OpDelete, errors.New("denied"))
	s.NotPanics(func() { s.engine.Delete(context.Background(), "items", "a") })
	got, _ := s.engine.Get(context.Background(), "items", "a")
	s.NotNil(got)

	s.engine.Delete(context.Background(), "items", "a")
	got, _ = s.engine.Get(context.Background(), "items", "a")
	s.Nil(got)

	s.engine.Delete(context.Background(), "items", "")
	s.Equal(2, s.store.Calls(memory.OpDelete))
}

type capturePublisher struct {
	events []pub.ChangeEvent
}

func (c *capturePublisher) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	var ev pub.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	c.events = append(c.events, ev)
	return nil
}

func (s *UnitTestSuite) TestWritesPublishChangeEvents() {
	cp := &capturePublisher{}
	engine := NewEngine(s.store, WithNotifier(pub.NewNotifier(cp, "changes")))

	_, err := engine.Save(context.Background(), "items", types.Document{"id": "a"}, SaveOptions{})
	s.Require().NoError(err)
	_, err = engine.Save(context.Background(), "items", types.Document{"id": "a", "n": 1}, SaveOptions{})
	s.Require().NoError(err)
	s.Require().NoError(engine.Update(context.Background(), "items", "a", types.Document{"n": 2}))
	engine.Delete(context.Background(), "items", "a")

	ops := make([]string, 0, len(cp.events))
	for _, ev := range cp.events {
		s.Equal("items", ev.Collection)
		s.Equal("a", ev.ID)
		ops = append(ops, ev.Op)
	}
	s.Equal([]string{pub.OpCreate, pub.OpUpdate, pub.OpUpdate, pub.OpDelete}, ops)
}
