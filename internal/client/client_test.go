package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"firestorm/internal/lifecycle"
	"firestorm/internal/schema"
	"firestorm/internal/types"
)

func (s *UnitTestSuite) TestSaveStampsOwnerFromAuth() {
	ctx := context.Background()
	s.client.Start(ctx)
	_, err := s.client.Session.Signup(ctx, "ann@example.com", "hunter22")
	s.Require().NoError(err)
	uid := s.auth.CurrentUser(ctx).ID

	saved, err := s.client.Save(ctx, "notes", types.Document{"id": "n1", "body": "hi"},
		lifecycle.SaveOptions{SetOwner: true})
	s.Require().NoError(err)
	s.Equal(uid, saved["ownerId"])
	s.True(s.client.Session.IsOwner(saved))
}

func (s *UnitTestSuite) TestSubscribeSeesWrites() {
	ctx := context.Background()
	var got []types.Snapshot
	detach, err := s.client.Subscribe(ctx, types.Doc("notes", "n1"), func(snap types.Snapshot) {
		got = append(got, snap)
	})
	s.Require().NoError(err)
	defer detach()

	_, err = s.client.Save(ctx, "notes", types.Document{"id": "n1", "body": "hi"}, lifecycle.SaveOptions{})
	s.Require().NoError(err)

	s.Require().Len(got, 2)
	s.Nil(got[0].Doc)
	s.Equal("hi", got[1].Doc["body"])
}

func (s *UnitTestSuite) TestSchemaHelpers() {
	ctx := context.Background()
	users := schema.New("User", "users", map[string]schema.Field{
		"name": schema.Of(schema.String),
		"age":  schema.Required(schema.Number),
	})
	s.Require().NoError(s.client.Register(users))

	rec, err := s.client.NewRecord("users", types.Document{"id": "u1", "name": "Ann", "age": 3})
	s.Require().NoError(err)
	s.Require().NoError(rec.Save(ctx, lifecycle.SaveOptions{}))

	found, err := s.client.Find(ctx, "users", "u1")
	s.Require().NoError(err)
	s.Equal("Ann", found.Get("name"))

	var watched []*schema.Record
	detach, err := s.client.Watch(ctx, types.Collection("users"), func(rs []*schema.Record) { watched = rs })
	s.Require().NoError(err)
	defer detach()
	s.Require().Len(watched, 1)
	s.Equal("u1", watched[0].ID())

	_, err = s.client.Find(ctx, "orders", "o1")
	s.True(errors.Is(err, types.ErrConfiguration))
	_, err = s.client.NewRecord("orders", types.Document{})
	s.True(errors.Is(err, types.ErrConfiguration))
}

func (s *UnitTestSuite) TestResetDropsSubscriptions() {
	ctx := context.Background()
	_, err := s.client.Subscribe(ctx, types.Collection("notes"), func(types.Snapshot) {})
	s.Require().NoError(err)
	s.Len(s.client.Mux.Keys(), 1)

	s.client.Reset()
	s.Empty(s.client.Mux.Keys())
	s.Equal(0, s.store.ActiveWatches())
}

func (s *UnitTestSuite) TestCallUsesSignedInToken() {
	ctx := context.Background()
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	c := New(s.store, s.auth, Options{BaseURL: srv.URL})
	s.Equal(types.Document{}, c.Call(ctx, "ping", "", nil))

	_, err := s.auth.SignUp(ctx, types.Credential{Email: "ann@example.com", Password: "hunter22"})
	s.Require().NoError(err)
	s.Equal(types.Document{"pong": true}, c.Call(ctx, "ping", "", nil))
	s.Contains(auth, "Bearer ")
}

func (s *UnitTestSuite) TestInvokeUsesFunctionsURL() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":"hi"}`))
	}))
	defer srv.Close()

	c := New(s.store, s.auth, Options{BaseURL: "http://api.invalid", FunctionsURL: srv.URL})
	got, err := c.Invoke(context.Background(), "hello", nil)
	s.Require().NoError(err)
	s.Equal("hi", got)

	_, err = c.Invoke(context.Background(), "missing", nil)
	s.ErrorIs(err, types.ErrRemote)
}
