package apicall

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"firestorm/internal/types"

	"github.com/goccy/go-json"
)

func (s *UnitTestSuite) TestCallSendsBearerAndJSON() {
	var gotAuth, gotMethod, gotPath, gotCT string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"n":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", staticToken("tok"))
	got := c.Call(context.Background(), "/v1/things", http.MethodPost, map[string]any{"a": 1})

	s.Equal(types.Document{"ok": true, "n": float64(2)}, got)
	s.Equal("Bearer tok", gotAuth)
	s.Equal("application/json", gotCT)
	s.Equal(http.MethodPost, gotMethod)
	s.Equal("/v1/things", gotPath)
	s.Equal(map[string]any{"a": float64(1)}, gotBody)
}

func (s *UnitTestSuite) TestCallResolvesEmptyOnFailure() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/error":
			http.Error(w, "nope", http.StatusInternalServerError)
		case "/text":
			_, _ = w.Write([]byte("hello"))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	s.Equal(types.Document{}, c.Call(context.Background(), "error", "", nil))
	s.Equal(types.Document{}, c.Call(context.Background(), "text", http.MethodGet, nil))
	s.Equal(types.Document{}, c.Call(context.Background(), "empty", http.MethodDelete, nil))

	s.Equal(types.Document{}, New("", staticToken("tok")).Call(context.Background(), "x", "", nil))
	s.Equal(types.Document{}, New(srv.URL, staticToken("")).Call(context.Background(), "x", "", nil))
	s.Equal(types.Document{}, New("http://127.0.0.1:1", staticToken("tok")).Call(context.Background(), "x", "", nil))
}

func (s *UnitTestSuite) TestCallWithoutTokenMakesNoRequest() {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	New(srv.URL, staticToken("")).Call(context.Background(), "x", "", nil)
	s.Equal(0, hits)
}

func (s *UnitTestSuite) TestCallTimesOut() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"late":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	c.http.Timeout = 50 * time.Millisecond
	s.Equal(types.Document{}, c.Call(context.Background(), "slow", "", nil))
	s.Equal(DefaultTimeout, New(srv.URL, nil).http.Timeout)
}
