package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"firestorm/internal/backends/jwtauth"
	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/types"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func (s *UnitTestSuite) get(url string, header http.Header) (int, []byte) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	s.Require().NoError(err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, b
}

func (s *UnitTestSuite) TestHealthAndMetrics() {
	code, _ := s.get(s.srv.URL+"/health", nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.get(s.srv.URL+"/metrics", nil)
	s.Contains([]int{http.StatusOK, http.StatusNotFound}, code)
}

func (s *UnitTestSuite) TestGetDocument() {
	ctx := context.Background()
	_, err := s.engine.Save(ctx, "items", types.Document{"id": "a", "n": 1}, lifecycle.SaveOptions{})
	s.Require().NoError(err)

	code, body := s.get(s.srv.URL+"/documents/items/a", nil)
	s.Equal(http.StatusOK, code)
	var doc map[string]any
	s.NoError(json.Unmarshal(body, &doc))
	s.Equal("a", doc["id"])

	code, _ = s.get(s.srv.URL+"/documents/items/missing", nil)
	s.Equal(http.StatusNotFound, code)
}

func (s *UnitTestSuite) TestSubscriptions() {
	detach, err := s.mux.Attach(context.Background(), types.Collection("items"), func(types.Snapshot) {})
	s.Require().NoError(err)
	defer detach()

	code, body := s.get(s.srv.URL+"/subscriptions", nil)
	s.Equal(http.StatusOK, code)
	var stats []listen.SubscriptionStat
	s.NoError(json.Unmarshal(body, &stats))
	s.Equal([]listen.SubscriptionStat{{Key: "items", State: "live", Callbacks: 1}}, stats)
}

func (s *UnitTestSuite) dial(path string, header http.Header) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	s.Require().NoError(err)
	return conn
}

func (s *UnitTestSuite) readSnapshot(conn *websocket.Conn) snapshotMessage {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, b, err := conn.ReadMessage()
	s.Require().NoError(err)
	var msg snapshotMessage
	s.Require().NoError(json.Unmarshal(b, &msg))
	return msg
}

func (s *UnitTestSuite) TestWatchStreamsSnapshots() {
	ctx := context.Background()
	conn := s.dial("/watch/items?id=a", nil)

	first := s.readSnapshot(conn)
	s.Equal("items/a", first.Key)
	s.True(first.Single)
	s.Nil(first.Doc)

	_, err := s.engine.Save(ctx, "items", types.Document{"id": "a", "n": 1}, lifecycle.SaveOptions{})
	s.Require().NoError(err)
	next := s.readSnapshot(conn)
	s.Equal("a", next.Doc.ID())

	s.Require().NoError(conn.Close())
	s.Eventually(func() bool { return len(s.mux.Keys()) == 0 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(0, s.store.ActiveWatches())
}

func (s *UnitTestSuite) TestWatchRejectsBadConfig() {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/watch/items?id=a&ids=b"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *UnitTestSuite) TestBearerAuth() {
	ctx := context.Background()
	auth, err := jwtauth.New(s.store, []byte("secret"), jwtauth.Options{})
	s.Require().NoError(err)
	srv := httptest.NewServer(NewHandler(s.mux, s.engine, auth).Router())
	defer srv.Close()

	code, _ := s.get(srv.URL+"/documents/items/a", nil)
	s.Equal(http.StatusUnauthorized, code)
	code, _ = s.get(srv.URL+"/documents/items/a", http.Header{"Authorization": {"Bearer junk"}})
	s.Equal(http.StatusUnauthorized, code)

	_, err = auth.SignUp(ctx, types.Credential{Email: "ann@example.com", Password: "hunter22"})
	s.Require().NoError(err)
	token, err := auth.IDToken(ctx)
	s.Require().NoError(err)
	code, _ = s.get(srv.URL+"/documents/items/a", http.Header{"Authorization": {"Bearer " + token}})
	s.Equal(http.StatusNotFound, code)

	code, _ = s.get(srv.URL+"/health", nil)
	s.Equal(http.StatusOK, code)
}

func (s *UnitTestSuite) TestStatusFor() {
	s.Equal(http.StatusBadRequest, statusFor(types.Err(types.ErrConfiguration, nil, "x")))
	s.Equal(http.StatusBadGateway, statusFor(types.Err(types.ErrRemote, nil, "x")))
	s.Equal(http.StatusInternalServerError, statusFor(io.EOF))
}

func (s *UnitTestSuite) TestWatchDetachesWhenWriteTimesOut() {
	defer func(w time.Duration) { writeWait = w }(writeWait)
	writeWait = -time.Second

	conn := s.dial("/watch/items?id=a", nil)
	defer func() {
		_ = conn.Close()
	}()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.Error(err)
	s.Eventually(func() bool { return len(s.mux.Keys()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
