// Package api serves the admin surface of a running sync client: health, metrics, the
// active subscription table, document reads and a websocket stream of snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/telemetry"
	"firestorm/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// TokenVerifier resolves a bearer token to its user.
type TokenVerifier interface {
	Verify(token string) (*types.User, error)
}

type Handler struct {
	Mux    *listen.Multiplexer
	Engine *lifecycle.Engine
	// Verifier, when set, guards the document and watch routes with bearer tokens.
	Verifier TokenVerifier

	upgrader websocket.Upgrader
}

func NewHandler(mux *listen.Multiplexer, engine *lifecycle.Engine, verifier TokenVerifier) *Handler {
	return &Handler{
		Mux:      mux,
		Engine:   engine,
		Verifier: verifier,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// writeWait bounds each websocket write so a stalled peer can't hold up delivery on its key.
var writeWait = 10 * time.Second

type snapshotMessage struct {
	Key    string           `json:"key"`
	Single bool             `json:"single"`
	Doc    types.Document   `json:"doc,omitempty"`
	Docs   []types.Document `json:"docs,omitempty"`
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/subscriptions", h.handleSubscriptions)

	r.Group(func(r chi.Router) {
		r.Use(h.bearerAuth)
		r.Get("/documents/{collection}/{id}", h.handleGetDocument)
		r.Get("/watch/{collection}", h.handleWatch)
	})
	return r
}

type userKey struct{}

// bearerAuth rejects requests without a valid bearer token when a verifier is set.
func (h *Handler) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		u, err := h.Verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

// requestUser returns the email of the verified caller, "" when routes are unguarded.
func requestUser(r *http.Request) string {
	if u, ok := r.Context().Value(userKey{}).(*types.User); ok && u != nil {
		return u.Email
	}
	return ""
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	stats := h.Mux.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	if err := writeJSON(w, http.StatusOK, stats); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	doc, err := h.Engine.Get(r.Context(), collection, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if doc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := writeJSON(w, http.StatusOK, doc); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

// handleWatch upgrades to a websocket and streams every snapshot of the subscription
// described by the query string until the peer closes the connection.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	cfg, err := types.ConfigFromValues(chi.URLParam(r, "collection"), r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	var wmu sync.Mutex
	send := func(snap types.Snapshot) {
		b, err := json.Marshal(snapshotMessage{Key: snap.Key, Single: snap.Single, Doc: snap.Doc, Docs: snap.Docs})
		if err != nil {
			log.WithError(err).WithField("key", snap.Key).Error("Failed to marshal snapshot")
			return
		}
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			// closing ends the read loop below, which detaches
			log.WithError(err).WithField("key", snap.Key).Debug("Websocket write failed, closing")
			_ = conn.Close()
		}
	}

	detach, err := h.Mux.Attach(r.Context(), cfg, send)
	if err != nil {
		wmu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		wmu.Unlock()
		return
	}
	defer detach()
	log.WithFields(log.Fields{
		"subscription": cfg.String(),
		"user":         requestUser(r),
	}).Debug("Websocket watcher attached")

	// reads only detect the close; clients send nothing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
