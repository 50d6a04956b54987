// Package sessionapi serves the session snapshot HTTP API: a small KV
// surface over sessionstore with last-writer-wins conflict responses, plus a
// health probe and a public tip menu lookup.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/sessionstore"
	"github.com/aamakeev/director-extension/internal/tipmenu"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MenuSource looks up a model's public tip menu. Usually *tipmenu.Client.
type MenuSource interface {
	Fetch(ctx context.Context, username, hostHint string) (*tipmenu.Menu, error)
}

// Server is the HTTP surface over the session store.
type Server struct {
	store  *sessionstore.Store
	menus  MenuSource
	apiKey string
}

// New builds the server. menus may be nil; apiKey empty disables auth.
func New(store *sessionstore.Store, menus MenuSource, apiKey string) *Server {
	return &Server{store: store, menus: menus, apiKey: apiKey}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tip-menu", s.handleTipMenu)
	mux.HandleFunc("GET /sessions/{id}", s.withAuth(s.handleGet))
	mux.HandleFunc("PUT /sessions/{id}", s.withAuth(s.handlePut))
	mux.HandleFunc("DELETE /sessions/{id}", s.withAuth(s.handleDelete))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Api-Key"},
	})
	return c.Handler(s.withLogging(mux))
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	available := s.store.Healthy(ctx)
	status := http.StatusOK
	if !available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":           available,
		"storage":      s.store.Mode(),
		"isAvailable":  available,
		"isPersistent": s.store.Persistent(),
		"now":          time.Now().UnixMilli(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": rec.SessionID,
		"updatedAt": rec.UpdatedAt,
		"state":     rec.State,
		"storedAt":  rec.StoredAt,
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	var body struct {
		State struct {
			SavedAt   int64           `json:"savedAt"`
			GameState json.RawMessage `json:"gameState"`
		} `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.State.SavedAt <= 0 || len(body.State.GameState) == 0 {
		writeError(w, http.StatusBadRequest, "state.savedAt and state.gameState are required")
		return
	}

	state, err := json.Marshal(body.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	result, err := s.store.Set(r.Context(), id, body.State.SavedAt, state)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if result.Stale {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "a newer snapshot already exists",
			"sessionId": id,
			"updatedAt": result.Existing.UpdatedAt,
			"state":     result.Existing.State,
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTipMenu(w http.ResponseWriter, r *http.Request) {
	if s.menus == nil {
		writeError(w, http.StatusServiceUnavailable, "tip menu lookup not configured")
		return
	}

	username := r.URL.Query().Get("username")
	host := r.URL.Query().Get("host")

	menu, err := s.menus.Fetch(r.Context(), username, host)
	if errors.Is(err, tipmenu.ErrBadUsername) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "tip menu lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !sessionIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sessionstore.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}
	log.Error().Err(err).Msg("session store error")
	writeError(w, http.StatusInternalServerError, "server error")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
