// Package httpapi serves a read-only view of the session ledger.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sokinpui/askpatch/internal/state"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

// Store is the part of the ledger the API reads.
type Store interface {
	Get(id string) (*state.Entry, error)
	List(limit int) ([]*state.Entry, error)
	Events(sessionID string) ([]model.Event, error)
}

// Handler provides the HTTP API.
type Handler struct {
	store  Store
	router chi.Router
}

// New creates a new HTTP API handler.
func New(store Store) *Handler {
	h := &Handler{store: store}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{id}", h.handleGetSession)
		r.Get("/sessions/{id}/events", h.handleSessionEvents)
		r.Get("/sessions/{id}/patch", h.handleSessionPatch)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.store.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		ui.Error("Error listing sessions: %v", err)
		return
	}
	if entries == nil {
		entries = []*state.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.lookup(w, id); !ok {
		return
	}
	events, err := h.store.Events(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		ui.Error("Error loading events for %s: %v", id, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleSessionPatch(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if entry.DiffPath == "" {
		writeError(w, http.StatusNotFound, "session produced no patch")
		return
	}
	data, err := os.ReadFile(entry.DiffPath)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusGone, "patch file no longer exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read patch")
		ui.Error("Error reading %s: %v", entry.DiffPath, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) lookup(w http.ResponseWriter, id string) (*state.Entry, bool) {
	entry, err := h.store.Get(id)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		ui.Error("Error loading session %s: %v", id, err)
		return nil, false
	}
	return entry, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ui.Error("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
