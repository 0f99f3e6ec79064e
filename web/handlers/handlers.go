// Package handlers provides the read-only HTTP API for browsing
// deliberation sessions.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/export"
	"github.com/arbiterhq/arbiter/internal/reasoner"
	"github.com/arbiterhq/arbiter/internal/storage"
)

const defaultListLimit = 50

// Handler serves the JSON API over persisted sessions.
type Handler struct {
	storage  storage.Storage
	registry *reasoner.Registry
}

// New creates a new Handler.
func New(store storage.Storage, registry *reasoner.Registry) *Handler {
	return &Handler{
		storage:  store,
		registry: registry,
	}
}

// Routes builds the router for the API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.handleHealth)
	r.Get("/api/sessions", h.handleListSessions)
	r.Get("/api/sessions/{id}", h.handleGetSession)
	r.Get("/api/sessions/{id}/transcript", h.handleGetTranscript)
	r.Get("/api/sessions/{id}/decision", h.handleGetDecision)
	r.Get("/api/sessions/{id}/export/{format}", h.handleExportSession)
	r.Get("/api/reasoners", h.handleListReasoners)
	r.Get("/api/reasoners/health", h.handleReasonersHealth)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.json(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 {
		limit = defaultListLimit
	}

	sessions, err := h.storage.ListSessions(limit, offset)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.json(w, map[string]interface{}{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.json(w, session)
}

func (h *Handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.json(w, map[string]interface{}{
		"session_id": session.ID,
		"analysis":   session.Analysis,
		"rounds":     session.Transcript.Rounds,
	})
}

func (h *Handler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if session.Decision == nil {
		h.jsonError(w, "session has no decision", http.StatusNotFound)
		return
	}
	h.json(w, session.Decision)
}

func (h *Handler) handleExportSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	format := export.Format(chi.URLParam(r, "format"))
	exporter, err := export.GetExporter(format)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	filename := export.GenerateFilename(session, exporter.FileExtension())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	switch format {
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case export.FormatPDF:
		w.Header().Set("Content-Type", "application/pdf")
	default:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	}

	if err := exporter.Export(session, w); err != nil {
		slog.Error("Export failed", "session", session.ID, "format", format, "error", err)
	}
}

func (h *Handler) handleListReasoners(w http.ResponseWriter, r *http.Request) {
	reasoners := h.registry.List()
	result := make([]map[string]interface{}, 0, len(reasoners))

	for _, re := range reasoners {
		result = append(result, map[string]interface{}{
			"name":      re.Name(),
			"available": re.Available(),
		})
	}

	h.json(w, map[string]interface{}{
		"reasoners": result,
	})
}

func (h *Handler) handleReasonersHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result := make(map[string]interface{})

	for _, re := range h.registry.List() {
		hc, ok := re.(reasoner.HealthChecker)
		if !ok {
			result[re.Name()] = map[string]interface{}{
				"available": re.Available(),
			}
			continue
		}

		status := hc.HealthCheck(ctx)
		result[re.Name()] = map[string]interface{}{
			"available":     status.Available,
			"response_time": status.ResponseTime.Seconds(),
			"error":         status.Error,
			"checked_at":    status.CheckedAt,
		}
	}

	h.json(w, map[string]interface{}{
		"reasoners": result,
	})
}

// loadSession fetches the session named by the route or writes the
// appropriate error response.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := h.storage.GetSession(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if s == nil {
		h.jsonError(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (h *Handler) json(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
