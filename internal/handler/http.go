package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/service"
	"github.com/marathon-scoring/internal/websocket"
)

// Handler provides HTTP handlers for the scoring API
type Handler struct {
	service *service.ScoringService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.ScoringService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Rules versions
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", h.CreateRules)
			r.Get("/", h.ListRuleVersions)
			r.Get("/{version}", h.GetRules)
		})

		// Timing ingestion and single-result operations
		r.Route("/results", func(r chi.Router) {
			r.Post("/", h.RecordTime)

			r.Route("/{resultID}", func(r chi.Router) {
				r.Get("/", h.GetResult)
				r.Delete("/", h.ResetResult)
				r.Post("/record/confirm", h.ConfirmRecord)
				r.Post("/record/reject", h.RejectRecord)
				r.Get("/record/audit", h.RecordAuditTrail)
			})
		})

		// Record thresholds
		r.Post("/records", h.UpsertRecord)

		// Scoring runs and standings
		r.Route("/games/{gameID}/races/{raceID}", func(r chi.Router) {
			r.Post("/score", h.ScoreRace)
			r.Get("/standings", h.GetStandings)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsInputError(err) || errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrMalformedRules):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsStateError(err) || errors.Is(err, domain.ErrRulesVersionExists):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrNoResults) || errors.Is(err, domain.ErrNoFinishers):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateRules stores a new immutable rules version
func (h *Handler) CreateRules(w http.ResponseWriter, r *http.Request) {
	var rules domain.ScoringRules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.CreateRules(r.Context(), &rules); err != nil {
		h.writeDomainError(w, "create rules", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]string{"version": rules.Version},
	})
}

// ListRuleVersions returns the stored rules versions
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.ListRuleVersions(r.Context())
	if err != nil {
		h.writeDomainError(w, "list rule versions", err)
		return
	}

	h.writeSuccess(w, versions)
}

// GetRules returns one rules version
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if version == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	rules, err := h.service.GetRules(r.Context(), version)
	if err != nil {
		h.writeDomainError(w, "get rules", err)
		return
	}

	h.writeSuccess(w, rules)
}

// RecordTime ingests one raw timing row
func (h *Handler) RecordTime(w http.ResponseWriter, r *http.Request) {
	var sub service.TimeSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.RecordTime(r.Context(), sub)
	if err != nil {
		h.writeDomainError(w, "record time", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// GetResult returns one result with its breakdown
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	if resultID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.GetResult(r.Context(), resultID)
	if err != nil {
		h.writeDomainError(w, "get result", err)
		return
	}

	h.writeSuccess(w, result)
}

// ResetResult removes one result row
func (h *Handler) ResetResult(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	if resultID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.ResetResult(r.Context(), resultID); err != nil {
		h.writeDomainError(w, "reset result", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// recordTransitionRequest names which of a result's record bonuses to move
type recordTransitionRequest struct {
	RecordType domain.RecordType `json:"record_type"`
}

// ConfirmRecord confirms a provisional record bonus
func (h *Handler) ConfirmRecord(w http.ResponseWriter, r *http.Request) {
	h.transitionRecord(w, r, "confirm record", h.service.ConfirmRecord)
}

// RejectRecord rejects a provisional record bonus
func (h *Handler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	h.transitionRecord(w, r, "reject record", h.service.RejectRecord)
}

type recordTransitionFunc func(ctx context.Context, resultID string, recordType domain.RecordType) (*domain.RaceResult, error)

func (h *Handler) transitionRecord(w http.ResponseWriter, r *http.Request, op string, transition recordTransitionFunc) {
	resultID := chi.URLParam(r, "resultID")
	if resultID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req recordTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.RecordType == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := transition(r.Context(), resultID, req.RecordType)
	if err != nil {
		h.writeDomainError(w, op, err)
		return
	}

	h.writeSuccess(w, result)
}

// RecordAuditTrail returns the record transition history for one result
func (h *Handler) RecordAuditTrail(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	if resultID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	changes, err := h.service.RecordAuditTrail(r.Context(), resultID)
	if err != nil {
		h.writeDomainError(w, "record audit trail", err)
		return
	}

	h.writeSuccess(w, changes)
}

// UpsertRecord maintains a stored record threshold
func (h *Handler) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	var record domain.RaceRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if record.RaceID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.UpsertRecord(r.Context(), record); err != nil {
		h.writeDomainError(w, "upsert record", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "stored"})
}

// scoreRaceRequest carries the body of a scoring run request; the game and
// race come from the URL.
type scoreRaceRequest struct {
	RulesVersion   string `json:"rules_version"`
	IncludeDNS     *bool  `json:"include_dns,omitempty"`
	DistanceMeters int    `json:"distance_meters,omitempty"`
}

// ScoreRace runs a full scoring pass for one race
func (h *Handler) ScoreRace(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	raceID := chi.URLParam(r, "raceID")
	if gameID == "" || raceID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req scoreRaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	report, err := h.service.ScoreRace(r.Context(), service.ScoreRequest{
		GameID:         gameID,
		RaceID:         raceID,
		RulesVersion:   req.RulesVersion,
		IncludeDNS:     req.IncludeDNS,
		DistanceMeters: req.DistanceMeters,
	})
	if err != nil {
		h.writeDomainError(w, "score race", err)
		return
	}

	h.writeSuccess(w, report)
}

// GetStandings returns the ranked standings view for a scored race
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	raceID := chi.URLParam(r, "raceID")
	if gameID == "" || raceID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	entries, err := h.service.Standings(r.Context(), gameID, raceID)
	if err != nil {
		h.writeDomainError(w, "get standings", err)
		return
	}

	h.writeSuccess(w, entries)
}
