// Package handler provides HTTP handlers for the Stack-Warden application.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/storage"
)

// ReconcileHandler accepts reconciliation requests and exposes the run history.
type ReconcileHandler struct {
	cfg        *config.Config
	dispatcher core.JobDispatcher
	store      storage.Store
	logger     *slog.Logger
}

// NewReconcileHandler creates a new handler with the given configuration and dispatcher.
func NewReconcileHandler(cfg *config.Config, dispatcher core.JobDispatcher, store storage.Store, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
	}
}

type reconcileRequest struct {
	StackID   string `json:"stack_id"`
	Requester string `json:"requester"`
}

type reconcileResponse struct {
	RunID string `json:"run_id"`
}

// Reconcile queues a reconciliation run for one stack.
func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("could not parse reconcile request", "error", err)
		http.Error(w, "Could not parse request body", http.StatusBadRequest)
		return
	}
	if req.StackID == "" {
		http.Error(w, "stack_id is required", http.StatusBadRequest)
		return
	}

	event := &core.ReconcileEvent{
		RunID:     uuid.NewString(),
		StackID:   req.StackID,
		Requester: req.Requester,
	}
	if err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		h.logger.Error("failed to dispatch reconciliation job", "error", err, "stack", req.StackID)
		http.Error(w, "Failed to queue reconciliation", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("reconciliation job dispatched", "stack", req.StackID, "run_id", event.RunID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(reconcileResponse{RunID: event.RunID})
}

// Runs returns the most recent runs, optionally filtered by stack id.
func (h *ReconcileHandler) Runs(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.store.GetRecentRuns(r.Context(), r.URL.Query().Get("stack_id"), limit)
	if err != nil {
		h.logger.Error("failed to query run history", "error", err)
		http.Error(w, "Failed to query run history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

func (h *ReconcileHandler) authorized(r *http.Request) bool {
	if h.cfg.APIToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.cfg.APIToken
}
