package handlers

import (
	"errors"
	"net/http"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/idempotency"
	logpkg "github.com/benvon/learning-stats/internal/logger"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/repository"
	"github.com/benvon/learning-stats/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DeltaRequest is a learning record mutation reported by the application
type DeltaRequest struct {
	Action       string                 `json:"action" validate:"required,learning_action"`
	Record       *models.LearningRecord `json:"record" validate:"required"`
	Previous     *models.LearningRecord `json:"previous,omitempty"`
	EmployeeName string                 `json:"employee_name,omitempty" validate:"max=200"`
	TeamName     string                 `json:"team_name,omitempty" validate:"max=200"`
}

// DeltaResponse carries the employee view after the delta was applied
type DeltaResponse struct {
	Employee *models.EmployeeStats `json:"employee"`
	Skipped  bool                  `json:"skipped,omitempty"`
}

// DeltaHandler is the synchronous path: the employee level is updated before
// the response is written, team and org follow in the background. Applied
// deltas are marked in the guard so the matching CMS notification is
// treated as a duplicate.
type DeltaHandler struct {
	service StatsService
	guard   idempotency.Guard
	logger  *zap.Logger
}

// NewDeltaHandler creates a new delta handler. guard may be nil.
func NewDeltaHandler(service StatsService, guard idempotency.Guard, logger *zap.Logger) *DeltaHandler {
	return &DeltaHandler{service: service, guard: guard, logger: logger}
}

// RegisterRoutes registers delta routes. The router should already have the /learning-deltas prefix.
func (h *DeltaHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ApplyDelta).Methods("POST")
}

// ApplyDelta applies an add, remove or edit of a learning record
func (h *DeltaHandler) ApplyDelta(w http.ResponseWriter, r *http.Request) {
	var req DeltaRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.EmployeeName = validation.SanitizeText(req.EmployeeName)
	req.TeamName = validation.SanitizeText(req.TeamName)

	ctx := r.Context()
	if req.Action == validation.ActionEdit {
		h.applyEdit(w, r, &req)
		return
	}

	action := models.Action(req.Action)
	view, err := h.service.ApplyEmployeeFirst(ctx, req.Record, action, req.EmployeeName, req.TeamName)
	if err != nil {
		h.respondApplyError(w, req.Record, err)
		return
	}
	h.markApplied(r, action, req.Record.ID)
	respondJSON(w, http.StatusOK, DeltaResponse{Employee: view})
}

func (h *DeltaHandler) applyEdit(w http.ResponseWriter, r *http.Request, req *DeltaRequest) {
	if req.Previous == nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Edit requires the previous record")
		return
	}

	ctx := r.Context()
	result, err := h.service.ApplyEdit(ctx, req.Previous, req.Record, req.EmployeeName, req.TeamName)
	if result != nil && result.Removed != nil {
		h.markApplied(r, models.ActionRemove, req.Previous.ID)
	}
	if result != nil && result.Added != nil {
		h.markApplied(r, models.ActionAdd, req.Record.ID)
	}
	if err != nil {
		h.respondApplyError(w, req.Record, err)
		return
	}

	if result.Added == nil {
		view, err := h.service.GetEmployeeStats(ctx, req.Record.EmployeeID)
		if err != nil {
			h.respondApplyError(w, req.Record, err)
			return
		}
		respondJSON(w, http.StatusOK, DeltaResponse{Employee: view, Skipped: true})
		return
	}

	if levelErr := result.Added.Errors[models.LevelEmployee]; levelErr != nil {
		h.respondApplyError(w, req.Record, levelErr)
		return
	}
	if err := result.Added.Err(); err != nil {
		h.logger.Warn("learning_edit_partially_applied",
			zap.String("learning_record_id", logpkg.SanitizeID(req.Record.ID)),
			zap.Error(err),
		)
	}
	respondJSON(w, http.StatusOK, DeltaResponse{Employee: result.Added.Employee})
}

func (h *DeltaHandler) markApplied(r *http.Request, action models.Action, recordID string) {
	if h.guard == nil {
		return
	}
	h.guard.MarkProcessed(r.Context(), idempotency.Key(action, recordID))
}

func (h *DeltaHandler) respondApplyError(w http.ResponseWriter, record *models.LearningRecord, err error) {
	switch {
	case errors.Is(err, cascade.ErrInvalidDelta), errors.Is(err, cascade.ErrMissingPrevious):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, repository.ErrRepositoryUnavailable):
		h.logger.Error("learning_delta_failed",
			zap.String("learning_record_id", logpkg.SanitizeID(record.ID)),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Stats store is unavailable")
	default:
		h.logger.Error("learning_delta_failed",
			zap.String("learning_record_id", logpkg.SanitizeID(record.ID)),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to apply learning delta")
	}
}
