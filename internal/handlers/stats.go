package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/learning-stats/internal/cascade"
	logpkg "github.com/benvon/learning-stats/internal/logger"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/repository"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StatsService is the subset of the cascade coordinator the HTTP layer uses
type StatsService interface {
	ApplyLearningDelta(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error)
	ApplyEmployeeFirst(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*models.EmployeeStats, error)
	ApplyEdit(ctx context.Context, previous, current *models.LearningRecord, employeeName, teamName string) (*cascade.EditResult, error)
	GetEmployeeStats(ctx context.Context, employeeID string) (*models.EmployeeStats, error)
	GetTeamStats(ctx context.Context, teamID string) (*models.TeamStats, error)
	GetOrgStats(ctx context.Context) (*models.OrgStats, error)
}

// StatsHandler serves the dashboard read endpoints
type StatsHandler struct {
	service StatsService
	logger  *zap.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(service StatsService, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{service: service, logger: logger}
}

// RegisterRoutes registers stats routes. The router should already have the /stats prefix.
func (h *StatsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/employees/{id}", h.GetEmployeeStats).Methods("GET")
	r.HandleFunc("/teams/{id}", h.GetTeamStats).Methods("GET")
	r.HandleFunc("/org", h.GetOrgStats).Methods("GET")
}

// GetEmployeeStats returns the stats of one employee
func (h *StatsHandler) GetEmployeeStats(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	view, err := h.service.GetEmployeeStats(r.Context(), id)
	if err != nil {
		h.respondReadError(w, "employee", id, err)
		return
	}
	if view == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "No stats recorded for employee")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetTeamStats returns the stats and leaderboard of one team
func (h *StatsHandler) GetTeamStats(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	view, err := h.service.GetTeamStats(r.Context(), id)
	if err != nil {
		h.respondReadError(w, "team", id, err)
		return
	}
	if view == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "No stats recorded for team")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetOrgStats returns the organization-wide stats
func (h *StatsHandler) GetOrgStats(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetOrgStats(r.Context())
	if err != nil {
		h.respondReadError(w, "org", models.OrgSubjectID, err)
		return
	}
	if view == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "No organization stats recorded")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *StatsHandler) respondReadError(w http.ResponseWriter, level, id string, err error) {
	h.logger.Error("stats_read_failed",
		zap.String("level", level),
		zap.String("subject_id", logpkg.SanitizeID(id)),
		zap.Error(err),
	)
	if errors.Is(err, repository.ErrRepositoryUnavailable) {
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Stats store is unavailable")
		return
	}
	respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve stats")
}
