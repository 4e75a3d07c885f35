package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/idempotency"
	logpkg "github.com/benvon/learning-stats/internal/logger"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/benvon/learning-stats/internal/request"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// WebhookSecretHeader carries the shared secret configured in the CMS
	WebhookSecretHeader = "X-Webhook-Secret"
	// SourceWebhook tags jobs created from CMS notifications
	SourceWebhook = "webhook"
)

// WebhookRequest is a change notification from the CMS
type WebhookRequest struct {
	Event    string          `json:"event" validate:"required,max=64"`
	RecordID string          `json:"recordId" validate:"required,max=256"`
	Payload  *WebhookPayload `json:"payload,omitempty"`
}

// WebhookPayload is the learning record attached to a notification, plus the
// display names used on leaderboards
type WebhookPayload struct {
	models.LearningRecord
	EmployeeName string `json:"employee_name,omitempty" validate:"max=200"`
	TeamName     string `json:"team_name,omitempty" validate:"max=200"`
}

// WebhookResponse reports what happened to a notification
type WebhookResponse struct {
	Event     string `json:"event"`
	RecordID  string `json:"recordId"`
	Action    string `json:"action,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Deferred  bool   `json:"deferred,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Applied   bool   `json:"applied,omitempty"`
	// FailedLevels lists levels whose update failed when applied inline
	FailedLevels []models.Level `json:"failed_levels,omitempty"`
}

// WebhookHandler turns CMS change notifications into learning deltas
type WebhookHandler struct {
	service  StatsService
	guard    idempotency.Guard
	jobQueue queue.JobQueue
	secret   string
	logger   *zap.Logger
}

// WebhookOption configures a WebhookHandler
type WebhookOption func(*WebhookHandler)

// WithWebhookJobQueue hands accepted notifications to the worker instead of applying them inline
func WithWebhookJobQueue(q queue.JobQueue) WebhookOption {
	return func(h *WebhookHandler) {
		h.jobQueue = q
	}
}

// WithWebhookSecret requires callers to present secret in the X-Webhook-Secret header
func WithWebhookSecret(secret string) WebhookOption {
	return func(h *WebhookHandler) {
		h.secret = secret
	}
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service StatsService, guard idempotency.Guard, logger *zap.Logger, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{service: service, guard: guard, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers webhook routes. The router should already have the /webhooks prefix.
func (h *WebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/cms", h.HandleCMS).Methods("POST")
}

// ActionForEvent maps a CMS event to a delta action. ok is false for events
// that carry no delta. Lifecycle prefixes such as "entry." are ignored.
func ActionForEvent(event string) (action models.Action, deferred bool, ok bool) {
	name := strings.ToLower(strings.TrimSpace(event))
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "create", "publish":
		return models.ActionAdd, false, true
	case "unpublish", "delete":
		return models.ActionRemove, false, true
	case "update":
		return "", true, false
	default:
		return "", false, false
	}
}

// HandleCMS processes one change notification
func (h *WebhookHandler) HandleCMS(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		presented := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) != 1 {
			respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid webhook secret")
			return
		}
	}

	var req WebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Payload != nil && req.Payload.ID == "" {
		req.Payload.ID = req.RecordID
	}
	if !validateStruct(w, &req) {
		return
	}

	ctx := r.Context()
	logger := h.logger.With(
		zap.String("request_id", request.RequestIDFromContext(ctx)),
		zap.String("event", logpkg.SanitizeEvent(req.Event)),
		zap.String("learning_record_id", logpkg.SanitizeID(req.RecordID)),
	)
	resp := WebhookResponse{Event: req.Event, RecordID: req.RecordID}

	action, deferred, ok := ActionForEvent(req.Event)
	if deferred {
		// Edits carry the previous values only on the synchronous path
		logger.Debug("webhook_update_deferred")
		resp.Deferred = true
		respondJSON(w, http.StatusAccepted, resp)
		return
	}
	if !ok {
		logger.Info("webhook_event_ignored")
		resp.Ignored = true
		respondJSON(w, http.StatusAccepted, resp)
		return
	}
	resp.Action = string(action)

	if req.Payload == nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Payload is required for "+string(action)+" events")
		return
	}
	record := req.Payload.LearningRecord
	if record.ID != req.RecordID {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Payload id does not match recordId")
		return
	}

	key := idempotency.Key(action, req.RecordID)
	if !h.guard.Claim(ctx, key) {
		logger.Info("webhook_duplicate_delivery")
		resp.Duplicate = true
		respondJSON(w, http.StatusOK, resp)
		return
	}

	if h.jobQueue != nil {
		job := queue.NewJob(queue.JobTypeLearningDelta, record, action)
		job.EmployeeName = req.Payload.EmployeeName
		job.TeamName = req.Payload.TeamName
		job.Source = SourceWebhook
		err := h.jobQueue.Enqueue(ctx, job)
		if err == nil {
			logger.Info("webhook_delta_queued", zap.String("job_id", job.ID.String()))
			resp.Queued = true
			resp.JobID = job.ID.String()
			respondJSON(w, http.StatusAccepted, resp)
			return
		}
		logger.Warn("webhook_enqueue_failed_applying_inline", zap.Error(err))
	}

	result, err := h.service.ApplyLearningDelta(ctx, &record, action, req.Payload.EmployeeName, req.Payload.TeamName)
	if err != nil {
		h.guard.Release(ctx, key)
		if errors.Is(err, cascade.ErrInvalidDelta) {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		logger.Error("webhook_delta_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to apply learning delta")
		return
	}
	if result.Employee == nil && result.Team == nil && result.Org == nil {
		// Nothing was applied, let the CMS redeliver
		h.guard.Release(ctx, key)
		logger.Error("webhook_delta_failed", zap.Error(result.Err()))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to apply learning delta")
		return
	}

	resp.Applied = true
	for _, level := range []models.Level{models.LevelEmployee, models.LevelTeam, models.LevelOrg} {
		if _, failed := result.Errors[level]; failed {
			resp.FailedLevels = append(resp.FailedLevels, level)
		}
	}
	if len(resp.FailedLevels) > 0 {
		logger.Warn("webhook_delta_partially_applied", zap.Error(result.Err()))
	} else {
		logger.Info("webhook_delta_applied")
	}
	respondJSON(w, http.StatusOK, resp)
}
