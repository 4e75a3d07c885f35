package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/idempotency"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/benvon/learning-stats/internal/recordstore"
	"github.com/benvon/learning-stats/internal/repository"
	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newWebhookRouter(service StatsService, guard idempotency.Guard, opts ...WebhookOption) *mux.Router {
	r := mux.NewRouter()
	NewWebhookHandler(service, guard, zap.NewNop(), opts...).RegisterRoutes(r.PathPrefix("/webhooks").Subrouter())
	return r
}

func webhookBody(event string) WebhookRequest {
	record := testRecord()
	return WebhookRequest{
		Event:    event,
		RecordID: record.ID,
		Payload:  &WebhookPayload{LearningRecord: *record, EmployeeName: "Ada", TeamName: "Platform"},
	}
}

func decodeWebhookResponse(t *testing.T, w *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	var body struct {
		Data WebhookResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Data
}

func okDelta(_ context.Context, record *models.LearningRecord, _ models.Action, _, _ string) (*cascade.Result, error) {
	return &cascade.Result{
		Employee: &models.EmployeeStats{EmployeeID: record.EmployeeID},
		Errors:   map[models.Level]error{},
	}, nil
}

func TestActionForEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event        string
		wantAction   models.Action
		wantDeferred bool
		wantOK       bool
	}{
		{event: "create", wantAction: models.ActionAdd, wantOK: true},
		{event: "entry.publish", wantAction: models.ActionAdd, wantOK: true},
		{event: "Unpublish", wantAction: models.ActionRemove, wantOK: true},
		{event: "entry.delete", wantAction: models.ActionRemove, wantOK: true},
		{event: "entry.update", wantDeferred: true},
		{event: "media.upload"},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			t.Parallel()
			action, deferred, ok := ActionForEvent(tt.event)
			if action != tt.wantAction || deferred != tt.wantDeferred || ok != tt.wantOK {
				t.Errorf("ActionForEvent(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.event, action, deferred, ok, tt.wantAction, tt.wantDeferred, tt.wantOK)
			}
		})
	}
}

func TestWebhookHandler_AppliesInline(t *testing.T) {
	t.Parallel()

	var gotRecord *models.LearningRecord
	var gotTeamName string
	service := &mockStatsService{
		t: t,
		applyLearningDeltaFunc: func(_ context.Context, record *models.LearningRecord, action models.Action, _, teamName string) (*cascade.Result, error) {
			gotRecord = record
			gotTeamName = teamName
			return &cascade.Result{
				Employee: &models.EmployeeStats{EmployeeID: record.EmployeeID},
				Team:     &models.TeamStats{TeamID: record.TeamID},
				Errors:   map[models.Level]error{models.LevelOrg: errors.New("org down")},
			}, nil
		},
	}
	router := newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("entry.create")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeWebhookResponse(t, w)
	require.True(t, resp.Applied)
	require.Equal(t, "add", resp.Action)
	require.Equal(t, []models.Level{models.LevelOrg}, resp.FailedLevels)
	require.Equal(t, "rec-1", gotRecord.ID)
	require.Equal(t, "Platform", gotTeamName)
}

func TestWebhookHandler_DuplicateDelivery(t *testing.T) {
	t.Parallel()

	service := &mockStatsService{t: t, applyLearningDeltaFunc: okDelta}
	router := newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
	require.Equal(t, http.StatusOK, first.Code)

	// publish maps to the same add delta as create
	second := httptest.NewRecorder()
	router.ServeHTTP(second, newTestRequest("POST", "/webhooks/cms", webhookBody("publish")))
	require.Equal(t, http.StatusOK, second.Code)
	require.True(t, decodeWebhookResponse(t, second).Duplicate)
	require.Equal(t, 1, service.deltaCallCount())

	// a removal of the same record is a different delta
	third := httptest.NewRecorder()
	router.ServeHTTP(third, newTestRequest("POST", "/webhooks/cms", webhookBody("delete")))
	require.Equal(t, http.StatusOK, third.Code)
	require.False(t, decodeWebhookResponse(t, third).Duplicate)
	require.Equal(t, 2, service.deltaCallCount())
}

func TestWebhookHandler_DuplicateAfterWindowIsApplied(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	service := &mockStatsService{t: t, applyLearningDeltaFunc: okDelta}
	router := newWebhookRouter(service, idempotency.NewMemoryGuard(30*time.Second, clock))

	router.ServeHTTP(httptest.NewRecorder(), newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
	clock.Advance(31 * time.Second)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, service.deltaCallCount())
}

func TestWebhookHandler_UpdateDeferred(t *testing.T) {
	t.Parallel()

	router := newWebhookRouter(&mockStatsService{t: t}, idempotency.NewMemoryGuard(time.Minute, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("entry.update")))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.True(t, decodeWebhookResponse(t, w).Deferred)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("media.upload")))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.True(t, decodeWebhookResponse(t, w).Ignored)
}

func TestWebhookHandler_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	mismatched := webhookBody("create")
	mismatched.RecordID = "rec-other"

	missingPayload := webhookBody("delete")
	missingPayload.Payload = nil

	badDate := webhookBody("create")
	badDate.Payload.Date = "someday"

	tests := []struct {
		name string
		body any
	}{
		{name: "missing event", body: WebhookRequest{RecordID: "rec-1"}},
		{name: "payload id mismatch", body: mismatched},
		{name: "missing payload", body: missingPayload},
		{name: "invalid payload", body: badDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			newWebhookRouter(&mockStatsService{t: t}, idempotency.NewMemoryGuard(time.Minute, nil)).
				ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", tt.body))
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestWebhookHandler_PayloadIDDefaultsToRecordID(t *testing.T) {
	t.Parallel()

	var gotID string
	service := &mockStatsService{
		t: t,
		applyLearningDeltaFunc: func(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error) {
			gotID = record.ID
			return okDelta(ctx, record, action, employeeName, teamName)
		},
	}
	body := webhookBody("create")
	body.Payload.ID = ""

	w := httptest.NewRecorder()
	newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil)).
		ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", body))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "rec-1", gotID)
}

func TestWebhookHandler_Secret(t *testing.T) {
	t.Parallel()

	service := &mockStatsService{t: t, applyLearningDeltaFunc: okDelta}
	router := newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil), WithWebhookSecret("s3cret"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, 0, service.deltaCallCount())

	req := newTestRequest("POST", "/webhooks/cms", webhookBody("create"))
	req.Header.Set(WebhookSecretHeader, "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandler_Queued(t *testing.T) {
	t.Parallel()

	jobQueue := &mockJobQueue{}
	router := newWebhookRouter(&mockStatsService{t: t}, idempotency.NewMemoryGuard(time.Minute, nil), WithWebhookJobQueue(jobQueue))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("unpublish")))
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decodeWebhookResponse(t, w)
	require.True(t, resp.Queued)
	require.Len(t, jobQueue.enqueued, 1)

	job := jobQueue.enqueued[0]
	require.Equal(t, resp.JobID, job.ID.String())
	require.Equal(t, queue.JobTypeLearningDelta, job.Type)
	require.Equal(t, models.ActionRemove, job.Action)
	require.Equal(t, SourceWebhook, job.Source)
	require.Equal(t, "Ada", job.EmployeeName)
}

func TestWebhookHandler_EnqueueFailureAppliesInline(t *testing.T) {
	t.Parallel()

	jobQueue := &mockJobQueue{
		enqueueFunc: func(context.Context, *queue.Job) error { return errors.New("channel closed") },
	}
	service := &mockStatsService{t: t, applyLearningDeltaFunc: okDelta}
	router := newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil), WithWebhookJobQueue(jobQueue))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeWebhookResponse(t, w).Applied)
	require.Equal(t, 1, service.deltaCallCount())
}

func TestWebhookHandler_EndToEnd(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()
	store := recordstore.NewMemoryStore()
	coordinator := cascade.NewCoordinator(
		repository.NewEmployeeRepository(store, logger),
		repository.NewTeamRepository(store, logger),
		repository.NewOrgRepository(store, logger),
		logger,
	)
	router := newWebhookRouter(coordinator, idempotency.NewMemoryGuard(time.Minute, nil))

	for _, event := range []string{"entry.create", "entry.create", "entry.publish"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody(event)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	employee, err := coordinator.GetEmployeeStats(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, employee)
	require.Equal(t, 1, employee.TotalCount)
	require.Equal(t, 60, employee.TotalMinutes)

	team, err := coordinator.GetTeamStats(context.Background(), "team-a")
	require.NoError(t, err)
	require.NotNil(t, team)
	require.Len(t, team.Leaderboard, 1)
	require.Equal(t, "Ada", team.Leaderboard[0].Name)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newTestRequest("POST", "/webhooks/cms", webhookBody("entry.delete")))
	require.Equal(t, http.StatusOK, w.Code)

	org, err := coordinator.GetOrgStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, org)
	require.Equal(t, 0, org.TotalCount)
	require.Equal(t, 0, org.TotalMinutes)
}

func TestWebhookHandler_FailedApplyAllowsRedelivery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		first func(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error)
	}{
		{
			name: "apply error",
			first: func(context.Context, *models.LearningRecord, models.Action, string, string) (*cascade.Result, error) {
				return nil, errors.New("store down")
			},
		},
		{
			name: "every level failed",
			first: func(context.Context, *models.LearningRecord, models.Action, string, string) (*cascade.Result, error) {
				return &cascade.Result{Errors: map[models.Level]error{
					models.LevelEmployee: repository.ErrRepositoryUnavailable,
					models.LevelTeam:     repository.ErrRepositoryUnavailable,
					models.LevelOrg:      repository.ErrRepositoryUnavailable,
				}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			service := &mockStatsService{
				t: t,
				applyLearningDeltaFunc: func(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error) {
					calls++
					if calls == 1 {
						return tt.first(ctx, record, action, employeeName, teamName)
					}
					return okDelta(ctx, record, action, employeeName, teamName)
				},
			}
			router := newWebhookRouter(service, idempotency.NewMemoryGuard(time.Minute, nil))

			first := httptest.NewRecorder()
			router.ServeHTTP(first, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
			require.Equal(t, http.StatusInternalServerError, first.Code)

			redelivery := httptest.NewRecorder()
			router.ServeHTTP(redelivery, newTestRequest("POST", "/webhooks/cms", webhookBody("create")))
			require.Equal(t, http.StatusOK, redelivery.Code)
			resp := decodeWebhookResponse(t, redelivery)
			require.False(t, resp.Duplicate)
			require.True(t, resp.Applied)
			require.Equal(t, 2, service.deltaCallCount())
		})
	}
}

func TestWebhookHandler_NotificationAfterSynchronousApplyIsDuplicate(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()
	store := recordstore.NewMemoryStore()
	coordinator := cascade.NewCoordinator(
		repository.NewEmployeeRepository(store, logger),
		repository.NewTeamRepository(store, logger),
		repository.NewOrgRepository(store, logger),
		logger,
	)
	guard := idempotency.NewMemoryGuard(time.Minute, nil)

	r := mux.NewRouter()
	NewDeltaHandler(coordinator, guard, logger).RegisterRoutes(r.PathPrefix("/api/v1/learning-deltas").Subrouter())
	NewWebhookHandler(coordinator, guard, logger).RegisterRoutes(r.PathPrefix("/webhooks").Subrouter())

	applied := httptest.NewRecorder()
	r.ServeHTTP(applied, newTestRequest("POST", "/api/v1/learning-deltas", DeltaRequest{Action: "add", Record: testRecord(), EmployeeName: "Ada"}))
	require.Equal(t, http.StatusOK, applied.Code, applied.Body.String())

	webhook := httptest.NewRecorder()
	r.ServeHTTP(webhook, newTestRequest("POST", "/webhooks/cms", webhookBody("entry.create")))
	require.Equal(t, http.StatusOK, webhook.Code)
	require.True(t, decodeWebhookResponse(t, webhook).Duplicate)

	coordinator.Wait()

	employee, err := coordinator.GetEmployeeStats(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, employee)
	require.Equal(t, 1, employee.TotalCount)
	require.Equal(t, 60, employee.TotalMinutes)

	org, err := coordinator.GetOrgStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, org)
	require.Equal(t, 1, org.TotalCount)
}
