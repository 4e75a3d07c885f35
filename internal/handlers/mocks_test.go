package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/models"
)

// mockStatsService is a mock implementation of StatsService
type mockStatsService struct {
	t *testing.T

	applyLearningDeltaFunc func(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error)
	applyEmployeeFirstFunc func(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*models.EmployeeStats, error)
	applyEditFunc          func(ctx context.Context, previous, current *models.LearningRecord, employeeName, teamName string) (*cascade.EditResult, error)
	getEmployeeStatsFunc   func(ctx context.Context, employeeID string) (*models.EmployeeStats, error)
	getTeamStatsFunc       func(ctx context.Context, teamID string) (*models.TeamStats, error)
	getOrgStatsFunc        func(ctx context.Context) (*models.OrgStats, error)

	// Call tracking
	mu         sync.Mutex
	deltaCalls []models.Action
}

func (m *mockStatsService) ApplyLearningDelta(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*cascade.Result, error) {
	m.mu.Lock()
	m.deltaCalls = append(m.deltaCalls, action)
	m.mu.Unlock()
	if m.applyLearningDeltaFunc == nil {
		m.t.Fatal("ApplyLearningDelta called but not configured in test - mock requires explicit setup")
	}
	return m.applyLearningDeltaFunc(ctx, record, action, employeeName, teamName)
}

func (m *mockStatsService) ApplyEmployeeFirst(ctx context.Context, record *models.LearningRecord, action models.Action, employeeName, teamName string) (*models.EmployeeStats, error) {
	if m.applyEmployeeFirstFunc == nil {
		m.t.Fatal("ApplyEmployeeFirst called but not configured in test - mock requires explicit setup")
	}
	return m.applyEmployeeFirstFunc(ctx, record, action, employeeName, teamName)
}

func (m *mockStatsService) ApplyEdit(ctx context.Context, previous, current *models.LearningRecord, employeeName, teamName string) (*cascade.EditResult, error) {
	if m.applyEditFunc == nil {
		m.t.Fatal("ApplyEdit called but not configured in test - mock requires explicit setup")
	}
	return m.applyEditFunc(ctx, previous, current, employeeName, teamName)
}

func (m *mockStatsService) GetEmployeeStats(ctx context.Context, employeeID string) (*models.EmployeeStats, error) {
	if m.getEmployeeStatsFunc == nil {
		m.t.Fatal("GetEmployeeStats called but not configured in test - mock requires explicit setup")
	}
	return m.getEmployeeStatsFunc(ctx, employeeID)
}

func (m *mockStatsService) GetTeamStats(ctx context.Context, teamID string) (*models.TeamStats, error) {
	if m.getTeamStatsFunc == nil {
		m.t.Fatal("GetTeamStats called but not configured in test - mock requires explicit setup")
	}
	return m.getTeamStatsFunc(ctx, teamID)
}

func (m *mockStatsService) GetOrgStats(ctx context.Context) (*models.OrgStats, error) {
	if m.getOrgStatsFunc == nil {
		m.t.Fatal("GetOrgStats called but not configured in test - mock requires explicit setup")
	}
	return m.getOrgStatsFunc(ctx)
}

func (m *mockStatsService) deltaCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deltaCalls)
}
