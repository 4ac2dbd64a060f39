package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
)

type LoadSyncStateQuery struct {
	states core.SyncStateStore
}

func NewLoadSyncStateQuery(states core.SyncStateStore) *LoadSyncStateQuery {
	return &LoadSyncStateQuery{states: states}
}

func (q *LoadSyncStateQuery) Query(ctx context.Context, msg LoadSyncStateMessage) (core.SyncState, error) {
	if q == nil || q.states == nil {
		return core.SyncState{}, queryDependencyError("query: sync state store is required")
	}
	if err := msg.Validate(); err != nil {
		return core.SyncState{}, err
	}
	entityID := strings.TrimSpace(msg.EntityID)
	state, found, err := q.states.Get(ctx, entityID)
	if err != nil {
		return core.SyncState{}, err
	}
	if !found {
		return core.SyncState{}, queryNotFoundError("query: sync state not found", map[string]any{
			"entity_id": entityID,
		})
	}
	return state, nil
}

type ListSyncStatesQuery struct {
	states core.SyncStateStore
}

func NewListSyncStatesQuery(states core.SyncStateStore) *ListSyncStatesQuery {
	return &ListSyncStatesQuery{states: states}
}

func (q *ListSyncStatesQuery) Query(ctx context.Context, msg ListSyncStatesMessage) ([]core.SyncState, error) {
	if q == nil || q.states == nil {
		return nil, queryDependencyError("query: sync state store is required")
	}
	states, err := q.states.List(ctx)
	if err != nil {
		return nil, err
	}
	entityType := strings.TrimSpace(msg.EntityType)
	if entityType == "" {
		return states, nil
	}
	filtered := make([]core.SyncState, 0, len(states))
	for _, state := range states {
		if state.EntityType == entityType {
			filtered = append(filtered, state)
		}
	}
	return filtered, nil
}

type GetCycleReportQuery struct {
	reports core.CycleReportReader
}

func NewGetCycleReportQuery(reports core.CycleReportReader) *GetCycleReportQuery {
	return &GetCycleReportQuery{reports: reports}
}

func (q *GetCycleReportQuery) Query(ctx context.Context, msg GetCycleReportMessage) (core.CycleReport, error) {
	if q == nil || q.reports == nil {
		return core.CycleReport{}, queryDependencyError("query: cycle report reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.CycleReport{}, err
	}
	return q.reports.GetCycle(ctx, strings.TrimSpace(msg.ID))
}

type ListCycleReportsQuery struct {
	reports core.CycleReportReader
}

func NewListCycleReportsQuery(reports core.CycleReportReader) *ListCycleReportsQuery {
	return &ListCycleReportsQuery{reports: reports}
}

func (q *ListCycleReportsQuery) Query(ctx context.Context, msg ListCycleReportsMessage) (core.CycleReportPage, error) {
	if q == nil || q.reports == nil {
		return core.CycleReportPage{}, queryDependencyError("query: cycle report reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.CycleReportPage{}, err
	}
	return q.reports.ListCycles(ctx, msg.Filter)
}
