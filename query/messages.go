package query

import (
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
)

const (
	TypeLoadSyncState     = "fiware_sync.query.sync_state.load"
	TypeListSyncStates    = "fiware_sync.query.sync_state.list"
	TypeGetCycleReport    = "fiware_sync.query.cycle.get"
	TypeListCycleReports  = "fiware_sync.query.cycle.list"
	maxCycleReportPerPage = 200
)

type LoadSyncStateMessage struct {
	EntityID string
}

func (LoadSyncStateMessage) Type() string { return TypeLoadSyncState }

func (m LoadSyncStateMessage) Validate() error {
	if strings.TrimSpace(m.EntityID) == "" {
		return queryValidationError("entity_id", "entity id is required")
	}
	return nil
}

type ListSyncStatesMessage struct {
	EntityType string
}

func (ListSyncStatesMessage) Type() string { return TypeListSyncStates }

func (ListSyncStatesMessage) Validate() error { return nil }

type GetCycleReportMessage struct {
	ID string
}

func (GetCycleReportMessage) Type() string { return TypeGetCycleReport }

func (m GetCycleReportMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "cycle id is required")
	}
	return nil
}

type ListCycleReportsMessage struct {
	Filter core.CycleReportFilter
}

func (ListCycleReportsMessage) Type() string { return TypeListCycleReports }

func (m ListCycleReportsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be positive")
	}
	if m.Filter.PerPage < 0 || m.Filter.PerPage > maxCycleReportPerPage {
		return queryValidationError("per_page", "per page must be between 1 and 200")
	}
	return nil
}
