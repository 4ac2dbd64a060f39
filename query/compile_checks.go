package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fiware-sync/core"
)

var (
	_ gocmd.Querier[LoadSyncStateMessage, core.SyncState]          = (*LoadSyncStateQuery)(nil)
	_ gocmd.Querier[ListSyncStatesMessage, []core.SyncState]       = (*ListSyncStatesQuery)(nil)
	_ gocmd.Querier[GetCycleReportMessage, core.CycleReport]       = (*GetCycleReportQuery)(nil)
	_ gocmd.Querier[ListCycleReportsMessage, core.CycleReportPage] = (*ListCycleReportsQuery)(nil)
)
