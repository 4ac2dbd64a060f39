package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-fiware-sync/core"
)

type syncStateRecord struct {
	bun.BaseModel `bun:"table:fiware_sync_states,alias:fss"`

	ID           string    `bun:"id,pk"`
	EntityID     string    `bun:"entity_id,notnull"`
	EntityType   string    `bun:"entity_type,notnull"`
	Fingerprint  string    `bun:"fingerprint,notnull"`
	LastSyncedAt time.Time `bun:"last_synced_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *syncStateRecord) toDomain() core.SyncState {
	if r == nil {
		return core.SyncState{}
	}
	return core.SyncState{
		EntityID:     r.EntityID,
		EntityType:   r.EntityType,
		Fingerprint:  r.Fingerprint,
		LastSyncedAt: r.LastSyncedAt.UTC(),
	}
}

type syncCycleRecord struct {
	bun.BaseModel `bun:"table:fiware_sync_cycles,alias:fsc"`

	ID            string               `bun:"id,pk"`
	StartedAt     time.Time            `bun:"started_at,notnull"`
	FinishedAt    time.Time            `bun:"finished_at,notnull"`
	Fetched       int                  `bun:"fetched,notnull"`
	Mapped        int                  `bun:"mapped,notnull"`
	Skipped       int                  `bun:"skipped,notnull"`
	Pushed        int                  `bun:"pushed,notnull"`
	Created       int                  `bun:"created,notnull"`
	Updated       int                  `bun:"updated,notnull"`
	Failed        int                  `bun:"failed,notnull"`
	MappingFailed int                  `bun:"mapping_failed,notnull"`
	Abandoned     int                  `bun:"abandoned,notnull"`
	FetchError    string               `bun:"fetch_error,notnull"`
	Failures      []core.EntityFailure `bun:"failures,type:jsonb,notnull"`
	CreatedAt     time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newSyncCycleRecord(report core.CycleReport) *syncCycleRecord {
	failures := append([]core.EntityFailure{}, report.Failures...)
	return &syncCycleRecord{
		ID:            report.ID,
		StartedAt:     report.StartedAt.UTC(),
		FinishedAt:    report.FinishedAt.UTC(),
		Fetched:       report.Fetched,
		Mapped:        report.Mapped,
		Skipped:       report.Skipped,
		Pushed:        report.Pushed,
		Created:       report.Created,
		Updated:       report.Updated,
		Failed:        report.Failed,
		MappingFailed: report.MappingFailed,
		Abandoned:     report.Abandoned,
		FetchError:    report.FetchError,
		Failures:      failures,
	}
}

func (r *syncCycleRecord) toDomain() core.CycleReport {
	if r == nil {
		return core.CycleReport{}
	}
	return core.CycleReport{
		ID:            r.ID,
		StartedAt:     r.StartedAt.UTC(),
		FinishedAt:    r.FinishedAt.UTC(),
		Fetched:       r.Fetched,
		Mapped:        r.Mapped,
		Skipped:       r.Skipped,
		Pushed:        r.Pushed,
		Created:       r.Created,
		Updated:       r.Updated,
		Failed:        r.Failed,
		MappingFailed: r.MappingFailed,
		Abandoned:     r.Abandoned,
		FetchError:    r.FetchError,
		Failures:      append([]core.EntityFailure(nil), r.Failures...),
	}
}
