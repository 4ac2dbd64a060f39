package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	// ForceRefresh is called after the broker rejected the given token.
	ForceRefresh(ctx context.Context, rejected string) (string, error)
}

type SourceFetcher interface {
	Fetch(ctx context.Context) ([]SourceRecord, error)
}

type EntityMapper interface {
	MapToEntity(record SourceRecord) (Entity, error)
}

type EntityPusher interface {
	UpsertEntity(ctx context.Context, entity Entity) (UpsertOutcome, error)
}

type BatchResult struct {
	EntityIDs []string
	Err       error
}

type BatchPusher interface {
	BatchUpsert(ctx context.Context, entities []Entity) []BatchResult
}

type SyncStateStore interface {
	Get(ctx context.Context, entityID string) (SyncState, bool, error)
	Put(ctx context.Context, state SyncState) error
	List(ctx context.Context) ([]SyncState, error)
	Delete(ctx context.Context, entityID string) error
}

type CycleReportRecorder interface {
	RecordCycle(ctx context.Context, report CycleReport) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type CycleReportFilter struct {
	Page       int
	PerPage    int
	FailedOnly bool
}

type CycleReportPage struct {
	Items   []CycleReport
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type CycleReportReader interface {
	GetCycle(ctx context.Context, id string) (CycleReport, error)
	ListCycles(ctx context.Context, filter CycleReportFilter) (CycleReportPage, error)
}
