package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/goliatone/go-fiware-sync/core"
)

const defaultReportHistory = 100

// MemoryCycleReports keeps the most recent cycle reports in process.
type MemoryCycleReports struct {
	mu      gosync.RWMutex
	limit   int
	reports []core.CycleReport
}

func NewMemoryCycleReports(limit int) *MemoryCycleReports {
	if limit <= 0 {
		limit = defaultReportHistory
	}
	return &MemoryCycleReports{limit: limit}
}

func (r *MemoryCycleReports) RecordCycle(_ context.Context, report core.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	if overflow := len(r.reports) - r.limit; overflow > 0 {
		r.reports = append([]core.CycleReport(nil), r.reports[overflow:]...)
	}
	return nil
}

func (r *MemoryCycleReports) GetCycle(_ context.Context, id string) (core.CycleReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.reports) - 1; i >= 0; i-- {
		if r.reports[i].ID == id {
			return r.reports[i], nil
		}
	}
	return core.CycleReport{}, core.NewNotFoundError(fmt.Sprintf("sync: cycle %q not found", id))
}

// ListCycles returns reports newest first.
func (r *MemoryCycleReports) ListCycles(_ context.Context, filter core.CycleReportFilter) (core.CycleReportPage, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}

	r.mu.RLock()
	matching := make([]core.CycleReport, 0, len(r.reports))
	for i := len(r.reports) - 1; i >= 0; i-- {
		report := r.reports[i]
		if filter.FailedOnly && report.Failed == 0 && report.FetchError == "" {
			continue
		}
		matching = append(matching, report)
	}
	r.mu.RUnlock()

	out := core.CycleReportPage{Page: page, PerPage: perPage, Total: len(matching)}
	start := (page - 1) * perPage
	if start >= len(matching) {
		out.Items = []core.CycleReport{}
		return out, nil
	}
	end := min(start+perPage, len(matching))
	out.Items = matching[start:end]
	out.HasNext = end < len(matching)
	return out, nil
}

var (
	_ core.CycleReportRecorder = (*MemoryCycleReports)(nil)
	_ core.CycleReportReader   = (*MemoryCycleReports)(nil)
)
