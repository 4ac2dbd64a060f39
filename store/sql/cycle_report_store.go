package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fiware-sync/core"
)

type CycleReportStore struct {
	db   *bun.DB
	repo repository.Repository[*syncCycleRecord]
}

func NewCycleReportStore(db *bun.DB) (*CycleReportStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncCycleRecord](db, syncCycleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync cycle repository wiring: %w", err)
		}
	}
	return &CycleReportStore{db: db, repo: repo}, nil
}

func (s *CycleReportStore) RecordCycle(ctx context.Context, report core.CycleReport) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: cycle report store is not configured")
	}
	if strings.TrimSpace(report.ID) == "" {
		report.ID = uuid.NewString()
	}
	_, err := s.repo.Create(ctx, newSyncCycleRecord(report))
	return err
}

func (s *CycleReportStore) GetCycle(ctx context.Context, id string) (core.CycleReport, error) {
	if s == nil || s.repo == nil {
		return core.CycleReport{}, fmt.Errorf("sqlstore: cycle report store is not configured")
	}
	id = strings.TrimSpace(id)
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return core.CycleReport{}, core.NewNotFoundError("sqlstore: cycle report not found", map[string]any{"cycle_id": id})
		}
		return core.CycleReport{}, err
	}
	return record.toDomain(), nil
}

// ListCycles returns reports newest first.
func (s *CycleReportStore) ListCycles(ctx context.Context, filter core.CycleReportFilter) (core.CycleReportPage, error) {
	if s == nil || s.repo == nil {
		return core.CycleReportPage{}, fmt.Errorf("sqlstore: cycle report store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("started_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if filter.FailedOnly {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					Where("?TableAlias.failed > 0").
					WhereOr("?TableAlias.fetch_error <> ''")
			})
		}))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.CycleReportPage{}, err
	}
	items := make([]core.CycleReport, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.CycleReportPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

var (
	_ core.CycleReportRecorder = (*CycleReportStore)(nil)
	_ core.CycleReportReader   = (*CycleReportStore)(nil)
)
