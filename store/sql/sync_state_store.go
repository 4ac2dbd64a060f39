package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fiware-sync/core"
)

// SyncStateStore persists entity fingerprints so restarts do not re-push
// unchanged entities.
type SyncStateStore struct {
	db   *bun.DB
	repo repository.Repository[*syncStateRecord]
	now  func() time.Time
}

func NewSyncStateStore(db *bun.DB) (*SyncStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncStateRecord](db, syncStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync state repository wiring: %w", err)
		}
	}
	return &SyncStateStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SyncStateStore) Get(ctx context.Context, entityID string) (core.SyncState, bool, error) {
	if s == nil || s.repo == nil {
		return core.SyncState{}, false, fmt.Errorf("sqlstore: sync state store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("entity_id", "=", strings.TrimSpace(entityID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.SyncState{}, false, err
	}
	if len(records) == 0 {
		return core.SyncState{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *SyncStateStore) Put(ctx context.Context, state core.SyncState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync state store is not configured")
	}
	state.EntityID = strings.TrimSpace(state.EntityID)
	state.EntityType = strings.TrimSpace(state.EntityType)
	if state.EntityID == "" {
		return fmt.Errorf("sqlstore: entity id is required")
	}
	if state.Fingerprint == "" {
		return fmt.Errorf("sqlstore: fingerprint is required")
	}
	now := s.now()
	if state.LastSyncedAt.IsZero() {
		state.LastSyncedAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findSyncStateTx(ctx, tx, state.EntityID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &syncStateRecord{
				ID:           uuid.NewString(),
				EntityID:     state.EntityID,
				EntityType:   state.EntityType,
				Fingerprint:  state.Fingerprint,
				LastSyncedAt: state.LastSyncedAt.UTC(),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			_, insertErr := s.repo.CreateTx(ctx, tx, record)
			if insertErr == nil || !isUniqueViolation(insertErr) {
				return insertErr
			}
			record, err = findSyncStateTx(ctx, tx, state.EntityID)
			if err != nil {
				return err
			}
			if record == nil {
				return insertErr
			}
		}

		record.EntityType = state.EntityType
		record.Fingerprint = state.Fingerprint
		record.LastSyncedAt = state.LastSyncedAt.UTC()
		record.UpdatedAt = now
		_, err = tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
		return err
	})
}

func (s *SyncStateStore) List(ctx context.Context) ([]core.SyncState, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync state store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("entity_id ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncState, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncStateStore) Delete(ctx context.Context, entityID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync state store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*syncStateRecord)(nil)).
		Where("entity_id = ?", strings.TrimSpace(entityID)).
		Exec(ctx)
	return err
}

func findSyncStateTx(ctx context.Context, tx bun.Tx, entityID string) (*syncStateRecord, error) {
	record := &syncStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.entity_id = ?", entityID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
