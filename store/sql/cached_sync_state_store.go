package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-fiware-sync/core"
)

const syncStateCacheKeyPrefix = "fiware-sync::sync_state::v1"

type cachedSyncState struct {
	State core.SyncState
	Found bool
}

// CachedSyncStateStore serves DIFF lookups from cache and invalidates the
// entity key on every write.
type CachedSyncStateStore struct {
	base  core.SyncStateStore
	cache repositorycache.CacheService
}

func NewCachedSyncStateStore(
	base core.SyncStateStore,
	cacheService repositorycache.CacheService,
) (*CachedSyncStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base sync state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: sync state cache service is required")
	}
	return &CachedSyncStateStore{base: base, cache: cacheService}, nil
}

// SyncStateCacheKey returns fiware-sync::sync_state::v1::<entity_id> with the
// id URL-path escaped.
func SyncStateCacheKey(entityID string) (string, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return "", fmt.Errorf("sqlstore: entity id is required")
	}
	return syncStateCacheKeyPrefix + "::" + url.PathEscape(entityID), nil
}

func (s *CachedSyncStateStore) Get(ctx context.Context, entityID string) (core.SyncState, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncState{}, false, fmt.Errorf("sqlstore: cached sync state store is not configured")
	}
	cacheKey, err := SyncStateCacheKey(entityID)
	if err != nil {
		return core.SyncState{}, false, err
	}
	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedSyncState, error) {
		state, found, fetchErr := s.base.Get(ctx, entityID)
		if fetchErr != nil {
			return cachedSyncState{}, fetchErr
		}
		return cachedSyncState{State: state, Found: found}, nil
	})
	if err != nil {
		return core.SyncState{}, false, err
	}
	return cached.State, cached.Found, nil
}

func (s *CachedSyncStateStore) Put(ctx context.Context, state core.SyncState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached sync state store is not configured")
	}
	cacheKey, err := SyncStateCacheKey(state.EntityID)
	if err != nil {
		return err
	}
	if err := s.base.Put(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedSyncStateStore) List(ctx context.Context) ([]core.SyncState, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached sync state store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedSyncStateStore) Delete(ctx context.Context, entityID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached sync state store is not configured")
	}
	cacheKey, err := SyncStateCacheKey(entityID)
	if err != nil {
		return err
	}
	if err := s.base.Delete(ctx, entityID); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var (
	_ core.SyncStateStore = (*SyncStateStore)(nil)
	_ core.SyncStateStore = (*CachedSyncStateStore)(nil)
)
