package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-fiware-sync/core"
)

type stubSyncStateStore struct {
	mu       sync.Mutex
	states   map[string]core.SyncState
	getCalls int
	putCalls int
	getErr   error
}

func newStubSyncStateStore() *stubSyncStateStore {
	return &stubSyncStateStore{states: map[string]core.SyncState{}}
}

func (s *stubSyncStateStore) Get(_ context.Context, entityID string) (core.SyncState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.SyncState{}, false, s.getErr
	}
	state, ok := s.states[entityID]
	return state, ok, nil
}

func (s *stubSyncStateStore) Put(_ context.Context, state core.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.states[state.EntityID] = state
	return nil
}

func (s *stubSyncStateStore) List(context.Context) ([]core.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SyncState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	return out, nil
}

func (s *stubSyncStateStore) Delete(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, entityID)
	return nil
}

func TestCachedSyncStateStore_Get_MissFetchThenHit(t *testing.T) {
	base := newStubSyncStateStore()
	base.states["light-1"] = core.SyncState{EntityID: "light-1", Fingerprint: "fp-1"}
	store, err := NewCachedSyncStateStore(base, newTestSyncStateCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	for i := 0; i < 2; i++ {
		state, found, err := store.Get(context.Background(), "light-1")
		if err != nil || !found || state.Fingerprint != "fp-1" {
			t.Fatalf("get %d: %+v %v %v", i, state, found, err)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be a cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedSyncStateStore_Put_InvalidatesCachedKey(t *testing.T) {
	base := newStubSyncStateStore()
	store, err := NewCachedSyncStateStore(base, newTestSyncStateCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if _, found, _ := store.Get(context.Background(), "light-1"); found {
		t.Fatalf("expected miss before put")
	}
	if err := store.Put(context.Background(), core.SyncState{EntityID: "light-1", Fingerprint: "fp-2", LastSyncedAt: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	state, found, err := store.Get(context.Background(), "light-1")
	if err != nil || !found || state.Fingerprint != "fp-2" {
		t.Fatalf("expected fresh state after invalidation, got %+v %v %v", state, found, err)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected invalidated key to force second base read, got %d", base.getCalls)
	}

	if err := store.Delete(context.Background(), "light-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.Get(context.Background(), "light-1"); found {
		t.Fatalf("expected delete to invalidate cache")
	}
}

func TestCachedSyncStateStore_PropagatesBaseErrors(t *testing.T) {
	base := newStubSyncStateStore()
	base.getErr = errors.New("db down")
	store, _ := NewCachedSyncStateStore(base, newTestSyncStateCacheService(t))
	if _, _, err := store.Get(context.Background(), "light-1"); err == nil {
		t.Fatalf("expected base error")
	}
	if _, err := SyncStateCacheKey("  "); err == nil {
		t.Fatalf("expected empty key error")
	}
	if key, _ := SyncStateCacheKey("urn:a b"); key != "fiware-sync::sync_state::v1::urn:a%20b" {
		t.Fatalf("unexpected cache key %q", key)
	}
}

func newTestSyncStateCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
