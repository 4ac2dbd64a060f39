package sync

import (
	"context"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-fiware-sync/core"
)

// MemoryStateStore keeps fingerprints for the life of the process.
type MemoryStateStore struct {
	states *xsync.MapOf[string, core.SyncState]
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: xsync.NewMapOf[string, core.SyncState]()}
}

func (s *MemoryStateStore) Get(_ context.Context, entityID string) (core.SyncState, bool, error) {
	state, ok := s.states.Load(strings.TrimSpace(entityID))
	return state, ok, nil
}

func (s *MemoryStateStore) Put(_ context.Context, state core.SyncState) error {
	state.EntityID = strings.TrimSpace(state.EntityID)
	if state.EntityID == "" {
		return core.NewInternalError("sync: state entity id is required", nil)
	}
	s.states.Store(state.EntityID, state)
	return nil
}

func (s *MemoryStateStore) List(context.Context) ([]core.SyncState, error) {
	out := make([]core.SyncState, 0, s.states.Size())
	s.states.Range(func(_ string, state core.SyncState) bool {
		out = append(out, state)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, entityID string) error {
	s.states.Delete(strings.TrimSpace(entityID))
	return nil
}

var _ core.SyncStateStore = (*MemoryStateStore)(nil)
