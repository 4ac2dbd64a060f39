package source

import (
	"context"
	"sync"

	"github.com/goliatone/go-fiware-sync/core"
)

type StaticSource struct {
	mu      sync.RWMutex
	records []core.SourceRecord
	err     error
}

func NewStaticSource(records ...core.SourceRecord) *StaticSource {
	s := &StaticSource{}
	s.Set(records...)
	return s
}

func (s *StaticSource) Set(records ...core.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]core.SourceRecord(nil), records...)
	s.err = nil
}

// Fail makes subsequent fetches return err until Set is called again.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Fetch(ctx context.Context) ([]core.SourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]core.SourceRecord, len(s.records))
	for i, record := range s.records {
		out[i] = core.SourceRecord{ID: record.ID, Attributes: copyAttributes(record.Attributes)}
	}
	return out, nil
}

func copyAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}
	return out
}

var _ core.SourceFetcher = (*StaticSource)(nil)
