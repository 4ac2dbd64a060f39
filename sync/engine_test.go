package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/mapping"
	"github.com/goliatone/go-fiware-sync/source"
)

type fakePusher struct {
	mu      gosync.Mutex
	calls   []core.Entity
	errs    map[string][]error
	started chan string
	release chan struct{}
	known   map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{errs: map[string][]error{}, known: map[string]bool{}}
}

func (p *fakePusher) failNext(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[id] = append(p.errs[id], err)
}

func (p *fakePusher) UpsertEntity(ctx context.Context, entity core.Entity) (core.UpsertOutcome, error) {
	if p.started != nil {
		p.started <- entity.ID
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, entity)
	if queued := p.errs[entity.ID]; len(queued) > 0 {
		p.errs[entity.ID] = queued[1:]
		return "", queued[0]
	}
	if p.known[entity.ID] {
		return core.UpsertOutcomeUpdated, nil
	}
	p.known[entity.ID] = true
	return core.UpsertOutcomeCreated, nil
}

func (p *fakePusher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type memoryRecorder struct {
	mu      gosync.Mutex
	reports []core.CycleReport
}

func (r *memoryRecorder) RecordCycle(_ context.Context, report core.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func testSyncConfig() core.SyncConfig {
	return core.SyncConfig{
		IntervalSeconds:       300,
		Workers:               4,
		ShutdownGraceSeconds:  5,
		FailureBackoffSeconds: 60,
	}
}

func newTestEngine(t *testing.T, cfg core.SyncConfig, src core.SourceFetcher, pusher core.EntityPusher, opts ...Option) *Engine {
	t.Helper()
	mapper, err := mapping.Compile(core.MappingConfig{EntityType: "StreetLight"})
	if err != nil {
		t.Fatalf("compile mapper: %v", err)
	}
	engine, err := NewEngine(cfg, src, mapper, pusher, NewMemoryStateStore(), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func light(id string, status string) core.SourceRecord {
	return core.SourceRecord{
		ID: id,
		Attributes: map[string]any{
			"id":     id,
			"coords": []any{61.5, 23.8},
			"status": status,
		},
	}
}

func TestEngine_PushesThenSkipsUnchangedEntity(t *testing.T) {
	src := source.NewStaticSource(light("light-1", "on"))
	pusher := newFakePusher()
	recorder := &memoryRecorder{}
	engine := newTestEngine(t, testSyncConfig(), src, pusher, WithCycleRecorder(recorder))

	first, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.Fetched != 1 || first.Pushed != 1 || first.Created != 1 {
		t.Fatalf("unexpected first report %+v", first)
	}
	pushed := pusher.calls[0]
	if pushed.Type != "StreetLight" || pushed.Attributes["coords"].Type != "StructuredValue" {
		t.Fatalf("unexpected pushed entity %+v", pushed)
	}
	state, found, _ := engine.States().Get(context.Background(), "light-1")
	if !found || state.Fingerprint == "" || state.EntityType != "StreetLight" {
		t.Fatalf("expected state after push, got %+v", state)
	}

	second, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if second.Skipped != 1 || second.Pushed != 0 {
		t.Fatalf("expected unchanged entity to be skipped, got %+v", second)
	}
	if pusher.callCount() != 1 {
		t.Fatalf("expected no network call for unchanged entity, got %d", pusher.callCount())
	}

	src.Set(light("light-1", "off"))
	third, _ := engine.RunCycle(context.Background())
	if third.Pushed != 1 || third.Updated != 1 {
		t.Fatalf("expected changed entity to be updated, got %+v", third)
	}
	if len(recorder.reports) != 3 {
		t.Fatalf("expected 3 recorded cycles, got %d", len(recorder.reports))
	}
}

func TestEngine_FailedPushKeepsPriorState(t *testing.T) {
	src := source.NewStaticSource(light("light-1", "on"))
	pusher := newFakePusher()
	pusher.failNext("light-1", core.NewTransientError("broker unavailable", nil, map[string]any{"status_code": 503}))
	engine := newTestEngine(t, testSyncConfig(), src, pusher)

	report, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Failed != 1 || report.Failures[0].Kind != core.FailureKindTransient {
		t.Fatalf("expected transient failure, got %+v", report)
	}
	if _, found, _ := engine.States().Get(context.Background(), "light-1"); found {
		t.Fatalf("expected no state after failed push")
	}

	report, _ = engine.RunCycle(context.Background())
	if report.Pushed != 1 {
		t.Fatalf("expected retry on next cycle, got %+v", report)
	}
}

func TestEngine_MappingFailuresAreIsolated(t *testing.T) {
	src := source.NewStaticSource(
		light("light-1", "on"),
		core.SourceRecord{Attributes: map[string]any{"status": "on"}},
		light("light-1", "off"),
		light("light-2", "on"),
	)
	pusher := newFakePusher()
	engine := newTestEngine(t, testSyncConfig(), src, pusher)

	report, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Fetched != 4 || report.Mapped != 2 || report.MappingFailed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Pushed != 2 {
		t.Fatalf("expected both valid entities pushed, got %+v", report)
	}
	for _, failure := range report.Failures {
		if failure.Kind != core.FailureKindMapping {
			t.Fatalf("expected mapping failures only, got %+v", failure)
		}
	}
}

func TestEngine_FetchErrorLeavesStateUntouched(t *testing.T) {
	src := source.NewStaticSource(light("light-1", "on"))
	pusher := newFakePusher()
	recorder := &memoryRecorder{}
	engine := newTestEngine(t, testSyncConfig(), src, pusher, WithCycleRecorder(recorder))
	if _, err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}

	boom := errors.New("source offline")
	src.Fail(boom)
	report, err := engine.RunCycle(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if report.FetchError == "" || report.Succeeded() {
		t.Fatalf("expected failed report, got %+v", report)
	}
	states, _ := engine.States().List(context.Background())
	if len(states) != 1 {
		t.Fatalf("expected state untouched, got %+v", states)
	}
	if len(recorder.reports) != 2 || recorder.reports[1].FetchError == "" {
		t.Fatalf("expected failed cycle recorded")
	}
}

func TestEngine_BoundedPoolLimitsConcurrency(t *testing.T) {
	records := make([]core.SourceRecord, 0, 12)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		records = append(records, light(id, "on"))
	}
	pusher := &concurrencyPusher{}
	cfg := testSyncConfig()
	cfg.Workers = 3
	engine := newTestEngine(t, cfg, source.NewStaticSource(records...), pusher)

	report, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Pushed != 12 {
		t.Fatalf("expected 12 pushes, got %+v", report)
	}
	if peak := pusher.maxActive(); peak > 3 || peak < 1 {
		t.Fatalf("expected at most 3 concurrent pushes, got %d", peak)
	}
}

type concurrencyPusher struct {
	mu     gosync.Mutex
	active int
	peak   int
}

func (p *concurrencyPusher) UpsertEntity(context.Context, core.Entity) (core.UpsertOutcome, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return core.UpsertOutcomeCreated, nil
}

func (p *concurrencyPusher) maxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func TestEngine_ShutdownAbandonsPendingPushes(t *testing.T) {
	pusher := newFakePusher()
	pusher.started = make(chan string, 3)
	pusher.release = make(chan struct{})
	cfg := testSyncConfig()
	cfg.Workers = 1
	engine := newTestEngine(t, cfg, source.NewStaticSource(
		light("light-1", "on"), light("light-2", "on"), light("light-3", "on"),
	), pusher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan core.CycleReport, 1)
	go func() {
		report, _ := engine.RunCycle(ctx)
		done <- report
	}()

	<-pusher.started
	cancel()
	close(pusher.release)

	var report core.CycleReport
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle did not finish after shutdown")
	}
	if report.Pushed != 1 || report.Abandoned != 2 {
		t.Fatalf("expected 1 pushed and 2 abandoned, got %+v", report)
	}
	states, _ := engine.States().List(context.Background())
	if len(states) != 1 {
		t.Fatalf("expected state only for confirmed push, got %+v", states)
	}
}

func TestEngine_ShutdownGraceCancelsInFlightPush(t *testing.T) {
	pusher := newFakePusher()
	pusher.started = make(chan string, 1)
	pusher.release = make(chan struct{})
	cfg := testSyncConfig()
	cfg.ShutdownGraceSeconds = 0
	engine := newTestEngine(t, cfg, source.NewStaticSource(light("light-1", "on")), pusher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan core.CycleReport, 1)
	go func() {
		report, _ := engine.RunCycle(ctx)
		done <- report
	}()
	<-pusher.started
	cancel()

	select {
	case report := <-done:
		if report.Failed != 1 || report.Pushed != 0 {
			t.Fatalf("expected in-flight push to fail after grace, got %+v", report)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight push was not cancelled after grace")
	}
}

type fakeBatchPusher struct {
	*fakePusher
	mu      gosync.Mutex
	batches [][]string
	failIDs map[string]bool
}

func (p *fakeBatchPusher) BatchUpsert(_ context.Context, entities []core.Entity) []core.BatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ok, failed []string
	for _, entity := range entities {
		if p.failIDs[entity.ID] {
			failed = append(failed, entity.ID)
			continue
		}
		ok = append(ok, entity.ID)
	}
	p.batches = append(p.batches, append(append([]string(nil), ok...), failed...))
	results := []core.BatchResult{{EntityIDs: ok}}
	if len(failed) > 0 {
		results = append(results, core.BatchResult{
			EntityIDs: failed,
			Err:       core.NewPermanentError("chunk rejected", nil, map[string]any{"status_code": 400}),
		})
	}
	return results
}

func TestEngine_BatchModeFailsPerChunk(t *testing.T) {
	pusher := &fakeBatchPusher{fakePusher: newFakePusher(), failIDs: map[string]bool{"light-3": true}}
	cfg := testSyncConfig()
	cfg.Batch = true
	engine := newTestEngine(t, cfg, source.NewStaticSource(
		light("light-1", "on"), light("light-2", "on"), light("light-3", "on"),
	), pusher)

	report, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Pushed != 2 || report.Failed != 1 {
		t.Fatalf("unexpected batch report %+v", report)
	}
	if report.Failures[0].EntityID != "light-3" || report.Failures[0].Kind != core.FailureKindPermanent {
		t.Fatalf("unexpected failure %+v", report.Failures[0])
	}
	if pusher.callCount() != 0 {
		t.Fatalf("expected no single upserts in batch mode")
	}
	if _, found, _ := engine.States().Get(context.Background(), "light-3"); found {
		t.Fatalf("expected no state for failed chunk")
	}
}

func TestNewEngine_BatchModeRequiresBatchPusher(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Batch = true
	mapper, _ := mapping.Compile(core.MappingConfig{EntityType: "StreetLight"})
	if _, err := NewEngine(cfg, source.NewStaticSource(), mapper, newFakePusher(), nil); err == nil {
		t.Fatalf("expected batch pusher requirement")
	}
}

type sleepRecorder struct {
	mu     gosync.Mutex
	delays []time.Duration
	after  int
	cancel context.CancelFunc
}

func (s *sleepRecorder) sleep(ctx context.Context, delay time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, delay)
	stop := s.after > 0 && len(s.delays) >= s.after
	s.mu.Unlock()
	if stop && s.cancel != nil {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

func TestEngine_RunSleepsUntilNextScheduledCycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &sleepRecorder{after: 2, cancel: cancel}
	pusher := newFakePusher()
	engine := newTestEngine(t, testSyncConfig(), source.NewStaticSource(light("light-1", "on")), pusher,
		WithClock(func() time.Time { return now }),
		WithSleep(sleeper.sleep),
	)

	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 300*time.Second {
		t.Fatalf("unexpected delays %v", sleeper.delays)
	}
	if pusher.callCount() != 1 {
		t.Fatalf("expected second cycle to skip unchanged entity, got %d pushes", pusher.callCount())
	}
}

func TestEngine_RunStopsAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := source.NewStaticSource()
	src.Fail(errors.New("source offline"))
	sleeper := &sleepRecorder{}
	cfg := testSyncConfig()
	cfg.MaxConsecutiveFailures = 3
	engine := newTestEngine(t, cfg, src, newFakePusher(),
		WithClock(func() time.Time { return now }),
		WithSleep(sleeper.sleep),
	)

	err := engine.Run(context.Background())
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 60*time.Second || sleeper.delays[1] != 120*time.Second {
		t.Fatalf("unexpected failure backoff %v", sleeper.delays)
	}
}

func TestEngine_FailureBackoffIsCapped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, testSyncConfig(), source.NewStaticSource(), newFakePusher(),
		WithClock(func() time.Time { return now }),
	)
	if delay := engine.nextDelay(now, 0); delay != 300*time.Second {
		t.Fatalf("expected scheduled delay, got %v", delay)
	}
	if delay := engine.nextDelay(now, 10); delay != 360*time.Second {
		t.Fatalf("expected capped backoff, got %v", delay)
	}
}

func TestEngine_AuthFailuresFailTheCycle(t *testing.T) {
	pusher := newFakePusher()
	pusher.failNext("light-1", core.NewAuthError("token rejected", nil, map[string]any{"status_code": 401}))
	engine := newTestEngine(t, testSyncConfig(), source.NewStaticSource(light("light-1", "on")), pusher)

	report, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Succeeded() {
		t.Fatalf("expected auth-only cycle to count as failed, got %+v", report)
	}
}
