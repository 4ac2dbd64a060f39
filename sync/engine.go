package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-fiware-sync/core"
)

var ErrTooManyFailures = errors.New("sync: too many consecutive failed cycles")

type Option func(*Engine)

func WithBatchPusher(pusher core.BatchPusher) Option {
	return func(e *Engine) {
		e.batch = pusher
	}
}

func WithCycleRecorder(recorder core.CycleReportRecorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

func WithSchedule(schedule Schedule) Option {
	return func(e *Engine) {
		if schedule != nil {
			e.schedule = schedule
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(e *Engine) {
		e.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.observer.Metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep replaces the wait between cycles.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// Engine runs FETCH, MAP, DIFF, PUSH and RECORD cycles one after another.
type Engine struct {
	source   core.SourceFetcher
	mapper   core.EntityMapper
	pusher   core.EntityPusher
	batch    core.BatchPusher
	states   core.SyncStateStore
	recorder core.CycleReportRecorder
	schedule Schedule

	workers        int
	batchMode      bool
	grace          time.Duration
	failureBackoff time.Duration
	maxFailures    int

	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	observer core.Observer
}

func NewEngine(
	cfg core.SyncConfig,
	source core.SourceFetcher,
	mapper core.EntityMapper,
	pusher core.EntityPusher,
	states core.SyncStateStore,
	opts ...Option,
) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("sync: source fetcher is required")
	}
	if mapper == nil {
		return nil, fmt.Errorf("sync: entity mapper is required")
	}
	if pusher == nil {
		return nil, fmt.Errorf("sync: entity pusher is required")
	}
	if states == nil {
		states = NewMemoryStateStore()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	engine := &Engine{
		source:         source,
		mapper:         mapper,
		pusher:         pusher,
		states:         states,
		workers:        workers,
		batchMode:      cfg.Batch,
		grace:          cfg.ShutdownGrace(),
		failureBackoff: cfg.FailureBackoff(),
		maxFailures:    cfg.MaxConsecutiveFailures,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          core.WaitWithContext,
		observer:       core.NewObserver(nil, nil),
	}
	if batch, ok := pusher.(core.BatchPusher); ok {
		engine.batch = batch
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	if engine.schedule == nil {
		schedule, err := NewSchedule(cfg)
		if err != nil {
			return nil, err
		}
		engine.schedule = schedule
	}
	if engine.batchMode && engine.batch == nil {
		return nil, fmt.Errorf("sync: batch mode requires a batch pusher")
	}
	return engine, nil
}

func (e *Engine) States() core.SyncStateStore {
	return e.states
}

// Run executes cycles until ctx is cancelled, which returns nil. It returns
// ErrTooManyFailures once the configured failure limit is reached.
func (e *Engine) Run(ctx context.Context) error {
	failures := 0
	for {
		startedAt := e.now()
		report, err := e.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil || !report.Succeeded() {
			failures++
			e.observer.Warn(ctx, "sync cycle failed", map[string]any{
				"cycle_id":             report.ID,
				"consecutive_failures": failures,
				"error":                errorText(err),
			})
			if e.maxFailures > 0 && failures >= e.maxFailures {
				return fmt.Errorf("%w: %d", ErrTooManyFailures, failures)
			}
		} else {
			failures = 0
		}

		delay := e.nextDelay(startedAt, failures)
		if err := e.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (e *Engine) nextDelay(startedAt time.Time, failures int) time.Duration {
	scheduled := e.schedule.Next(startedAt).Sub(e.now())
	if scheduled < 0 {
		scheduled = 0
	}
	if failures == 0 || e.failureBackoff <= 0 {
		return scheduled
	}
	backoff := e.failureBackoff * time.Duration(failures)
	if ceiling := scheduled + e.failureBackoff; backoff > ceiling {
		backoff = ceiling
	}
	return backoff
}

type pushResult struct {
	entity      core.Entity
	fingerprint string
	outcome     core.UpsertOutcome
	err         error
	abandoned   bool
	done        bool
}

// RunCycle runs a single cycle. A fetch error is returned alongside a report
// carrying FetchError; per entity failures are only reported.
func (e *Engine) RunCycle(ctx context.Context) (report core.CycleReport, err error) {
	report = core.CycleReport{ID: uuid.NewString(), StartedAt: e.now()}
	defer func() {
		report.FinishedAt = e.now()
		e.record(ctx, report)
	}()

	records, err := e.source.Fetch(ctx)
	if err != nil {
		report.FetchError = err.Error()
		return report, err
	}
	report.Fetched = len(records)

	pending := e.mapAndDiff(ctx, records, &report)
	if len(pending) == 0 {
		return report, nil
	}

	var results []pushResult
	if e.batchMode {
		results = e.pushBatch(ctx, pending)
	} else {
		results = e.pushEach(ctx, pending)
	}
	return report, e.collect(ctx, results, &report)
}

func (e *Engine) mapAndDiff(ctx context.Context, records []core.SourceRecord, report *core.CycleReport) []pushResult {
	seen := make(map[string]struct{}, len(records))
	pending := make([]pushResult, 0, len(records))
	for _, record := range records {
		entity, err := e.mapper.MapToEntity(record)
		if err == nil {
			if _, duplicate := seen[entity.ID]; duplicate {
				err = core.NewMappingError(
					fmt.Sprintf("sync: duplicate entity id %q in cycle", entity.ID), nil,
					map[string]any{"record_id": record.ID},
				)
			}
		}
		var fingerprint string
		if err == nil {
			fingerprint, err = Fingerprint(entity)
		}
		if err != nil {
			report.MappingFailed++
			report.Failures = append(report.Failures, core.EntityFailure{
				EntityID: firstNonEmpty(entity.ID, record.ID),
				Kind:     core.FailureKindMapping,
				Message:  err.Error(),
			})
			e.observer.Warn(ctx, "record mapping failed", map[string]any{
				"record_id": record.ID,
				"error":     err.Error(),
			})
			continue
		}
		seen[entity.ID] = struct{}{}
		report.Mapped++

		state, found, stateErr := e.states.Get(ctx, entity.ID)
		if stateErr != nil {
			e.observer.Warn(ctx, "sync state lookup failed", map[string]any{
				"entity_id": entity.ID,
				"error":     stateErr.Error(),
			})
		}
		if found && state.Fingerprint == fingerprint {
			report.Skipped++
			continue
		}
		pending = append(pending, pushResult{entity: entity, fingerprint: fingerprint})
	}
	return pending
}

// pushContext outlives ctx by the shutdown grace so in-flight requests can
// complete after cancellation.
func (e *Engine) pushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	pushCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-pushCtx.Done():
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(e.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-pushCtx.Done():
		}
	}()
	return pushCtx, cancel
}

func (e *Engine) pushEach(ctx context.Context, pending []pushResult) []pushResult {
	pushCtx, cancel := e.pushContext(ctx)
	defer cancel()

	var group errgroup.Group
	group.SetLimit(e.workers)
	for i := range pending {
		if ctx.Err() != nil {
			pending[i].abandoned = true
			continue
		}
		group.Go(func() error {
			if ctx.Err() != nil {
				pending[i].abandoned = true
				return nil
			}
			outcome, err := e.pusher.UpsertEntity(pushCtx, pending[i].entity)
			pending[i].outcome = outcome
			pending[i].err = err
			pending[i].done = true
			return nil
		})
	}
	_ = group.Wait()
	return pending
}

func (e *Engine) pushBatch(ctx context.Context, pending []pushResult) []pushResult {
	if ctx.Err() != nil {
		for i := range pending {
			pending[i].abandoned = true
		}
		return pending
	}
	pushCtx, cancel := e.pushContext(ctx)
	defer cancel()

	entities := make([]core.Entity, len(pending))
	index := make(map[string]int, len(pending))
	for i, item := range pending {
		entities[i] = item.entity
		index[item.entity.ID] = i
	}
	for _, chunk := range e.batch.BatchUpsert(pushCtx, entities) {
		for _, id := range chunk.EntityIDs {
			i, ok := index[id]
			if !ok {
				continue
			}
			pending[i].err = chunk.Err
			pending[i].done = true
		}
	}
	for i := range pending {
		if !pending[i].done {
			pending[i].abandoned = true
		}
	}
	return pending
}

// collect tallies push results and writes state for confirmed successes only.
func (e *Engine) collect(ctx context.Context, results []pushResult, report *core.CycleReport) error {
	stateCtx := context.WithoutCancel(ctx)
	var stateErrs []error
	for _, result := range results {
		switch {
		case result.abandoned:
			report.Abandoned++
			report.Failures = append(report.Failures, core.EntityFailure{
				EntityID: result.entity.ID,
				Kind:     core.FailureKindAbandoned,
				Message:  "push not started before shutdown",
			})
		case result.err != nil:
			report.Failed++
			report.Failures = append(report.Failures, core.EntityFailure{
				EntityID: result.entity.ID,
				Kind:     core.ErrorKind(result.err),
				Message:  result.err.Error(),
			})
		default:
			report.Pushed++
			switch result.outcome {
			case core.UpsertOutcomeCreated:
				report.Created++
			case core.UpsertOutcomeUpdated:
				report.Updated++
			}
			err := e.states.Put(stateCtx, core.SyncState{
				EntityID:     result.entity.ID,
				EntityType:   result.entity.Type,
				Fingerprint:  result.fingerprint,
				LastSyncedAt: e.now(),
			})
			if err != nil {
				stateErrs = append(stateErrs, err)
			}
		}
	}
	if len(stateErrs) > 0 {
		return core.NewInternalError("sync: write sync state", errors.Join(stateErrs...), map[string]any{
			"failed_writes": len(stateErrs),
		})
	}
	return nil
}

func (e *Engine) record(ctx context.Context, report core.CycleReport) {
	fields := report.Fields()
	tags := map[string]string{"status": "success"}
	if !report.Succeeded() {
		tags["status"] = "failure"
	}
	e.observer.Count(ctx, "sync.cycle.total", 1, tags)
	e.observer.Observe(ctx, "sync.cycle.duration_ms", float64(report.Duration().Milliseconds()), tags)
	e.observer.Count(ctx, "sync.entities.fetched", int64(report.Fetched), nil)
	e.observer.Count(ctx, "sync.entities.skipped", int64(report.Skipped), nil)
	e.observer.Count(ctx, "sync.entities.pushed", int64(report.Pushed), nil)
	e.observer.Count(ctx, "sync.entities.failed", int64(report.Failed), nil)
	e.observer.Count(ctx, "sync.entities.mapping_failed", int64(report.MappingFailed), nil)
	e.observer.Count(ctx, "sync.entities.abandoned", int64(report.Abandoned), nil)
	e.observer.Info(ctx, "sync cycle completed", fields)

	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordCycle(context.WithoutCancel(ctx), report); err != nil {
		e.observer.Warn(ctx, "cycle report not recorded", map[string]any{
			"cycle_id": report.ID,
			"error":    err.Error(),
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
