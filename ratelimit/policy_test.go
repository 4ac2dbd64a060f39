package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/transport"
)

const orionBucket = "http://orion:1026|smartcity"

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	if err := policy.BeforeCall(context.Background(), orionBucket); err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_RetryAfterThrottlesBucket(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	headers := http.Header{}
	headers.Set("Retry-After", "7")
	if err := policy.AfterCall(context.Background(), orionBucket, transport.Response{StatusCode: http.StatusTooManyRequests, Headers: headers}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	err := policy.BeforeCall(context.Background(), "HTTP://ORION:1026|SMARTCITY")
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if throttled.RetryAfter != 7*time.Second {
		t.Fatalf("expected 7s retry after, got %s", throttled.RetryAfter)
	}

	now = now.Add(8 * time.Second)
	if err := policy.BeforeCall(context.Background(), orionBucket); err != nil {
		t.Fatalf("expected throttle to expire, got %v", err)
	}
}

func TestAdaptivePolicy_ExhaustedQuotaWaitsForReset(t *testing.T) {
	policy := NewAdaptivePolicy(nil)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", "100")
	headers.Set("X-RateLimit-Remaining", "0")
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))
	if err := policy.AfterCall(context.Background(), orionBucket, transport.Response{StatusCode: http.StatusNoContent, Headers: headers}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, err := policy.Store.Get(context.Background(), orionBucket)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 100 || state.Remaining != 0 || state.ThrottledUntil == nil {
		t.Fatalf("unexpected state %+v", state)
	}
	if err := policy.BeforeCall(context.Background(), orionBucket); err == nil {
		t.Fatalf("expected exhausted quota to throttle")
	}
}

func TestAdaptivePolicy_BackoffGrowsWithoutRetryAfterAndResets(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = policy.AfterCall(ctx, orionBucket, transport.Response{StatusCode: http.StatusTooManyRequests})
	}
	state, _ := policy.Store.Get(ctx, orionBucket)
	if state.Attempts != 2 || state.ThrottledUntil.Sub(now) != 2*time.Second {
		t.Fatalf("expected second backoff of 2s, got %+v", state)
	}

	_ = policy.AfterCall(ctx, orionBucket, transport.Response{StatusCode: http.StatusCreated})
	state, _ = policy.Store.Get(ctx, orionBucket)
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected success to clear throttle, got %+v", state)
	}

	_ = policy.AfterCall(ctx, orionBucket, transport.Response{StatusCode: http.StatusServiceUnavailable})
	if err := policy.BeforeCall(ctx, orionBucket); err != nil {
		t.Fatalf("expected 503 to leave the bucket open, got %v", err)
	}
}

func TestThrottledError_ToSyncError(t *testing.T) {
	mapped := ThrottledError{Key: orionBucket, RetryAfter: 3 * time.Second}.ToSyncError()
	if !core.IsTransientError(mapped) {
		t.Fatalf("expected transient text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests || mapped.Category != goerrors.CategoryRateLimit {
		t.Fatalf("unexpected mapped error %+v", mapped)
	}
}
