package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   Class
	}{
		{http.StatusCreated, "", ClassSuccess},
		{http.StatusNoContent, "", ClassSuccess},
		{http.StatusUnauthorized, "", ClassAuth},
		{http.StatusForbidden, "", ClassAuth},
		{http.StatusBadRequest, `{"error":"Invalid_Token"}`, ClassAuth},
		{http.StatusBadRequest, `{"error":"BadRequest"}`, ClassPermanent},
		{http.StatusUnprocessableEntity, `{"error":"Unprocessable","description":"Already Exists"}`, ClassPermanent},
		{http.StatusRequestTimeout, "", ClassTransient},
		{http.StatusTooManyRequests, "", ClassTransient},
		{http.StatusServiceUnavailable, "", ClassTransient},
		{http.StatusNotFound, "", ClassPermanent},
	}
	for _, tc := range cases {
		if got := Classify(tc.status, []byte(tc.body)); got != tc.want {
			t.Fatalf("status %d body %q: expected %s, got %s", tc.status, tc.body, tc.want, got)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	headers := http.Header{}
	headers.Set("Retry-After", "3")
	if got, ok := RetryAfter(headers, now); !ok || got != 3*time.Second {
		t.Fatalf("expected 3s, got %s ok=%v", got, ok)
	}
	headers.Set("Retry-After", now.Add(5*time.Second).Format(http.TimeFormat))
	if got, ok := RetryAfter(headers, now); !ok || got != 5*time.Second {
		t.Fatalf("expected 5s from http date, got %s ok=%v", got, ok)
	}
	headers.Set("Retry-After", "soon")
	if _, ok := RetryAfter(headers, now); ok {
		t.Fatalf("expected unparsable value to be ignored")
	}
	if _, ok := RetryAfter(nil, now); ok {
		t.Fatalf("expected nil headers to be ignored")
	}
}
