package transport

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class groups HTTP outcomes by how a caller should react to them.
type Class int

const (
	ClassSuccess Class = iota
	ClassAuth
	ClassTransient
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassAuth:
		return "auth"
	case ClassTransient:
		return "transient"
	default:
		return "permanent"
	}
}

var tokenErrorMarkers = [][]byte{
	[]byte("invalid_token"),
	[]byte("unauthorized_request"),
	[]byte("invalid_grant"),
}

func Classify(status int, body []byte) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400 && IsTokenError(body):
		return ClassAuth
	default:
		return ClassPermanent
	}
}

// IsTokenError reports whether a response body names a rejected or expired token.
func IsTokenError(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lowered := bytes.ToLower(body)
	for _, marker := range tokenErrorMarkers {
		if bytes.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		if delay := at.Sub(now); delay > 0 {
			return delay, true
		}
		return 0, true
	}
	return 0, false
}

// Snippet trims a response body for logs and error metadata.
func Snippet(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
