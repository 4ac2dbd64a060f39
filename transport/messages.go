package transport

import (
	"net/http"
	"strings"
	"time"
)

type Request struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

func (r Response) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return strings.TrimSpace(r.Headers.Get(name))
}

func (r Response) Class() Class {
	return Classify(r.StatusCode, r.Body)
}
