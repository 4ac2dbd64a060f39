package core

import (
	"context"
	"fmt"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
)

type captureEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

type captureLogger struct {
	mu      *sync.Mutex
	entries *[]captureEntry
	fields  map[string]any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, entries: &[]captureEntry{}}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields := cloneFields(l.fields)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	*l.entries = append(*l.entries, captureEntry{Level: level, Message: msg, Fields: fields})
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) glog.Logger { return l }

func (l *captureLogger) WithFields(fields map[string]any) glog.Logger {
	merged := cloneFields(l.fields)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, entries: l.entries, fields: merged}
}

func (l *captureLogger) Entries() []captureEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]captureEntry(nil), (*l.entries)...)
}

func validRawConfig() map[string]any {
	return map[string]any{
		"auth": map[string]any{
			"token_endpoint": "http://keyrock.local/oauth2/token",
			"client_id":      "client",
			"client_secret":  "secret",
			"username":       "sync@example.org",
			"password":       "pw",
		},
		"broker": map[string]any{
			"base_url": "http://orion.local",
		},
		"source": map[string]any{
			"url": "http://source.local/lights",
		},
		"mapping": map[string]any{
			"entity_type": "Streetlight",
		},
	}
}

var (
	_ glog.Logger       = (*captureLogger)(nil)
	_ glog.FieldsLogger = (*captureLogger)(nil)
)
