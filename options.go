package fiwaresync

import (
	"context"
	"net/http"

	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-fiware-sync/core"
)

// SecretResolver expands secret references in a loaded config.
type SecretResolver interface {
	ResolveConfig(ctx context.Context, cfg core.Config) (core.Config, error)
}

type Option func(*App)

func WithLogger(logger core.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(a *App) {
		a.loggerProvider = provider
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(a *App) {
		if metrics != nil {
			a.metrics = metrics
		}
	}
}

// WithHTTPClient is used for the token endpoint, the broker and HTTP sources.
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) {
		a.httpClient = client
	}
}

func WithSource(source core.SourceFetcher) Option {
	return func(a *App) {
		a.source = source
	}
}

func WithStateStore(states core.SyncStateStore) Option {
	return func(a *App) {
		a.states = states
	}
}

// WithCycleRecorder also serves cycle report queries when recorder
// implements core.CycleReportReader.
func WithCycleRecorder(recorder core.CycleReportRecorder) Option {
	return func(a *App) {
		a.recorder = recorder
		if reader, ok := recorder.(core.CycleReportReader); ok {
			a.reports = reader
		}
	}
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(a *App) {
		if resolver != nil {
			a.resolver = resolver
		}
	}
}

// WithPersistenceClient reuses an open client instead of dialing store.dsn.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(a *App) {
		a.persistence = client
	}
}
