package fiwaresync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	gosync "sync"

	gocmd "github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-fiware-sync/adapters/gologger"
	"github.com/goliatone/go-fiware-sync/auth"
	"github.com/goliatone/go-fiware-sync/broker"
	"github.com/goliatone/go-fiware-sync/command"
	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/mapping"
	"github.com/goliatone/go-fiware-sync/ratelimit"
	"github.com/goliatone/go-fiware-sync/security"
	"github.com/goliatone/go-fiware-sync/source"
	"github.com/goliatone/go-fiware-sync/sync"
	"github.com/goliatone/go-fiware-sync/transport"
)

type Config = core.Config

var (
	// ErrInitialAuth wraps the failure of the startup password grant.
	ErrInitialAuth = errors.New("fiwaresync: initial authentication failed")

	// ErrTooManyFailures is returned by Run when the consecutive failure
	// limit is reached.
	ErrTooManyFailures = sync.ErrTooManyFailures

	ErrNotStarted = errors.New("fiwaresync: app not started")
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig reads a YAML or JSON config file and applies runtime overrides
// on top of it. An empty path yields the defaults plus overrides.
func LoadConfig(ctx context.Context, path string, overrides map[string]any) (Config, error) {
	provider := core.NewCfgxConfigProvider(core.FileConfigLoader{Path: path}).WithRuntime(overrides)
	return provider.Load(ctx, core.DefaultConfig())
}

// App owns the wired sync pipeline: token manager, broker client, source,
// mapper, engine and stores.
type App struct {
	mu      gosync.Mutex
	cfg     Config
	started bool

	loggerProvider core.LoggerProvider
	logger         core.Logger
	zapProvider    *gologger.ZapProvider
	metrics        core.MetricsRecorder
	httpClient     *http.Client
	resolver       SecretResolver

	source   core.SourceFetcher
	states   core.SyncStateStore
	recorder core.CycleReportRecorder
	reports  core.CycleReportReader
	mapper   *mapping.Mapper

	persistence     *persistence.Client
	ownsPersistence bool

	tokens *auth.TokenManager
	broker *broker.Client
	engine *sync.Engine
	facade *Facade
}

// New validates cfg and compiles the mapping. Network and database work is
// deferred to Start.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fiwaresync: invalid config: %w", err)
	}
	app := &App{cfg: cfg, metrics: core.NopMetricsRecorder{}}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}

	if app.loggerProvider == nil && app.logger == nil {
		zapProvider, err := gologger.NewZapProvider(cfg.Log)
		if err != nil {
			return nil, err
		}
		app.zapProvider = zapProvider
		app.loggerProvider = zapProvider
	}
	app.loggerProvider, app.logger = gologger.Resolve(serviceName(cfg), app.loggerProvider, app.logger)

	if app.resolver == nil {
		app.resolver = security.NewRefResolver()
	}

	mapper, err := mapping.Compile(cfg.Mapping)
	if err != nil {
		return nil, err
	}
	app.mapper = mapper
	return app, nil
}

// Start resolves secret references, opens the stores, authenticates against
// the identity server and ensures the configured subscriptions. Errors from
// the initial authentication wrap ErrInitialAuth.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	cfg, err := a.resolver.ResolveConfig(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("fiwaresync: resolve secrets: %w", err)
	}
	if err := a.openStores(ctx, cfg); err != nil {
		return err
	}
	if a.source == nil {
		src, err := source.New(cfg.Source, a.doer())
		if err != nil {
			return err
		}
		a.source = src
	}

	grantOpts := []auth.OAuth2GrantOption{}
	if a.httpClient != nil {
		grantOpts = append(grantOpts, auth.WithHTTPClient(a.httpClient))
	}
	creds := cfg.Auth.Credentials()
	a.tokens = auth.NewTokenManager(creds,
		auth.NewOAuth2Grant(cfg.Auth.RequestTimeout(), grantOpts...),
		auth.WithExpiryMargin(cfg.Auth.ExpiryMargin()),
		auth.WithDefaultTTL(cfg.Auth.DefaultTTL()),
		auth.WithLogger(a.namedLogger("auth")),
		auth.WithMetrics(a.metrics),
	)

	brokerOpts := []broker.Option{
		broker.WithLogger(a.namedLogger("broker")),
		broker.WithMetrics(a.metrics),
		broker.WithRateLimiter(ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())),
	}
	if doer := a.doer(); doer != nil {
		brokerOpts = append(brokerOpts, broker.WithHTTPClient(doer))
	}
	brokerClient, err := broker.NewClient(cfg.Broker, a.tokens, brokerOpts...)
	if err != nil {
		return err
	}
	a.broker = brokerClient

	engine, err := sync.NewEngine(cfg.Sync, a.source, a.mapper, brokerClient, a.states,
		sync.WithCycleRecorder(a.recorder),
		sync.WithLogger(a.namedLogger("sync")),
		sync.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.engine = engine

	facade, err := NewFacade(FacadeDependencies{
		Cycles:        engine,
		Tokens:        a.tokens,
		Subscriptions: brokerClient,
		Entities:      brokerClient,
		States:        a.states,
		Reports:       a.reports,
	})
	if err != nil {
		return err
	}
	a.facade = facade

	if err := a.tokens.Authenticate(ctx, creds); err != nil {
		return fmt.Errorf("%w: %w", ErrInitialAuth, err)
	}
	a.logger.Info("authenticated against identity server", "token_endpoint", cfg.Auth.TokenEndpoint)

	for _, sub := range cfg.Broker.Subscriptions {
		result := gocmd.NewResult[command.EnsureSubscriptionResult]()
		if err := facade.Commands().EnsureSubscription.Execute(
			gocmd.ContextWithResult(ctx, result),
			command.EnsureSubscriptionMessage{Spec: broker.SpecFromConfig(sub)},
		); err != nil {
			return fmt.Errorf("fiwaresync: ensure subscription %q: %w", sub.Description, err)
		}
		if ensured, ok := result.Load(); ok {
			a.logger.Info("subscription ensured", "description", sub.Description, "subscription_id", ensured.ID, "created", ensured.Created)
		}
	}

	a.started = true
	return nil
}

// Run executes sync cycles until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	engine, err := a.startedEngine()
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

// RunOnce executes a single cycle through the run command.
func (a *App) RunOnce(ctx context.Context) (core.CycleReport, error) {
	if _, err := a.startedEngine(); err != nil {
		return core.CycleReport{}, err
	}
	result := gocmd.NewResult[core.CycleReport]()
	err := a.facade.Commands().RunSyncCycle.Execute(gocmd.ContextWithResult(ctx, result), command.RunSyncCycleMessage{})
	report, _ := result.Load()
	return report, err
}

// Facade returns the command and query handlers. It is nil before Start.
func (a *App) Facade() *Facade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.facade
}

// Queries returns read handlers over the configured stores without touching
// the identity server or the broker.
func (a *App) Queries(ctx context.Context) (Queries, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.facade != nil {
		return a.facade.Queries(), nil
	}
	if err := a.openStores(ctx, a.cfg); err != nil {
		return Queries{}, err
	}
	facade, err := NewFacade(FacadeDependencies{States: a.states, Reports: a.reports})
	if err != nil {
		return Queries{}, err
	}
	return facade.Queries(), nil
}

func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.persistence != nil && a.ownsPersistence {
		if err := a.persistence.Close(); err != nil {
			errs = append(errs, err)
		}
		a.persistence = nil
	}
	if a.zapProvider != nil {
		// stdout and stderr report EINVAL on sync for some terminals.
		_ = a.zapProvider.Sync()
	}
	a.started = false
	return errors.Join(errs...)
}

func (a *App) startedEngine() (*sync.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.engine == nil {
		return nil, ErrNotStarted
	}
	return a.engine, nil
}

func (a *App) namedLogger(name string) core.Logger {
	if a.loggerProvider == nil {
		return a.logger
	}
	return a.loggerProvider.GetLogger(serviceName(a.cfg) + "." + name)
}

// doer keeps a nil *http.Client from becoming a non-nil interface.
func (a *App) doer() transport.HTTPDoer {
	if a.httpClient == nil {
		return nil
	}
	return a.httpClient
}

func serviceName(cfg Config) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}
	return "fiware-sync"
}
