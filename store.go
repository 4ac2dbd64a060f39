package fiwaresync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/migrations"
	sqlstore "github.com/goliatone/go-fiware-sync/store/sql"
	"github.com/goliatone/go-fiware-sync/sync"
)

const (
	stateCacheTTL    = 15 * time.Minute
	storePingTimeout = 5 * time.Second
)

type persistenceConfig struct {
	store   core.StoreConfig
	service string
}

func (c persistenceConfig) GetDebug() bool                { return c.store.Debug }
func (c persistenceConfig) GetDriver() string             { return c.store.Driver }
func (c persistenceConfig) GetServer() string             { return c.store.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return storePingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return c.service }

// openStores fills in any state store or cycle recorder not supplied as an
// option. SQL drivers get migrated and the state store is fronted by a cache.
func (a *App) openStores(ctx context.Context, cfg core.Config) error {
	if a.states != nil && a.recorder != nil {
		if a.reports == nil {
			a.reports = sync.NewMemoryCycleReports(0)
		}
		return nil
	}

	if cfg.Store.Driver == core.StoreDriverMemory && a.persistence == nil {
		reports := sync.NewMemoryCycleReports(0)
		if a.states == nil {
			a.states = sync.NewMemoryStateStore()
		}
		if a.recorder == nil {
			a.recorder = reports
			a.reports = reports
		}
		if a.reports == nil {
			a.reports = reports
		}
		return nil
	}

	client := a.persistence
	if client == nil {
		opened, err := openPersistence(cfg)
		if err != nil {
			return err
		}
		client = opened
		a.persistence = client
		a.ownsPersistence = true
	}

	dialect := migrations.NormalizeDialect(cfg.Store.Driver)
	if err := migrations.Apply(ctx, client.DB().DB, dialect); err != nil {
		return fmt.Errorf("fiwaresync: migrate %s store: %w", dialect, err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	if a.states == nil {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = stateCacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fmt.Errorf("fiwaresync: sync state cache: %w", err)
		}
		cached, err := sqlstore.NewCachedSyncStateStore(factory.SyncStateStore(), cacheService)
		if err != nil {
			return err
		}
		a.states = cached
	}
	if a.recorder == nil {
		a.recorder = factory.CycleReportStore()
		a.reports = factory.CycleReportStore()
	}
	if a.reports == nil {
		a.reports = factory.CycleReportStore()
	}
	return nil
}

func openPersistence(cfg core.Config) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch migrations.NormalizeDialect(cfg.Store.Driver) {
	case migrations.DialectSQLite:
		dialect = sqlitedialect.New()
	case migrations.DialectPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("fiwaresync: unsupported store driver %q", cfg.Store.Driver)
	}

	sqlDB, err := sql.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("fiwaresync: open %s store: %w", cfg.Store.Driver, err)
	}
	if migrations.NormalizeDialect(cfg.Store.Driver) == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{store: cfg.Store, service: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("fiwaresync: persistence client: %w", err)
	}
	return client, nil
}
