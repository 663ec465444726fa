package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// Backend bundles the stores selected by a configuration.
type Backend struct {
	Store  abac.PolicyStore
	Writer abac.PolicyWriter
	Loader abac.ResourceLoader
	// DB is set for the sqlite driver.
	DB      *squealx.DB
	closers []func() error
}

func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the configured store stack, wrapping it in a policy cache
// when the engine section enables one.
func Open(ctx context.Context, cfg *abac.Config) (*Backend, error) {
	b := &Backend{}
	switch cfg.Store.DriverName() {
	case abac.StoreMemory:
		mem := NewMemoryPolicyStore()
		b.Store, b.Writer, b.Loader = mem, mem, NewMemoryResourceLoader()
	case abac.StoreSQLite:
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// every connection to :memory: is its own database
		sqlDB.SetMaxOpenConns(1)
		b.closers = append(b.closers, sqlDB.Close)
		db := squealx.NewDb(sqlDB, "sqlite", "abac")
		if err := Migrate(db); err != nil {
			b.Close()
			return nil, err
		}
		if err := MigrateResources(db); err != nil {
			b.Close()
			return nil, err
		}
		ps := NewSQLPolicyStore(db)
		b.DB = db
		b.Store, b.Writer, b.Loader = ps, ps, NewSQLResourceLoader(db)
	case abac.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Store.RedisAddr, err)
		}
		rs := NewRedisPolicyStore(client, cfg.Store.RedisPrefix)
		b.Store, b.Writer, b.Loader = rs, rs, NewMemoryResourceLoader()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Engine.PolicyCache.Enabled {
		cached, err := NewCachedPolicyStoreFromConfig(b.Store, cfg.Engine.PolicyCache)
		if err != nil {
			b.Close()
			return nil, err
		}
		if c, ok := cached.(*CachedPolicyStore); ok {
			b.closers = append(b.closers, func() error { c.Close(); return nil })
			w := NewCachedPolicyWriter(c, b.Writer)
			b.Store, b.Writer = w, w
		}
	}
	return b, nil
}
