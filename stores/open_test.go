package stores

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oarkflow/abac"
)

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, &abac.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if _, ok := b.Store.(*MemoryPolicyStore); !ok {
		t.Fatalf("expected memory store, got %T", b.Store)
	}
	if _, ok := b.Loader.(*MemoryResourceLoader); !ok {
		t.Fatalf("expected memory loader, got %T", b.Loader)
	}
	if b.DB != nil {
		t.Fatalf("memory backend has no DB")
	}
}

func TestOpenSQLiteWithCache(t *testing.T) {
	ctx := context.Background()
	cfg := &abac.Config{
		Store: abac.StoreConfig{Driver: abac.StoreSQLite, DSN: filepath.Join(t.TempDir(), "abac.db")},
		Engine: abac.EngineConfig{
			PolicyCache: abac.PolicyCacheConfig{Enabled: true},
		},
	}
	b, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if b.DB == nil {
		t.Fatalf("sqlite backend should expose its DB")
	}
	w, ok := b.Writer.(*CachedPolicyWriter)
	if !ok {
		t.Fatalf("expected cached writer, got %T", b.Writer)
	}
	if b.Store != abac.PolicyStore(w) {
		t.Fatalf("store and writer should be the same cached wrapper")
	}
	if _, ok := b.Loader.(*SQLResourceLoader); !ok {
		t.Fatalf("expected SQL loader, got %T", b.Loader)
	}

	if err := b.Writer.CreatePolicy(ctx, samplePolicy("p1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	engine, err := abac.NewEngine(b.Store)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ok, err = engine.CheckAccess(ctx, abac.NewSubject("u1", nil), abac.NewResource("document", nil), "read", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("policy written through the backend should allow")
	}
}

func TestOpenSQLiteDefaultsToMemoryDSN(t *testing.T) {
	b, err := Open(context.Background(), &abac.Config{Store: abac.StoreConfig{Driver: abac.StoreSQLite}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if _, ok := b.Store.(*SQLPolicyStore); !ok {
		t.Fatalf("expected SQL store without cache, got %T", b.Store)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), &abac.Config{Store: abac.StoreConfig{Driver: "mongo"}}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
