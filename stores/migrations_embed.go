package stores

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

//go:embed sql_resource_schema.sql
var resourceSchemaSQL string

// Migrate creates the policy tables.
func Migrate(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrateResources creates the reference resource tables read by
// SQLResourceLoader. Applications with their own schema skip this.
func MigrateResources(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), resourceSchemaSQL); err != nil {
		return fmt.Errorf("run resource migrations: %w", err)
	}
	return nil
}
