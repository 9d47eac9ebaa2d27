//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Ramsey-B/clover/pkg/database"
)

const testDatabaseName = "clover"

// PostgresContainer wraps a migrated testcontainers PostgreSQL instance
type PostgresContainer struct {
	Container testcontainers.Container
	DB        database.DB
	raw       *sqlx.DB
}

// NewPostgresContainer starts PostgreSQL, applies the migrations in
// migrationsPath and returns a database.DB connected to it. The container
// is terminated when the test finishes.
func NewPostgresContainer(t *testing.T, migrationsPath string) *PostgresContainer {
	t.Helper()

	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(testDatabaseName),
		tcpostgres.WithUsername("clover"),
		tcpostgres.WithPassword("clover"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	raw, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: migrationsPath})
	if err := migrations.MigratePostgres(raw.DB, testDatabaseName); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		DB:        database.NewDatabaseInstance(raw, logger),
		raw:       raw,
	}
}

// Truncate removes every participant and audit row. The audit log trigger
// only fires on row-level UPDATE and DELETE, so TRUNCATE is allowed.
func (p *PostgresContainer) Truncate(t *testing.T) {
	t.Helper()
	if _, err := p.raw.Exec("TRUNCATE participant_audit_log, participants"); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Exec runs a statement outside any transaction
func (p *PostgresContainer) Exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := p.raw.Exec(query, args...); err != nil {
		t.Fatalf("failed to exec %q: %v", query, err)
	}
}
