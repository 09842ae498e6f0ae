// Package helpers provides shared provisioning utilities for integration
// tests: a dockerised postgres instance migrated to the current schema, and
// filesystem fixtures.
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/arlogue/archivist/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	dbUser     = "postgres"
	dbPassword = "postgres"
	dbName     = "ARCHIVIST_TEST_DB"
)

// ProvisionDatabase spawns a postgres container, connects the database
// manager against it (which runs the embedded migrations) and returns the
// live handle. The container is torn down when the test finishes.
func ProvisionDatabase(t *testing.T) *sqlx.DB {
	if testing.Short() {
		t.Skip("skipping database provisioning in short mode")
	}

	ctx := context.Background()
	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}
	t.Cleanup(func() {
		if err := postgresC.Terminate(ctx); err != nil {
			t.Logf("WARNING: failed to terminate postgres container: %s", err)
		}
	})

	host, err := postgresC.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve postgres container host: %s", err)
	}
	port, err := postgresC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve postgres container port: %s", err)
	}

	manager := database.New()
	if err := manager.Connect(database.DatabaseConfig{
		User:     dbUser,
		Password: dbPassword,
		Name:     dbName,
		Host:     host,
		Port:     port.Port(),
	}); err != nil {
		t.Fatalf("failed to connect to provisioned database: %s", err)
	}

	return manager.GetSqlxDb()
}
