package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4222"
}

// SetupTestDB returns an empty Postgres for integration tests. It uses
// TEST_POSTGRES_DSN when set and otherwise starts a postgres container.
// Tables are truncated and the container stopped when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("vaultledger_test"),
			tcpostgres.WithUsername("vault_test"),
			tcpostgres.WithPassword("vault_test"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("postgres container not available: %v", err)
		}
		t.Cleanup(func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := container.Terminate(stopCtx); err != nil {
				t.Logf("terminate postgres container: %v", err)
			}
		})
		if dsn, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
			t.Fatalf("postgres connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}

	t.Cleanup(func() {
		tables := []string{
			"event_log.journal",
			"event_log.events",
			"event_log.snapshots",
			"projections.stakes",
			"projections.claims",
			"projections.rebalance_history",
			"projections.vault_state",
			"projections.watermark",
		}
		for _, table := range tables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		db.Close()
	})
	return db
}

// GoldenFile reads a golden file from testdata/ and returns its contents.
func GoldenFile(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden file %s: %v", path, err)
	}
	return data
}

// UpdateGoldenFile writes data to a golden file.
// Only used when UPDATE_GOLDEN=1 is set.
func UpdateGoldenFile(t *testing.T, name string, data []byte) {
	t.Helper()
	if os.Getenv("UPDATE_GOLDEN") != "1" {
		return
	}
	path := filepath.Join("testdata", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create testdata dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write golden file %s: %v", path, err)
	}
	t.Logf("updated golden file: %s", path)
}

// AssertGolden compares data against a golden file.
// If UPDATE_GOLDEN=1, updates the golden file instead.
func AssertGolden(t *testing.T, name string, got []byte) {
	t.Helper()

	if os.Getenv("UPDATE_GOLDEN") == "1" {
		UpdateGoldenFile(t, name, got)
		return
	}

	want := GoldenFile(t, name)
	if string(got) != string(want) {
		t.Errorf("golden file mismatch for %s:\n--- want ---\n%s\n--- got ---\n%s",
			name, string(want), string(got))
	}
}
