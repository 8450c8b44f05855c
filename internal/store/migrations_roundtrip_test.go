package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

// openTestProvider connects to FSR_TEST_DATABASE_URL on a freshly reset
// schema, or skips the test.
func openTestProvider(t *testing.T) (*Provider, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("FSR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FSR_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	provider := NewProvider(db)
	if err := provider.ApplyMigrations(ctx, testMigrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return provider, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	provider, ctx := openTestProvider(t)
	db := provider.DB()

	if !tableExists(ctx, t, db, "antragstop") {
		t.Fatal("expected antragstop table after up migrations")
	}

	if err := applyDownMigrations(ctx, db, testMigrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if tableExists(ctx, t, db, "antragstop") {
		t.Fatal("expected antragstop table to be dropped")
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := provider.ApplyMigrations(ctx, testMigrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	// a second run with everything recorded is a no-op
	if err := provider.ApplyMigrations(ctx, testMigrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("apply up migrations (pass 3): %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
