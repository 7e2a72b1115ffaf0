// Command migrate applies the SQL migrations under migrations/ to the
// gateway's database. Files are named NNN_description.up.sql /
// NNN_description.down.sql and run inside one transaction each.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// advisoryLockID serializes concurrent migrate runs against one database.
const advisoryLockID = 745891220

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up, down or status")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dir       = flag.String("dir", "migrations", "Directory holding the migration files")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		log.Fatalf("Failed to acquire migration lock: %v", err)
	}
	defer pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to read applied migrations: %v", err)
	}

	switch *direction {
	case "status":
		printStatus(*dir, applied)
	case "up", "down":
		if err := run(ctx, pool, *dir, *direction, *steps, applied); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown direction %q", *direction)
	}
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// migrationFiles lists the files for one direction, ordered for application:
// ascending for up, descending for down.
func migrationFiles(dir, direction string) ([]string, string, error) {
	suffix := ".up.sql"
	if direction == "down" {
		suffix = ".down.sql"
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, "", err
	}

	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	return files, suffix, nil
}

func run(ctx context.Context, pool *pgxpool.Pool, dir, direction string, steps int, applied map[string]bool) error {
	files, suffix, err := migrationFiles(dir, direction)
	if err != nil {
		return fmt.Errorf("failed to list migration files: %w", err)
	}

	count := 0
	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), suffix)

		// "up" skips applied versions; "down" only reverts applied ones.
		if (direction == "up") == applied[version] {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}

		if err := apply(ctx, pool, file, version, direction); err != nil {
			return err
		}
		fmt.Printf("Applied migration: %s\n", version)
		count++
	}

	if count == 0 {
		fmt.Println("No migrations to apply")
	} else {
		fmt.Printf("Applied %d migration(s)\n", count)
	}
	return nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, file, version, direction string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute %s: %w", file, err)
	}

	if direction == "up" {
		_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	} else {
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
	}
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", version, err)
	}

	return tx.Commit(ctx)
}

func printStatus(dir string, applied map[string]bool) {
	files, suffix, err := migrationFiles(dir, "up")
	if err != nil {
		log.Fatalf("Failed to list migration files: %v", err)
	}

	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), suffix)
		state := "pending"
		if applied[version] {
			state = "applied"
		}
		fmt.Printf("%-10s %s\n", state, version)
	}
}
