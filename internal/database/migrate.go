package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// Dialect holds what the migration runner needs to know about a backend.
type Dialect struct {
	Name string
	// VersionTable creates the schema_migrations table if missing.
	VersionTable string
	// RecordVersion inserts one applied version.
	RecordVersion string
}

// Supported dialects.
var (
	PostgresDialect = Dialect{
		Name: "postgres",
		VersionTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		RecordVersion: "INSERT INTO schema_migrations (version) VALUES ($1)",
	}
	MySQLDialect = Dialect{
		Name: "mysql",
		VersionTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		RecordVersion: "INSERT INTO schema_migrations (version) VALUES (?)",
	}
)

// appliedMigrations returns the set of already-applied migration versions.
func appliedMigrations(ctx context.Context, db *sql.DB, d Dialect) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, d.VersionTable); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// PendingMigrations returns the sorted .sql file names in migrations that
// are not in applied.
func PendingMigrations(migrations fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// SplitStatements splits a migration file on statement-terminating
// semicolons. Comment-only chunks are dropped.
func SplitStatements(content string) []string {
	var stmts []string
	for chunk := range strings.SplitSeq(content, ";") {
		var lines []string
		for line := range strings.SplitSeq(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			stmts = append(stmts, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return stmts
}

// Migrate applies all pending migrations, one transaction per file.
// MySQL commits DDL implicitly, so a failing file can be left half applied
// there. Migration files must use IF NOT EXISTS.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS, d Dialect) error {
	applied, err := appliedMigrations(ctx, db, d)
	if err != nil {
		return err
	}

	files, err := PendingMigrations(migrations, applied)
	if err != nil {
		return err
	}

	for _, file := range files {
		content, err := fs.ReadFile(migrations, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyMigration(ctx, db, d, file, SplitStatements(string(content))); err != nil {
			return err
		}
		slog.Info("applied migration", "backend", d.Name, "version", file)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, d Dialect, file string, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", file, err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.RecordVersion, file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
