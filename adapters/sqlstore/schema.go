package sqlstore

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"
)

//go:embed schema/*/*.sql
var schemaFS embed.FS

// EnsureSchema applies the embedded DDL files for the dialect that have not
// been recorded in schema_migrations yet. Files are applied in name order,
// each inside its own transaction. users.id takes the column type of the
// configured user id scheme.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	dir := "schema/" + db.dialect.Name()
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	vars := struct{ UserIDType string }{UserIDType: db.dialect.UserIDType(db.scheme)}

	for _, name := range files {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		raw, err := schemaFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", name, err)
		}
		tmpl, err := template.New(name).Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse schema %s: %w", name, err)
		}
		var ddl bytes.Buffer
		if err := tmpl.Execute(&ddl, vars); err != nil {
			return fmt.Errorf("render schema %s: %w", name, err)
		}

		if err := db.applySchema(ctx, version, ddl.String()); err != nil {
			return fmt.Errorf("apply schema %s: %w", name, err)
		}
	}

	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applySchema runs statements one by one since the MySQL driver rejects
// multi-statement Exec unless the DSN opts in.
func (db *DB) applySchema(ctx context.Context, version, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, db.dialect.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func splitStatements(ddl string) []string {
	var out []string
	for _, part := range strings.Split(ddl, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
