package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"jobqueue/internal/constants"
	"jobqueue/internal/lock"
)

const schema = "jobqueue"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate creates the schema and applies every script under migrations/ in
// file name order (fs.ReadDir sorts). The migration lock keeps concurrently starting processes from
// racing on DDL.
func Migrate(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *slog.Logger) (err error) {
	if err = distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if rerr := distributedLock.Release(ctx, constants.MigrationLock); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if _, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		logger.Debug("applying migration", "script", script.name)
		if _, err = db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("migration %s: %w", script.name, err)
		}
	}
	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := fs.ReadFile(migrationFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}
	return scripts, nil
}
