package repository

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/tern/v2/migrate"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// versionTable records the applied schema version.
const versionTable = "schema_version"

//go:embed schema/*.sql
var schemaFS embed.FS

// migrationFiles exposes the embedded schema directory as the root of an
// fs.FS, the layout tern expects.
func migrationFiles() (fs.FS, error) {
	sub, err := fs.Sub(schemaFS, "schema")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open embedded migrations")
	}
	return sub, nil
}

// Migrate brings the database to the latest embedded schema version.
func Migrate(ctx context.Context, db *database.DB, log *logger.Logger) error {
	files, err := migrationFiles()
	if err != nil {
		return err
	}

	return db.WithConn(ctx, func(conn *pgx.Conn) error {
		m, err := migrate.NewMigrator(ctx, conn, versionTable)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create migrator")
		}
		if err := m.LoadMigrations(files); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load migrations")
		}
		m.OnStart = func(sequence int32, name, direction, _ string) {
			log.Info().
				Int32("sequence", sequence).
				Str("name", name).
				Str("direction", direction).
				Msg("Applying migration")
		}

		if err := m.Migrate(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply migrations")
		}
		version, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to read schema version")
		}
		log.Info().Int32("version", version).Msg("Schema is up to date")
		return nil
	})
}
