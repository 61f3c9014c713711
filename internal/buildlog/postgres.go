package buildlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joecupano/airgap-lab-ai/pkg/postgres"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS index_builds (
		id            BIGSERIAL PRIMARY KEY,
		build_id      TEXT,
		corpus_path   TEXT NOT NULL,
		indexed_chunks INT NOT NULL,
		indexed_files INT NOT NULL,
		skipped_files INT NOT NULL,
		terms         INT NOT NULL,
		duration_ms   BIGINT NOT NULL,
		status        TEXT NOT NULL,
		error         TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS index_builds_created_at ON index_builds (created_at DESC)`,
}

// PostgresRepository stores builds in the index_builds table.
type PostgresRepository struct {
	db *postgres.Client
}

// NewPostgresRepository creates the table if needed.
func NewPostgresRepository(ctx context.Context, db *postgres.Client) (*PostgresRepository, error) {
	if err := db.Migrate(ctx, migrations...); err != nil {
		return nil, fmt.Errorf("migrating index_builds: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, b Build) error {
	_, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO index_builds
			(build_id, corpus_path, indexed_chunks, indexed_files, skipped_files, terms, duration_ms, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		nullableString(b.BuildID), b.Root, b.Chunks, b.Files, b.Skipped, b.Terms,
		b.DurationMs, b.Status, nullableString(b.Error), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]Build, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT build_id, corpus_path, indexed_chunks, indexed_files, skipped_files, terms,
			duration_ms, status, error, created_at
		FROM index_builds ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	builds := make([]Build, 0, limit)
	for rows.Next() {
		var (
			b        Build
			buildID  sql.NullString
			errorMsg sql.NullString
		)
		if err := rows.Scan(&buildID, &b.Root, &b.Chunks, &b.Files, &b.Skipped, &b.Terms,
			&b.DurationMs, &b.Status, &errorMsg, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		b.BuildID = buildID.String
		b.Error = errorMsg.String
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
