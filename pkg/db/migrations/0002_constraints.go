package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upConstraints, downConstraints)
}

var constraintStatements = []string{
	`ALTER TABLE share_jobs ADD CONSTRAINT share_jobs_status_check CHECK (status IN ('queued', 'processing', 'completed', 'failed'))`,
	`ALTER TABLE generation_quota_days ADD CONSTRAINT generation_quota_days_count_check CHECK (count >= 0)`,
	`ALTER TABLE shares ADD CONSTRAINT shares_view_count_check CHECK (view_count >= 0)`,
}

func upConstraints(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range constraintStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downConstraints(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`ALTER TABLE shares DROP CONSTRAINT IF EXISTS shares_view_count_check`,
		`ALTER TABLE generation_quota_days DROP CONSTRAINT IF EXISTS generation_quota_days_count_check`,
		`ALTER TABLE share_jobs DROP CONSTRAINT IF EXISTS share_jobs_status_check`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
