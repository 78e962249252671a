package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SurfacedRepo stores surfaced notification ids in Postgres. It satisfies
// surfaced.Store.
type SurfacedRepo struct {
	db  DB
	log *zap.Logger
}

func NewSurfacedRepo(db DB, log *zap.Logger) *SurfacedRepo {
	return &SurfacedRepo{
		db:  db,
		log: log.Named("repo"),
	}
}

func (r *SurfacedRepo) Load(ctx context.Context, identity string) ([]string, error) {
	const query = `
		SELECT notification_id
		FROM surfaced_notifications
		WHERE identity = $1
		ORDER BY notification_id`

	rows, err := r.db.Query(ctx, query, identity)
	if err != nil {
		r.log.Warn("load surfaced ids failed", zap.String("identity", identity), zap.Error(err))
		return nil, fmt.Errorf("load surfaced ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan surfaced ids: %w", err)
	}
	return ids, nil
}

func (r *SurfacedRepo) Append(ctx context.Context, identity string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	const query = `
		INSERT INTO surfaced_notifications (identity, notification_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (identity, notification_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, identity, ids)
	if err != nil {
		r.log.Warn("append surfaced ids failed", zap.String("identity", identity), zap.Int("count", len(ids)), zap.Error(err))
		return fmt.Errorf("append surfaced ids: %w", err)
	}
	if tag.RowsAffected() < int64(len(ids)) {
		r.log.Debug("some surfaced ids already recorded",
			zap.String("identity", identity), zap.Int64("inserted", tag.RowsAffected()), zap.Int("requested", len(ids)))
	}
	return nil
}

func (r *SurfacedRepo) Reset(ctx context.Context, identity string) error {
	const query = `DELETE FROM surfaced_notifications WHERE identity = $1`

	tag, err := r.db.Exec(ctx, query, identity)
	if err != nil {
		return fmt.Errorf("reset surfaced ids: %w", err)
	}
	r.log.Info("surfaced ids reset", zap.String("identity", identity), zap.Int64("removed", tag.RowsAffected()))
	return nil
}
