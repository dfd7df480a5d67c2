package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookhelper/internal/model"
)

// PostgresSyncRunRepo はPostgreSQLを使用した実行履歴リポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

const syncRunColumns = `id, kind, status, dry_run, started_at, finished_at, stats, error`

// Create は実行履歴を記録する。
func (r *PostgresSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	stats := run.Stats
	if len(stats) == 0 {
		stats = []byte("{}")
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_runs (`+syncRunColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, run.Kind, run.Status, run.DryRun, run.StartedAt, run.FinishedAt, string(stats), run.Error,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// Latest は指定種別の最新の実行履歴を返す。見つからない場合はnilを返す。
func (r *PostgresSyncRunRepo) Latest(ctx context.Context, kind model.RunKind) (*model.SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs
		 WHERE kind = $1
		 ORDER BY started_at DESC
		 LIMIT 1`,
		kind,
	)
	run, err := scanSyncRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest sync run: %w", err)
	}
	return run, nil
}

// List は新しい順に実行履歴を返す。
func (r *PostgresSyncRunRepo) List(ctx context.Context, limit int) ([]model.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := []model.SyncRun{}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteBefore は保持期間を過ぎた実行履歴を削除する。
func (r *PostgresSyncRunRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE started_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sync runs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(s rowScanner) (*model.SyncRun, error) {
	var (
		run   model.SyncRun
		stats []byte
	)
	if err := s.Scan(&run.ID, &run.Kind, &run.Status, &run.DryRun,
		&run.StartedAt, &run.FinishedAt, &stats, &run.Error); err != nil {
		return nil, err
	}
	run.Stats = stats
	return &run, nil
}

// compile-time interface check
var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
