package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookhelper/internal/model"
)

// PostgresReadingSessionRepo はPostgreSQLを使用した読書セッションリポジトリ。
type PostgresReadingSessionRepo struct {
	db *sql.DB
}

// NewPostgresReadingSessionRepo はPostgresReadingSessionRepoを生成する。
func NewPostgresReadingSessionRepo(db *sql.DB) *PostgresReadingSessionRepo {
	return &PostgresReadingSessionRepo{db: db}
}

// InsertIgnore はセッションを作成する。重複時は何もしない。
func (r *PostgresReadingSessionRepo) InsertIgnore(ctx context.Context, s *model.SessionRecord) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO reading_sessions (
				book_id, start_time, end_time, duration_minutes, pages_read,
				device, media_type, data_source, device_stats_source,
				read_instance_id, read_number, is_parallel_read
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (book_id, start_time, device) DO NOTHING`,
			s.BookID, s.StartTime, s.EndTime, s.DurationMinutes, s.PagesRead,
			s.Device, s.MediaType, s.DataSource, s.DeviceStatsSource,
			s.ReadInstanceID, s.ReadNumber, s.IsParallelRead,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert reading session: %w", err)
	}
	return inserted, nil
}

// PostgresCountRepo はテーブル件数を取得する。
type PostgresCountRepo struct {
	db *sql.DB
}

// NewPostgresCountRepo はPostgresCountRepoを生成する。
func NewPostgresCountRepo(db *sql.DB) *PostgresCountRepo {
	return &PostgresCountRepo{db: db}
}

// Counts は主要テーブルの件数を返す。
func (r *PostgresCountRepo) Counts(ctx context.Context) (*model.RecordCounts, error) {
	c := &model.RecordCounts{}
	err := r.db.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM books),
		        (SELECT count(*) FROM authors),
		        (SELECT count(*) FROM publishers),
		        (SELECT count(*) FROM reading_sessions)`,
	).Scan(&c.Books, &c.Authors, &c.Publishers, &c.ReadingSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}

// compile-time interface check
var (
	_ ReadingSessionRepository = (*PostgresReadingSessionRepo)(nil)
	_ CountRepository          = (*PostgresCountRepo)(nil)
)
