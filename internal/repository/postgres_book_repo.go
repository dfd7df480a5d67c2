package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/bookhelper/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// dateParam はDATE列に渡す値をYYYY-MM-DD形式にする。
func dateParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

// Insert はプロバイダ由来の書籍を作成する。
func (r *PostgresBookRepo) Insert(ctx context.Context, b *model.BookUpsert) (int64, error) {
	var id int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO books (
				title, subtitle, author_id, publisher_id, isbn_13, isbn_10,
				hardcover_book_id, hardcover_slug, cover_url, pages,
				hardcover_rating, description, release_date, enriched_at
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
			 RETURNING book_id`,
			b.Title, b.Subtitle, b.AuthorID, b.PublisherID, b.ISBN13, b.ISBN10,
			b.HardcoverID, b.HardcoverSlug, b.CoverURL, b.Pages,
			b.Rating, b.Description, dateParam(b.ReleaseDate),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert book: %w", err)
	}
	return id, nil
}

// Enrich は既存書籍を補完する。
// 受け取った値がNULLの列は既存値を維持し、保存済みの値を失わない。
func (r *PostgresBookRepo) Enrich(ctx context.Context, bookID int64, b *model.BookUpsert) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE books SET
				title             = COALESCE(NULLIF($2, ''), title),
				subtitle          = COALESCE($3, subtitle),
				author_id         = COALESCE($4, author_id),
				publisher_id      = COALESCE($5, publisher_id),
				isbn_13           = COALESCE($6, isbn_13),
				isbn_10           = COALESCE($7, isbn_10),
				hardcover_book_id = COALESCE($8, hardcover_book_id),
				hardcover_slug    = COALESCE($9, hardcover_slug),
				cover_url         = COALESCE($10, cover_url),
				pages             = COALESCE($11, pages),
				hardcover_rating  = COALESCE($12, hardcover_rating),
				description       = COALESCE($13, description),
				release_date      = COALESCE($14::date, release_date),
				enriched_at       = now()
			 WHERE book_id = $1`,
			bookID, b.Title, b.Subtitle, b.AuthorID, b.PublisherID, b.ISBN13, b.ISBN10,
			b.HardcoverID, b.HardcoverSlug, b.CoverURL, b.Pages,
			b.Rating, b.Description, dateParam(b.ReleaseDate),
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("book %d: %w", bookID, model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enrich book: %w", err)
	}
	return nil
}

// Snapshot は照合用に全書籍の識別情報を取得する。
func (r *PostgresBookRepo) Snapshot(ctx context.Context) ([]model.BookCandidate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.book_id, b.title,
		        COALESCE(a.author_name, b.device_authors, ''),
		        COALESCE(b.isbn_13, ''), COALESCE(b.isbn_10, ''),
		        b.hardcover_book_id
		 FROM books b
		 LEFT JOIN authors a ON a.author_id = b.author_id
		 ORDER BY b.book_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query book snapshot: %w", err)
	}
	defer rows.Close()

	var candidates []model.BookCandidate
	for rows.Next() {
		var (
			c           model.BookCandidate
			hardcoverID sql.NullInt64
		)
		if err := rows.Scan(&c.BookID, &c.Title, &c.AuthorName, &c.ISBN13, &c.ISBN10, &hardcoverID); err != nil {
			return nil, fmt.Errorf("failed to scan book snapshot: %w", err)
		}
		if hardcoverID.Valid {
			id := hardcoverID.Int64
			c.HardcoverID = &id
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate book snapshot: %w", err)
	}
	return candidates, nil
}

// InsertDeviceBook は端末由来の書籍を作成する。file_hashが重複する場合は何もしない。
func (r *PostgresBookRepo) InsertDeviceBook(ctx context.Context, b *model.DeviceBook) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO books (
				title, device_authors, pages, language, file_hash,
				notes_count, highlights_count, series_name, series_number
			 ) VALUES ($1, NULLIF($2, ''), NULLIF($3, 0), $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (file_hash) DO NOTHING`,
			b.Title, b.Authors, b.Pages, b.Language, b.MD5,
			b.Notes, b.Highlights, b.SeriesName, b.SeriesNumber,
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
		return false, fmt.Errorf("failed to insert device book: %w", err)
	}
	return inserted, nil
}

// IDsByFileHash はファイルハッシュから書籍IDへの対応を返す。
func (r *PostgresBookRepo) IDsByFileHash(ctx context.Context, hashes []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return ids, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT file_hash, book_id FROM books WHERE file_hash = ANY($1)`,
		pq.Array(hashes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query books by file hash: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hash string
			id   int64
		)
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, fmt.Errorf("failed to scan book id: %w", err)
		}
		ids[hash] = id
	}
	return ids, rows.Err()
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
