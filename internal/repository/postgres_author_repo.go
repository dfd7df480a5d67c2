package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookhelper/internal/model"
)

// PostgresAuthorRepo はPostgreSQLを使用した著者リポジトリ。
type PostgresAuthorRepo struct {
	db *sql.DB
}

// NewPostgresAuthorRepo はPostgresAuthorRepoを生成する。
func NewPostgresAuthorRepo(db *sql.DB) *PostgresAuthorRepo {
	return &PostgresAuthorRepo{db: db}
}

// Upsert は著者を作成または更新する。
func (r *PostgresAuthorRepo) Upsert(ctx context.Context, author *model.Author) (int64, error) {
	var id int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO authors (author_name, hardcover_author_id)
			 VALUES ($1, $2)
			 ON CONFLICT (author_name) DO UPDATE
			 SET hardcover_author_id = EXCLUDED.hardcover_author_id
			 RETURNING author_id`,
			author.Name, author.HardcoverID,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert author: %w", err)
	}
	author.ID = id
	return id, nil
}

// PostgresPublisherRepo はPostgreSQLを使用した出版社リポジトリ。
type PostgresPublisherRepo struct {
	db *sql.DB
}

// NewPostgresPublisherRepo はPostgresPublisherRepoを生成する。
func NewPostgresPublisherRepo(db *sql.DB) *PostgresPublisherRepo {
	return &PostgresPublisherRepo{db: db}
}

// Upsert は出版社を作成または更新する。
func (r *PostgresPublisherRepo) Upsert(ctx context.Context, publisher *model.Publisher) (int64, error) {
	var id int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO publishers (publisher_name, hardcover_publisher_id)
			 VALUES ($1, $2)
			 ON CONFLICT (publisher_name) DO UPDATE
			 SET hardcover_publisher_id = EXCLUDED.hardcover_publisher_id
			 RETURNING publisher_id`,
			publisher.Name, publisher.HardcoverID,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert publisher: %w", err)
	}
	publisher.ID = id
	return id, nil
}

// compile-time interface check
var (
	_ AuthorRepository    = (*PostgresAuthorRepo)(nil)
	_ PublisherRepository = (*PostgresPublisherRepo)(nil)
)
