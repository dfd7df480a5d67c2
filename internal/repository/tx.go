package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/bookhelper/internal/model"
)

// withTx はfnを1トランザクションで実行する。fnがエラーを返した場合はロールバックする。
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// classify はPostgreSQLの整合性制約違反（SQLSTATE クラス23）を
// model.ErrConstraintViolation として識別できるようにする。
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %w", model.ErrConstraintViolation, err)
	}
	return err
}
