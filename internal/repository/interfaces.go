// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookhelper/internal/model"
)

// AuthorRepository は著者の永続化インターフェース。
type AuthorRepository interface {
	// Upsert は著者名で一意に作成し、既存の場合はHardcover IDのみ更新してIDを返す。
	Upsert(ctx context.Context, author *model.Author) (int64, error)
}

// PublisherRepository は出版社の永続化インターフェース。
type PublisherRepository interface {
	// Upsert は出版社名で一意に作成し、既存の場合はHardcover IDのみ更新してIDを返す。
	Upsert(ctx context.Context, publisher *model.Publisher) (int64, error)
}

// BookRepository は書籍の永続化インターフェース。
type BookRepository interface {
	// Insert はプロバイダ由来の書籍を新規作成してIDを返す。
	Insert(ctx context.Context, book *model.BookUpsert) (int64, error)

	// Enrich は既存書籍を補完する。nilのフィールドは既存値を維持する。
	// 対象が存在しない場合は model.ErrNotFound を返す。
	Enrich(ctx context.Context, bookID int64, book *model.BookUpsert) error

	// Snapshot は照合用に全書籍の識別情報を取得する。
	Snapshot(ctx context.Context) ([]model.BookCandidate, error)

	// InsertDeviceBook は端末由来の書籍をファイルハッシュで重複排除して作成する。
	// 既に存在した場合はfalseを返す。
	InsertDeviceBook(ctx context.Context, book *model.DeviceBook) (bool, error)

	// IDsByFileHash はファイルハッシュから書籍IDへの対応を返す。見つからないハッシュは含まれない。
	IDsByFileHash(ctx context.Context, hashes []string) (map[string]int64, error)
}

// ReadingSessionRepository は読書セッションの永続化インターフェース。
type ReadingSessionRepository interface {
	// InsertIgnore はセッションを作成する。(book_id, start_time, device)が重複する場合は
	// 何もせずfalseを返す。
	InsertIgnore(ctx context.Context, session *model.SessionRecord) (bool, error)
}

// SyncRunRepository はバッチ実行履歴の永続化インターフェース。
type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error

	// Latest は指定種別の最新の実行履歴を返す。見つからない場合はnilを返す。
	Latest(ctx context.Context, kind model.RunKind) (*model.SyncRun, error)

	// List は新しい順に最大limit件の実行履歴を返す。
	List(ctx context.Context, limit int) ([]model.SyncRun, error)

	// DeleteBefore はbefore より前に開始した実行履歴を削除し、削除件数を返す。
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CountRepository はテーブル件数を取得する。
type CountRepository interface {
	Counts(ctx context.Context) (*model.RecordCounts, error)
}
