package library

import (
	"context"
	"fmt"

	"github.com/hitoshi/bookhelper/internal/model"
)

// untitled はKOReader側でタイトルが空の書籍に付ける仮タイトル。
const untitled = "(untitled)"

// InsertDeviceBook は端末由来の書籍をファイルハッシュで重複排除して作成する。
// ドライラン時は書き込まずにtrueを返す。
func (s *Service) InsertDeviceBook(ctx context.Context, b *model.DeviceBook) (bool, error) {
	if b.MD5 == "" {
		return false, fmt.Errorf("%w: device book %d has no md5", model.ErrInvalidRecord, b.DeviceID)
	}
	if b.Title == "" {
		b.Title = untitled
	}
	if s.dryRun {
		s.skipWrite("insert_device_book", "title", b.Title, "file_hash", b.MD5)
		return true, nil
	}

	inserted, err := s.repos.Books.InsertDeviceBook(ctx, b)
	if err != nil {
		return false, fmt.Errorf("端末書籍の作成に失敗: %w", err)
	}
	return inserted, nil
}

// BookIDsByFileHash はファイルハッシュから保存済み書籍IDへの対応を返す。読み取りのみ。
func (s *Service) BookIDsByFileHash(ctx context.Context, hashes []string) (map[string]int64, error) {
	return s.repos.Books.IDsByFileHash(ctx, hashes)
}

// InsertSession は読書セッションを作成する。重複時はfalseを返す。
// ドライラン時は書き込まずにtrueを返す。
func (s *Service) InsertSession(ctx context.Context, rec *model.SessionRecord) (bool, error) {
	if s.dryRun {
		s.logger.Debug("ドライラン: 書き込みをスキップします",
			"action", "insert_session",
			"book_id", rec.BookID,
			"start_time", rec.StartTime,
		)
		return true, nil
	}

	inserted, err := s.repos.Sessions.InsertIgnore(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("読書セッションの作成に失敗: %w", err)
	}
	return inserted, nil
}
