package library

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/bookhelper/internal/model"
)

// releaseDateLayouts はHardcoverのrelease_dateとして受け付ける形式。
var releaseDateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// BuildBook はHardcoverの書籍レコードを書き込み用データに変換する。
// 説明文はサニタイズし、安全でないカバーURLや解釈できない日付は値なしとして扱う。
// authorID・publisherIDにドライラン用の仮IDが渡された場合も値なしとして扱う。
func (s *Service) BuildBook(hc *model.HardcoverBook, isbn13, isbn10 string, authorID, publisherID int64) *model.BookUpsert {
	b := &model.BookUpsert{
		Title:         strings.TrimSpace(hc.Title),
		Subtitle:      nonEmpty(hc.Subtitle),
		AuthorID:      positive(authorID),
		PublisherID:   positive(publisherID),
		ISBN13:        nonEmpty(isbn13),
		ISBN10:        nonEmpty(isbn10),
		HardcoverID:   positive(hc.ID),
		HardcoverSlug: nonEmpty(hc.Slug),
		Rating:        hc.Rating,
	}

	if hc.Pages != nil && *hc.Pages > 0 {
		p := *hc.Pages
		b.Pages = &p
	}

	if hc.Description != "" {
		b.Description = nonEmpty(s.sanitizer.Sanitize(hc.Description))
	}

	if hc.CoverURL != "" {
		if err := s.urls.Validate(hc.CoverURL); err != nil {
			s.logger.Debug("カバー画像URLを破棄しました",
				slog.String("title", b.Title),
				slog.String("error", err.Error()),
			)
		} else {
			b.CoverURL = &hc.CoverURL
		}
	}

	if hc.ReleaseDate != "" {
		b.ReleaseDate = parseReleaseDate(hc.ReleaseDate)
	}

	return b
}

// UpsertBook は照合結果に応じて書籍を新規作成または補完する。
// 失敗時はトランザクションがロールバックされ、エラーを返す。
func (s *Service) UpsertBook(ctx context.Context, book *model.BookUpsert, res model.Resolution) (model.BookWriteResult, error) {
	if !res.Matched() {
		if s.dryRun {
			s.skipWrite("insert_book", "title", book.Title)
			return model.BookWriteResult{BookID: model.PlaceholderID, Action: model.BookActionInserted, DryRun: true}, nil
		}
		id, err := s.repos.Books.Insert(ctx, book)
		if err != nil {
			return model.BookWriteResult{}, fmt.Errorf("書籍の作成に失敗: %w", err)
		}
		return model.BookWriteResult{BookID: id, Action: model.BookActionInserted}, nil
	}

	if s.dryRun {
		s.skipWrite("enrich_book", "title", book.Title, "book_id", res.BookID, "method", string(res.Method))
		return model.BookWriteResult{BookID: res.BookID, Action: model.BookActionEnriched, DryRun: true}, nil
	}
	if err := s.repos.Books.Enrich(ctx, res.BookID, book); err != nil {
		return model.BookWriteResult{}, fmt.Errorf("書籍の補完に失敗: %w", err)
	}
	return model.BookWriteResult{BookID: res.BookID, Action: model.BookActionEnriched}, nil
}

func parseReleaseDate(s string) *time.Time {
	for _, layout := range releaseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
