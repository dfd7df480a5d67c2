// Package koreader はKOReaderの統計DB(statistics.sqlite3)のバックアップを読み出す。
package koreader

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hitoshi/bookhelper/internal/model"
)

// DefaultLanguage は言語が未設定の書籍に割り当てる言語コード。
const DefaultLanguage = "en"

var requiredTables = []string{"book", "page_stat_data"}

// Reader はKOReader統計DBへの読み取り専用アクセスを提供する。
type Reader struct {
	db *sql.DB
}

// Open は統計DBを読み取り専用で開く。
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("KOReaderバックアップが見つかりません: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open koreader database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping koreader database: %w", err)
	}
	return &Reader{db: db}, nil
}

// NewReader は既に開いているDBからReaderを生成する。
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close はDB接続を閉じる。
func (r *Reader) Close() error {
	return r.db.Close()
}

// VerifySchema は必要なテーブルが揃っているかを確認する。
func (r *Reader) VerifySchema(ctx context.Context) error {
	for _, name := range requiredTables {
		var found string
		err := r.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
		).Scan(&found)
		if err == sql.ErrNoRows {
			return fmt.Errorf("必要なテーブルがありません: %s", name)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect koreader schema: %w", err)
		}
	}
	return nil
}

// Books は書籍一覧をID順で返す。
func (r *Reader) Books(ctx context.Context) ([]model.DeviceBook, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, authors, pages, language, md5, notes, highlights, series
		FROM book
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []model.DeviceBook
	for rows.Next() {
		var (
			b                                 model.DeviceBook
			title, authors, lang, md5, series sql.NullString
			pages, notes, highlights          sql.NullInt64
		)
		if err := rows.Scan(&b.DeviceID, &title, &authors, &pages, &lang, &md5,
			&notes, &highlights, &series); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		b.Title = strings.TrimSpace(title.String)
		b.Authors = strings.TrimSpace(authors.String)
		b.Pages = int(pages.Int64)
		b.Language = lang.String
		if b.Language == "" {
			b.Language = DefaultLanguage
		}
		b.MD5 = md5.String
		b.Notes = int(notes.Int64)
		b.Highlights = int(highlights.Int64)
		b.SeriesName, b.SeriesNumber = ParseSeries(series.String)
		books = append(books, b)
	}
	return books, rows.Err()
}

// ReadEvents はページ閲覧イベントを(書籍, 開始時刻)順で返す。
func (r *Reader) ReadEvents(ctx context.Context) ([]model.ReadEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id_book, page, start_time, duration, total_pages
		FROM page_stat_data
		ORDER BY id_book, start_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query page stats: %w", err)
	}
	defer rows.Close()

	var events []model.ReadEvent
	for rows.Next() {
		var (
			ev              model.ReadEvent
			start, duration int64
		)
		if err := rows.Scan(&ev.BookRef, &ev.Page, &start, &duration, &ev.TotalPages); err != nil {
			return nil, fmt.Errorf("failed to scan page stat: %w", err)
		}
		ev.StartTime = time.Unix(start, 0).UTC()
		ev.Duration = time.Duration(duration) * time.Second
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ParseSeries は "シリーズ名 #番号" 形式を名前と番号に分解する。
// '#' を含まない場合は両方nil、番号が数値でない場合は番号のみnilを返す。
func ParseSeries(s string) (*string, *float64) {
	name, num, ok := strings.Cut(s, "#")
	if !ok {
		return nil, nil
	}
	n := strings.TrimSpace(name)
	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return &n, nil
	}
	return &n, &f
}
