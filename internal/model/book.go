package model

import "time"

// PlaceholderID はドライラン時に書き込みの代わりに返すID。
const PlaceholderID int64 = -1

// Author は著者を表す。著者名で一意。
type Author struct {
	ID          int64
	Name        string
	HardcoverID *int64
}

// Publisher は出版社を表す。出版社名で一意。
type Publisher struct {
	ID          int64
	Name        string
	HardcoverID *int64
}

// BookUpsert はプロバイダレコードから変換した書き込み用の書籍データを表す。
// nilのフィールドは「値なし」を意味し、既存の値を上書きしない。
type BookUpsert struct {
	Title         string
	Subtitle      *string
	AuthorID      *int64
	PublisherID   *int64
	ISBN13        *string
	ISBN10        *string
	HardcoverID   *int64
	HardcoverSlug *string
	CoverURL      *string
	Pages         *int
	Rating        *float64
	Description   *string // サニタイズ済み
	ReleaseDate   *time.Time
}

// BookAction は書籍に対して実行した書き込みの種別を表す。
type BookAction string

const (
	// BookActionInserted は新規作成を表す。
	BookActionInserted BookAction = "inserted"
	// BookActionEnriched は既存書籍への情報補完を表す。
	BookActionEnriched BookAction = "enriched"
)

// BookWriteResult は書籍書き込みの結果を表す。
type BookWriteResult struct {
	BookID int64
	Action BookAction
	DryRun bool
}

// DeviceBook はKOReaderの統計DBから読み出した書籍を表す。
type DeviceBook struct {
	DeviceID     int64 // KOReader側のbook.id
	Title        string
	Authors      string
	Pages        int
	Language     string
	MD5          string
	Notes        int
	Highlights   int
	SeriesName   *string
	SeriesNumber *float64
}

// BookCandidate は照合用スナップショットに含まれる既存書籍を表す。
// AuthorNameは著者テーブルの名前、なければ端末から取り込んだ著者文字列。
type BookCandidate struct {
	BookID      int64
	Title       string
	AuthorName  string
	ISBN13      string
	ISBN10      string
	HardcoverID *int64
}

// MatchMethod は既存書籍との照合方法を表す。
type MatchMethod string

const (
	MatchNone       MatchMethod = "none"
	MatchISBN       MatchMethod = "isbn"
	MatchProviderID MatchMethod = "provider_id"
	MatchFuzzy      MatchMethod = "fuzzy"
)

// ResolveInput は照合に使う入力レコードの識別情報。
type ResolveInput struct {
	Title       string
	AuthorName  string
	ISBN13      string
	ISBN10      string
	HardcoverID int64
}

// Resolution は照合結果を表す。Method が MatchNone の場合 BookID は0。
type Resolution struct {
	BookID int64
	Method MatchMethod
	Score  float64 // ファジー照合時のみ
}

// Matched は既存書籍に一致したかどうかを返す。
func (r Resolution) Matched() bool {
	return r.Method != MatchNone && r.BookID != 0
}
