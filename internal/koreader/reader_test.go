package koreader

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const koreaderSchema = `
	CREATE TABLE book (
		id INTEGER PRIMARY KEY,
		title TEXT,
		authors TEXT,
		notes INTEGER DEFAULT 0,
		last_open INTEGER,
		highlights INTEGER DEFAULT 0,
		pages INTEGER,
		series TEXT,
		language TEXT,
		md5 TEXT UNIQUE,
		total_read_time INTEGER,
		total_read_pages INTEGER
	);

	CREATE TABLE page_stat_data (
		id_book INTEGER,
		page INTEGER NOT NULL DEFAULT 0,
		start_time INTEGER NOT NULL DEFAULT 0,
		duration INTEGER NOT NULL DEFAULT 0,
		total_pages INTEGER NOT NULL DEFAULT 0,
		UNIQUE (id_book, page, start_time),
		FOREIGN KEY(id_book) REFERENCES book(id)
	);
`

// createTestDB はKOReaderのスキーマを持つインメモリDBを作成する。
func createTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(koreaderSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO book (id, title, authors, pages, language, md5, notes, highlights, series)
		 VALUES (1, ' Piranesi ', 'Susanna Clarke', 272, 'en', 'md5-a', 2, 5, 'Standalone #1')`,
		`INSERT INTO book (id, title, authors, pages, language, md5, series)
		 VALUES (2, 'Dune', 'Frank Herbert', 600, NULL, 'md5-b', NULL)`,
		`INSERT INTO page_stat_data (id_book, page, start_time, duration, total_pages) VALUES (2, 3, 1700000600, 30, 600)`,
		`INSERT INTO page_stat_data (id_book, page, start_time, duration, total_pages) VALUES (1, 2, 1700000100, 40, 272)`,
		`INSERT INTO page_stat_data (id_book, page, start_time, duration, total_pages) VALUES (1, 1, 1700000000, 60, 272)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestVerifySchema_AllTablesPresent(t *testing.T) {
	r := NewReader(createTestDB(t))

	if err := r.VerifySchema(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestVerifySchema_MissingTable(t *testing.T) {
	db := createTestDB(t)
	if _, err := db.Exec(`DROP TABLE page_stat_data`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	err := NewReader(db).VerifySchema(context.Background())
	if err == nil {
		t.Fatal("expected error for missing page_stat_data table")
	}
}

func TestBooks_MapsColumnsAndDefaults(t *testing.T) {
	db := createTestDB(t)
	seed(t, db)

	books, err := NewReader(db).Books(context.Background())
	if err != nil {
		t.Fatalf("Books: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("len(books) = %d, want 2", len(books))
	}

	first := books[0]
	if first.DeviceID != 1 || first.Title != "Piranesi" || first.Authors != "Susanna Clarke" {
		t.Errorf("unexpected first book: %+v", first)
	}
	if first.Notes != 2 || first.Highlights != 5 || first.Pages != 272 {
		t.Errorf("counts = notes %d highlights %d pages %d", first.Notes, first.Highlights, first.Pages)
	}
	if first.SeriesName == nil || *first.SeriesName != "Standalone" {
		t.Errorf("SeriesName = %v, want Standalone", first.SeriesName)
	}
	if first.SeriesNumber == nil || *first.SeriesNumber != 1 {
		t.Errorf("SeriesNumber = %v, want 1", first.SeriesNumber)
	}

	second := books[1]
	if second.Language != DefaultLanguage {
		t.Errorf("Language = %q, want %q", second.Language, DefaultLanguage)
	}
	if second.SeriesName != nil || second.SeriesNumber != nil {
		t.Errorf("expected no series, got %v %v", second.SeriesName, second.SeriesNumber)
	}
}

func TestReadEvents_OrderedByBookThenStart(t *testing.T) {
	db := createTestDB(t)
	seed(t, db)

	events, err := NewReader(db).ReadEvents(context.Background())
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	if events[0].BookRef != 1 || events[0].Page != 1 {
		t.Errorf("events[0] = %+v, want book 1 page 1", events[0])
	}
	if events[1].BookRef != 1 || events[1].Page != 2 {
		t.Errorf("events[1] = %+v, want book 1 page 2", events[1])
	}
	if events[2].BookRef != 2 {
		t.Errorf("events[2].BookRef = %d, want 2", events[2].BookRef)
	}
	if !events[0].StartTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("StartTime = %v", events[0].StartTime)
	}
	if events[0].Duration != 60*time.Second {
		t.Errorf("Duration = %v, want 60s", events[0].Duration)
	}
	if events[0].TotalPages != 272 {
		t.Errorf("TotalPages = %d, want 272", events[0].TotalPages)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.sqlite3"))
	if err == nil {
		t.Fatal("expected error for missing backup file")
	}
}

func TestOpen_ReadsFileReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statistics.sqlite3")
	rw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open rw: %v", err)
	}
	if _, err := rw.Exec(koreaderSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	rw.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.VerifySchema(context.Background()); err != nil {
		t.Fatalf("VerifySchema: %v", err)
	}
	if _, err := r.db.Exec(`INSERT INTO book (id, title) VALUES (1, 'x')`); err == nil {
		t.Error("expected write to fail on read-only connection")
	}
}

func TestParseSeries(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantNum  float64
		hasName  bool
		hasNum   bool
	}{
		{"Hani Khan #1", "Hani Khan", 1, true, true},
		{"Project X #2.5", "Project X", 2.5, true, true},
		{"Discworld #abc", "Discworld", 0, true, false},
		{"", "", 0, false, false},
		{"No Number", "", 0, false, false},
	}

	for _, tt := range tests {
		name, num := ParseSeries(tt.in)
		if (name != nil) != tt.hasName || (name != nil && *name != tt.wantName) {
			t.Errorf("ParseSeries(%q) name = %v, want %q", tt.in, name, tt.wantName)
		}
		if (num != nil) != tt.hasNum || (num != nil && *num != tt.wantNum) {
			t.Errorf("ParseSeries(%q) number = %v, want %v", tt.in, num, tt.wantNum)
		}
	}
}
