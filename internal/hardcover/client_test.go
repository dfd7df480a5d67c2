package hardcover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/bookhelper/internal/metrics"
	"github.com/hitoshi/bookhelper/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	var buf bytes.Buffer
	cfg.Endpoint = server.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "Bearer test-key"
	}
	return NewClient(server.Client(), newTestLogger(&buf), metrics.Nop{}, cfg)
}

// decodeRequest はGraphQLリクエストボディを読み取る。
func decodeRequest(t *testing.T, r *http.Request) gqlRequest {
	t.Helper()
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("リクエストボディのデコードに失敗: %v", err)
	}
	return req
}

func bookJSON(id int, title string) string {
	return fmt.Sprintf(`{"book":{"id":%d,"title":%q,"isbns":["0306406152", 42],
		"image":{"url":"https://assets.hardcover.app/%d.jpg"},
		"contributions":[{"author":{"id":7,"name":"Author %d"}}],
		"editions":[{"id":100,"isbn_10":null,"isbn_13":"9780306406157","publisher":{"id":9,"name":"Pub"}}]}}`,
		id, title, id, id)
}

func pageJSON(books ...string) string {
	out := `{"data":{"user_books":[`
	for i, b := range books {
		if i > 0 {
			out += ","
		}
		out += b
	}
	return out + `]}}`
}

func TestProbe_ObjectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		w.Write([]byte(`{"data":{"me":{"id":42,"username":"reader"}}}`))
	}))
	defer server.Close()

	u, err := newTestClient(t, server, Config{}).Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe がエラーを返した: %v", err)
	}
	if u.ID != 42 || u.Username != "reader" {
		t.Errorf("user = %+v, want id 42 reader", u)
	}
}

func TestProbe_ListResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"me":[{"id":7,"username":"list"}]}}`))
	}))
	defer server.Close()

	u, err := newTestClient(t, server, Config{}).Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe がエラーを返した: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("user.ID = %d, want 7", u.ID)
	}
}

// 認証ユーザーが空で返された場合はID 0として扱う。
func TestAuthenticatedUser_MissingIDReturnsZero(t *testing.T) {
	for _, body := range []string{
		`{"data":{"me":[]}}`,
		`{"data":{"me":null}}`,
		`{"data":{"me":{"username":"noid"}}}`,
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		u, err := newTestClient(t, server, Config{}).Probe(context.Background())
		server.Close()
		if err != nil {
			t.Fatalf("%s: Probe がエラーを返した: %v", body, err)
		}
		if u == nil || u.ID != 0 {
			t.Errorf("%s: user = %+v, want ID 0", body, u)
		}
	}
}

func TestProbe_GraphQLErrorIsResponseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"invalid token"}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).Probe(context.Background())
	if !errors.Is(err, ErrResponse) {
		t.Fatalf("err = %v, want ErrResponse", err)
	}
}

func TestProbe_TimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{ProbeTimeout: 50 * time.Millisecond}).Probe(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestProbe_ServerErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).Probe(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestFetchLibrary_PaginatesUntilEmptyPage(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		atomic.AddInt32(&calls, 1)
		offset := int(req.Variables["offset"].(float64))
		if req.Variables["user_id"].(float64) != 42 {
			t.Errorf("user_id = %v, want 42", req.Variables["user_id"])
		}
		switch offset {
		case 0:
			w.Write([]byte(pageJSON(bookJSON(1, "One"), bookJSON(2, "Two"))))
		case 2:
			w.Write([]byte(pageJSON(bookJSON(3, "Three"))))
		default:
			w.Write([]byte(pageJSON()))
		}
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 2}).FetchLibrary(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchLibrary がエラーを返した: %v", err)
	}
	if len(ext.Books) != 3 {
		t.Fatalf("len(Books) = %d, want 3", len(ext.Books))
	}
	if ext.Pages != 2 {
		t.Errorf("Pages = %d, want 2", ext.Pages)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	b := ext.Books[0]
	if b.ID != 1 || b.Title != "One" {
		t.Errorf("book = %+v", b)
	}
	if len(b.ISBNs) != 1 || b.ISBNs[0] != "0306406152" {
		t.Errorf("ISBNs = %v, want [0306406152]", b.ISBNs)
	}
	if b.CoverURL != "https://assets.hardcover.app/1.jpg" {
		t.Errorf("CoverURL = %q", b.CoverURL)
	}
	if a := b.PrimaryAuthor(); a == nil || a.Name != "Author 1" || a.AuthorID != 7 {
		t.Errorf("PrimaryAuthor = %+v", a)
	}
	if p := b.PrimaryPublisher(); p == nil || p.Name != "Pub" {
		t.Errorf("PrimaryPublisher = %+v", p)
	}
	if len(b.Editions) != 1 || b.Editions[0].ISBN13 != "9780306406157" || b.Editions[0].ISBN10 != "" {
		t.Errorf("Editions = %+v", b.Editions)
	}
}

func TestFetchLibrary_StopsAtOffsetCeiling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(pageJSON(bookJSON(1, "Loop"))))
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 1, MaxOffset: 3}).FetchLibrary(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLibrary がエラーを返した: %v", err)
	}
	if !ext.Truncated {
		t.Error("Truncated = false, want true")
	}
	// offset 0,1,2,3 の4回
	if atomic.LoadInt32(&calls) != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestFetchLibrary_TransportErrorReturnsPartialResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Variables["offset"].(float64) == 0 {
			w.Write([]byte(pageJSON(bookJSON(1, "One"))))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 1}).FetchLibrary(context.Background(), 1)
	if !errors.Is(err, model.ErrExtractionIncomplete) {
		t.Fatalf("err = %v, want ErrExtractionIncomplete", err)
	}
	if !ext.Incomplete {
		t.Error("Incomplete = false, want true")
	}
	if len(ext.Books) != 1 {
		t.Errorf("len(Books) = %d, want 1", len(ext.Books))
	}
}

func TestFetchLibrary_BadPageIsSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		switch int(req.Variables["offset"].(float64)) {
		case 0:
			w.Write([]byte(`{"errors":[{"message":"query timeout"}]}`))
		case 1:
			w.Write([]byte(pageJSON(bookJSON(2, "Two"))))
		default:
			w.Write([]byte(pageJSON()))
		}
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 1}).FetchLibrary(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLibrary がエラーを返した: %v", err)
	}
	if len(ext.Books) != 1 || ext.Books[0].ID != 2 {
		t.Errorf("Books = %+v, want only book 2", ext.Books)
	}
}

func TestFetchLibrary_ConsecutiveBadPagesHalt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":{"something_else":[]}}`))
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 10}).FetchLibrary(context.Background(), 1)
	if !errors.Is(err, model.ErrExtractionIncomplete) {
		t.Fatalf("err = %v, want ErrExtractionIncomplete", err)
	}
	if !ext.Incomplete {
		t.Error("Incomplete = false, want true")
	}
	if atomic.LoadInt32(&calls) != maxConsecutiveBadPages {
		t.Errorf("calls = %d, want %d", calls, maxConsecutiveBadPages)
	}
}

func TestFetchLibrary_InvalidRecordsAreDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Variables["offset"].(float64) == 0 {
			w.Write([]byte(pageJSON(
				bookJSON(1, "Good"),
				`{"book":{"id":2,"title":"   "}}`,
				`{"book":null}`,
				`{"book":{"id":"not-a-number","title":"Bad"}}`,
			)))
			return
		}
		w.Write([]byte(pageJSON()))
	}))
	defer server.Close()

	ext, err := newTestClient(t, server, Config{PageSize: 10}).FetchLibrary(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLibrary がエラーを返した: %v", err)
	}
	if len(ext.Books) != 1 {
		t.Errorf("len(Books) = %d, want 1", len(ext.Books))
	}
	if ext.Invalid != 3 {
		t.Errorf("Invalid = %d, want 3", ext.Invalid)
	}
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	for i := 0; i < 5; i++ {
		if _, err := c.Probe(context.Background()); !errors.Is(err, ErrTransport) {
			t.Fatalf("attempt %d: err = %v, want ErrTransport", i, err)
		}
	}
	// 3回目の失敗でオープンし、以降はサーバーに到達しない
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}
