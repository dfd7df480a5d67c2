package hardcover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/bookhelper/internal/model"
)

// maxConsecutiveBadPages は形式不正のページが続いた場合に抽出を打ち切る件数。
const maxConsecutiveBadPages = 3

const libraryQuery = `
query GetUserBooks($user_id: Int!, $limit: Int!, $offset: Int!) {
  user_books(
    where: {user_id: {_eq: $user_id}}
    distinct_on: book_id
    limit: $limit
    offset: $offset
  ) {
    book {
      id
      title
      subtitle
      description
      rating
      pages
      release_date
      isbns
      slug
      image { url }
      contributions { author { id name } }
      editions { id isbn_10 isbn_13 publisher { id name } }
    }
  }
}`

// Extraction はライブラリ抽出の結果。
type Extraction struct {
	Books      []model.HardcoverBook
	Pages      int
	Invalid    int  // 形式不正で破棄したレコード数
	Incomplete bool // 通信失敗などで途中終了した
	Truncated  bool // オフセット上限に達した
}

type userBookNode struct {
	Book *bookNode `json:"book"`
}

type imageNode struct {
	URL *string `json:"url"`
}

type bookNode struct {
	ID            *int64          `json:"id"`
	Title         *string         `json:"title"`
	Subtitle      *string         `json:"subtitle"`
	Description   *string         `json:"description"`
	Rating        *float64        `json:"rating"`
	Pages         *int            `json:"pages"`
	ReleaseDate   *string         `json:"release_date"`
	ISBNs         json.RawMessage `json:"isbns"`
	Slug          *string         `json:"slug"`
	Image         *imageNode      `json:"image"`
	Contributions []struct {
		Author *struct {
			ID   *int64  `json:"id"`
			Name *string `json:"name"`
		} `json:"author"`
	} `json:"contributions"`
	Editions []struct {
		ID        *int64  `json:"id"`
		ISBN10    *string `json:"isbn_10"`
		ISBN13    *string `json:"isbn_13"`
		Publisher *struct {
			ID   *int64  `json:"id"`
			Name *string `json:"name"`
		} `json:"publisher"`
	} `json:"editions"`
}

// FetchLibrary はユーザーのライブラリを全ページ取得する。
//
// 空ページまたはオフセット上限で終了する。通信失敗は抽出ループのみを打ち切り、
// それまでに取得した書籍とともに model.ErrExtractionIncomplete を返す。
// GraphQLエラーや形式不正のページは破棄して次のオフセットへ進むが、
// 連続した場合は同様に打ち切る。再試行はしない。
func (c *Client) FetchLibrary(ctx context.Context, userID int64) (*Extraction, error) {
	ext := &Extraction{}
	badPages := 0

	for offset := 0; ; offset += c.cfg.PageSize {
		if offset > c.cfg.MaxOffset {
			ext.Truncated = true
			c.logger.Warn("オフセット上限に達したため取得を終了します",
				slog.Int("offset", offset),
				slog.Int("max_offset", c.cfg.MaxOffset),
			)
			return ext, nil
		}

		nodes, err := c.fetchPage(ctx, userID, offset)
		if err != nil {
			if errors.Is(err, ErrTransport) || ctx.Err() != nil {
				ext.Incomplete = true
				c.logger.Error("ライブラリの取得を中断しました",
					slog.Int("offset", offset),
					slog.Int("books", len(ext.Books)),
					slog.String("error", err.Error()),
				)
				return ext, fmt.Errorf("%w: %v", model.ErrExtractionIncomplete, err)
			}

			badPages++
			c.logger.Warn("不正なページを破棄しました",
				slog.Int("offset", offset),
				slog.String("error", err.Error()),
			)
			if badPages >= maxConsecutiveBadPages {
				ext.Incomplete = true
				return ext, fmt.Errorf("%w: %d pages in a row were rejected: %v",
					model.ErrExtractionIncomplete, badPages, err)
			}
			continue
		}
		badPages = 0

		if len(nodes) == 0 {
			break
		}
		ext.Pages++

		for _, raw := range nodes {
			book, err := decodeBook(raw)
			if err != nil {
				ext.Invalid++
				c.logger.Warn("不正なレコードを破棄しました",
					slog.Int("offset", offset),
					slog.String("error", err.Error()),
				)
				continue
			}
			ext.Books = append(ext.Books, *book)
		}

		c.logger.Debug("ライブラリのページを取得しました",
			slog.Int("offset", offset),
			slog.Int("records", len(nodes)),
		)
	}

	c.logger.Info("ライブラリを取得しました",
		slog.Int("books", len(ext.Books)),
		slog.Int("pages", ext.Pages),
		slog.Int("invalid", ext.Invalid),
	)
	return ext, nil
}

// fetchPage は1ページ分のuser_booksを生のJSONのまま返す。
func (c *Client) fetchPage(ctx context.Context, userID int64, offset int) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	data, err := c.execute(ctx, "library", libraryQuery, map[string]any{
		"user_id": userID,
		"limit":   c.cfg.PageSize,
		"offset":  offset,
	})
	if err != nil {
		return nil, err
	}

	var page struct {
		UserBooks *[]json.RawMessage `json:"user_books"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("%w: user_booksのパースに失敗しました: %v", ErrResponse, err)
	}
	if page.UserBooks == nil {
		return nil, fmt.Errorf("%w: user_booksがありません", ErrResponse)
	}
	return *page.UserBooks, nil
}

// decodeBook は1レコードを型付きの書籍に変換し、必須項目を検証する。
func decodeBook(raw json.RawMessage) (*model.HardcoverBook, error) {
	var node userBookNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRecord, err)
	}
	if node.Book == nil {
		return nil, fmt.Errorf("%w: bookがありません", model.ErrInvalidRecord)
	}
	n := node.Book

	b := &model.HardcoverBook{
		ID:          deref(n.ID),
		Title:       deref(n.Title),
		Subtitle:    deref(n.Subtitle),
		Description: deref(n.Description),
		Rating:      n.Rating,
		Pages:       n.Pages,
		ReleaseDate: deref(n.ReleaseDate),
		Slug:        deref(n.Slug),
		ISBNs:       decodeISBNs(n.ISBNs),
	}
	if n.Image != nil {
		b.CoverURL = deref(n.Image.URL)
	}
	for _, ct := range n.Contributions {
		if ct.Author == nil {
			continue
		}
		b.Contributions = append(b.Contributions, model.Contribution{
			AuthorID: deref(ct.Author.ID),
			Name:     deref(ct.Author.Name),
		})
	}
	for _, e := range n.Editions {
		ed := model.Edition{
			ID:     deref(e.ID),
			ISBN10: deref(e.ISBN10),
			ISBN13: deref(e.ISBN13),
		}
		if e.Publisher != nil {
			ed.Publisher = &model.PublisherRef{
				ID:   deref(e.Publisher.ID),
				Name: deref(e.Publisher.Name),
			}
		}
		b.Editions = append(b.Editions, ed)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// decodeISBNs は文字列以外の要素を読み飛ばしてISBN一覧を取り出す。
func decodeISBNs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
