package model

import (
	"fmt"
	"strings"
)

// HardcoverBook はHardcover APIから取得した書籍レコードを表す。
// 抽出境界で Validate を通過したものだけがパイプラインに渡される。
type HardcoverBook struct {
	ID            int64
	Title         string
	Subtitle      string
	Description   string
	Rating        *float64
	Pages         *int
	ReleaseDate   string // YYYY-MM-DD
	ISBNs         []string
	Slug          string
	CoverURL      string
	Contributions []Contribution
	Editions      []Edition
}

// Contribution は書籍への著者の関与を表す。
type Contribution struct {
	AuthorID int64
	Name     string
}

// Edition は書籍の版を表す。
type Edition struct {
	ID        int64
	ISBN10    string
	ISBN13    string
	Publisher *PublisherRef
}

// PublisherRef は版に紐づく出版社の参照。
type PublisherRef struct {
	ID   int64
	Name string
}

// Validate は必須フィールドを検証する。
func (b *HardcoverBook) Validate() error {
	if b.ID <= 0 {
		return fmt.Errorf("%w: missing book id", ErrInvalidRecord)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: book %d has no title", ErrInvalidRecord, b.ID)
	}
	return nil
}

// PrimaryAuthor は最初の名前付き著者を返す。見つからない場合はnilを返す。
func (b *HardcoverBook) PrimaryAuthor() *Contribution {
	for i := range b.Contributions {
		if strings.TrimSpace(b.Contributions[i].Name) != "" {
			return &b.Contributions[i]
		}
	}
	return nil
}

// PrimaryPublisher は版を順に見て最初に見つかった出版社を返す。見つからない場合はnilを返す。
func (b *HardcoverBook) PrimaryPublisher() *PublisherRef {
	for _, e := range b.Editions {
		if e.Publisher != nil && strings.TrimSpace(e.Publisher.Name) != "" {
			return e.Publisher
		}
	}
	return nil
}
