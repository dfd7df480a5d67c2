// Package resolve はプロバイダレコードと既存書籍の同一性を判定する。
package resolve

import (
	"github.com/hitoshi/bookhelper/internal/fuzzy"
	"github.com/hitoshi/bookhelper/internal/isbn"
	"github.com/hitoshi/bookhelper/internal/model"
)

// Resolver は実行開始時に取得したスナップショットに対して照合する。
// スナップショットは実行中に更新しないため、同じ実行内で新規作成した書籍には一致しない。
type Resolver struct {
	candidates []model.BookCandidate
	fuzzy      []fuzzy.Candidate
	threshold  float64
}

// New はResolverを生成する。thresholdが0以下の場合は fuzzy.DefaultThreshold を使う。
func New(snapshot []model.BookCandidate, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = fuzzy.DefaultThreshold
	}
	r := &Resolver{
		candidates: make([]model.BookCandidate, len(snapshot)),
		fuzzy:      make([]fuzzy.Candidate, len(snapshot)),
		threshold:  threshold,
	}
	for i, c := range snapshot {
		c.ISBN13 = isbn.Normalize(c.ISBN13)
		c.ISBN10 = isbn.Normalize(c.ISBN10)
		r.candidates[i] = c
		r.fuzzy[i] = fuzzy.Candidate{ID: c.BookID, Title: c.Title, Author: c.AuthorName}
	}
	return r
}

// Size はスナップショットの件数を返す。
func (r *Resolver) Size() int {
	return len(r.candidates)
}

// Resolve は ISBN → Hardcover ID → タイトル・著者の近似 の順で照合する。
// 各段階で最初に条件を満たした候補を採用する。
func (r *Resolver) Resolve(in model.ResolveInput) model.Resolution {
	isbn13 := isbn.Normalize(in.ISBN13)
	isbn10 := isbn.Normalize(in.ISBN10)

	if isbn13 != "" || isbn10 != "" {
		for _, c := range r.candidates {
			if (isbn13 != "" && c.ISBN13 == isbn13) || (isbn10 != "" && c.ISBN10 == isbn10) {
				return model.Resolution{BookID: c.BookID, Method: model.MatchISBN}
			}
		}
	}

	if in.HardcoverID > 0 {
		for _, c := range r.candidates {
			if c.HardcoverID != nil && *c.HardcoverID == in.HardcoverID {
				return model.Resolution{BookID: c.BookID, Method: model.MatchProviderID}
			}
		}
	}

	if m, ok := fuzzy.Match(in.Title, in.AuthorName, r.fuzzy, r.threshold); ok {
		return model.Resolution{BookID: m.ID, Method: model.MatchFuzzy, Score: m.Score}
	}

	return model.Resolution{Method: model.MatchNone}
}
