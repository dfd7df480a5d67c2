// Package fuzzy はタイトル・著者名の近似照合を提供する。
package fuzzy

import (
	"strings"

	"github.com/xrash/smetrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// 重み付け: タイトル60%、著者40%
const (
	TitleWeight  = 0.6
	AuthorWeight = 0.4
)

// DefaultThreshold は照合を採用する既定の最低スコア。
const DefaultThreshold = 0.85

var folder = cases.Fold()

// Candidate は照合対象の既存レコード。
type Candidate struct {
	ID     int64
	Title  string
	Author string
}

// Result は採用された候補とそのスコア。
type Result struct {
	ID    int64
	Score float64
}

func normalize(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Similarity は2つの文字列の類似度を[0,1]で返す。
// 前後の空白を除き、大文字小文字を畳み込んだ上で、文字（rune）単位の挿入・削除のみの
// 編集距離から 2*LCS/(len(a)+len(b)) 相当の比率を求める。どちらかが空なら0を返す。
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(normalize(a)), []rune(normalize(b))
	total := len(ra) + len(rb)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if string(ra) == string(rb) {
		return 1
	}
	return 1 - float64(indelDistance(ra, rb))/float64(total)
}

// indelDistance は置換コスト2（削除+挿入）の編集距離を返す。値は len(a)+len(b)-2*LCS になる。
//
// smetricsはバイト単位で比較するため、両方の文字列に現れる文字を1バイトずつの
// 記号に振り直してから渡す。異なる文字が256種を超える場合は振り直せないので、
// 文字単位で直接計算する。
func indelDistance(a, b []rune) int {
	if ea, eb, ok := encodeRunes(a, b); ok {
		return smetrics.WagnerFischer(ea, eb, 1, 1, 2)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1]
			} else {
				cur[j] = min(prev[j], cur[j-1]) + 1
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// encodeRunes は文字ごとに一意な1バイトを割り当てた文字列の組を返す。
func encodeRunes(a, b []rune) (string, string, bool) {
	codes := make(map[rune]byte)
	encode := func(rs []rune) ([]byte, bool) {
		out := make([]byte, len(rs))
		for i, r := range rs {
			c, ok := codes[r]
			if !ok {
				if len(codes) > 255 {
					return nil, false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out[i] = c
		}
		return out, true
	}

	ea, ok := encode(a)
	if !ok {
		return "", "", false
	}
	eb, ok := encode(b)
	if !ok {
		return "", "", false
	}
	return string(ea), string(eb), true
}

// Score はタイトルと著者の類似度の加重和を返す。
func Score(title, author string, c Candidate) float64 {
	return TitleWeight*Similarity(title, c.Title) + AuthorWeight*Similarity(author, c.Author)
}

// Match は候補の中からスコアが最大かつthreshold以上のものを返す。
// 同点の場合は先に走査した候補を採用する。タイトルか著者が空の場合は照合しない。
func Match(title, author string, candidates []Candidate, threshold float64) (Result, bool) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(author) == "" {
		return Result{}, false
	}

	var best Result
	found := false
	for _, c := range candidates {
		s := Score(title, author, c)
		if s < threshold {
			continue
		}
		if !found || s > best.Score {
			best = Result{ID: c.ID, Score: s}
			found = true
		}
	}
	return best, found
}
