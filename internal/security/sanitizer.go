// Package security はプロバイダから取り込む値の安全化を提供する。
//
// 書籍説明文のHTMLサニタイズと、カバー画像URL・APIエンドポイントの
// SSRF対策を含む。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxDescriptionLength はサニタイズ後の説明文の上限（バイト）。
const maxDescriptionLength = 20000

// DescriptionSanitizer は書籍説明文をサニタイズする。
type DescriptionSanitizer interface {
	// Sanitize は段落・改行・リスト・強調のみを残したHTMLを返す。
	// 空白のみの入力には空文字列を返す。
	Sanitize(raw string) string
}

type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerを生成する。
// リンク・画像・script/style/iframeおよびon*属性はすべて除去する。
func NewDescriptionSanitizer() DescriptionSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li", "blockquote",
		"strong", "em", "b", "i",
	)
	return &descriptionSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	out := strings.TrimSpace(s.policy.Sanitize(raw))
	if len(out) > maxDescriptionLength {
		out = truncateUTF8(out, maxDescriptionLength)
	}
	return out
}

// truncateUTF8 はルーンの途中で切らないように先頭nバイト以内に切り詰める。
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
