// Package isbn はISBNの正規化と10桁/13桁の相互変換を提供する。
package isbn

import (
	"strings"
	"unicode"
)

// Normalize は空白とハイフンを除去し、大文字化したISBNを返す。
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// To13 はISBN-10を978接頭辞付きのISBN-13に変換する。
// 正規化後に10文字でない、または先頭9文字が数字でない場合は空文字を返す。
func To13(isbn10 string) string {
	n := Normalize(isbn10)
	if len(n) != 10 {
		return ""
	}
	base := "978" + n[:9]
	sum := 0
	for i := 0; i < len(base); i++ {
		d, ok := digit(base[i])
		if !ok {
			return ""
		}
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	check := (10 - sum%10) % 10
	return base + string(rune('0'+check))
}

// To10 は978で始まるISBN-13をISBN-10に変換する。変換できない場合は空文字を返す。
func To10(isbn13 string) string {
	n := Normalize(isbn13)
	if len(n) != 13 || !strings.HasPrefix(n, "978") {
		return ""
	}
	base := n[3:12]
	sum := 0
	for i := 0; i < len(base); i++ {
		d, ok := digit(base[i])
		if !ok {
			return ""
		}
		sum += d * (10 - i)
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return base + "X"
	}
	return base + string(rune('0'+check))
}

func digit(c byte) (int, bool) {
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}
