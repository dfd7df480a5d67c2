package isbn

// EditionNumbers は版ごとに記録されたISBNの組。
type EditionNumbers struct {
	ISBN13 string
	ISBN10 string
}

// ExtractPair は書籍レコードからISBN-13とISBN-10の組を取り出す。
//
// まずフラットなISBN一覧を正規化後の桁数(13/10)で分類し、次に未取得の種類だけ
// 版の一覧から補う。どちらも最初に見つかった値を採用する。
// ISBN-10しか得られなかった場合はISBN-13をそこから導出する。
// 見つからない種類は空文字で返す。
func ExtractPair(numbers []string, editions []EditionNumbers) (isbn13, isbn10 string) {
	for _, raw := range numbers {
		n := Normalize(raw)
		switch {
		case len(n) == 13 && isbn13 == "":
			isbn13 = n
		case len(n) == 10 && isbn10 == "":
			isbn10 = n
		}
	}

	for _, e := range editions {
		if isbn13 != "" && isbn10 != "" {
			break
		}
		if isbn13 == "" {
			if n := Normalize(e.ISBN13); len(n) == 13 {
				isbn13 = n
			}
		}
		if isbn10 == "" {
			if n := Normalize(e.ISBN10); len(n) == 10 {
				isbn10 = n
			}
		}
	}

	if isbn13 == "" && isbn10 != "" {
		isbn13 = To13(isbn10)
	}
	return isbn13, isbn10
}
