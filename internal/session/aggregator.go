// Package session はKOReaderのページ閲覧イベントを読書セッションに集約する。
package session

import (
	"time"

	"github.com/hitoshi/bookhelper/internal/model"
)

// DefaultGap はセッションを区切る既定の間隔。
const DefaultGap = 30 * time.Minute

// Aggregate は(書籍, 開始時刻)順に並んだイベントをセッションにまとめる。
//
// 書籍が変わるか、現在のセッション終了時刻からイベント開始までの間隔がgapを
// 超えた場合に新しいセッションを開始する。gapちょうどは同じセッションとして扱う。
func Aggregate(events []model.ReadEvent, gap time.Duration) []model.ReadingSession {
	if len(events) == 0 {
		return []model.ReadingSession{}
	}

	var sessions []model.ReadingSession
	var cur *model.ReadingSession

	for _, ev := range events {
		if cur != nil && (ev.BookRef != cur.BookRef || ev.StartTime.Sub(cur.End) > gap) {
			sessions = append(sessions, *cur)
			cur = nil
		}

		if cur == nil {
			cur = &model.ReadingSession{
				BookRef:    ev.BookRef,
				Start:      ev.StartTime,
				End:        ev.StartTime,
				Duration:   ev.Duration,
				MaxPage:    ev.Page,
				EventCount: 1,
			}
			continue
		}

		cur.End = ev.StartTime
		cur.Duration += ev.Duration
		cur.EventCount++
		if ev.Page > cur.MaxPage {
			cur.MaxPage = ev.Page
		}
	}

	return append(sessions, *cur)
}
