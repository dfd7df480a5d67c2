package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/bookhelper/internal/model"
)

var base = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func ev(book int64, offset time.Duration, dur time.Duration, page int) model.ReadEvent {
	return model.ReadEvent{BookRef: book, StartTime: base.Add(offset), Duration: dur, Page: page}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil, DefaultGap)

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAggregate_SingleEvent(t *testing.T) {
	got := Aggregate([]model.ReadEvent{ev(1, 0, 45*time.Second, 3)}, DefaultGap)

	require.Len(t, got, 1)
	assert.Equal(t, 45*time.Second, got[0].Duration)
	assert.Equal(t, base, got[0].Start)
	assert.Equal(t, base, got[0].End)
	assert.Equal(t, 3, got[0].MaxPage)
}

// 同一書籍で間隔が閾値以内のイベントは1セッションにまとまる。
func TestAggregate_ExtendsWithinGap(t *testing.T) {
	events := []model.ReadEvent{
		ev(1, 0, 5*time.Minute, 10),
		ev(1, 10*time.Minute, 5*time.Minute, 11),
		ev(1, 20*time.Minute, 10*time.Minute, 12),
	}

	got := Aggregate(events, DefaultGap)

	require.Len(t, got, 1)
	assert.Equal(t, 1200*time.Second, got[0].Duration)
	assert.Equal(t, base.Add(20*time.Minute), got[0].End)
	assert.Equal(t, 12, got[0].MaxPage)
	assert.Equal(t, 3, got[0].EventCount)
	assert.Equal(t, 20, DurationMinutes(got[0].Duration))
}

func TestAggregate_GapExactlyAtThresholdExtends(t *testing.T) {
	events := []model.ReadEvent{
		ev(1, 0, time.Minute, 1),
		ev(1, 30*time.Minute, time.Minute, 2),
	}

	assert.Len(t, Aggregate(events, DefaultGap), 1)
}

func TestAggregate_GapAboveThresholdSplits(t *testing.T) {
	events := []model.ReadEvent{
		ev(1, 0, time.Minute, 1),
		ev(1, 30*time.Minute+time.Second, time.Minute, 2),
	}

	got := Aggregate(events, DefaultGap)

	require.Len(t, got, 2)
	assert.Equal(t, time.Minute, got[0].Duration)
	assert.Equal(t, time.Minute, got[1].Duration)
}

func TestAggregate_BookChangeSplits(t *testing.T) {
	events := []model.ReadEvent{
		ev(1, 0, time.Minute, 5),
		ev(2, time.Minute, time.Minute, 1),
		ev(2, 2*time.Minute, time.Minute, 2),
	}

	got := Aggregate(events, DefaultGap)

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].BookRef)
	assert.Equal(t, int64(2), got[1].BookRef)
	assert.Equal(t, 2*time.Minute, got[1].Duration)
}

// 前のページに戻っても最大ページは減らない。
func TestAggregate_PageRegressionKeepsMax(t *testing.T) {
	events := []model.ReadEvent{
		ev(1, 0, time.Minute, 40),
		ev(1, time.Minute, time.Minute, 12),
	}

	got := Aggregate(events, DefaultGap)

	require.Len(t, got, 1)
	assert.Equal(t, 40, got[0].MaxPage)
}

func TestAggregate_DurationIsSumOfEvents(t *testing.T) {
	events := []model.ReadEvent{
		ev(3, 0, 7*time.Second, 1),
		ev(3, time.Minute, 11*time.Second, 2),
		ev(3, 2*time.Minute, 13*time.Second, 3),
	}

	got := Aggregate(events, DefaultGap)

	require.Len(t, got, 1)
	assert.Equal(t, 31*time.Second, got[0].Duration)
}

func unixEv(book, start, dur int64, page int) model.ReadEvent {
	return model.ReadEvent{
		BookRef:   book,
		StartTime: time.Unix(start, 0).UTC(),
		Duration:  time.Duration(dur) * time.Second,
		Page:      page,
	}
}

// KOReaderの統計DBと同じUNIX秒での入力に対する集約結果。
func TestAggregate_UnixSecondEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []model.ReadEvent
		want   []model.ReadingSession
	}{
		{
			name: "10分後の再開は同じセッション",
			events: []model.ReadEvent{
				unixEv(1, 1000, 600, 10),
				unixEv(1, 1600, 600, 20),
			},
			want: []model.ReadingSession{
				{BookRef: 1, Start: time.Unix(1000, 0).UTC(), End: time.Unix(1600, 0).UTC(), Duration: 1200 * time.Second, MaxPage: 20, EventCount: 2},
			},
		},
		{
			name: "40分後の再開は別セッション",
			events: []model.ReadEvent{
				unixEv(1, 1000, 600, 10),
				unixEv(1, 3400, 600, 20),
			},
			want: []model.ReadingSession{
				{BookRef: 1, Start: time.Unix(1000, 0).UTC(), End: time.Unix(1000, 0).UTC(), Duration: 600 * time.Second, MaxPage: 10, EventCount: 1},
				{BookRef: 1, Start: time.Unix(3400, 0).UTC(), End: time.Unix(3400, 0).UTC(), Duration: 600 * time.Second, MaxPage: 20, EventCount: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.events, DefaultGap)
			assert.Equal(t, tt.want, got)
		})
	}

	got := Aggregate(tests[0].events, DefaultGap)
	require.Len(t, got, 1)
	assert.Equal(t, 20, DurationMinutes(got[0].Duration))
}

// 複数書籍が混在しても、各イベントはちょうど1つのセッションに属し、
// 同じ書籍のセッション同士は時間的に重ならない。
func TestAggregate_PartitionsEventsWithoutOverlap(t *testing.T) {
	tests := []struct {
		name      string
		events    []model.ReadEvent
		wantBooks []int64
	}{
		{
			name: "書籍ごとに1セッション",
			events: []model.ReadEvent{
				unixEv(1, 1000, 60, 1),
				unixEv(1, 1100, 60, 2),
				unixEv(2, 1050, 60, 1),
				unixEv(2, 1200, 60, 2),
				unixEv(3, 5000, 30, 9),
			},
			wantBooks: []int64{1, 2, 3},
		},
		{
			name: "同じ書籍が間隔で分割される",
			events: []model.ReadEvent{
				unixEv(1, 0, 60, 1),
				unixEv(1, 1800, 60, 2),
				unixEv(1, 3601, 60, 3),
				unixEv(2, 100, 60, 1),
				unixEv(2, 10000, 60, 5),
				unixEv(2, 10500, 60, 6),
			},
			wantBooks: []int64{1, 1, 2, 2},
		},
		{
			name: "交互に読んでも書籍単位でまとまる",
			events: []model.ReadEvent{
				unixEv(7, 0, 10, 1),
				unixEv(7, 20, 10, 2),
				unixEv(7, 40, 10, 3),
				unixEv(8, 10, 10, 1),
				unixEv(8, 30, 10, 2),
			},
			wantBooks: []int64{7, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.events, DefaultGap)

			books := make([]int64, len(got))
			for i, s := range got {
				books[i] = s.BookRef
			}
			assert.Equal(t, tt.wantBooks, books)

			total := 0
			for _, s := range got {
				total += s.EventCount
			}
			assert.Equal(t, len(tt.events), total)

			// 各イベントを含むセッションはちょうど1つ
			for _, e := range tt.events {
				owners := 0
				for _, s := range got {
					if s.BookRef == e.BookRef && !e.StartTime.Before(s.Start) && !e.StartTime.After(s.End) {
						owners++
					}
				}
				assert.Equal(t, 1, owners, "event book=%d start=%d", e.BookRef, e.StartTime.Unix())
			}

			for i := range got {
				for j := i + 1; j < len(got); j++ {
					a, b := got[i], got[j]
					if a.BookRef != b.BookRef {
						continue
					}
					overlap := !a.End.Before(b.Start) && !b.End.Before(a.Start)
					assert.False(t, overlap, "sessions %d and %d overlap", i, j)
				}
			}
		})
	}
}
