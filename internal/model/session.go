package model

import "time"

// ReadEvent はKOReaderのpage_stat_dataの1行（1ページの閲覧）を表す。
type ReadEvent struct {
	BookRef    int64 // KOReader側のbook.id
	Page       int
	StartTime  time.Time
	Duration   time.Duration
	TotalPages int
}

// ReadingSession は連続した閲覧イベントをまとめた読書セッションを表す。
type ReadingSession struct {
	BookRef    int64
	Start      time.Time
	End        time.Time // 最後に取り込んだイベントの開始時刻
	Duration   time.Duration
	MaxPage    int
	EventCount int
}

// SessionRecord は永続化する読書セッションを表す。
// (BookID, StartTime, Device) で一意。
type SessionRecord struct {
	BookID            int64
	StartTime         time.Time
	EndTime           time.Time
	DurationMinutes   int
	PagesRead         int
	Device            string
	MediaType         string
	DataSource        string
	DeviceStatsSource string
	ReadInstanceID    string
	ReadNumber        int
	IsParallelRead    bool
}
