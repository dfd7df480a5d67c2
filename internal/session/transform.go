package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookhelper/internal/model"
)

// 永続化時に付与する固定値
const (
	MediaTypeEbook     = "ebook"
	DataSourceKOReader = "koreader"
	DeviceStatsSource  = "statistics.sqlite3"
)

// Transformer は集約済みセッションを永続化用レコードに変換する。
type Transformer struct {
	device string
	newID  func() string
}

// NewTransformer はTransformerを生成する。
func NewTransformer(device string) *Transformer {
	return &Transformer{
		device: device,
		newID:  func() string { return uuid.New().String() },
	}
}

// DurationMinutes は秒数を分に切り上げる。最小値は1分。
func DurationMinutes(d time.Duration) int {
	secs := int64(d / time.Second)
	mins := int((secs + 59) / 60)
	if mins < 1 {
		return 1
	}
	return mins
}

// Records はセッションをレコードに変換する。
// bookIDsは端末側の書籍IDから保存済み書籍IDへの対応表で、対応がないセッションは
// 変換せずunmappedとして件数を返す。
func (t *Transformer) Records(sessions []model.ReadingSession, bookIDs map[int64]int64) (records []model.SessionRecord, unmapped int) {
	records = make([]model.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		bookID, ok := bookIDs[s.BookRef]
		if !ok {
			unmapped++
			continue
		}
		records = append(records, model.SessionRecord{
			BookID:            bookID,
			StartTime:         s.Start.UTC(),
			EndTime:           s.End.UTC(),
			DurationMinutes:   DurationMinutes(s.Duration),
			PagesRead:         s.MaxPage,
			Device:            t.device,
			MediaType:         MediaTypeEbook,
			DataSource:        DataSourceKOReader,
			DeviceStatsSource: DeviceStatsSource,
			ReadInstanceID:    t.newID(),
			ReadNumber:        1,
			IsParallelRead:    false,
		})
	}
	return records, unmapped
}
