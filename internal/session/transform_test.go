package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/bookhelper/internal/model"
)

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{10 * time.Second, 1},
		{60 * time.Second, 1},
		{61 * time.Second, 2},
		{1200 * time.Second, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DurationMinutes(tt.in), tt.in.String())
	}
}

func TestTransformer_Records(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	start := time.Date(2025, 3, 2, 5, 0, 0, 0, jst)
	sessions := []model.ReadingSession{
		{BookRef: 1, Start: start, End: start.Add(20 * time.Minute), Duration: 1200 * time.Second, MaxPage: 42},
		{BookRef: 99, Start: start, End: start, Duration: time.Second, MaxPage: 1},
	}

	tr := NewTransformer("boox-palma-2")
	tr.newID = func() string { return "fixed-id" }

	records, unmapped := tr.Records(sessions, map[int64]int64{1: 501})

	require.Len(t, records, 1)
	assert.Equal(t, 1, unmapped)

	r := records[0]
	assert.Equal(t, int64(501), r.BookID)
	assert.Equal(t, time.UTC, r.StartTime.Location())
	assert.True(t, r.StartTime.Equal(start))
	assert.Equal(t, 20, r.DurationMinutes)
	assert.Equal(t, 42, r.PagesRead)
	assert.Equal(t, "boox-palma-2", r.Device)
	assert.Equal(t, MediaTypeEbook, r.MediaType)
	assert.Equal(t, DataSourceKOReader, r.DataSource)
	assert.Equal(t, DeviceStatsSource, r.DeviceStatsSource)
	assert.Equal(t, "fixed-id", r.ReadInstanceID)
	assert.Equal(t, 1, r.ReadNumber)
	assert.False(t, r.IsParallelRead)
}

func TestNewTransformer_GeneratesUniqueInstanceIDs(t *testing.T) {
	sessions := []model.ReadingSession{
		{BookRef: 1, Start: base, End: base, Duration: time.Minute},
		{BookRef: 1, Start: base.Add(time.Hour), End: base.Add(time.Hour), Duration: time.Minute},
	}

	records, _ := NewTransformer("dev").Records(sessions, map[int64]int64{1: 7})

	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].ReadInstanceID, records[1].ReadInstanceID)
}
