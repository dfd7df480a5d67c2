package model

import (
	"encoding/json"
	"time"
)

// RunKind はバッチ実行の種別を表す。
type RunKind string

const (
	RunKindETL    RunKind = "etl"
	RunKindEnrich RunKind = "enrich"
)

// RunStatus はバッチ実行の結果を表す。
type RunStatus string

const (
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusIncomplete RunStatus = "incomplete"
	RunStatusFailed     RunStatus = "failed"
)

// SyncRun はsync_runsテーブルに記録するバッチ実行履歴を表す。
type SyncRun struct {
	ID         string
	Kind       RunKind
	Status     RunStatus
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      json.RawMessage
	Error      string
}

// EnrichStats はHardcover補完の集計値。呼び出し側が所有し、実行ごとに新しく作る。
type EnrichStats struct {
	Total                int  `json:"total"`
	MatchedByISBN        int  `json:"matched_by_isbn"`
	MatchedByProviderID  int  `json:"matched_by_provider_id"`
	MatchedByFuzzy       int  `json:"matched_by_fuzzy"`
	Inserted             int  `json:"inserted"`
	Enriched             int  `json:"enriched"`
	Skipped              int  `json:"skipped"`
	Errors               int  `json:"errors"`
	AuthorsUpserted      int  `json:"authors_upserted"`
	PublishersUpserted   int  `json:"publishers_upserted"`
	AuthorFailures       int  `json:"author_failures"`
	PublisherFailures    int  `json:"publisher_failures"`
	ExtractionIncomplete bool `json:"extraction_incomplete"`
}

// RecordMatch は照合方法ごとのカウンタを加算する。
func (s *EnrichStats) RecordMatch(m MatchMethod) {
	switch m {
	case MatchISBN:
		s.MatchedByISBN++
	case MatchProviderID:
		s.MatchedByProviderID++
	case MatchFuzzy:
		s.MatchedByFuzzy++
	}
}

// ETLStats はKOReader取り込みの集計値。
type ETLStats struct {
	BooksRead         int `json:"books_read"`
	BooksInserted     int `json:"books_inserted"`
	EventsRead        int `json:"events_read"`
	SessionsBuilt     int `json:"sessions_built"`
	SessionsUnmapped  int `json:"sessions_unmapped"`
	SessionsInserted  int `json:"sessions_inserted"`
	SessionsDuplicate int `json:"sessions_duplicate"`
	Errors            int `json:"errors"`
}

// RecordCounts は実行前後に取得するテーブル件数。
type RecordCounts struct {
	Books           int64 `json:"books"`
	Authors         int64 `json:"authors"`
	Publishers      int64 `json:"publishers"`
	ReadingSessions int64 `json:"reading_sessions"`
}
