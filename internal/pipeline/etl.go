package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bookhelper/internal/metrics"
	"github.com/hitoshi/bookhelper/internal/model"
	"github.com/hitoshi/bookhelper/internal/session"
)

// DeviceSource はKOReaderの統計DBの抽象。koreader.Reader が実装する。
type DeviceSource interface {
	VerifySchema(ctx context.Context) error
	Books(ctx context.Context) ([]model.DeviceBook, error)
	ReadEvents(ctx context.Context) ([]model.ReadEvent, error)
}

// DeviceWriter は端末データの書き込み先。library.Service が実装する。
type DeviceWriter interface {
	DryRun() bool
	InsertDeviceBook(ctx context.Context, b *model.DeviceBook) (bool, error)
	BookIDsByFileHash(ctx context.Context, hashes []string) (map[string]int64, error)
	InsertSession(ctx context.Context, rec *model.SessionRecord) (bool, error)
}

// Counter は実行前後のテーブル件数の取得元。
type Counter interface {
	Counts(ctx context.Context) (*model.RecordCounts, error)
}

// ETLConfig は取り込み処理の設定。
type ETLConfig struct {
	Device     string
	SessionGap time.Duration
}

// ETL はKOReaderの統計DBから書籍と読書セッションを取り込む。
type ETL struct {
	source      DeviceSource
	writer      DeviceWriter
	counter     Counter
	recorder    RunRecorder
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	transformer *session.Transformer
	gap         time.Duration
	now         func() time.Time
}

// NewETL はETLを生成する。
func NewETL(
	source DeviceSource,
	writer DeviceWriter,
	counter Counter,
	recorder RunRecorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg ETLConfig,
) *ETL {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = session.DefaultGap
	}
	return &ETL{
		source:      source,
		writer:      writer,
		counter:     counter,
		recorder:    recorder,
		collector:   collector,
		logger:      logger,
		transformer: session.NewTransformer(cfg.Device),
		gap:         cfg.SessionGap,
		now:         time.Now,
	}
}

// Run は取り込みを1回実行し、集計値を返す。
func (e *ETL) Run(ctx context.Context) (*model.ETLStats, error) {
	stats := &model.ETLStats{}
	rl := &runLog{
		kind:      model.RunKindETL,
		dryRun:    e.writer.DryRun(),
		startedAt: e.now(),
		recorder:  e.recorder,
		collector: e.collector,
		logger:    e.logger,
		now:       e.now,
	}

	e.logger.Info("KOReader取り込みを開始します", slog.Bool("dry_run", rl.dryRun))

	if err := e.run(ctx, rl, stats); err != nil {
		e.logger.Error("KOReader取り込みを中断しました", slog.String("error", err.Error()))
		rl.finish(ctx, model.RunStatusFailed, stats, err)
		return stats, err
	}
	rl.finish(ctx, model.RunStatusSucceeded, stats, nil)
	return stats, nil
}

func (e *ETL) run(ctx context.Context, rl *runLog, stats *model.ETLStats) error {
	if err := e.source.VerifySchema(ctx); err != nil {
		return model.NewFatalError("verify", err)
	}
	before, err := e.counter.Counts(ctx)
	if err != nil {
		return model.NewFatalError("connect", err)
	}
	e.logCounts("取り込み前の件数", before)
	rl.transition(StateConnected)

	books, err := e.source.Books(ctx)
	if err != nil {
		return model.NewFatalError("extract", err)
	}
	events, err := e.source.ReadEvents(ctx)
	if err != nil {
		return model.NewFatalError("extract", err)
	}
	stats.BooksRead = len(books)
	stats.EventsRead = len(events)
	rl.transition(StateExtracted)

	hashes := make([]string, 0, len(books))
	for i := range books {
		b := &books[i]
		inserted, err := e.writer.InsertDeviceBook(ctx, b)
		if err != nil {
			stats.Errors++
			e.collector.RecordRecordError("device_book")
			e.logger.Warn("端末書籍の取り込みに失敗しました",
				slog.String("title", b.Title),
				slog.Int64("device_book_id", b.DeviceID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if inserted {
			stats.BooksInserted++
		}
		hashes = append(hashes, b.MD5)
	}

	stored, err := e.writer.BookIDsByFileHash(ctx, hashes)
	if err != nil {
		return model.NewFatalError("map", err)
	}
	bookIDs := make(map[int64]int64, len(books))
	for _, b := range books {
		if b.MD5 == "" {
			continue
		}
		if id, ok := stored[b.MD5]; ok {
			bookIDs[b.DeviceID] = id
		} else if rl.dryRun {
			// 未作成の書籍はドライランでは仮IDで対応づける
			bookIDs[b.DeviceID] = model.PlaceholderID
		}
	}
	rl.transition(StateResolving)

	sessions := session.Aggregate(events, e.gap)
	stats.SessionsBuilt = len(sessions)
	records, unmapped := e.transformer.Records(sessions, bookIDs)
	stats.SessionsUnmapped = unmapped
	if unmapped > 0 {
		e.logger.Warn("書籍に対応づけられないセッションがあります", slog.Int("count", unmapped))
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return model.NewFatalError("load", err)
		}
		rec := &records[i]
		inserted, err := e.writer.InsertSession(ctx, rec)
		if err != nil {
			stats.Errors++
			e.collector.RecordRecordError("session")
			e.logger.Warn("読書セッションの取り込みに失敗しました",
				slog.Int64("book_id", rec.BookID),
				slog.Time("start_time", rec.StartTime),
				slog.String("error", err.Error()),
			)
			continue
		}
		if inserted {
			stats.SessionsInserted++
		} else {
			stats.SessionsDuplicate++
		}
	}
	e.collector.RecordSessionsInserted(stats.SessionsInserted)

	rl.transition(StateReported)
	if after, err := e.counter.Counts(ctx); err != nil {
		e.logger.Warn("取り込み後の件数取得に失敗しました", slog.String("error", err.Error()))
	} else {
		e.logCounts("取り込み後の件数", after)
	}
	e.logger.Info("KOReader取り込みが完了しました",
		slog.Int("books_read", stats.BooksRead),
		slog.Int("books_inserted", stats.BooksInserted),
		slog.Int("events_read", stats.EventsRead),
		slog.Int("sessions_built", stats.SessionsBuilt),
		slog.Int("sessions_inserted", stats.SessionsInserted),
		slog.Int("sessions_duplicate", stats.SessionsDuplicate),
		slog.Int("sessions_unmapped", stats.SessionsUnmapped),
		slog.Int("errors", stats.Errors),
	)
	return nil
}

func (e *ETL) logCounts(msg string, c *model.RecordCounts) {
	e.logger.Info(msg,
		slog.Int64("books", c.Books),
		slog.Int64("authors", c.Authors),
		slog.Int64("publishers", c.Publishers),
		slog.Int64("reading_sessions", c.ReadingSessions),
	)
}
