package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bookhelper/internal/hardcover"
	"github.com/hitoshi/bookhelper/internal/isbn"
	"github.com/hitoshi/bookhelper/internal/metrics"
	"github.com/hitoshi/bookhelper/internal/model"
	"github.com/hitoshi/bookhelper/internal/resolve"
)

// Provider はHardcover APIの抽象。
type Provider interface {
	Probe(ctx context.Context) (*hardcover.User, error)
	FetchLibrary(ctx context.Context, userID int64) (*hardcover.Extraction, error)
}

// Catalog は照合用スナップショットの取得元。
type Catalog interface {
	Snapshot(ctx context.Context) ([]model.BookCandidate, error)
}

// BookWriter は照合済みレコードの書き込み先。library.Service が実装する。
type BookWriter interface {
	DryRun() bool
	UpsertAuthor(ctx context.Context, c model.Contribution) (int64, error)
	UpsertPublisher(ctx context.Context, p model.PublisherRef) (int64, error)
	BuildBook(hc *model.HardcoverBook, isbn13, isbn10 string, authorID, publisherID int64) *model.BookUpsert
	UpsertBook(ctx context.Context, book *model.BookUpsert, res model.Resolution) (model.BookWriteResult, error)
}

// EnrichConfig は補完処理の設定。
type EnrichConfig struct {
	// UserID が0より大きい場合、疎通確認で得たユーザーIDの代わりに使う。
	UserID         int64
	FuzzyThreshold float64
}

// Enricher はHardcoverのライブラリで既存の蔵書を補完する。
type Enricher struct {
	provider  Provider
	catalog   Catalog
	writer    BookWriter
	recorder  RunRecorder
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       EnrichConfig
	now       func() time.Time
}

// NewEnricher はEnricherを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewEnricher(
	provider Provider,
	catalog Catalog,
	writer BookWriter,
	recorder RunRecorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg EnrichConfig,
) *Enricher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Enricher{
		provider:  provider,
		catalog:   catalog,
		writer:    writer,
		recorder:  recorder,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run は補完処理を1回実行し、集計値を返す。
// バッチ全体を中断した場合は集計値とともに model.FatalError を返す。
func (e *Enricher) Run(ctx context.Context) (*model.EnrichStats, error) {
	stats := &model.EnrichStats{}
	rl := &runLog{
		kind:      model.RunKindEnrich,
		dryRun:    e.writer.DryRun(),
		startedAt: e.now(),
		recorder:  e.recorder,
		collector: e.collector,
		logger:    e.logger,
		now:       e.now,
	}

	e.logger.Info("Hardcover補完を開始します", slog.Bool("dry_run", rl.dryRun))

	if err := e.run(ctx, rl, stats); err != nil {
		e.logger.Error("Hardcover補完を中断しました", slog.String("error", err.Error()))
		rl.finish(ctx, model.RunStatusFailed, stats, err)
		return stats, err
	}

	status := model.RunStatusSucceeded
	if stats.ExtractionIncomplete {
		status = model.RunStatusIncomplete
	}
	rl.finish(ctx, status, stats, nil)
	return stats, nil
}

func (e *Enricher) run(ctx context.Context, rl *runLog, stats *model.EnrichStats) error {
	user, err := e.provider.Probe(ctx)
	if err != nil {
		return model.NewFatalError("probe", err)
	}
	userID := user.ID
	if e.cfg.UserID > 0 {
		userID = e.cfg.UserID
	}
	if userID <= 0 {
		return model.NewFatalError("probe", errors.New("HardcoverのユーザーIDを特定できません。HARDCOVER_USER_IDを設定してください"))
	}
	e.logger.Info("Hardcover APIに接続しました",
		slog.Int64("user_id", userID),
		slog.String("username", user.Username),
	)
	rl.transition(StateConnected)

	ext, err := e.provider.FetchLibrary(ctx, userID)
	switch {
	case errors.Is(err, model.ErrExtractionIncomplete):
		e.logger.Warn("取得済みの書籍のみで処理を続行します", slog.String("error", err.Error()))
	case err != nil:
		return model.NewFatalError("extract", err)
	}
	if ext == nil {
		ext = &hardcover.Extraction{}
	}
	stats.ExtractionIncomplete = ext.Incomplete || err != nil
	stats.Total = len(ext.Books) + ext.Invalid
	stats.Skipped = ext.Invalid
	if ext.Truncated {
		e.logger.Warn("ライブラリの一部のみ取得しました", slog.Int("books", len(ext.Books)))
	}
	rl.transition(StateExtracted)

	snapshot, err := e.catalog.Snapshot(ctx)
	if err != nil {
		return model.NewFatalError("snapshot", err)
	}
	resolver := resolve.New(snapshot, e.cfg.FuzzyThreshold)
	e.logger.Info("照合を開始します",
		slog.Int("books", len(ext.Books)),
		slog.Int("catalog_size", resolver.Size()),
	)
	rl.transition(StateResolving)

	for i := range ext.Books {
		if err := ctx.Err(); err != nil {
			return model.NewFatalError("resolve", err)
		}
		hc := &ext.Books[i]
		if err := e.processRecord(ctx, hc, resolver, stats); err != nil {
			e.countRecordError(err, stats)
		}
	}

	rl.transition(StateReported)
	e.logger.Info("Hardcover補完が完了しました",
		slog.Int("total", stats.Total),
		slog.Int("matched_by_isbn", stats.MatchedByISBN),
		slog.Int("matched_by_provider_id", stats.MatchedByProviderID),
		slog.Int("matched_by_fuzzy", stats.MatchedByFuzzy),
		slog.Int("inserted", stats.Inserted),
		slog.Int("enriched", stats.Enriched),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Bool("extraction_incomplete", stats.ExtractionIncomplete),
	)
	return nil
}

// processRecord は1件の書籍を照合して書き込む。パニックはRecordErrorに変換する。
func (e *Enricher) processRecord(ctx context.Context, hc *model.HardcoverBook, resolver *resolve.Resolver, stats *model.EnrichStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.NewRecordError(hc.Title, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := hc.Validate(); err != nil {
		return model.NewRecordError(hc.Title, "validate", err)
	}

	editions := make([]isbn.EditionNumbers, 0, len(hc.Editions))
	for _, ed := range hc.Editions {
		editions = append(editions, isbn.EditionNumbers{ISBN13: ed.ISBN13, ISBN10: ed.ISBN10})
	}
	isbn13, isbn10 := isbn.ExtractPair(hc.ISBNs, editions)

	in := model.ResolveInput{
		Title:       hc.Title,
		ISBN13:      isbn13,
		ISBN10:      isbn10,
		HardcoverID: hc.ID,
	}
	author := hc.PrimaryAuthor()
	if author != nil {
		in.AuthorName = author.Name
	}
	res := resolver.Resolve(in)
	stats.RecordMatch(res.Method)
	e.collector.RecordMatch(string(res.Method))

	var authorID, publisherID int64
	if author != nil {
		id, err := e.writer.UpsertAuthor(ctx, *author)
		if err != nil {
			stats.AuthorFailures++
			e.collector.RecordRecordError("author")
			e.logger.Warn("著者の書き込みに失敗したため著者なしで続行します",
				slog.String("title", hc.Title),
				slog.String("author", author.Name),
				slog.String("error", err.Error()),
			)
		} else {
			stats.AuthorsUpserted++
			authorID = id
		}
	}
	if pub := hc.PrimaryPublisher(); pub != nil {
		id, err := e.writer.UpsertPublisher(ctx, *pub)
		if err != nil {
			stats.PublisherFailures++
			e.collector.RecordRecordError("publisher")
			e.logger.Warn("出版社の書き込みに失敗したため出版社なしで続行します",
				slog.String("title", hc.Title),
				slog.String("publisher", pub.Name),
				slog.String("error", err.Error()),
			)
		} else {
			stats.PublishersUpserted++
			publisherID = id
		}
	}

	book := e.writer.BuildBook(hc, isbn13, isbn10, authorID, publisherID)
	result, err := e.writer.UpsertBook(ctx, book, res)
	if err != nil {
		return model.NewRecordError(hc.Title, "book", err)
	}

	switch result.Action {
	case model.BookActionInserted:
		stats.Inserted++
	case model.BookActionEnriched:
		stats.Enriched++
	}
	e.collector.RecordBookWrite(string(result.Action))
	e.logger.Debug("書籍を書き込みました",
		slog.String("title", hc.Title),
		slog.Int64("book_id", result.BookID),
		slog.String("action", string(result.Action)),
		slog.String("method", string(res.Method)),
		slog.Float64("score", res.Score),
	)
	return nil
}

// countRecordError はレコード単位のエラーをログに残して集計する。
// 検証失敗と書籍の書き込み失敗はスキップ、それ以外は想定外のエラーとして数える。
func (e *Enricher) countRecordError(err error, stats *model.EnrichStats) {
	step := "unknown"
	title := ""
	var re *model.RecordError
	if errors.As(err, &re) {
		step = re.Step
		title = re.Title
	}

	switch step {
	case "validate", "book":
		stats.Skipped++
	default:
		stats.Errors++
	}
	e.collector.RecordRecordError(step)
	e.logger.Error("書籍の処理に失敗しました",
		slog.String("title", title),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}
