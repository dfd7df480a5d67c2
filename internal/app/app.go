package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookhelper/internal/config"
	"github.com/hitoshi/bookhelper/internal/database"
	"github.com/hitoshi/bookhelper/internal/handler"
	"github.com/hitoshi/bookhelper/internal/hardcover"
	"github.com/hitoshi/bookhelper/internal/koreader"
	"github.com/hitoshi/bookhelper/internal/library"
	"github.com/hitoshi/bookhelper/internal/logger"
	"github.com/hitoshi/bookhelper/internal/metrics"
	"github.com/hitoshi/bookhelper/internal/middleware"
	"github.com/hitoshi/bookhelper/internal/pipeline"
	"github.com/hitoshi/bookhelper/internal/repository"
	"github.com/hitoshi/bookhelper/internal/security"
	"github.com/hitoshi/bookhelper/internal/worker/cleanup"
	"github.com/hitoshi/bookhelper/internal/worker/schedule"
)

const (
	dbPingTimeout   = 5 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// 返されたio.Closerはログファイルを閉じる。
func Init(w io.Writer, opts *Options) (*config.Config, *slog.Logger, io.Closer, error) {
	// 1. 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w)

	// 2. .envファイルと環境変数から設定を読み込む
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってロガーを作り直す
	level := logger.ParseLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log, closer, err := logger.Open(logger.Options{Level: level, File: cfg.LogFile, Console: w})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(log)

	return cfg, log, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。バッチの致命的エラーの場合のみエラーを返す。
func Run(w io.Writer, args []string) error {
	opts, err := ParseArgs(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if opts.Command == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, closer, err := Init(w, opts)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	log.Info("アプリケーションを開始します",
		slog.String("command", string(opts.Command)),
		slog.Bool("dry_run", opts.DryRun),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if opts.Command == CommandMigrate {
		return runMigrate(cfg, log)
	}

	ctx, stop := signalContext(log)
	defer stop()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	rt := newRuntime(cfg, db, log, metrics.Nop{}, opts.DryRun)

	switch opts.Command {
	case CommandETL:
		return rt.runETL(ctx)
	case CommandEnrich:
		return rt.runEnrich(ctx)
	case CommandWorker:
		return runWorker(ctx, cfg, db, log, opts.DryRun)
	default:
		return rt.runSync(ctx)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるcontextを返す。
func signalContext(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case s := <-sig:
			log.Info("シグナルを受信しました。停止します", slog.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

// openDatabase はDB接続を開き、疎通とスキーマの適用状況を確認する。
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}

	version, err := database.CheckVersion(cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("データベースに接続しました", slog.Uint64("schema_version", uint64(version)))
	return db, nil
}

// runtime はバッチ実行に必要な依存関係をまとめる。
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector metrics.MetricsCollector
	guard     *security.URLGuard
	library   *library.Service
	books     *repository.PostgresBookRepo
	counts    *repository.PostgresCountRepo
	runs      *repository.PostgresSyncRunRepo
}

func newRuntime(cfg *config.Config, db *sql.DB, log *slog.Logger, collector metrics.MetricsCollector, dryRun bool) *runtime {
	books := repository.NewPostgresBookRepo(db)
	guard := security.NewURLGuard()

	svc := library.NewService(
		library.Repositories{
			Authors:    repository.NewPostgresAuthorRepo(db),
			Publishers: repository.NewPostgresPublisherRepo(db),
			Books:      books,
			Sessions:   repository.NewPostgresReadingSessionRepo(db),
		},
		security.NewDescriptionSanitizer(),
		guard,
		log,
		dryRun,
	)

	return &runtime{
		cfg:       cfg,
		logger:    log,
		collector: collector,
		guard:     guard,
		library:   svc,
		books:     books,
		counts:    repository.NewPostgresCountRepo(db),
		runs:      repository.NewPostgresSyncRunRepo(db),
	}
}

// runSync はKOReader取り込み（設定時のみ）の後にHardcover補完を実行する。
func (rt *runtime) runSync(ctx context.Context) error {
	if rt.cfg.KOReaderBackup != "" {
		if err := rt.runETL(ctx); err != nil {
			return err
		}
	} else {
		rt.logger.Info("KOREADER_BACKUPが未設定のため取り込みをスキップします")
	}
	return rt.runEnrich(ctx)
}

// runETL はKOReaderの統計DBを取り込む。
func (rt *runtime) runETL(ctx context.Context) error {
	if err := rt.cfg.RequireKOReader(); err != nil {
		return err
	}

	reader, err := koreader.Open(rt.cfg.KOReaderBackup)
	if err != nil {
		return err
	}
	defer reader.Close()

	etl := pipeline.NewETL(reader, rt.library, rt.counts, rt.runs, rt.collector, rt.logger, pipeline.ETLConfig{
		Device:     rt.cfg.DeviceID,
		SessionGap: rt.cfg.SessionGap,
	})
	if _, err := etl.Run(ctx); err != nil {
		return fmt.Errorf("etl failed: %w", err)
	}
	return nil
}

// runEnrich はHardcoverのライブラリで蔵書を補完する。
func (rt *runtime) runEnrich(ctx context.Context) error {
	if err := rt.cfg.RequireHardcover(); err != nil {
		return err
	}

	client := hardcover.NewClient(
		rt.guard.NewSafeClient(rt.cfg.HardcoverFetchTimeout),
		rt.logger,
		rt.collector,
		hardcover.Config{
			Endpoint:          rt.cfg.HardcoverEndpoint,
			APIKey:            rt.cfg.HardcoverAPIKey,
			ProbeTimeout:      rt.cfg.HardcoverProbeTimeout,
			FetchTimeout:      rt.cfg.HardcoverFetchTimeout,
			PageSize:          rt.cfg.HardcoverPageSize,
			MaxOffset:         rt.cfg.HardcoverMaxOffset,
			RequestsPerMinute: rt.cfg.HardcoverRateLimit,
		},
	)

	enricher := pipeline.NewEnricher(client, rt.books, rt.library, rt.runs, rt.collector, rt.logger, pipeline.EnrichConfig{
		UserID:         rt.cfg.HardcoverUserID,
		FuzzyThreshold: rt.cfg.FuzzyMatchThreshold,
	})
	if _, err := enricher.Run(ctx); err != nil {
		return fmt.Errorf("enrich failed: %w", err)
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// 同期ジョブとクリーンアップジョブを定期実行し、状態確認用のHTTPサーバーを公開する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runWorker(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger, dryRun bool) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	rt := newRuntime(cfg, db, log, collector, dryRun)

	// 1. ジョブの登録
	scheduler := schedule.NewScheduler(log)
	scheduler.Add(schedule.Func("sync", rt.runSync), cfg.SyncInterval)

	cleanupJob := cleanup.NewCleanupJob(rt.runs, log)
	cleanupJob.RetentionDays = cfg.RunRetentionDays
	scheduler.Add(cleanupJob, cleanupInterval)

	// 2. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Runs:          rt.runs,
		HealthChecker: db,
		Metrics:       metrics.Handler(reg),
		RateLimiter:   rateLimiter,
		Logger:        log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("ワーカーを開始します",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("retention_days", cfg.RunRetentionDays),
	)

	if err := serve(ctx, server, scheduler, log); err != nil {
		return err
	}

	log.Info("ワーカーを停止しました")
	return nil
}

// backgroundRunner はctxがキャンセルされるまでブロックするジョブ実行器。
type backgroundRunner interface {
	Start(ctx context.Context)
}

// serve はHTTPサーバーとスケジューラを並行して動かす。
// ctxのキャンセルまたはサーバーの起動失敗で両方を停止し、
// スケジューラの終了を待ってから戻る。
func serve(ctx context.Context, server *http.Server, scheduler backgroundRunner, log *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("状態確認サーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(schedulerDone)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			listenErr = fmt.Errorf("server listen error: %w", err)
			log.Error("状態確認サーバーの起動に失敗しました", slog.String("error", err.Error()))
		}
	}

	// サーバー側で終了した場合もスケジューラを止める
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("サーバーの停止に失敗しました", slog.String("error", err.Error()))
	}

	<-schedulerDone
	return listenErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("マイグレーションが完了しました", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// ワーカーの /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// パスワードとクエリを除き、解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
