package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/bookhelper/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Runs          RunReader
	HealthChecker HealthChecker
	Metrics       http.Handler
	RateLimiter   *middleware.RateLimiter // nilの場合は制限しない
	Logger        *slog.Logger
}

// NewRouter は状態確認用のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
//
// /api/* にはさらにクライアントごとのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	status := NewStatusHandler(deps.Runs, deps.HealthChecker, deps.Logger)

	r.Get("/health", status.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/runs", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/", status.ListRuns)
		r.Get("/latest", status.LatestRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "エンドポイントが見つかりません。")
	})

	return r
}
