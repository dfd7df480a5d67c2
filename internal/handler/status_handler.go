package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/bookhelper/internal/middleware"
	"github.com/hitoshi/bookhelper/internal/model"
)

// 実行履歴一覧の件数
const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// healthTimeout はDB疎通確認の待ち時間。
const healthTimeout = 3 * time.Second

// RunReader は実行履歴の参照インターフェース。repository.SyncRunRepository が実装する。
type RunReader interface {
	Latest(ctx context.Context, kind model.RunKind) (*model.SyncRun, error)
	List(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// HealthChecker はDBの疎通確認インターフェース。*sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// StatusHandler はワーカーの稼働状況を返すHTTPハンドラー。
type StatusHandler struct {
	runs   RunReader
	health HealthChecker
	logger *slog.Logger
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(runs RunReader, health HealthChecker, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{runs: runs, health: health, logger: logger}
}

// runResponse は実行履歴のAPIレスポンス。
type runResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	DryRun     bool            `json:"dry_run"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMs int64           `json:"duration_ms"`
	Stats      json.RawMessage `json:"stats,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func toRunResponse(run *model.SyncRun) runResponse {
	resp := runResponse{
		ID:         run.ID,
		Kind:       string(run.Kind),
		Status:     string(run.Status),
		DryRun:     run.DryRun,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMs: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Error:      run.Error,
	}
	if len(run.Stats) > 0 && json.Valid(run.Stats) {
		resp.Stats = run.Stats
	}
	return resp
}

// Health はDBへの疎通を確認する。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.health.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LatestRun は指定種別の最新の実行履歴を返す。
// GET /api/runs/latest?kind=etl|enrich
func (h *StatusHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	kind := model.RunKind(r.URL.Query().Get("kind"))
	if kind != model.RunKindETL && kind != model.RunKindEnrich {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_KIND",
			"kindにはetlまたはenrichを指定してください。")
		return
	}

	run, err := h.runs.Latest(r.Context(), kind)
	if err != nil {
		h.logger.Error("最新の実行履歴の取得に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if run == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "実行履歴がありません。")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

// ListRuns は新しい順に実行履歴を返す。
// GET /api/runs?limit=N
func (h *StatusHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_LIMIT",
				"limitには正の整数を指定してください。")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("実行履歴の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i]))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"runs": resp})
}
