// Package pipeline はKOReader取り込みとHardcover補完のバッチ実行を制御する。
//
// 各実行は Idle → Connected → Extracted → Resolving → Reported → Closed の順に
// 状態を進める。レコード単位のエラーは集計して継続し、バッチ全体に及ぶエラー
// （疎通失敗・DB到達不能・スナップショット取得失敗）のみ model.FatalError として返す。
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookhelper/internal/metrics"
	"github.com/hitoshi/bookhelper/internal/model"
)

// State はバッチ実行の状態を表す。
type State int

const (
	StateIdle State = iota
	StateConnected
	StateExtracted
	StateResolving
	StateReported
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateExtracted:
		return "extracted"
	case StateResolving:
		return "resolving"
	case StateReported:
		return "reported"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// RunRecorder は実行履歴の記録先。
type RunRecorder interface {
	Create(ctx context.Context, run *model.SyncRun) error
}

// persistTimeout は実行履歴の書き込みに与える時間。
const persistTimeout = 10 * time.Second

// runLog は1回の実行の状態遷移と終了処理を受け持つ。
type runLog struct {
	kind      model.RunKind
	dryRun    bool
	startedAt time.Time
	state     State
	recorder  RunRecorder
	collector metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

func (r *runLog) transition(to State) {
	r.logger.Debug("状態を遷移します",
		slog.String("kind", string(r.kind)),
		slog.String("from", r.state.String()),
		slog.String("to", to.String()),
	)
	r.state = to
}

// finish は実行結果をメトリクスと実行履歴に記録し、Closedへ遷移する。
// ドライラン時は実行履歴を書き込まない。
func (r *runLog) finish(ctx context.Context, status model.RunStatus, stats any, runErr error) {
	finishedAt := r.now()
	r.collector.RecordRunCompleted(string(r.kind), string(status), finishedAt.Sub(r.startedAt))

	if !r.dryRun && r.recorder != nil {
		payload, err := json.Marshal(stats)
		if err != nil {
			r.logger.Warn("実行統計のシリアライズに失敗しました",
				slog.String("kind", string(r.kind)),
				slog.String("error", err.Error()),
			)
			payload = nil
		}
		run := &model.SyncRun{
			ID:         uuid.New().String(),
			Kind:       r.kind,
			Status:     status,
			DryRun:     r.dryRun,
			StartedAt:  r.startedAt,
			FinishedAt: finishedAt,
			Stats:      payload,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}

		// 呼び出し元がキャンセルされていても履歴は残す
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := r.recorder.Create(pctx, run); err != nil {
			r.logger.Error("実行履歴の記録に失敗しました",
				slog.String("kind", string(r.kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	r.transition(StateClosed)
}
