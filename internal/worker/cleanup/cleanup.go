// Package cleanup は実行履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したsync_runsを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunPruner は指定時刻より前の実行履歴を削除する。
// repository.SyncRunRepository が実装する。
type RunPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した実行履歴の自動削除ジョブ。
// 削除対象がない場合もエラーにならない。
type CleanupJob struct {
	runs          RunPruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 実行履歴の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(runs RunPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		runs:          runs,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 90,
	}
}

// Name はジョブ名を返す。
func (j *CleanupJob) Name() string { return "cleanup" }

// Run はstarted_atがRetentionDays日前より古い実行履歴を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.runs.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("実行履歴クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("実行履歴クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("実行履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
