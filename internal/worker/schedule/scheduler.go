// Package schedule はバッチジョブの定期実行を提供する。
// 各ジョブは独自の間隔を持ち、同じジョブが重なって実行されることはない。
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行されるバッチ処理。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

// Func は関数をJobとして扱う。
func Func(name string, fn func(ctx context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler は登録されたジョブを間隔ごとに実行する。
type Scheduler struct {
	entries []entry
	logger  *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add はジョブを登録する。intervalが0以下の場合は登録しない。
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("実行間隔が不正なためジョブを登録しません",
			slog.String("job", job.Name()),
			slog.Duration("interval", interval),
		)
		return
	}
	s.entries = append(s.entries, entry{job: job, interval: interval})
}

// Start は登録済みの全ジョブを起動直後に1回実行し、以降は間隔ごとに実行する。
// コンテキストがキャンセルされ、実行中のジョブがすべて戻るまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
	s.logger.Info("スケジューラを停止しました")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	s.logger.Info("ジョブのスケジュールを開始しました",
		slog.String("job", e.job.Name()),
		slog.Duration("interval", e.interval),
	)

	// 起動直後に1回実行
	_ = s.RunOnce(ctx, e.job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx, e.job)
		}
	}
}

// RunOnce はジョブを1回実行し、結果をログに残す。
func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	start := time.Now()

	err := job.Run(ctx)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return err
	}

	s.logger.Info("ジョブが完了しました",
		slog.String("job", job.Name()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}
