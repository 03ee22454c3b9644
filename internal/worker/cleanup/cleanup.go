// Package cleanup は期限切れ・保持期間超過データの定期削除ジョブを提供する。
// 期限切れセッション、古い検索履歴、古い閲覧記録、参照切れの保存済み行を対象とする。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Task は1種類のデータを削除する処理。削除件数を返す。
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// AgePurger は指定時刻より古い行を削除する。
type AgePurger interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// DanglingPurger は削除済み出品を参照する保存済み行を削除する。
type DanglingPurger interface {
	DeleteDangling(ctx context.Context) (int64, error)
}

// ExpiredSessions は期限切れセッションを削除するTaskを返す。
func ExpiredSessions(p SessionPurger) Task {
	return Task{Name: "expired_sessions", Run: func(ctx context.Context, _ time.Time) (int64, error) {
		return p.DeleteExpired(ctx)
	}}
}

// OlderThan はretentionDays日より古い行を削除するTaskを返す。
func OlderThan(name string, p AgePurger, retentionDays int) Task {
	return Task{Name: name, Run: func(ctx context.Context, now time.Time) (int64, error) {
		return p.DeleteOlderThan(ctx, now.AddDate(0, 0, -retentionDays))
	}}
}

// DanglingSaved は参照切れの保存済み行を削除するTaskを返す。
func DanglingSaved(p DanglingPurger) Task {
	return Task{Name: "dangling_saved_items", Run: func(ctx context.Context, _ time.Time) (int64, error) {
		return p.DeleteDangling(ctx)
	}}
}

// CleanupJob は登録されたTaskを順に実行する定期ジョブ。
// 各Taskは冪等で、1つが失敗しても残りは実行する。
type CleanupJob struct {
	tasks  []Task
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob はCleanupJobを生成する。
func NewCleanupJob(logger *slog.Logger, tasks ...Task) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{tasks: tasks, logger: logger, now: time.Now}
}

// Run は全Taskを1回実行する。失敗したTaskのエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	var errs []error
	var total int64

	for _, t := range j.tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		deleted, err := t.Run(ctx, start)
		if err != nil {
			j.logger.Error("クリーンアップタスクの実行に失敗しました",
				slog.String("task", t.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		total += deleted
		j.logger.Info("クリーンアップタスクが完了しました",
			slog.String("task", t.Name),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("task_count", len(j.tasks)),
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、以降interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))
	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
