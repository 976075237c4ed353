// Package cleanup は生成済み書類の記録を保持期間で削除するジョブを提供する。
// スプレッドシートとPDFはユーザーのDriveに残り、削除するのはこちらの生成履歴のみ。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docbot/internal/metrics"
)

// DefaultInterval はジョブの実行間隔。
const DefaultInterval = 24 * time.Hour

// DocumentPruner は指定時刻より古い生成履歴を削除する。
type DocumentPruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した生成履歴の削除ジョブ。
// 削除対象がなくてもエラーにはならない。
type CleanupJob struct {
	docs      DocumentPruner
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	retention time.Duration
	now       func() time.Time
}

// Option は CleanupJob のオプション。
type Option func(*CleanupJob)

// WithMetrics は削除件数の記録先を指定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(j *CleanupJob) {
		if m != nil {
			j.metrics = m
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(j *CleanupJob) {
		j.now = now
	}
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retention が0以下の場合、Run は何も削除しない。
func NewCleanupJob(docs DocumentPruner, retention time.Duration, logger *slog.Logger, opts ...Option) *CleanupJob {
	j := &CleanupJob{
		docs:      docs,
		logger:    logger,
		metrics:   metrics.Nop{},
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run は保持期間を超過した生成履歴を1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}

	start := time.Now()
	before := j.now().Add(-j.retention)

	deleted, err := j.docs.DeleteOlderThan(ctx, before)
	if err != nil {
		j.logger.Error("書類履歴クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("before", before),
		)
		return fmt.Errorf("書類履歴クリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordDocumentsPruned(deleted)
	j.logger.Info("書類履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後 interval ごとに Run を繰り返す。
// ctx がキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
