package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/hitoshi/docbot/internal/config"
	"github.com/hitoshi/docbot/internal/database"
	"github.com/hitoshi/docbot/internal/repository"
	"github.com/hitoshi/docbot/internal/worker/cleanup"
)

// runWorker はワーカーモードで起動する。
// 保持期間を過ぎた生成履歴を日次で削除し、SIGINTまたはSIGTERMで終了する。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(repository.NewPostgresDocumentRepo(db), cfg.DocumentRetention(), slog.Default())

	slog.Info("worker starting",
		slog.Int("retention_days", cfg.DocumentRetentionDays),
		slog.Duration("interval", cleanup.DefaultInterval),
	)

	job.Start(ctx, cleanup.DefaultInterval)

	slog.Info("worker stopped gracefully")
	return nil
}
