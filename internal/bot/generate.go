package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docbot/internal/conversation"
	"github.com/hitoshi/docbot/internal/line"
	"github.com/hitoshi/docbot/internal/model"
)

// generate は書類を生成し、結果に応じてセッションを進めてからプッシュで通知する。
// 成功時はメニューに戻し、失敗時は確認ステップに戻して再実行できるようにする。
func (d *Dispatcher) generate(ctx context.Context, snapshot *model.Session, dest line.Destination) {
	start := time.Now()
	links, err := d.assembler.Assemble(ctx, snapshot)
	d.cfg.Metrics.RecordAssembly(string(snapshot.DocumentType), err == nil, time.Since(start))

	var msgs []model.Message
	if err != nil {
		msgs = []model.Message{conversation.GenerationFailed()}
	} else {
		d.cfg.Logger.Info("document generated",
			slog.String("user_id", snapshot.UserID),
			slog.String("document_type", string(snapshot.DocumentType)),
			slog.String("spreadsheet_id", links.SpreadsheetID),
			slog.String("tab_name", links.TabName),
		)
		msgs = []model.Message{
			conversation.GenerationSucceeded(snapshot.DocumentType, links.EditURL, links.PDFURL),
			conversation.MainMenu(),
		}
	}

	if serr := d.finishGeneration(ctx, snapshot.UserID, err == nil); serr != nil {
		d.cfg.Logger.Error("failed to update session after generation",
			slog.String("user_id", snapshot.UserID),
			slog.String("error", serr.Error()),
		)
	}

	d.send(ctx, dest, msgs)
}

// finishGeneration は生成待ちのセッションを生成結果に合わせて更新する。
// セッションが失効しているか生成待ちでなくなっていれば何もしない。
func (d *Dispatcher) finishGeneration(ctx context.Context, userID string, ok bool) error {
	for attempt := 1; ; attempt++ {
		sess, err := d.sessions.Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if sess == nil || sess.State != model.StateDocumentCreation || sess.Step != model.StepGenerate {
			return nil
		}

		next := sess.Clone()
		if ok {
			next.ResetDraft()
			next.ToMenu()
		} else {
			next.Step = model.StepConfirm
		}

		err = d.sessions.Update(ctx, next)
		if err == nil {
			d.cfg.Metrics.RecordTransition(string(next.State))
			return nil
		}
		if !isConflict(err) || attempt >= maxPersistAttempts {
			return fmt.Errorf("failed to update session: %w", err)
		}
		d.cfg.Metrics.RecordVersionConflict()
	}
}
