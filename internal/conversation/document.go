package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/normalize"
)

func (m *Machine) handleMenu(ctx context.Context, sess *model.Session, text string) Result {
	switch text {
	case KeywordCreateEstimate:
		return m.startDocument(ctx, sess, model.DocumentEstimate)
	case KeywordCreateInvoice:
		return m.startDocument(ctx, sess, model.DocumentInvoice)
	case KeywordEditCompany:
		return m.startCompanyEdit(ctx, sess)
	}
	return noWrite(MainMenu())
}

func (m *Machine) startDocument(ctx context.Context, sess *model.Session, docType model.DocumentType) Result {
	sess.ResetDraft()
	if err := m.applyProfile(ctx, sess); err != nil {
		m.logger.Warn("failed to prefill profile",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}
	sess.DocumentType = docType
	sess.State = model.StateDocumentCreation
	sess.Step = model.StepSelectCreationMethod
	return Result{Session: sess, Messages: []model.Message{msgCreationMethod(docType)}}
}

func (m *Machine) startCompanyEdit(ctx context.Context, sess *model.Session) Result {
	authenticated, err := m.gate.IsAuthenticated(ctx, sess.UserID)
	if err != nil {
		return m.internalError(sess, "auth_gate", err)
	}

	sess.ResetDraft()
	sess.State = model.StateRegistration
	if !authenticated {
		wasComplete := sess.RegistrationComplete
		sess.RegistrationComplete = false
		sess.ResumeMenu = false
		sess.Step = model.StepGoogleAuth
		url := m.authURLs.AuthURL(sess.UserID)
		if wasComplete {
			return Result{Session: sess, Messages: []model.Message{msgAuthLost(url)}}
		}
		return Result{Session: sess, Messages: []model.Message{msgAuthPending(url)}}
	}

	if err := m.applyProfile(ctx, sess); err != nil {
		m.logger.Warn("failed to prefill profile",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}
	sess.Step = model.StepCompanyName
	return Result{Session: sess, Messages: []model.Message{msgCompanyPrompt("", sess.CompanyName)}}
}

func (m *Machine) handleDocumentCreation(ctx context.Context, sess *model.Session, text string) Result {
	if text == KeywordCancel {
		sess.ResetDraft()
		sess.ToMenu()
		return Result{Session: sess, Messages: []model.Message{msgCanceled(), MainMenu()}}
	}

	// 生成中のまま残ったセッションは、生成処理が中断されたものとしてメニューへ戻す
	if sess.Step == model.StepGenerate {
		m.logger.Warn("stale generate step, resetting to menu", slog.String("user_id", sess.UserID))
		sess.ResetDraft()
		sess.ToMenu()
		return Result{Session: sess, Messages: []model.Message{MainMenu()}}
	}

	authenticated, err := m.gate.IsAuthenticated(ctx, sess.UserID)
	if err != nil {
		return m.internalError(sess, "auth_gate", err)
	}
	if !authenticated {
		return m.forceReauth(sess)
	}

	switch sess.Step {
	case model.StepSelectCreationMethod:
		return m.handleCreationMethod(ctx, sess, text)
	case model.StepSelectExistingSheet:
		return m.handleSheetSelection(sess, text)
	case model.StepClientName:
		return m.handleClientName(sess, text)
	case model.StepItems:
		return m.handleItems(sess, text)
	case model.StepDueDate:
		return m.handleDueDate(sess, text)
	case model.StepConfirm:
		return m.handleConfirm(sess, text)
	}

	m.logger.Warn("unknown document creation step, resetting to menu",
		slog.String("user_id", sess.UserID),
		slog.String("step", string(sess.Step)),
	)
	sess.ResetDraft()
	sess.ToMenu()
	return Result{Session: sess, Messages: []model.Message{MainMenu()}}
}

// forceReauth は認証が失われたユーザーを認証ステップへ戻す。入力は処理しない。
func (m *Machine) forceReauth(sess *model.Session) Result {
	wasComplete := sess.RegistrationComplete
	sess.ResetDraft()
	sess.RegistrationComplete = false
	sess.ResumeMenu = wasComplete
	sess.State = model.StateRegistration
	sess.Step = model.StepGoogleAuth
	return Result{Session: sess, Messages: []model.Message{m.authPrompt(sess)}}
}

func (m *Machine) handleCreationMethod(ctx context.Context, sess *model.Session, text string) Result {
	switch text {
	case KeywordNewSheet:
		return m.useNewSheet(sess)
	case KeywordExistingSheet:
		sheets, err := m.sheets.ListCandidateSheets(ctx, sess.UserID, sess.DocumentType)
		if err != nil {
			return m.internalError(sess, "list_sheets", err)
		}
		if len(sheets) == 0 {
			res := m.useNewSheet(sess)
			res.Messages = append([]model.Message{msgNoCandidateSheets(sess.DocumentType)}, res.Messages...)
			return res
		}
		if len(sheets) > m.candidateLimit {
			sheets = sheets[:m.candidateLimit]
		}
		sess.CandidateSheets = sheets
		sess.Step = model.StepSelectExistingSheet
		return Result{Session: sess, Messages: []model.Message{msgSelectSheet(sheets)}}
	}
	return noWrite(msgCreationMethod(sess.DocumentType))
}

func (m *Machine) useNewSheet(sess *model.Session) Result {
	sess.CreationMethod = model.CreationNewSheet
	sess.SelectedSpreadsheetID = ""
	sess.CandidateSheets = nil
	sess.Step = model.StepClientName
	return Result{Session: sess, Messages: []model.Message{msgClientNamePrompt()}}
}

func (m *Machine) handleSheetSelection(sess *model.Session, text string) Result {
	if text == KeywordNewSheet {
		return m.useNewSheet(sess)
	}
	if id, ok := strings.CutPrefix(text, SheetSelectPrefix); ok {
		for _, sheet := range sess.CandidateSheets {
			if sheet.ID != id {
				continue
			}
			sess.CreationMethod = model.CreationExistingSheet
			sess.SelectedSpreadsheetID = sheet.ID
			sess.CandidateSheets = nil
			sess.Step = model.StepClientName
			return Result{Session: sess, Messages: []model.Message{msgSheetSelected(sheet.Name), msgClientNamePrompt()}}
		}
	}
	return noWrite(msgSelectSheet(sess.CandidateSheets))
}

func (m *Machine) handleClientName(sess *model.Session, text string) Result {
	name := m.sanitizer.Sanitize(text)
	if name == "" {
		return noWrite(msgEmptyValue(), msgClientNamePrompt())
	}
	sess.ClientName = name
	sess.Step = model.StepItems
	return Result{Session: sess, Messages: []model.Message{msgItemsPrompt()}}
}

func (m *Machine) handleItems(sess *model.Session, text string) Result {
	if len(sess.Items) >= model.MaxItems || text == KeywordDone {
		return m.finishItems(sess)
	}

	if text == KeywordRemoveLast {
		if len(sess.Items) == 0 {
			return noWrite(msgNothingToRemove())
		}
		removed := sess.Items[len(sess.Items)-1]
		sess.Items = sess.Items[:len(sess.Items)-1]
		return Result{Session: sess, Messages: []model.Message{msgItemRemoved(removed, sess)}}
	}

	item, err := normalize.ParseItemLine(text)
	if errors.Is(err, normalize.ErrItemNumeric) {
		return noWrite(msgItemNumericError())
	}
	if err != nil {
		return noWrite(msgItemFormatError())
	}
	item.Name = m.sanitizer.Sanitize(item.Name)
	if item.Name == "" {
		return noWrite(msgItemFormatError())
	}

	if !sess.CanAddItem(item) {
		return noWrite(msgItemTotalTooLarge())
	}

	sess.Items = append(sess.Items, item)
	added := msgItemAdded(item, sess)
	if len(sess.Items) < model.MaxItems {
		return Result{Session: sess, Messages: []model.Message{added}}
	}

	res := m.finishItems(sess)
	res.Messages = append([]model.Message{added, msgItemLimitReached()}, res.Messages...)
	return res
}

// finishItems は品目入力を締める。見積書は確認へ、請求書は支払い期日の入力へ進む。
func (m *Machine) finishItems(sess *model.Session) Result {
	if len(sess.Items) == 0 {
		return noWrite(msgItemsEmpty())
	}
	if sess.DocumentType == model.DocumentInvoice {
		sess.Step = model.StepDueDate
		return Result{Session: sess, Messages: []model.Message{msgDueDatePrompt()}}
	}
	sess.Step = model.StepConfirm
	return Result{Session: sess, Messages: []model.Message{msgConfirm(sess)}}
}

func (m *Machine) handleDueDate(sess *model.Session, text string) Result {
	due, err := normalize.ParseDueDate(text)
	if err != nil {
		return noWrite(msgDueDateError())
	}
	sess.DueDate = due
	sess.Step = model.StepConfirm
	return Result{Session: sess, Messages: []model.Message{msgConfirm(sess)}}
}

func (m *Machine) handleConfirm(sess *model.Session, text string) Result {
	switch text {
	case KeywordYes:
		sess.Step = model.StepGenerate
		return Result{
			Session:  sess,
			Messages: []model.Message{msgGenerating(sess.DocumentType)},
			Effects:  []Effect{EffectGenerate{Session: sess.Clone()}},
		}
	case KeywordEdit:
		sess.Step = model.StepItems
		return Result{Session: sess, Messages: []model.Message{msgEditItems()}}
	}
	return noWrite(msgConfirmUnrecognized())
}
