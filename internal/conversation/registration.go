package conversation

import (
	"context"
	"log/slog"

	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/normalize"
)

func (m *Machine) handleEmail(ctx context.Context, sess *model.Session, text string) Result {
	email := normalize.NormalizeEmail(text)
	if !normalize.IsEmail(email) {
		return noWrite(msgInvalidEmail())
	}

	sess.Email = email
	effects := []Effect{EffectSaveEmail{UserID: sess.UserID, Email: email}}

	restricted, err := m.restrictions.IsRestricted(ctx, sess.UserID, email)
	if err != nil {
		return m.internalError(sess, "restriction_check", err)
	}
	if restricted {
		sess.State = model.StateRestricted
		sess.Step = model.StepNone
		return Result{Session: sess, Messages: []model.Message{msgRestricted()}, Effects: effects}
	}

	sess.State = model.StateRegistration
	sess.Step = model.StepGoogleAuth

	authenticated, err := m.gate.IsAuthenticated(ctx, sess.UserID)
	if err != nil {
		m.logger.Warn("auth gate check failed at email step",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}
	if err == nil && authenticated {
		return Result{Session: sess, Messages: []model.Message{msgEmailAcceptedAlreadyLinked()}, Effects: effects}
	}
	return Result{
		Session:  sess,
		Messages: []model.Message{msgEmailAccepted(m.authURLs.AuthURL(sess.UserID))},
		Effects:  effects,
	}
}

func (m *Machine) handleRegistration(ctx context.Context, sess *model.Session, kind InputKind, text string) Result {
	// 会社情報の編集中と再認証中だけキャンセルを受け付ける。初回登録は完了まで進める。
	if text == KeywordCancel && kind != KindAuthCompleted && (sess.RegistrationComplete || sess.ResumeMenu) {
		return m.cancelRegistration(ctx, sess)
	}

	switch sess.Step {
	case model.StepGoogleAuth:
		return m.handleGoogleAuth(ctx, sess, kind)
	case model.StepCompanyName, model.StepAddress, model.StepBankAccount:
		if kind == KindAuthCompleted {
			return noWrite(msgAuthCompleted())
		}
		return m.handleProfileField(ctx, sess, text)
	}

	m.logger.Warn("unknown registration step, restarting authentication",
		slog.String("user_id", sess.UserID),
		slog.String("step", string(sess.Step)),
	)
	sess.Step = model.StepGoogleAuth
	return Result{Session: sess, Messages: []model.Message{m.authPrompt(sess)}}
}

func (m *Machine) cancelRegistration(ctx context.Context, sess *model.Session) Result {
	sess.RegistrationComplete = sess.RegistrationComplete || sess.ResumeMenu
	sess.ResumeMenu = false
	if err := m.applyProfile(ctx, sess); err != nil {
		m.logger.Warn("failed to restore profile on cancel",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}
	sess.ResetDraft()
	sess.ToMenu()
	return Result{Session: sess, Messages: []model.Message{msgCanceled(), MainMenu()}}
}

func (m *Machine) handleGoogleAuth(ctx context.Context, sess *model.Session, kind InputKind) Result {
	authenticated := kind == KindAuthCompleted
	if !authenticated {
		ok, err := m.gate.IsAuthenticated(ctx, sess.UserID)
		if err != nil {
			return m.internalError(sess, "auth_gate", err)
		}
		authenticated = ok
	}
	if !authenticated {
		return noWrite(m.authPrompt(sess))
	}

	if sess.ResumeMenu {
		sess.ResumeMenu = false
		sess.RegistrationComplete = true
		sess.ToMenu()
		return Result{Session: sess, Messages: []model.Message{msgAuthCompleted(), MainMenu()}}
	}

	if err := m.applyProfile(ctx, sess); err != nil {
		m.logger.Warn("failed to load profile for registration",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}
	sess.Step = model.StepCompanyName
	return Result{
		Session:  sess,
		Messages: []model.Message{msgCompanyPrompt(authCompletedText+"\n\n", sess.CompanyName)},
	}
}

// handleProfileField は会社名・住所・振込先を順に受け付ける。
// 「そのまま」は現在の値を維持する。
func (m *Machine) handleProfileField(ctx context.Context, sess *model.Session, text string) Result {
	field := m.profileField(sess)
	value := *field
	if text != KeywordKeep || value == "" {
		value = m.sanitizer.Sanitize(text)
	}
	if value == "" || value == KeywordKeep {
		return noWrite(msgEmptyValue(), m.currentPrompt(ctx, sess)[0])
	}
	*field = value

	switch sess.Step {
	case model.StepCompanyName:
		sess.Step = model.StepAddress
		return Result{Session: sess, Messages: []model.Message{msgAddressPrompt(sess.Address)}}
	case model.StepAddress:
		sess.Step = model.StepBankAccount
		return Result{Session: sess, Messages: []model.Message{msgBankAccountPrompt(sess.BankAccount)}}
	}
	return m.completeRegistration(ctx, sess)
}

func (m *Machine) profileField(sess *model.Session) *string {
	switch sess.Step {
	case model.StepCompanyName:
		return &sess.CompanyName
	case model.StepAddress:
		return &sess.Address
	}
	return &sess.BankAccount
}

func (m *Machine) completeRegistration(ctx context.Context, sess *model.Session) Result {
	effects := []Effect{EffectSaveProfile{Profile: model.UserProfile{
		LineUserID:  sess.UserID,
		Email:       sess.Email,
		CompanyName: sess.CompanyName,
		Address:     sess.Address,
		BankAccount: sess.BankAccount,
	}}}

	authenticated, err := m.gate.IsAuthenticated(ctx, sess.UserID)
	if err != nil {
		// 判定できない場合はメニューへ進め、書類作成時の判定に任せる
		m.logger.Warn("auth gate check failed at registration completion",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		authenticated = true
	}
	if !authenticated {
		sess.RegistrationComplete = false
		sess.ResumeMenu = true
		sess.State = model.StateRegistration
		sess.Step = model.StepGoogleAuth
		return Result{
			Session:  sess,
			Messages: []model.Message{msgRegistered(sess), m.authPrompt(sess)},
			Effects:  effects,
		}
	}

	sess.RegistrationComplete = true
	sess.ResumeMenu = false
	sess.ToMenu()
	return Result{
		Session:  sess,
		Messages: []model.Message{msgRegistered(sess), MainMenu()},
		Effects:  effects,
	}
}
