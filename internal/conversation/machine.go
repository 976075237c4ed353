// Package conversation はLINE上の会話を状態遷移として扱い、
// 入力ごとに次のセッション・送信メッセージ・副作用を決定する。
//
// Machine は外部サービスを直接呼ばない。プロフィール保存や書類生成は Effect として返し、
// 呼び出し側がセッションの保存に成功した後で実行する。
package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
)

// InputKind は入力イベントの種類。
type InputKind string

const (
	KindText          InputKind = "text"
	KindAction        InputKind = "action"
	KindFollow        InputKind = "follow"
	KindUnfollow      InputKind = "unfollow"
	KindAuthCompleted InputKind = "auth_completed"
)

// Input は1件の入力イベント。
// KindText では Text に利用者の入力、KindAction では Action にポストバックデータが入る。
type Input struct {
	Kind   InputKind
	UserID string
	Text   string
	Action string
}

// Effect はセッション保存後に実行すべき副作用。
type Effect interface {
	effect()
}

// EffectSaveEmail はメールアドレスをプロフィールに保存する。
type EffectSaveEmail struct {
	UserID string
	Email  string
}

// EffectSaveProfile は事業者情報をまとめてプロフィールに保存する。
type EffectSaveProfile struct {
	Profile model.UserProfile
}

// EffectGenerate は書類生成を開始する。Session は生成時点のスナップショット。
type EffectGenerate struct {
	Session *model.Session
}

func (EffectSaveEmail) effect()   {}
func (EffectSaveProfile) effect() {}
func (EffectGenerate) effect()    {}

// Result は1入力の処理結果。
// Session が nil かつ Clear が false の場合、セッションは書き込まない。
type Result struct {
	Session  *model.Session
	Clear    bool
	Messages []model.Message
	Effects  []Effect
}

// AuthGate はGoogle認証が有効かを判定する。
type AuthGate interface {
	IsAuthenticated(ctx context.Context, userID string) (bool, error)
}

// AuthURLBuilder はユーザー用のGoogle認証URLを作る。
type AuthURLBuilder interface {
	AuthURL(userID string) string
}

// SheetLister は既存シート選択の候補を列挙する。
type SheetLister interface {
	ListCandidateSheets(ctx context.Context, userID string, docType model.DocumentType) ([]model.SheetRef, error)
}

// ProfileLoader は登録済みプロフィールを読み込む。未登録の場合は nil を返す。
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*model.UserProfile, error)
}

// RestrictionChecker は利用制限の対象かを判定する。
type RestrictionChecker interface {
	IsRestricted(ctx context.Context, userID, email string) (bool, error)
}

// Sanitizer は自由入力をセルに書き込める文字列に整える。
type Sanitizer interface {
	Sanitize(raw string) string
}

// DefaultCandidateLimit は既存シート選択で提示する候補数の既定値。
const DefaultCandidateLimit = 5

// Deps は Machine の依存関係。Restrictions と Sanitizer は省略できる。
type Deps struct {
	Gate           AuthGate
	AuthURLs       AuthURLBuilder
	Sheets         SheetLister
	Profiles       ProfileLoader
	Restrictions   RestrictionChecker
	Sanitizer      Sanitizer
	CandidateLimit int
	Logger         *slog.Logger
}

// Machine は会話の状態遷移を担う。
type Machine struct {
	gate           AuthGate
	authURLs       AuthURLBuilder
	sheets         SheetLister
	profiles       ProfileLoader
	restrictions   RestrictionChecker
	sanitizer      Sanitizer
	candidateLimit int
	logger         *slog.Logger
}

// NewMachine は新しい Machine を生成する。
func NewMachine(deps Deps) *Machine {
	m := &Machine{
		gate:           deps.Gate,
		authURLs:       deps.AuthURLs,
		sheets:         deps.Sheets,
		profiles:       deps.Profiles,
		restrictions:   deps.Restrictions,
		sanitizer:      deps.Sanitizer,
		candidateLimit: deps.CandidateLimit,
		logger:         deps.Logger,
	}
	if m.restrictions == nil {
		m.restrictions = allowAll{}
	}
	if m.sanitizer == nil {
		m.sanitizer = trimOnly{}
	}
	if m.candidateLimit <= 0 {
		m.candidateLimit = DefaultCandidateLimit
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

type allowAll struct{}

func (allowAll) IsRestricted(context.Context, string, string) (bool, error) { return false, nil }

type trimOnly struct{}

func (trimOnly) Sanitize(raw string) string { return strings.TrimSpace(raw) }

// Handle は1件の入力を処理する。sess が nil の場合は初回接触として扱う。
// 渡された sess は変更せず、次の状態は Result.Session に複製して返す。
func (m *Machine) Handle(ctx context.Context, sess *model.Session, in Input) Result {
	if in.Kind == KindUnfollow {
		return Result{Clear: true}
	}

	if sess == nil {
		next := model.NewSession(in.UserID)
		return Result{Session: next, Messages: []model.Message{msgWelcome()}}
	}

	next := sess.Clone()

	if in.Kind == KindFollow {
		return Result{Session: next, Messages: m.currentPrompt(ctx, next)}
	}

	text := inputText(in)

	switch next.State {
	case model.StateEmailInput:
		return m.handleEmail(ctx, next, text)
	case model.StateRegistration:
		return m.handleRegistration(ctx, next, in.Kind, text)
	case model.StateMenu:
		if in.Kind == KindAuthCompleted {
			return noWrite(msgAuthCompleted())
		}
		return m.handleMenu(ctx, next, text)
	case model.StateDocumentCreation:
		if in.Kind == KindAuthCompleted {
			return noWrite(msgAuthCompleted())
		}
		return m.handleDocumentCreation(ctx, next, text)
	case model.StateRestricted:
		return m.handleRestricted(ctx, next)
	}

	m.logger.Warn("unknown conversation state, resetting to menu",
		slog.String("user_id", next.UserID),
		slog.String("state", string(next.State)),
		slog.String("step", string(next.Step)),
	)
	next.ResetDraft()
	next.ToMenu()
	return Result{Session: next, Messages: []model.Message{MainMenu()}}
}

// inputText はポストバックデータを対応するキーワードに読み替え、テキスト入力は前後の空白を除く。
func inputText(in Input) string {
	switch in.Kind {
	case KindAction:
		if kw, ok := actionKeywords[in.Action]; ok {
			return kw
		}
		if id, ok := strings.CutPrefix(in.Action, ActionSelectSheet); ok {
			return SheetSelectPrefix + id
		}
		return strings.TrimSpace(in.Action)
	case KindText:
		return strings.TrimSpace(in.Text)
	}
	return ""
}

func noWrite(msgs ...model.Message) Result {
	return Result{Messages: msgs}
}

func (m *Machine) internalError(sess *model.Session, op string, err error) Result {
	m.logger.Error("conversation dependency failed",
		slog.String("user_id", sess.UserID),
		slog.String("op", op),
		slog.String("state", string(sess.State)),
		slog.String("step", string(sess.Step)),
		slog.String("error", err.Error()),
	)
	return noWrite(msgInternalError())
}

// currentPrompt は現在のステップで求めている入力を改めて案内する。
func (m *Machine) currentPrompt(ctx context.Context, sess *model.Session) []model.Message {
	switch sess.Step {
	case model.StepEmail:
		return []model.Message{msgEmailPrompt()}
	case model.StepGoogleAuth:
		return []model.Message{m.authPrompt(sess)}
	case model.StepCompanyName:
		return []model.Message{msgCompanyPrompt("", sess.CompanyName)}
	case model.StepAddress:
		return []model.Message{msgAddressPrompt(sess.Address)}
	case model.StepBankAccount:
		return []model.Message{msgBankAccountPrompt(sess.BankAccount)}
	case model.StepSelectCreationMethod:
		return []model.Message{msgCreationMethod(sess.DocumentType)}
	case model.StepSelectExistingSheet:
		return []model.Message{msgSelectSheet(sess.CandidateSheets)}
	case model.StepClientName:
		return []model.Message{msgClientNamePrompt()}
	case model.StepItems:
		return []model.Message{msgItemsPrompt()}
	case model.StepDueDate:
		return []model.Message{msgDueDatePrompt()}
	case model.StepConfirm:
		return []model.Message{msgConfirm(sess)}
	case model.StepGenerate:
		return []model.Message{msgGenerating(sess.DocumentType)}
	}
	if sess.State == model.StateRestricted {
		return []model.Message{msgRestricted()}
	}
	return []model.Message{MainMenu()}
}

// authPrompt は再認証が必要な理由に応じた認証案内を返す。
func (m *Machine) authPrompt(sess *model.Session) model.Message {
	url := m.authURLs.AuthURL(sess.UserID)
	if sess.ResumeMenu {
		return msgAuthLost(url)
	}
	return msgAuthPending(url)
}

// applyProfile は保存済みプロフィールの事業者情報をセッションに反映する。
func (m *Machine) applyProfile(ctx context.Context, sess *model.Session) error {
	profile, err := m.profiles.Load(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	if profile.CompanyName != "" {
		sess.CompanyName = profile.CompanyName
	}
	if profile.Address != "" {
		sess.Address = profile.Address
	}
	if profile.BankAccount != "" {
		sess.BankAccount = profile.BankAccount
	}
	if sess.Email == "" {
		sess.Email = profile.Email
	}
	return nil
}

func (m *Machine) handleRestricted(ctx context.Context, sess *model.Session) Result {
	restricted, err := m.restrictions.IsRestricted(ctx, sess.UserID, sess.Email)
	if err != nil {
		return m.internalError(sess, "restriction_check", err)
	}
	if restricted {
		return noWrite(msgRestricted())
	}
	sess.State = model.StateEmailInput
	sess.Step = model.StepEmail
	return Result{Session: sess, Messages: []model.Message{msgEmailPrompt()}}
}
