package model

import (
	"math"
	"time"
)

// State は会話の大まかなフェーズを表す。
type State string

const (
	StateEmailInput       State = "email_input"
	StateRegistration     State = "registration"
	StateMenu             State = "menu"
	StateDocumentCreation State = "document_creation"
	StateRestricted       State = "restricted"
)

// Step はフェーズ内の入力位置を表す。StepNone はメニューなどステップを持たない状態で使う。
type Step string

const (
	StepNone                 Step = ""
	StepEmail                Step = "email"
	StepGoogleAuth           Step = "google_auth"
	StepCompanyName          Step = "company_name"
	StepAddress              Step = "address"
	StepBankAccount          Step = "bank_account"
	StepSelectCreationMethod Step = "select_creation_method"
	StepSelectExistingSheet  Step = "select_existing_sheet"
	StepClientName           Step = "client_name"
	StepItems                Step = "items"
	StepDueDate              Step = "due_date"
	StepConfirm              Step = "confirm"
	StepGenerate             Step = "generate"
)

// DocumentType は生成する書類の種別。
type DocumentType string

const (
	DocumentEstimate DocumentType = "estimate"
	DocumentInvoice  DocumentType = "invoice"
)

// Label は書類種別の表示名（シート名としても使う）を返す。
func (d DocumentType) Label() string {
	if d == DocumentInvoice {
		return "請求書"
	}
	return "見積書"
}

// Sibling はテンプレート内で対になるもう一方の書類種別を返す。
func (d DocumentType) Sibling() DocumentType {
	if d == DocumentInvoice {
		return DocumentEstimate
	}
	return DocumentInvoice
}

// Valid は既知の書類種別かどうかを返す。
func (d DocumentType) Valid() bool {
	return d == DocumentEstimate || d == DocumentInvoice
}

// CreationMethod はスプレッドシートの用意の仕方。
type CreationMethod string

const (
	CreationNewSheet      CreationMethod = "new_sheet"
	CreationExistingSheet CreationMethod = "existing_sheet"
)

// MaxItems は1書類あたりの品目数の上限。
const MaxItems = 10

// LineItem は書類の1行を表す。金額は常に Amount() で数量と単価から求める。
type LineItem struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

// Amount は単価×数量を返す。
func (li LineItem) Amount() int64 {
	return li.Price * li.Quantity
}

// SheetRef は既存シート選択で提示したスプレッドシートの参照。
type SheetRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session はユーザーごとの会話状態。セッションストアにJSONで保存される。
// 有効期限を過ぎたセッションは存在しないものとして扱う。
type Session struct {
	UserID string `json:"user_id"`
	State  State  `json:"state"`
	Step   Step   `json:"step"`

	DocumentType          DocumentType   `json:"document_type,omitempty"`
	CreationMethod        CreationMethod `json:"creation_method,omitempty"`
	SelectedSpreadsheetID string         `json:"selected_spreadsheet_id,omitempty"`
	CandidateSheets       []SheetRef     `json:"candidate_sheets,omitempty"`

	Items       []LineItem `json:"items,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
	ClientName  string     `json:"client_name,omitempty"`
	Address     string     `json:"address,omitempty"`
	BankAccount string     `json:"bank_account,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	Email       string     `json:"email,omitempty"`

	RegistrationComplete bool `json:"registration_complete"`
	// ResumeMenu は再認証完了後に登録をやり直さずメニューへ戻ることを示す。
	ResumeMenu bool `json:"resume_menu,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSession は初回接触時のセッションを生成する。
func NewSession(userID string) *Session {
	return &Session{
		UserID: userID,
		State:  StateEmailInput,
		Step:   StepEmail,
	}
}

// Clone はItemsやCandidateSheetsを含めたディープコピーを返す。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Items != nil {
		c.Items = append([]LineItem(nil), s.Items...)
	}
	if s.CandidateSheets != nil {
		c.CandidateSheets = append([]SheetRef(nil), s.CandidateSheets...)
	}
	return &c
}

// Total は品目金額の合計を返す。
func (s *Session) Total() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.Amount()
	}
	return total
}

// CanAddItem は item を追加しても合計金額がint64に収まるかを返す。
func (s *Session) CanAddItem(item LineItem) bool {
	return item.Amount() <= math.MaxInt64-s.Total()
}

// ResetDraft は作成中の書類データを破棄する。プロフィール由来の項目は残す。
func (s *Session) ResetDraft() {
	s.DocumentType = ""
	s.CreationMethod = ""
	s.SelectedSpreadsheetID = ""
	s.CandidateSheets = nil
	s.Items = nil
	s.ClientName = ""
	s.DueDate = ""
}

// ToMenu はメニュー状態に遷移させる。
func (s *Session) ToMenu() {
	s.State = StateMenu
	s.Step = StepNone
}

// Expired は指定時刻時点で有効期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
