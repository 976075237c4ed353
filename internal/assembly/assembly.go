// Package assembly は確定した会話内容からスプレッドシートの書類とPDFを生成する。
//
// 生成は次の順で行う。
//  1. ユーザー・書類種別ごとのスプレッドシートを決める（選択済み、再利用、テンプレートから新規作成）
//  2. 新規作成した場合は対になる書類のタブを削除する
//  3. 書き込み先のタブ名を決め、必要なら正規タブを複製する
//  4. セル配置に従って値を書き込む
//  5. 編集リンクを発行する
//  6. タブ単体をPDFとして出力する（レート制限時は再試行）
//  7. PDFをアップロードして共有リンクを得る
//  8. 生成履歴を記録する
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hitoshi/docbot/internal/model"
	"github.com/hitoshi/docbot/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// 既定のテンプレートスプレッドシート
const (
	DefaultEstimateTemplateID = "1FK9MDpEoHCySVgz83yjmZWOuyjrTaCDjRBEEWzafqgE"
	DefaultInvoiceTemplateID  = "1XpxU_4eOmdhZ_pXMaec8ribVw0_J0IhRNI0IzVTiM4Y"
)

// PDF出力の再試行の既定値
const (
	DefaultExportMaxAttempts     = 3
	DefaultExportInitialInterval = 5 * time.Second
)

var (
	// ErrSpreadsheetNotFound はスプレッドシートが存在しないかアクセスできない場合のエラー。
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found")
	// ErrCanonicalTabMissing は書類種別の正規タブがスプレッドシートにない場合のエラー。
	ErrCanonicalTabMissing = errors.New("canonical tab missing")
	// ErrRateLimited はバックエンドがレート制限を返した場合のエラー。
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidDraft は書類種別や品目が揃っていない場合のエラー。
	ErrInvalidDraft = errors.New("draft is not ready for assembly")
)

// jst は発行日の基準となるタイムゾーン。
var jst = time.FixedZone("JST", 9*60*60)

// Tab はスプレッドシート内のタブ。
type Tab struct {
	ID    int64
	Title string
}

// Backend は書類を作成するストレージ操作。ユーザーの認証情報で開かれる。
type Backend interface {
	CreateFromTemplate(ctx context.Context, templateID, name string) (string, error)
	FindSpreadsheets(ctx context.Context, nameContains string, limit int) ([]model.SheetRef, error)
	ListTabs(ctx context.Context, spreadsheetID string) ([]Tab, error)
	DeleteTab(ctx context.Context, spreadsheetID string, tabID int64) error
	DuplicateTab(ctx context.Context, spreadsheetID string, sourceTabID int64, title string) (Tab, error)
	WriteCells(ctx context.Context, spreadsheetID string, cells []Cell) error
	ShareLink(ctx context.Context, spreadsheetID string) (string, error)
	ExportTabPDF(ctx context.Context, spreadsheetID string, tabID int64) ([]byte, error)
	UploadPDF(ctx context.Context, name string, pdf []byte) (string, error)
}

// BackendOpener はユーザーごとの Backend を開く。
type BackendOpener interface {
	Open(ctx context.Context, userID string) (Backend, error)
}

// PDFStore はPDFのアップロード先。設定されている場合は Backend.UploadPDF の代わりに使う。
type PDFStore interface {
	Upload(ctx context.Context, name string, pdf []byte) (string, error)
}

// SpreadsheetRepository は再利用するスプレッドシートの参照を保存する。
type SpreadsheetRepository interface {
	Find(ctx context.Context, userID string, docType model.DocumentType) (*model.SpreadsheetHandle, error)
	Save(ctx context.Context, handle *model.SpreadsheetHandle) error
	Delete(ctx context.Context, userID string, docType model.DocumentType) error
}

// DocumentRecorder は生成履歴を記録する。
type DocumentRecorder interface {
	Create(ctx context.Context, doc *model.GeneratedDocument) error
}

// Links は生成結果。
type Links struct {
	EditURL       string
	PDFURL        string
	SpreadsheetID string
	TabName       string
	Total         int64
}

// Config は Assembler の設定。
type Config struct {
	Templates             map[model.DocumentType]string
	Layout                *Layout
	ExportMaxAttempts     int
	ExportInitialInterval time.Duration
	CandidateLimit        int
	PDFStore              PDFStore
	Now                   func() time.Time
	Logger                *slog.Logger
}

// Assembler は書類生成を行う。
type Assembler struct {
	opener BackendOpener
	sheets SpreadsheetRepository
	docs   DocumentRecorder
	cfg    Config
}

// NewAssembler は新しい Assembler を生成する。Layout が nil の場合は埋め込みの配置を使う。
func NewAssembler(opener BackendOpener, sheets SpreadsheetRepository, docs DocumentRecorder, cfg Config) (*Assembler, error) {
	if cfg.Layout == nil {
		layout, err := DefaultLayout()
		if err != nil {
			return nil, err
		}
		cfg.Layout = layout
	}
	if cfg.Templates == nil {
		cfg.Templates = map[model.DocumentType]string{}
	}
	if cfg.Templates[model.DocumentEstimate] == "" {
		cfg.Templates[model.DocumentEstimate] = DefaultEstimateTemplateID
	}
	if cfg.Templates[model.DocumentInvoice] == "" {
		cfg.Templates[model.DocumentInvoice] = DefaultInvoiceTemplateID
	}
	if cfg.ExportMaxAttempts <= 0 {
		cfg.ExportMaxAttempts = DefaultExportMaxAttempts
	}
	if cfg.ExportInitialInterval <= 0 {
		cfg.ExportInitialInterval = DefaultExportInitialInterval
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{opener: opener, sheets: sheets, docs: docs, cfg: cfg}, nil
}

// ListCandidateSheets は既存シート選択の候補として、書類名を含むスプレッドシートを返す。
func (a *Assembler) ListCandidateSheets(ctx context.Context, userID string, docType model.DocumentType) ([]model.SheetRef, error) {
	backend, err := a.opener.Open(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	sheets, err := backend.FindSpreadsheets(ctx, docType.Label(), a.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list spreadsheets: %w", err)
	}
	return sheets, nil
}

// Assemble はセッションの内容で書類を生成する。
// 途中で失敗した場合、作成済みのスプレッドシートやタブはそのまま残る。
func (a *Assembler) Assemble(ctx context.Context, sess *model.Session) (*Links, error) {
	ctx, span := telemetry.StartSpan(ctx, "assembly.Assemble",
		attribute.String("document.type", string(sess.DocumentType)),
		attribute.String("creation.method", string(sess.CreationMethod)),
	)
	defer span.End()

	links, err := a.assemble(ctx, sess)
	if err != nil {
		telemetry.RecordError(span, err)
		a.cfg.Logger.Error("document assembly failed",
			slog.String("user_id", sess.UserID),
			slog.String("document_type", string(sess.DocumentType)),
			slog.String("creation_method", string(sess.CreationMethod)),
			slog.String("spreadsheet_id", sess.SelectedSpreadsheetID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	span.SetAttributes(attribute.String("spreadsheet.id", links.SpreadsheetID), attribute.String("tab.name", links.TabName))
	return links, nil
}

func (a *Assembler) assemble(ctx context.Context, sess *model.Session) (*Links, error) {
	if !sess.DocumentType.Valid() || len(sess.Items) == 0 {
		return nil, ErrInvalidDraft
	}

	backend, err := a.opener.Open(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}

	now := a.cfg.Now().In(jst)

	spreadsheetID, tabs, fresh, err := a.resolveSpreadsheet(ctx, backend, sess, now)
	if err != nil {
		return nil, err
	}

	if fresh {
		tabs, err = a.dropSiblingTab(ctx, backend, spreadsheetID, tabs, sess.DocumentType)
		if err != nil {
			return nil, err
		}
	}

	target, err := a.prepareTab(ctx, backend, spreadsheetID, tabs, sess.DocumentType, fresh)
	if err != nil {
		return nil, err
	}

	issueDate := now.Format("2006-01-02")
	cells := a.cfg.Layout.For(sess.DocumentType).Cells(target.Title, sess, issueDate)
	if err := backend.WriteCells(ctx, spreadsheetID, cells); err != nil {
		return nil, fmt.Errorf("failed to write cells: %w", err)
	}

	shareURL, err := backend.ShareLink(ctx, spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}
	editURL := shareURL + "#gid=" + strconv.FormatInt(target.ID, 10)

	pdf, err := a.exportPDF(ctx, backend, spreadsheetID, target.ID)
	if err != nil {
		return nil, err
	}

	pdfName := fmt.Sprintf("%s_%s_%s.pdf", sess.DocumentType, sess.UserID, now.Format("20060102_150405"))
	pdfURL, err := a.uploadPDF(ctx, backend, pdfName, pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to upload pdf: %w", err)
	}

	links := &Links{
		EditURL:       editURL,
		PDFURL:        pdfURL,
		SpreadsheetID: spreadsheetID,
		TabName:       target.Title,
		Total:         sess.Total(),
	}
	a.record(ctx, sess, links, now)
	return links, nil
}

// resolveSpreadsheet は書き込み先のスプレッドシートを決める。fresh はテンプレートから作成したことを示す。
func (a *Assembler) resolveSpreadsheet(ctx context.Context, backend Backend, sess *model.Session, now time.Time) (string, []Tab, bool, error) {
	if sess.CreationMethod == model.CreationExistingSheet && sess.SelectedSpreadsheetID != "" {
		tabs, err := backend.ListTabs(ctx, sess.SelectedSpreadsheetID)
		if err != nil {
			return "", nil, false, fmt.Errorf("failed to read selected spreadsheet: %w", err)
		}
		return sess.SelectedSpreadsheetID, tabs, false, nil
	}

	handle, err := a.sheets.Find(ctx, sess.UserID, sess.DocumentType)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to find spreadsheet handle: %w", err)
	}
	if handle != nil {
		tabs, err := backend.ListTabs(ctx, handle.SpreadsheetID)
		if err == nil {
			return handle.SpreadsheetID, tabs, false, nil
		}
		if !errors.Is(err, ErrSpreadsheetNotFound) {
			return "", nil, false, fmt.Errorf("failed to read cached spreadsheet: %w", err)
		}
		a.cfg.Logger.Warn("cached spreadsheet is gone, creating a new one",
			slog.String("user_id", sess.UserID),
			slog.String("spreadsheet_id", handle.SpreadsheetID),
		)
		if err := a.sheets.Delete(ctx, sess.UserID, sess.DocumentType); err != nil {
			return "", nil, false, fmt.Errorf("failed to drop stale spreadsheet handle: %w", err)
		}
	}

	owner := sess.CompanyName
	if owner == "" {
		owner = sess.UserID
	}
	name := fmt.Sprintf("%s_%s_%s", sess.DocumentType.Label(), owner, now.Format("20060102"))
	spreadsheetID, err := backend.CreateFromTemplate(ctx, a.cfg.Templates[sess.DocumentType], name)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to copy template: %w", err)
	}
	if err := a.sheets.Save(ctx, &model.SpreadsheetHandle{
		LineUserID:    sess.UserID,
		DocumentType:  sess.DocumentType,
		SpreadsheetID: spreadsheetID,
	}); err != nil {
		return "", nil, false, fmt.Errorf("failed to save spreadsheet handle: %w", err)
	}

	tabs, err := backend.ListTabs(ctx, spreadsheetID)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to read new spreadsheet: %w", err)
	}
	return spreadsheetID, tabs, true, nil
}

// dropSiblingTab はテンプレートに含まれる対の書類タブを削除する。
func (a *Assembler) dropSiblingTab(ctx context.Context, backend Backend, spreadsheetID string, tabs []Tab, docType model.DocumentType) ([]Tab, error) {
	sibling := docType.Sibling().Label()
	kept := make([]Tab, 0, len(tabs))
	for _, tab := range tabs {
		if tab.Title != sibling {
			kept = append(kept, tab)
			continue
		}
		if err := backend.DeleteTab(ctx, spreadsheetID, tab.ID); err != nil {
			return nil, fmt.Errorf("failed to delete %s tab: %w", sibling, err)
		}
	}
	return kept, nil
}

// prepareTab は書き込み先のタブを用意する。
// テンプレートから作ったばかりなら正規タブにそのまま書き込み、
// 再利用するシートでは正規タブを複製して番号付きの名前を付ける。
func (a *Assembler) prepareTab(ctx context.Context, backend Backend, spreadsheetID string, tabs []Tab, docType model.DocumentType, fresh bool) (Tab, error) {
	base := docType.Label()
	names := make([]string, 0, len(tabs))
	var canonical *Tab
	for i := range tabs {
		names = append(names, tabs[i].Title)
		if tabs[i].Title == base {
			canonical = &tabs[i]
		}
	}
	if canonical == nil {
		return Tab{}, fmt.Errorf("%w: %s", ErrCanonicalTabMissing, base)
	}
	if fresh {
		return *canonical, nil
	}

	name := NextTabName(base, names)
	if name == base {
		return *canonical, nil
	}
	tab, err := backend.DuplicateTab(ctx, spreadsheetID, canonical.ID, name)
	if err != nil {
		return Tab{}, fmt.Errorf("failed to duplicate %s tab: %w", base, err)
	}
	return tab, nil
}

// exportPDF はタブをPDFとして出力する。レート制限のみ指数バックオフで再試行する。
func (a *Assembler) exportPDF(ctx context.Context, backend Backend, spreadsheetID string, tabID int64) ([]byte, error) {
	var pdf []byte
	attempt := 0
	op := func() error {
		attempt++
		data, err := backend.ExportTabPDF(ctx, spreadsheetID, tabID)
		if err == nil {
			pdf = data
			return nil
		}
		if errors.Is(err, ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ExportInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.ExportMaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		a.cfg.Logger.Warn("pdf export rate limited, retrying",
			slog.String("spreadsheet_id", spreadsheetID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to export pdf after %d attempts: %w", attempt, err)
	}
	return pdf, nil
}

func (a *Assembler) uploadPDF(ctx context.Context, backend Backend, name string, pdf []byte) (string, error) {
	if a.cfg.PDFStore != nil {
		return a.cfg.PDFStore.Upload(ctx, name, pdf)
	}
	return backend.UploadPDF(ctx, name, pdf)
}

// record は生成履歴を保存する。履歴の保存失敗は生成結果に影響させない。
func (a *Assembler) record(ctx context.Context, sess *model.Session, links *Links, now time.Time) {
	if a.docs == nil {
		return
	}
	doc := &model.GeneratedDocument{
		ID:            uuid.NewString(),
		LineUserID:    sess.UserID,
		DocumentType:  sess.DocumentType,
		SpreadsheetID: links.SpreadsheetID,
		TabName:       links.TabName,
		EditURL:       links.EditURL,
		PDFURL:        links.PDFURL,
		Total:         links.Total,
		CreatedAt:     now,
	}
	if err := a.docs.Create(ctx, doc); err != nil {
		a.cfg.Logger.Warn("failed to record generated document",
			slog.String("user_id", sess.UserID),
			slog.String("spreadsheet_id", links.SpreadsheetID),
			slog.String("error", err.Error()),
		)
	}
}
