// Package gsuite はGoogle Sheets v4 と Drive v3 を使って書類を作成するバックエンドを提供する。
package gsuite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/docbot/internal/assembly"
	"github.com/hitoshi/docbot/internal/model"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"
)

// DefaultExportBaseURL はスプレッドシートのPDF出力URLの基点。
const DefaultExportBaseURL = "https://docs.google.com/spreadsheets/d/"

const (
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	pdfMimeType         = "application/pdf"
	// maxPDFSize はPDF出力の読み込み上限。
	maxPDFSize = 20 << 20
)

// Backend は assembly.Backend のGoogle Workspace実装。
type Backend struct {
	sheets        *sheets.Service
	drive         *drive.Service
	client        *http.Client
	exportBaseURL string
}

var _ assembly.Backend = (*Backend)(nil)

// NewBackend は認証済みHTTPクライアントを使う Backend を生成する。
func NewBackend(sheetsSvc *sheets.Service, driveSvc *drive.Service, client *http.Client, exportBaseURL string) *Backend {
	if exportBaseURL == "" {
		exportBaseURL = DefaultExportBaseURL
	}
	return &Backend{
		sheets:        sheetsSvc,
		drive:         driveSvc,
		client:        client,
		exportBaseURL: exportBaseURL,
	}
}

// CreateFromTemplate はテンプレートをコピーして新しいスプレッドシートのIDを返す。
func (b *Backend) CreateFromTemplate(ctx context.Context, templateID, name string) (string, error) {
	file, err := b.drive.Files.Copy(templateID, &drive.File{Name: name}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapError(err)
	}
	return file.Id, nil
}

// FindSpreadsheets は名前に nameContains を含むスプレッドシートを新しい順に返す。
func (b *Backend) FindSpreadsheets(ctx context.Context, nameContains string, limit int) ([]model.SheetRef, error) {
	q := fmt.Sprintf("mimeType='%s' and name contains '%s' and trashed = false",
		spreadsheetMimeType, escapeQuery(nameContains))
	list, err := b.drive.Files.List().
		Q(q).
		Fields("files(id, name, createdTime)").
		OrderBy("createdTime desc").
		PageSize(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(err)
	}

	refs := make([]model.SheetRef, 0, len(list.Files))
	for _, f := range list.Files {
		refs = append(refs, model.SheetRef{ID: f.Id, Name: f.Name})
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// ListTabs はタブの一覧を返す。
func (b *Backend) ListTabs(ctx context.Context, spreadsheetID string) ([]assembly.Tab, error) {
	ss, err := b.sheets.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(err)
	}

	tabs := make([]assembly.Tab, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		tabs = append(tabs, assembly.Tab{ID: s.Properties.SheetId, Title: s.Properties.Title})
	}
	return tabs, nil
}

// DeleteTab はタブを削除する。
func (b *Backend) DeleteTab(ctx context.Context, spreadsheetID string, tabID int64) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteSheet: &sheets.DeleteSheetRequest{
				SheetId:         tabID,
				ForceSendFields: []string{"SheetId"},
			},
		}},
	}
	if _, err := b.sheets.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

// DuplicateTab はタブを複製し、末尾に title という名前で追加する。
func (b *Backend) DuplicateTab(ctx context.Context, spreadsheetID string, sourceTabID int64, title string) (assembly.Tab, error) {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DuplicateSheet: &sheets.DuplicateSheetRequest{
				SourceSheetId:   sourceTabID,
				NewSheetName:    title,
				ForceSendFields: []string{"SourceSheetId"},
			},
		}},
	}
	resp, err := b.sheets.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return assembly.Tab{}, mapError(err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].DuplicateSheet == nil || resp.Replies[0].DuplicateSheet.Properties == nil {
		return assembly.Tab{}, errors.New("duplicate sheet reply is empty")
	}
	props := resp.Replies[0].DuplicateSheet.Properties
	return assembly.Tab{ID: props.SheetId, Title: props.Title}, nil
}

// WriteCells はセルの値を1回のバッチで書き込む。
func (b *Backend) WriteCells(ctx context.Context, spreadsheetID string, cells []assembly.Cell) error {
	if len(cells) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  c.Range,
			Values: [][]interface{}{{c.Value}},
		})
	}
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := b.sheets.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

// ShareLink はリンクを知っている全員に編集権限を付け、閲覧URLを返す。
func (b *Backend) ShareLink(ctx context.Context, spreadsheetID string) (string, error) {
	return b.share(ctx, spreadsheetID, "writer")
}

func (b *Backend) share(ctx context.Context, fileID, role string) (string, error) {
	perm := &drive.Permission{Type: "anyone", Role: role}
	if _, err := b.drive.Permissions.Create(fileID, perm).Context(ctx).Do(); err != nil {
		return "", mapError(err)
	}
	file, err := b.drive.Files.Get(fileID).Fields("webViewLink").Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	return file.WebViewLink, nil
}

// ExportTabPDF は1タブだけをA4縦・幅合わせでPDFに出力する。
func (b *Backend) ExportTabPDF(ctx context.Context, spreadsheetID string, tabID int64) ([]byte, error) {
	params := url.Values{}
	params.Set("format", "pdf")
	params.Set("gid", strconv.FormatInt(tabID, 10))
	params.Set("single", "true")
	params.Set("portrait", "true")
	params.Set("size", "A4")
	params.Set("fitw", "true")
	params.Set("gridlines", "false")
	params.Set("top_margin", "0.5")
	params.Set("bottom_margin", "0.5")
	params.Set("left_margin", "0.5")
	params.Set("right_margin", "0.5")
	exportURL := b.exportBaseURL + url.PathEscape(spreadsheetID) + "/export?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create export request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to export pdf: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("export %s: %w", spreadsheetID, assembly.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("export %s: %w", spreadsheetID, assembly.ErrSpreadsheetNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("export %s: unexpected status code: %d", spreadsheetID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	return data, nil
}

// UploadPDF はPDFをユーザーのDriveに保存し、閲覧リンクを返す。
func (b *Backend) UploadPDF(ctx context.Context, name string, pdf []byte) (string, error) {
	file, err := b.drive.Files.Create(&drive.File{Name: name, MimeType: pdfMimeType}).
		Media(bytes.NewReader(pdf)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapError(err)
	}
	return b.share(ctx, file.Id, "reader")
}

// mapError はGoogle APIのエラーを assembly の番兵エラーに対応付ける。
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", assembly.ErrSpreadsheetNotFound, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", assembly.ErrRateLimited, err)
		}
	}
	return err
}

// escapeQuery はDrive検索クエリの文字列リテラルをエスケープする。
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
