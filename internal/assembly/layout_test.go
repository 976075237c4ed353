package assembly

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/docbot/internal/model"
)

func TestDefaultLayout_Parses(t *testing.T) {
	l, err := DefaultLayout()
	if err != nil {
		t.Fatalf("DefaultLayout() error = %v", err)
	}
	if l.Estimate.Fields.CompanyName != "E8" || l.Invoice.Fields.BankAccount != "C34" {
		t.Errorf("unexpected layout: %+v", l)
	}
	if l.Invoice.Items.Columns.Name != "B" || l.Estimate.Items.Columns.Name != "A" {
		t.Errorf("item name columns = %q/%q, want A/B", l.Estimate.Items.Columns.Name, l.Invoice.Items.Columns.Name)
	}
}

func TestParseLayout_RejectsBadReferences(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"不正なセル", "estimate:\n  fields:\n    company_name: 8E\n  items:\n    start_row: 16\n    max_rows: 12\n    columns:\n      name: A\ninvoice:\n  items:\n    start_row: 16\n    max_rows: 12\n    columns:\n      name: B\n"},
		{"品目名の列なし", "estimate:\n  items:\n    start_row: 16\n    max_rows: 12\ninvoice:\n  items:\n    start_row: 16\n    max_rows: 12\n    columns:\n      name: B\n"},
		{"行数不足", "estimate:\n  items:\n    start_row: 16\n    max_rows: 5\n    columns:\n      name: A\ninvoice:\n  items:\n    start_row: 16\n    max_rows: 12\n    columns:\n      name: B\n"},
		{"YAMLでない", "estimate: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLayout([]byte(tt.yaml)); err == nil {
				t.Error("ParseLayout() error = nil, want error")
			}
		})
	}
}

func TestLoadLayout_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	data := "estimate:\n  fields:\n    company_name: B2\n    total: F30\n  items:\n    start_row: 20\n    max_rows: 10\n    columns:\n      name: A\n      price: C\n" +
		"invoice:\n  items:\n    start_row: 16\n    max_rows: 12\n    columns:\n      name: B\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("LoadLayout() error = %v", err)
	}
	if l.Estimate.Fields.Total != "F30" || l.Estimate.Items.StartRow != 20 {
		t.Errorf("layout = %+v", l.Estimate)
	}

	if _, err := LoadLayout(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadLayout(missing) error = nil, want error")
	}
}

func TestDocumentLayout_Cells_Estimate(t *testing.T) {
	l, _ := DefaultLayout()
	sess := &model.Session{
		DocumentType: model.DocumentEstimate,
		CompanyName:  "株式会社テスト",
		Address:      "東京都",
		ClientName:   "取引先",
		BankAccount:  "見積書には書かない",
		Items: []model.LineItem{
			{Name: "Webサイト制作", Quantity: 1, Price: 100000},
			{Name: "保守", Quantity: 12, Price: 5000},
		},
	}

	cells := l.For(model.DocumentEstimate).Cells("見積書2", sess, "2024-01-15")

	got := map[string]any{}
	for _, c := range cells {
		got[c.Range] = c.Value
	}
	want := map[string]any{
		"'見積書2'!E8":  "株式会社テスト",
		"'見積書2'!E10": "東京都",
		"'見積書2'!A7":  "取引先",
		"'見積書2'!A16": "Webサイト制作",
		"'見積書2'!D16": int64(1),
		"'見積書2'!E16": int64(100000),
		"'見積書2'!A17": "保守",
		"'見積書2'!D17": int64(12),
		"'見積書2'!E17": int64(5000),
	}
	if len(got) != len(want) {
		t.Errorf("cells = %d, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("cell %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestDocumentLayout_Cells_InvoiceIncludesDatesAndBank(t *testing.T) {
	l, _ := DefaultLayout()
	sess := &model.Session{
		DocumentType: model.DocumentInvoice,
		CompanyName:  "株式会社テスト",
		BankAccount:  "テスト銀行 普通 1234567",
		DueDate:      "2024-02-29",
		Items:        []model.LineItem{{Name: "作業", Quantity: 2, Price: 3000}},
	}

	cells := l.For(model.DocumentInvoice).Cells("請求書", sess, "2024-01-15")

	got := map[string]any{}
	for _, c := range cells {
		got[c.Range] = c.Value
	}
	checks := map[string]any{
		"'請求書'!G3":  "2024-02-29",
		"'請求書'!C34": "テスト銀行 普通 1234567",
		"'請求書'!A16": "2024-01-15",
		"'請求書'!B16": "作業",
		"'請求書'!E16": int64(2),
		"'請求書'!F16": int64(3000),
	}
	for k, v := range checks {
		if got[k] != v {
			t.Errorf("cell %s = %v, want %v", k, got[k], v)
		}
	}
	// 空の住所と宛名は書き込まない
	if _, ok := got["'請求書'!E10"]; ok {
		t.Error("empty address should not be written")
	}
}

func TestA1_QuotesTabName(t *testing.T) {
	if got := a1("O'Brien", "A1"); !strings.HasPrefix(got, "'O''Brien'!") {
		t.Errorf("a1() = %q", got)
	}
}
