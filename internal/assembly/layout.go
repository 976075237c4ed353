package assembly

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var defaultLayoutYAML []byte

// Layout は書類種別ごとのセル配置。
type Layout struct {
	Estimate DocumentLayout `yaml:"estimate"`
	Invoice  DocumentLayout `yaml:"invoice"`
}

// DocumentLayout は1種類の書類のセル配置。
type DocumentLayout struct {
	Fields FieldCells `yaml:"fields"`
	Items  ItemTable  `yaml:"items"`
}

// FieldCells は単一セルに書き込む項目のA1表記。
type FieldCells struct {
	CompanyName string `yaml:"company_name"`
	Address     string `yaml:"address"`
	ClientName  string `yaml:"client_name"`
	BankAccount string `yaml:"bank_account"`
	DueDate     string `yaml:"due_date"`
	IssueDate   string `yaml:"issue_date"`
	Total       string `yaml:"total"`
}

// ItemTable は品目表の配置。
type ItemTable struct {
	StartRow int         `yaml:"start_row"`
	MaxRows  int         `yaml:"max_rows"`
	Columns  ItemColumns `yaml:"columns"`
}

// ItemColumns は品目表の列。
type ItemColumns struct {
	IssueDate string `yaml:"issue_date"`
	Name      string `yaml:"name"`
	Quantity  string `yaml:"quantity"`
	Price     string `yaml:"price"`
}

// Cell は1セルへの書き込み。Range はタブ名付きのA1表記。
type Cell struct {
	Range string
	Value any
}

var (
	cellPattern   = regexp.MustCompile(`^[A-Z]{1,3}[1-9][0-9]*$`)
	columnPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)
)

// DefaultLayout は埋め込みのセル配置を返す。
func DefaultLayout() (*Layout, error) {
	return ParseLayout(defaultLayoutYAML)
}

// LoadLayout はファイルからセル配置を読み込む。path が空なら埋め込みの配置を使う。
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return DefaultLayout()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout はYAMLを解析し、セル表記を検証する。
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	for name, dl := range map[string]DocumentLayout{"estimate": l.Estimate, "invoice": l.Invoice} {
		if err := dl.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s layout: %w", name, err)
		}
	}
	return &l, nil
}

func (dl DocumentLayout) validate() error {
	f := dl.Fields
	for _, cell := range []string{f.CompanyName, f.Address, f.ClientName, f.BankAccount, f.DueDate, f.IssueDate, f.Total} {
		if cell != "" && !cellPattern.MatchString(cell) {
			return fmt.Errorf("bad cell reference %q", cell)
		}
	}
	c := dl.Items.Columns
	for _, col := range []string{c.IssueDate, c.Name, c.Quantity, c.Price} {
		if col != "" && !columnPattern.MatchString(col) {
			return fmt.Errorf("bad column %q", col)
		}
	}
	if c.Name == "" {
		return fmt.Errorf("items.columns.name is required")
	}
	if dl.Items.StartRow < 1 {
		return fmt.Errorf("items.start_row must be positive")
	}
	if dl.Items.MaxRows < model.MaxItems {
		return fmt.Errorf("items.max_rows must be at least %d", model.MaxItems)
	}
	return nil
}

// For は書類種別に対応する配置を返す。
func (l *Layout) For(docType model.DocumentType) DocumentLayout {
	if docType == model.DocumentInvoice {
		return l.Invoice
	}
	return l.Estimate
}

// Cells はセッションの内容をタブ tab への書き込みに変換する。
// 空の値と配置が空の項目は書き込まず、テンプレートの書式を残す。
func (dl DocumentLayout) Cells(tab string, sess *model.Session, issueDate string) []Cell {
	var cells []Cell
	add := func(ref string, value any) {
		if ref == "" {
			return
		}
		if s, ok := value.(string); ok && s == "" {
			return
		}
		cells = append(cells, Cell{Range: a1(tab, ref), Value: value})
	}

	f := dl.Fields
	add(f.CompanyName, sess.CompanyName)
	add(f.Address, sess.Address)
	add(f.ClientName, sess.ClientName)
	add(f.BankAccount, sess.BankAccount)
	add(f.DueDate, sess.DueDate)
	add(f.IssueDate, issueDate)
	if f.Total != "" {
		add(f.Total, sess.Total())
	}

	c := dl.Items.Columns
	for i, item := range sess.Items {
		if i >= dl.Items.MaxRows {
			break
		}
		row := strconv.Itoa(dl.Items.StartRow + i)
		if c.IssueDate != "" {
			add(c.IssueDate+row, issueDate)
		}
		add(c.Name+row, item.Name)
		if c.Quantity != "" {
			add(c.Quantity+row, item.Quantity)
		}
		if c.Price != "" {
			add(c.Price+row, item.Price)
		}
	}
	return cells
}

// a1 はタブ名を引用符で囲んだA1表記を返す。
func a1(tab, ref string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + ref
}
