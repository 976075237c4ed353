package conversation

import (
	"fmt"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
)

// RenderSummary は生成前の最終確認テキストを組み立てる。
// セッションだけを入力とする純粋関数。
func RenderSummary(s *model.Session) string {
	lines := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		lines = append(lines, fmt.Sprintf("・%s（%d個 × %s円 = %s円）",
			item.Name, item.Quantity, formatYen(item.Price), formatYen(item.Amount())))
	}
	itemText := strings.Join(lines, "\n")
	if itemText == "" {
		itemText = "（なし）"
	}

	var b strings.Builder
	b.WriteString("==========\n")
	b.WriteString("【最終確認】\n")
	b.WriteString("------------------------------\n")
	b.WriteString("■ 会社名\n" + s.CompanyName + "\n\n")
	b.WriteString("■ 宛名\n" + s.ClientName + "\n\n")
	b.WriteString("■ 品目\n" + itemText + "\n\n")
	if s.DueDate != "" {
		b.WriteString("■ 支払い期日\n" + s.DueDate + "\n\n")
	}
	b.WriteString("------------------------------\n")
	b.WriteString("■ 合計金額\n" + formatYen(s.Total()) + "円\n")
	b.WriteString("==========\n\n")
	b.WriteString("この内容で書類を生成してよろしいですか？\n")
	b.WriteString("（「はい」または「修正する」と入力してください）")
	return b.String()
}
