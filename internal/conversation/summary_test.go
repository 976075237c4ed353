package conversation

import (
	"strings"
	"testing"

	"github.com/hitoshi/docbot/internal/model"
)

func TestRenderSummary_Estimate(t *testing.T) {
	sess := &model.Session{
		CompanyName: "株式会社テスト",
		ClientName:  "取引先株式会社",
		Items: []model.LineItem{
			{Name: "Webサイト制作", Quantity: 1, Price: 100000},
			{Name: "保守", Quantity: 12, Price: 5000},
		},
	}

	got := RenderSummary(sess)

	want := "==========\n" +
		"【最終確認】\n" +
		"------------------------------\n" +
		"■ 会社名\n株式会社テスト\n\n" +
		"■ 宛名\n取引先株式会社\n\n" +
		"■ 品目\n" +
		"・Webサイト制作（1個 × 100,000円 = 100,000円）\n" +
		"・保守（12個 × 5,000円 = 60,000円）\n\n" +
		"------------------------------\n" +
		"■ 合計金額\n160,000円\n" +
		"==========\n\n" +
		"この内容で書類を生成してよろしいですか？\n" +
		"（「はい」または「修正する」と入力してください）"
	if got != want {
		t.Errorf("RenderSummary() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderSummary_DueDateAndEmptyItems(t *testing.T) {
	sess := &model.Session{DueDate: "2024-01-31"}

	got := RenderSummary(sess)

	if !strings.Contains(got, "■ 品目\n（なし）") {
		t.Errorf("empty items placeholder missing:\n%s", got)
	}
	if !strings.Contains(got, "■ 支払い期日\n2024-01-31\n\n") {
		t.Errorf("due date section missing:\n%s", got)
	}
	if !strings.Contains(got, "■ 合計金額\n0円") {
		t.Errorf("zero total missing:\n%s", got)
	}
}

func TestRenderSummary_IsPure(t *testing.T) {
	sess := &model.Session{CompanyName: "a", Items: []model.LineItem{{Name: "x", Quantity: 3, Price: 1000}}}
	before := *sess

	first := RenderSummary(sess)
	second := RenderSummary(sess)

	if first != second {
		t.Error("RenderSummary should be deterministic")
	}
	if sess.CompanyName != before.CompanyName || len(sess.Items) != 1 {
		t.Error("RenderSummary must not modify the session")
	}
}
