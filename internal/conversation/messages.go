package conversation

import (
	"fmt"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// 利用者が入力するキーワード
const (
	KeywordCreateEstimate = "見積書を作る"
	KeywordCreateInvoice  = "請求書を作る"
	KeywordEditCompany    = "会社情報を編集"
	KeywordDone           = "完了"
	KeywordYes            = "はい"
	KeywordEdit           = "修正する"
	KeywordCancel         = "キャンセル"
	KeywordNewSheet       = "新規作成"
	KeywordExistingSheet  = "既存シート"
	KeywordRemoveLast     = "削除"
	KeywordKeep           = "そのまま"
	KeywordNext           = "次へ"
	SheetSelectPrefix     = "シート選択:"
)

// ボタン・クイックリプライのポストバックデータ
const (
	ActionCreateEstimate  = "create_estimate"
	ActionCreateInvoice   = "create_invoice"
	ActionEditCompany     = "edit_company_info"
	ActionConfirmGenerate = "confirm_generate"
	ActionEditItems       = "edit_items"
	ActionCancel          = "cancel"
	ActionCreationNew     = "creation_new"
	ActionCreationExist   = "creation_existing"
	ActionSelectSheet     = "select_sheet:"
)

// actionKeywords はポストバックデータを同じ意味のキーワードに対応付ける。
var actionKeywords = map[string]string{
	ActionCreateEstimate:  KeywordCreateEstimate,
	ActionCreateInvoice:   KeywordCreateInvoice,
	ActionEditCompany:     KeywordEditCompany,
	ActionConfirmGenerate: KeywordYes,
	ActionEditItems:       KeywordEdit,
	ActionCancel:          KeywordCancel,
	ActionCreationNew:     KeywordNewSheet,
	ActionCreationExist:   KeywordExistingSheet,
}

const itemFormatHint = "形式：品目名,数量,単価\n例：Webサイト制作,1,100000"

const dueDateFormatHint = "形式：YYYY-MM-DD\n例：2024-01-31"

var yenPrinter = message.NewPrinter(language.Japanese)

// formatYen は金額を3桁区切りで表す。
func formatYen(n int64) string {
	return yenPrinter.Sprintf("%d", n)
}

func msgWelcome() model.Message {
	return model.TextMessage("友だち追加ありがとうございます！\n\n" +
		"このアカウントでは、トーク画面から見積書・請求書を作成できます。\n" +
		"はじめに、ご利用のメールアドレスを入力してください。")
}

func msgEmailPrompt() model.Message {
	return model.TextMessage("ご利用のメールアドレスを入力してください。")
}

func msgInvalidEmail() model.Message {
	return model.TextMessage("メールアドレスの形式が正しくありません。\n\n" +
		"例：example@example.com\n\nもう一度入力してください。")
}

func msgEmailAccepted(authURL string) model.Message {
	return model.TextMessage("✅ メールアドレスを登録しました。\n\n" +
		"続いて、書類を保存するGoogleアカウントを連携してください。\n" +
		"以下のリンクから認証を完了してください：\n\n" + authURL)
}

func msgEmailAcceptedAlreadyLinked() model.Message {
	return model.Message{
		Text: "✅ メールアドレスを登録しました。\n\n" +
			"Googleアカウントは連携済みです。「次へ」と入力して会社情報の登録に進んでください。",
		QuickReplies: []model.Choice{{Label: KeywordNext}},
	}
}

func msgAuthPending(authURL string) model.Message {
	return model.TextMessage("🔐 Google認証がまだ完了していません。\n" +
		"以下のリンクから認証を完了してください：\n\n" + authURL)
}

func msgAuthLost(authURL string) model.Message {
	return model.TextMessage("🔐 Google認証が失われています。再度認証を完了してください：\n\n" + authURL)
}

const authCompletedText = "✅ Google認証が完了しました。"

func msgAuthCompleted() model.Message {
	return model.TextMessage(authCompletedText)
}

// registrationPrompt は登録項目の入力を促す。保存済みの値があれば「そのまま」で維持できることを添える。
func registrationPrompt(prefix, prompt, current string) model.Message {
	text := prefix + prompt
	if current == "" {
		return model.TextMessage(text)
	}
	text += fmt.Sprintf("\n\n（現在の登録：%s）\n変更しない場合は「%s」と入力してください。", current, KeywordKeep)
	return model.Message{
		Text:         text,
		QuickReplies: []model.Choice{{Label: KeywordKeep}},
	}
}

func msgCompanyPrompt(prefix, current string) model.Message {
	return registrationPrompt(prefix, "会社名（屋号）を入力してください。", current)
}

func msgAddressPrompt(current string) model.Message {
	return registrationPrompt("", "住所を入力してください。", current)
}

func msgBankAccountPrompt(current string) model.Message {
	return registrationPrompt("", "振込先の口座情報を入力してください。\n例：○○銀行 △△支店 普通 1234567", current)
}

func msgEmptyValue() model.Message {
	return model.TextMessage("入力が空です。もう一度入力してください。")
}

func msgRegistered(s *model.Session) model.Message {
	return model.TextMessage("✅ 会社情報を登録しました。\n\n" +
		"会社名：" + s.CompanyName + "\n" +
		"住所：" + s.Address + "\n" +
		"振込先：" + s.BankAccount)
}

// MainMenu はメインメニューのボタンを返す。
func MainMenu() model.Message {
	return model.Message{
		Text: "メニューから操作を選んでください。",
		Buttons: &model.ButtonMenu{
			Title: "メニュー",
			Text:  "作成する書類を選んでください。",
			Choices: []model.Choice{
				{Label: KeywordCreateEstimate, Data: ActionCreateEstimate},
				{Label: KeywordCreateInvoice, Data: ActionCreateInvoice},
				{Label: KeywordEditCompany, Data: ActionEditCompany},
			},
		},
	}
}

func msgCanceled() model.Message {
	return model.TextMessage("キャンセルしました。")
}

func msgCreationMethod(docType model.DocumentType) model.Message {
	return model.Message{
		Text: docType.Label() + "を作成します。\n\n" +
			"新しいシートに作成するか、既存のシートに追加するかを選んでください。",
		QuickReplies: []model.Choice{
			{Label: KeywordNewSheet, Data: ActionCreationNew},
			{Label: KeywordExistingSheet, Data: ActionCreationExist},
			{Label: KeywordCancel, Data: ActionCancel},
		},
	}
}

func msgNoCandidateSheets(docType model.DocumentType) model.Message {
	return model.TextMessage("既存の" + docType.Label() + "シートが見つかりませんでした。新しいシートで作成します。")
}

// quickReplyLabelLimit はクイックリプライのラベルの最大文字数。
const quickReplyLabelLimit = 20

func msgSelectSheet(sheets []model.SheetRef) model.Message {
	var b strings.Builder
	b.WriteString("追加先のシートを選んでください。\n")
	choices := make([]model.Choice, 0, len(sheets)+1)
	for i, sheet := range sheets {
		fmt.Fprintf(&b, "\n%d. %s", i+1, sheet.Name)
		label := []rune(sheet.Name)
		if len(label) > quickReplyLabelLimit {
			label = label[:quickReplyLabelLimit]
		}
		choices = append(choices, model.Choice{Label: string(label), Data: ActionSelectSheet + sheet.ID})
	}
	choices = append(choices, model.Choice{Label: KeywordNewSheet, Data: ActionCreationNew})
	return model.Message{Text: b.String(), QuickReplies: choices}
}

func msgSheetSelected(name string) model.Message {
	return model.TextMessage("✅ 「" + name + "」に追加します。")
}

func msgClientNamePrompt() model.Message {
	return model.TextMessage("宛名（取引先の会社名など）を入力してください。")
}

func msgItemsPrompt() model.Message {
	return model.TextMessage("品目を入力してください。\n\n" + itemFormatHint +
		"\n\n最大10件まで入力できます。入力が終わったら「完了」と入力してください。")
}

func msgItemFormatError() model.Message {
	return model.TextMessage("形式が正しくありません。\n\n" + itemFormatHint)
}

func msgItemNumericError() model.Message {
	return model.TextMessage("数量と単価は数字で入力してください。\n\n" + itemFormatHint)
}

func msgItemTotalTooLarge() model.Message {
	return model.TextMessage("合計金額が大きすぎるため、この品目は追加できません。\n\n数量と単価を確認してください。")
}

func msgItemsEmpty() model.Message {
	return model.TextMessage("品目が入力されていません。\n\n" + itemFormatHint)
}

func msgItemAdded(item model.LineItem, s *model.Session) model.Message {
	return model.TextMessage(fmt.Sprintf("✅ 品目を追加しました：%s\n\n現在の品目数：%d/%d\n合計金額：%s円\n\n"+
		"続けて品目を入力するか、「完了」と入力してください。",
		item.Name, len(s.Items), model.MaxItems, formatYen(s.Total())))
}

func msgItemLimitReached() model.Message {
	return model.TextMessage(fmt.Sprintf("品目数が上限（%d件）に達しました。", model.MaxItems))
}

func msgItemRemoved(item model.LineItem, s *model.Session) model.Message {
	return model.TextMessage(fmt.Sprintf("🗑 品目を削除しました：%s\n\n現在の品目数：%d/%d\n合計金額：%s円",
		item.Name, len(s.Items), model.MaxItems, formatYen(s.Total())))
}

func msgNothingToRemove() model.Message {
	return model.TextMessage("削除できる品目がありません。\n\n" + itemFormatHint)
}

func msgDueDatePrompt() model.Message {
	return model.TextMessage("支払い期日を入力してください。\n\n" + dueDateFormatHint)
}

func msgDueDateError() model.Message {
	return model.TextMessage("日付の形式が正しくありません。\n\n" + dueDateFormatHint)
}

func msgConfirm(s *model.Session) model.Message {
	return model.Message{
		Text: RenderSummary(s),
		QuickReplies: []model.Choice{
			{Label: KeywordYes, Data: ActionConfirmGenerate},
			{Label: KeywordEdit, Data: ActionEditItems},
			{Label: KeywordCancel, Data: ActionCancel},
		},
	}
}

func msgConfirmUnrecognized() model.Message {
	return model.Message{
		Text: "「はい」または「修正する」と入力してください。\n作成を中止する場合は「キャンセル」と入力してください。",
		QuickReplies: []model.Choice{
			{Label: KeywordYes, Data: ActionConfirmGenerate},
			{Label: KeywordEdit, Data: ActionEditItems},
		},
	}
}

func msgEditItems() model.Message {
	return model.TextMessage("品目の修正を行います。続けて品目を入力してください。\n\n" + itemFormatHint +
		"\n\n最後の品目を取り消す場合は「削除」、完了したら「完了」と入力してください。")
}

func msgGenerating(docType model.DocumentType) model.Message {
	return model.TextMessage(docType.Label() + "を作成中です…")
}

func msgRestricted() model.Message {
	return model.TextMessage("現在このアカウントではご利用いただけません。\n詳しくはお問い合わせください。")
}

func msgInternalError() model.Message {
	return model.TextMessage("❌ エラーが発生しました。\n\nしばらく時間をおいて再度お試しください。")
}

// GenerationSucceeded は書類生成完了のメッセージを返す。
func GenerationSucceeded(docType model.DocumentType, editURL, pdfURL string) model.Message {
	return model.TextMessage("✅ " + docType.Label() + "を作成しました！\n\n" +
		"📝 編集リンク：\n" + editURL + "\n\n" +
		"📄 PDFダウンロード：\n" + pdfURL)
}

// GenerationFailed は書類生成失敗のメッセージを返す。内部エラーの詳細は含めない。
func GenerationFailed() model.Message {
	return model.Message{
		Text: "❌ 書類の作成中にエラーが発生しました。\n\n" +
			"しばらく時間をおいて再度お試しください。（「はい」と入力すると同じ内容で再作成します）",
		QuickReplies: []model.Choice{
			{Label: KeywordYes, Data: ActionConfirmGenerate},
			{Label: KeywordCancel, Data: ActionCancel},
		},
	}
}

// InternalError は処理を続けられなかったときの汎用メッセージを返す。
func InternalError() model.Message {
	return msgInternalError()
}
