package model

// Message はユーザーへ送る1件のメッセージ。
// Buttons が設定されている場合はボタンメニューとして、それ以外はテキストとして送る。
type Message struct {
	Text         string
	Buttons      *ButtonMenu
	QuickReplies []Choice
}

// ButtonMenu はタイトル付きのボタンメニュー。
type ButtonMenu struct {
	Title   string
	Text    string
	Choices []Choice
}

// Choice はボタンまたはクイックリプライの選択肢。
// Data が空の場合は Label をそのままテキストとして送信させる。
type Choice struct {
	Label string
	Data  string
}

// TextMessage はテキストのみのメッセージを生成する。
func TextMessage(text string) Message {
	return Message{Text: text}
}
