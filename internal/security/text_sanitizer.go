// Package security は資格情報の保護と、外部へ書き出す入力の無害化を提供する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxRunes は1セルに書き込む自由入力の最大文字数。
const DefaultMaxRunes = 200

// TextSanitizer はチャットの自由入力をスプレッドシートのセルへ書き込む前に整える。
// マークアップを除去し、制御文字を取り除き、長さを制限する。
type TextSanitizer interface {
	// Sanitize は入力から安全なプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

type textSanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicyで全タグを除去した後、エスケープされた実体参照を元の文字に戻す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy:   bluemonday.StrictPolicy(),
		maxRunes: DefaultMaxRunes,
	}
}

// Sanitize は入力から安全なプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) > s.maxRunes {
		text = string(runes[:s.maxRunes])
	}
	return text
}
