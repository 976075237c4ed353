package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsMarkup はタグが除去され本文だけが残ることを検証する。
func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "株式会社サンプル", "株式会社サンプル"},
		{"scriptタグは中身ごと除去", "<script>alert(1)</script>株式会社", "株式会社"},
		{"bタグは除去", "<b>太字</b>商事", "太字商事"},
		{"実体参照は元に戻す", "A&B 商会", "A&B 商会"},
		{"不等号は残す", "1 < 2", "1 < 2"},
		{"改行は空白に", "東京都\n千代田区", "東京都 千代田区"},
		{"前後の空白を除去", "  宛名  ", "宛名"},
		{"空文字", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_TruncatesLongInput(t *testing.T) {
	sanitizer := NewTextSanitizer()
	input := strings.Repeat("あ", DefaultMaxRunes+50)

	got := sanitizer.Sanitize(input)
	if n := len([]rune(got)); n != DefaultMaxRunes {
		t.Errorf("len = %d, want %d", n, DefaultMaxRunes)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()
	input := "<i>株式会社</i> &amp; 合同会社"

	first := sanitizer.Sanitize(input)
	for i := 0; i < 3; i++ {
		if got := sanitizer.Sanitize(input); got != first {
			t.Errorf("Sanitize() = %q, want %q", got, first)
		}
	}
}
