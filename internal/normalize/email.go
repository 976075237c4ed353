package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail はメールアドレスをNFKC正規化し、小文字化して前後の空白を除く。
// 全角英数字で入力されたアドレスもASCIIに揃う。
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(raw)))
}

// IsEmail はメールアドレスの形をしているかどうかを返す。
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}
