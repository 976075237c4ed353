package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrDueDate は支払い期日が YYYY-MM-DD 形式の実在日付でない場合のエラー。
var ErrDueDate = errors.New("due date must be a valid YYYY-MM-DD date")

var dueDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDueDate は支払い期日を検証し、YYYY-MM-DD 形式の文字列を返す。
// 全角数字はASCIIに揃えるが、区切りや桁数の揺れは受け付けない。
func ParseDueDate(raw string) (string, error) {
	s := strings.TrimSpace(widthReplacer.Replace(raw))
	if !dueDatePattern.MatchString(s) {
		return "", ErrDueDate
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", ErrDueDate
	}
	return s, nil
}
