package assembly

import (
	"strconv"
	"strings"
)

// NextTabName は書き込み先のタブ名を決める。
// base が存在しなければ base を返す。存在する場合は base を1番目と数え、
// base+N 形式のタブの最大の N に1を足した名前を返す。
func NextTabName(base string, existing []string) string {
	maxNum := 1
	hasBase := false
	for _, name := range existing {
		if name == base {
			hasBase = true
			continue
		}
		n, ok := numberSuffix(name, base)
		if ok && n > maxNum {
			maxNum = n
		}
	}
	if maxNum == 1 && !hasBase {
		return base
	}
	return base + strconv.Itoa(maxNum+1)
}

// numberSuffix は name が base+数字 の形式ならその数字を返す。
func numberSuffix(name, base string) (int, bool) {
	rest, ok := strings.CutPrefix(name, base)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
