// Package normalize はチャットの自由入力を機械処理可能な値に正規化する。
//
// 全角数字・全角読点・全角スペースをASCIIに揃え、品目行「品目名,数量,単価」を
// 分解する。数量と単価は「3万」「2千」「1,500」のような表記を受け付ける。
package normalize

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/docbot/internal/model"
)

var (
	// ErrItemFormat は品目行が3要素に分解できない場合のエラー。
	ErrItemFormat = errors.New("item line must have exactly three fields")
	// ErrItemNumeric は数量または単価が整数として解釈できない場合のエラー。
	ErrItemNumeric = errors.New("quantity and price must be non-negative integers")
)

var widthReplacer = strings.NewReplacer(
	"、", ",",
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
	"　", " ",
)

var separatorRun = regexp.MustCompile(`[\s,]+`)

// Normalize は品目行を正規化する。
// 全角読点・全角数字・全角スペースを置換した後、空白とカンマの連続を1つのカンマにまとめ、
// 先頭と末尾のカンマを取り除く。正規化済みの文字列に再適用しても結果は変わらない。
func Normalize(raw string) string {
	s := widthReplacer.Replace(raw)
	s = separatorRun.ReplaceAllString(s, ",")
	return strings.Trim(s, ",")
}

// Value は数値トークンの解釈結果。OK が false の場合 Raw に元の文字列が入る。
type Value struct {
	Int int64
	Raw string
	OK  bool
}

// ParseToken は数量・単価トークンを解釈する。
// 「万」「千」の接尾辞は小数として解釈して倍率を掛け、整数に切り捨てる。
// 接尾辞の解釈に失敗した場合は通常の整数解釈にフォールバックする。
// 整数として解釈できない場合は前後の空白を除いた元の文字列を返す。
func ParseToken(token string) Value {
	s := strings.TrimSpace(widthReplacer.Replace(token))

	for _, unit := range []struct {
		suffix     string
		multiplier float64
	}{
		{"万", 10000},
		{"千", 1000},
	} {
		if !strings.HasSuffix(s, unit.suffix) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, unit.suffix), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			v := math.Trunc(f * unit.multiplier)
			if v <= math.MaxInt64 && v >= math.MinInt64 {
				return Value{Int: int64(v), OK: true}
			}
		}
		break
	}

	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return Value{Raw: s}
	}
	return Value{Int: n, OK: true}
}

// ParseQuantityOrPrice は数量・単価トークンを0以上の整数として解釈する。
func ParseQuantityOrPrice(token string) (int64, bool) {
	v := ParseToken(token)
	if !v.OK || v.Int < 0 {
		return 0, false
	}
	return v.Int, true
}

// ParseItemLine は「品目名,数量,単価」形式の1行を品目に変換する。
// 正規化後に3要素でなければ ErrItemFormat、数量か単価が整数でなければ ErrItemNumeric を返す。
func ParseItemLine(raw string) (model.LineItem, error) {
	parts := strings.Split(Normalize(raw), ",")
	if len(parts) != 3 || parts[0] == "" {
		return model.LineItem{}, ErrItemFormat
	}

	quantity, ok := ParseQuantityOrPrice(parts[1])
	if !ok {
		return model.LineItem{}, ErrItemNumeric
	}
	price, ok := ParseQuantityOrPrice(parts[2])
	if !ok {
		return model.LineItem{}, ErrItemNumeric
	}
	if quantity != 0 && price > math.MaxInt64/quantity {
		return model.LineItem{}, ErrItemNumeric
	}

	return model.LineItem{
		Name:     parts[0],
		Quantity: quantity,
		Price:    price,
	}, nil
}
