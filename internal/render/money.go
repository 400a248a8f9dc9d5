package render

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatMoney renders a USD amount with thousands separators. Whole amounts
// have no decimals; anything with cents keeps at least two places and never
// loses precision: 5000 -> $5,000, 1234.5 -> $1,234.50, 0.125 -> $0.125.
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	out := sign + "$" + groupWhole(whole)
	if d.Equal(whole) {
		return out
	}
	places := fractionDigits(d)
	if places < 2 {
		places = 2
	}
	fixed := d.StringFixed(places)
	return out + fixed[strings.IndexByte(fixed, '.'):]
}

// FormatPercent renders a rate such as 12.5 as "12.5%".
func FormatPercent(d decimal.Decimal) string {
	return d.String() + "%"
}

// groupWhole adds thousands separators to a non-negative integer decimal.
// Amounts past int64 are grouped from their digit string.
func groupWhole(whole decimal.Decimal) string {
	if b := whole.BigInt(); b.IsInt64() {
		return printer.Sprintf("%d", b.Int64())
	}
	digits := whole.String()
	var sb strings.Builder
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	sb.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		sb.WriteByte(',')
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

func fractionDigits(d decimal.Decimal) int32 {
	s := d.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return int32(len(s) - dot - 1)
}
