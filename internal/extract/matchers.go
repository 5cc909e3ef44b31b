package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---- tax identifier ----

var (
	reTaxAnchor = regexp.MustCompile(`(?i)\b(tax\s*id|tax\s*no|tin|vat(\s*(no|reg))?|nit|rnc|ruc|gst(in)?|ein)\b\.?`)
	reTaxDigits = regexp.MustCompile(`\d[\d\- ]{6,18}\d`)
)

const (
	minTaxDigits = 9
	maxTaxDigits = 13
)

func matchTaxID(lines []string) (string, float64, bool) {
	for i, l := range lines {
		loc := reTaxAnchor.FindStringIndex(l)
		if loc == nil {
			continue
		}
		if v, ok := taxDigits(l[loc[1]:]); ok {
			return v, 0.95, true
		}
		if i+1 < len(lines) {
			if v, ok := taxDigits(lines[i+1]); ok {
				return v, 0.8, true
			}
		}
	}
	return "", 0, false
}

func taxDigits(s string) (string, bool) {
	for _, m := range reTaxDigits.FindAllString(s, -1) {
		d := digitsOnly(m)
		if len(d) >= minTaxDigits && len(d) <= maxTaxDigits {
			return d, true
		}
	}
	return "", false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ---- invoice number ----

var (
	reInvoiceStrong = regexp.MustCompile(`(?i)\b(invoice|receipt|inv|bill|ticket|folio|factura|order)\s*(number|num|nbr|no|n[°º]|#)?\s*\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`)
	reInvoiceWeak   = regexp.MustCompile(`(?i)^(no|n[°º]|#)\s*\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{3,})`)
	reHasDigit      = regexp.MustCompile(`\d`)
)

func matchInvoiceNumber(lines []string) (string, float64, bool) {
	for _, l := range lines {
		for _, m := range reInvoiceStrong.FindAllStringSubmatch(l, -1) {
			tok := strings.ToUpper(strings.Trim(m[3], "-/"))
			if reHasDigit.MatchString(tok) {
				return tok, 0.9, true
			}
		}
	}
	for _, l := range lines {
		if m := reInvoiceWeak.FindStringSubmatch(l); m != nil {
			tok := strings.ToUpper(strings.Trim(m[2], "-/"))
			if reHasDigit.MatchString(tok) {
				return tok, 0.5, true
			}
		}
	}
	return "", 0, false
}

// ---- date ----

type parsedDate struct {
	at      time.Time
	hasTime bool
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

const monthNames = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?`

// dateLayout is one locale pattern. parse receives the submatches and returns
// year, month, day; ok=false rejects the match.
type dateLayout struct {
	name       string
	re         *regexp.Regexp
	parse      func(m []string) (y int, mo time.Month, d int, ok bool)
	confFactor float64
}

var dateLayouts = []dateLayout{
	{
		name: "iso",
		re:   regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			return atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), true
		},
		confFactor: 1,
	},
	{
		name: "day-first-slash",
		re:   regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			a, b, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
			if b > 12 && a <= 12 {
				// month-first, e.g. 12/25/2025
				return y, time.Month(a), b, true
			}
			return y, time.Month(b), a, true
		},
		confFactor: 1,
	},
	{
		name: "day-first-dash",
		re:   regexp.MustCompile(`\b(\d{1,2})[-.](\d{1,2})[-.](\d{4})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			return atoi(m[3]), time.Month(atoi(m[2])), atoi(m[1]), true
		},
		confFactor: 1,
	},
	{
		name: "day-month-name",
		re:   regexp.MustCompile(`(?i)\b(\d{1,2})[\s\-]+` + monthNames + `[\s\-,]+(\d{4})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			mo, ok := months[strings.ToLower(m[2])]
			return atoi(m[3]), mo, atoi(m[1]), ok
		},
		confFactor: 1,
	},
	{
		name: "month-name-day",
		re:   regexp.MustCompile(`(?i)\b` + monthNames + `\s+(\d{1,2}),?\s+(\d{4})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			mo, ok := months[strings.ToLower(m[1])]
			return atoi(m[3]), mo, atoi(m[2]), ok
		},
		confFactor: 1,
	},
	{
		name: "two-digit-year",
		re:   regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2})\b`),
		parse: func(m []string) (int, time.Month, int, bool) {
			return 2000 + atoi(m[3]), time.Month(atoi(m[2])), atoi(m[1]), true
		},
		confFactor: 0.55,
	},
}

var (
	reDateAnchor = regexp.MustCompile(`(?i)\b(date|fecha|dated|issued)\b`)
	reClock      = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)(?::([0-5]\d))?\b`)
)

// matchDate scans anchored lines first, then every line; within a line the
// layouts are tried in order and the first valid match wins.
func matchDate(lines []string, loc *time.Location) (parsedDate, float64, bool) {
	var anchored, rest []string
	for _, l := range lines {
		if reDateAnchor.MatchString(l) {
			anchored = append(anchored, l)
		} else {
			rest = append(rest, l)
		}
	}
	if d, f, ok := scanDate(anchored, loc); ok {
		return d, 0.9 * f, true
	}
	if d, f, ok := scanDate(rest, loc); ok {
		return d, 0.7 * f, true
	}
	return parsedDate{}, 0, false
}

func scanDate(lines []string, loc *time.Location) (parsedDate, float64, bool) {
	for _, l := range lines {
		for _, layout := range dateLayouts {
			m := layout.re.FindStringSubmatch(l)
			if m == nil {
				continue
			}
			y, mo, d, ok := layout.parse(m)
			if !ok || !validDate(y, mo, d) {
				continue
			}
			out := parsedDate{at: time.Date(y, mo, d, 0, 0, 0, 0, loc)}
			if c := reClock.FindStringSubmatch(l); c != nil {
				out.at = time.Date(y, mo, d, atoi(c[1]), atoi(c[2]), atoi(c[3]), 0, loc)
				out.hasTime = true
			}
			return out, layout.confFactor, true
		}
	}
	return parsedDate{}, 0, false
}

func validDate(y int, mo time.Month, d int) bool {
	if y < 2000 || y > 2100 || mo < 1 || mo > 12 || d < 1 {
		return false
	}
	t := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	return t.Month() == mo && t.Day() == d
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ---- total amount ----

var (
	reSubtotal   = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b`)
	reTotal      = regexp.MustCompile(`(?i)\b(grand\s+)?total\b`)
	reNotTotal   = regexp.MustCompile(`(?i)\btotal\s+(items?|qty|quantity|articles|articulos|units|tax|vat|savings|discount)\b`)
	reAmountTok  = regexp.MustCompile(`-?\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|-?\d+(?:[.,]\d{1,2})?`)
	reAmountOnly = regexp.MustCompile(`^[^A-Za-z]*$`)
)

type amountAt struct {
	line  int
	value decimal.Decimal
	conf  float64
}

// matchTotal prefers the last "total" line whose amount is not below an
// earlier subtotal; if every total undercuts its subtotal the last one is
// kept with low confidence.
func matchTotal(lines []string) (decimal.Decimal, float64, bool) {
	var subtotals, totals []amountAt
	for i, l := range lines {
		switch {
		case reSubtotal.MatchString(l):
			if v, ok := lastAmount(l); ok {
				subtotals = append(subtotals, amountAt{line: i, value: v})
			}
		case reTotal.MatchString(l) && !reNotTotal.MatchString(l):
			if v, ok := lastAmount(l); ok {
				totals = append(totals, amountAt{line: i, value: v, conf: 0.9})
			} else if i+1 < len(lines) && reAmountOnly.MatchString(lines[i+1]) {
				if v, ok := lastAmount(lines[i+1]); ok {
					totals = append(totals, amountAt{line: i, value: v, conf: 0.7})
				}
			}
		}
	}
	if len(totals) == 0 {
		return decimal.Decimal{}, 0, false
	}
	for j := len(totals) - 1; j >= 0; j-- {
		t := totals[j]
		if !belowEarlierSubtotal(t, subtotals) {
			return t.value, t.conf, true
		}
	}
	last := totals[len(totals)-1]
	return last.value, 0.3, true
}

func belowEarlierSubtotal(t amountAt, subtotals []amountAt) bool {
	for _, s := range subtotals {
		if s.line < t.line && t.value.LessThan(s.value) {
			return true
		}
	}
	return false
}

func lastAmount(l string) (decimal.Decimal, bool) {
	toks := reAmountTok.FindAllString(l, -1)
	for i := len(toks) - 1; i >= 0; i-- {
		if v, ok := ParseAmount(toks[i]); ok {
			return v, true
		}
	}
	return decimal.Decimal{}, false
}

// ParseAmount reads "1,234.56", "1.234,56", "450,00" and "450" alike.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	decSep := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decSep = '.'
		} else {
			decSep = ','
		}
	case lastDot >= 0:
		if len(s)-lastDot-1 != 3 {
			decSep = '.'
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 != 3 {
			decSep = ','
		}
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		case c == decSep && i == strings.LastIndexByte(s, decSep):
			b.WriteByte('.')
		}
	}
	v, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

// ---- branch text ----

var reBranchAnchor = regexp.MustCompile(`(?i)^(store|branch|sucursal|location|outlet|tienda)\b\s*(name)?\s*[:#\-]?\s*(.*)$`)

func matchBranch(lines []string) (string, float64, bool) {
	for i, l := range lines {
		m := reBranchAnchor.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if v := strings.TrimSpace(m[3]); v != "" {
			return v, 0.8, true
		}
		if i+1 < len(lines) {
			return lines[i+1], 0.6, true
		}
	}
	return "", 0, false
}
