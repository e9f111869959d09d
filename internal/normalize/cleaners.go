package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	spaceRun = regexp.MustCompile(`\s+`)

	quotedWord  = regexp.MustCompile(`'(\w+)'`)
	doubleQuote = regexp.MustCompile(`''`)

	phoneNoise    = regexp.MustCompile(`[).\s+]`)
	phoneOpenPair = regexp.MustCompile(`\((\d+)--`)
	nonDigit      = regexp.MustCompile(`\D`)

	centsUSD     = regexp.MustCompile(`(\d+)\$(\d+)¢`)
	centsEUR     = regexp.MustCompile(`(\d+)€(\d+)¢`)
	suffixSymbol = regexp.MustCompile(`(\d+\.?\d*)([$€])`)

	dateISO   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	dateUS    = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{2})`)
	dateEU    = regexp.MustCompile(`(\d{1,2})\.(\d{2})\.(\d{4})`)
	dateText  = regexp.MustCompile(`(\d{1,2})-([A-Za-z]+)-(\d{4})`)
)

// eurToUSD is the fixed conversion rate the upstream feeds were priced
// against.
var eurToUSD = decimal.NewFromFloat(1.2)

var errNoAmount = errors.New("no parseable amount")

var monthNumbers = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04",
	"may": "05", "jun": "06", "jul": "07", "aug": "08",
	"sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

// CollapseSpaces trims and squeezes interior whitespace.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Key builds the case-insensitive comparison form of a display value.
func Key(s string) string {
	return strings.ToLower(CollapseSpaces(s))
}

// CleanTitle repairs the quoting damage seen in book feeds: 'word'
// emphasis, doubled apostrophes and en dashes.
func CleanTitle(s string) string {
	s = quotedWord.ReplaceAllString(s, "$1")
	s = doubleQuote.ReplaceAllString(s, "'")
	s = strings.ReplaceAll(s, "–", "-")
	return CollapseSpaces(s)
}

// SplitAuthors breaks a combined author field into display names.
func SplitAuthors(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = CollapseSpaces(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StandardizePhone rewrites separator noise into dashes.
func StandardizePhone(s string) string {
	s = phoneNoise.ReplaceAllString(s, "-")
	s = phoneOpenPair.ReplaceAllString(s, "$1-")
	s = strings.Trim(s, "-")
	return s
}

// PhoneKey reduces a phone number to digits for comparison.
func PhoneKey(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// ParseMoney turns a messy price token into a USD decimal. It repairs
// the known damage patterns (currency words, cent suffixes, symbol on
// the wrong side) and converts EUR at the fixed rate.
func ParseMoney(raw string) (decimal.Decimal, error) {
	s := spaceRun.ReplaceAllString(raw, "")
	if s == "" {
		return decimal.Zero, errNoAmount
	}
	s = strings.ReplaceAll(s, "USD", "$")
	s = strings.ReplaceAll(s, "EUR", "€")
	s = strings.TrimSuffix(s, ".")
	s = centsUSD.ReplaceAllString(s, "$$$1.$2")
	s = centsEUR.ReplaceAllString(s, "€$1.$2")
	s = strings.ReplaceAll(s, "¢", ".")
	s = suffixSymbol.ReplaceAllString(s, "$2$1")

	isEUR := strings.HasPrefix(s, "€")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errNoAmount
	}
	if isEUR {
		amount = amount.Mul(eurToUSD).Round(2)
	}
	return amount, nil
}

// ExtractDate pulls a calendar date out of a timestamp-ish value. Four
// upstream shapes are accepted: ISO, US MM/DD/YY, European D.MM.YYYY
// and D-Mon-YYYY. The result is always YYYY-MM-DD.
func ExtractDate(raw string) (string, bool) {
	if m := dateISO.FindStringSubmatch(raw); m != nil {
		return validDate(m[1])
	}
	if m := dateUS.FindStringSubmatch(raw); m != nil {
		return validDate("20" + m[3] + "-" + m[1] + "-" + m[2])
	}
	if m := dateEU.FindStringSubmatch(raw); m != nil {
		return validDate(m[3] + "-" + m[2] + "-" + pad2(m[1]))
	}
	if m := dateText.FindStringSubmatch(raw); m != nil {
		month := strings.ToLower(m[2])
		if len(month) > 3 {
			month = month[:3]
		}
		num, ok := monthNumbers[month]
		if !ok {
			return "", false
		}
		return validDate(m[3] + "-" + num + "-" + pad2(m[1]))
	}
	return "", false
}

func validDate(s string) (string, bool) {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
