package scanning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// amountPattern matches the first run of decimal digits and commas. A run of
// bare commas is skipped so that "Total, 3000" still reads 3000. Any Unicode
// decimal digit counts, so full-width "１２,３４５" reads 12345.
var amountPattern = regexp.MustCompile(`[\p{Nd},]*\p{Nd}[\p{Nd},]*`)

// parseAmount reads the first number out of a model reply
func parseAmount(text string) (Amount, error) {
	match := amountPattern.FindString(text)
	if match == "" {
		return Amount{}, nil
	}

	digits := asciiDigits(strings.ReplaceAll(match, ",", ""))
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrAmountOutOfRange, match)
	}

	return Amount{Value: value, Found: true}, nil
}

// asciiDigits rewrites decimal digits from any script as 0-9
func asciiDigits(s string) string {
	s = width.Narrow.String(s)
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return '0' + digitValue(r)
	}, s)
}

// digitValue returns the value of a Unicode decimal digit. Every Nd block is
// ten contiguous code points starting at zero, and unicode.Nd merges
// neighbouring blocks, so the offset into a range modulo 10 is the value.
func digitValue(r rune) rune {
	for _, rng := range unicode.Nd.R16 {
		if r >= rune(rng.Lo) && r <= rune(rng.Hi) {
			return (r - rune(rng.Lo)) % 10
		}
	}
	for _, rng := range unicode.Nd.R32 {
		if r >= rune(rng.Lo) && r <= rune(rng.Hi) {
			return (r - rune(rng.Lo)) % 10
		}
	}
	return 0
}
