package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountPattern = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*$|^-?\d+$`)
	digitsOnly    = regexp.MustCompile(`^\d+$`)
)

// parseAmount parses a locale-formatted integer amount: optional sign,
// optional thousands separators, optional currency marks (₩ prefix, 원
// suffix). Receipts carry whole-won integers only.
func parseAmount(s string) (int, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "₩")
	cleaned = strings.TrimSuffix(cleaned, "원")
	if !amountPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("not an amount: %q", s)
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return n, nil
}

// isAmountToken reports whether a token looks like a formatted amount.
func isAmountToken(s string) bool {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "₩")
	cleaned = strings.TrimSuffix(cleaned, "원")
	return amountPattern.MatchString(cleaned)
}

// isBareDigits reports whether a token is an unformatted digit run, such as
// an item index or a discount coupon code.
func isBareDigits(s string) bool {
	return digitsOnly.MatchString(strings.TrimSpace(s))
}
