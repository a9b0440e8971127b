package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

var (
	datePattern = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
	timePattern = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)
)

// kst is the zone receipts are printed in.
var kst = time.FixedZone("KST", 9*60*60)

// extractReceiptInfo reads the purchase date and time. The first line
// carrying a date wins; a time on the same line refines it.
func extractReceiptInfo(n annotation.Normalized, _ layout) (*time.Time, bool, []receipt.Failure) {
	for _, line := range n.Lines {
		text := line.Text()
		m := datePattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}

		hour, minute, second := 0, 0, 0
		if tm := timePattern.FindStringSubmatch(text); tm != nil {
			hour, _ = strconv.Atoi(tm[1])
			minute, _ = strconv.Atoi(tm[2])
			if tm[3] != "" {
				second, _ = strconv.Atoi(tm[3])
			}
			if hour > 23 {
				hour = 0
			}
		}

		date := time.Date(year, time.Month(month), day, hour, minute, second, 0, kst)
		return &date, true, nil
	}

	return nil, false, []receipt.Failure{{
		Section:     SectionReceiptInfo,
		Description: "purchase date not found",
	}}
}
