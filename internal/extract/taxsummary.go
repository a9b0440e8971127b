package extract

import (
	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

// taxSummary carries the three tax section amounts; each is independently
// optional.
type taxSummary struct {
	TaxProductAmount          *int
	TaxAmount                 *int
	TaxExemptionProductAmount *int
}

// extractTaxSummary reads the taxable-product, tax, and tax-exempt-product
// amounts by their anchor labels. The permit drops when no anchor is present
// or when an anchored line carries no readable amount.
func extractTaxSummary(n annotation.Normalized, lay layout) (taxSummary, bool, []receipt.Failure) {
	summary := taxSummary{}
	failures := []receipt.Failure{}
	permit := true
	found := 0

	read := func(label string, dest **int) {
		amount, lineText, ok := lastAmountOnAnchoredLine(n, label)
		if lineText == "" {
			return // anchor absent, field stays nil
		}
		found++
		if !ok {
			permit = false
			failures = append(failures, receipt.Failure{
				Section:     SectionTaxSummary,
				Description: "unparseable amount token",
				Context:     lineText,
			})
			return
		}
		*dest = &amount
	}

	read(lay.taxProductLabel, &summary.TaxProductAmount)
	read(lay.taxAmountLabel, &summary.TaxAmount)
	read(lay.taxExemptLabel, &summary.TaxExemptionProductAmount)

	if found == 0 {
		permit = false
		failures = append(failures, receipt.Failure{
			Section:     SectionTaxSummary,
			Description: "tax summary anchors not found",
		})
	}
	return summary, permit, failures
}

// lastAmountOnAnchoredLine finds the first line containing the anchor label
// and parses the last amount-formatted token on it. lineText is "" when no
// line matches; ok is false when the line has no parseable amount.
func lastAmountOnAnchoredLine(n annotation.Normalized, label string) (amount int, lineText string, ok bool) {
	if label == "" {
		return 0, "", false
	}
	for _, line := range n.Lines {
		if !containsAnchor(line.Text(), []string{label}) {
			continue
		}
		lineText = line.Text()
		for i := len(line.Tokens) - 1; i >= 0; i-- {
			if amt, err := parseAmount(line.Tokens[i].Text); err == nil {
				return amt, lineText, true
			}
		}
		return 0, lineText, false
	}
	return 0, "", false
}
