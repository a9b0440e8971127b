package extract

import (
	"strings"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

// extractAmountSummary reads the grand total. The total is not persisted on
// the receipt; the assembler uses it to cross-check the item purchase
// amounts.
func extractAmountSummary(n annotation.Normalized, lay layout) (*int, bool, []receipt.Failure) {
	for _, line := range n.Lines {
		squashed := squash(line.Text())
		matched := false
		for _, label := range lay.totalLabels {
			if strings.HasPrefix(squashed, label) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for i := len(line.Tokens) - 1; i >= 0; i-- {
			if amt, err := parseAmount(line.Tokens[i].Text); err == nil {
				return &amt, true, nil
			}
		}
		return nil, false, []receipt.Failure{{
			Section:     SectionAmountSummary,
			Description: "unparseable amount token",
			Context:     line.Text(),
		}}
	}
	return nil, false, []receipt.Failure{{
		Section:     SectionAmountSummary,
		Description: "total anchor not found",
	}}
}
