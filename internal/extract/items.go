package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

// extractItems walks the line groups between the items-header anchor and the
// first terminator anchor. Each line becomes one item unless it matches the
// style's discount pattern, in which case it attaches to the immediately
// preceding item. A discount line with no preceding item is recorded as a
// failure and dropped.
func extractItems(n annotation.Normalized, lay layout) ([]receipt.ItemFields, bool, []receipt.Failure) {
	permit := true
	failures := []receipt.Failure{}
	items := []receipt.ItemFields{}

	headerIdx := -1
	for i, line := range n.Lines {
		if containsAnchor(line.Text(), lay.itemsHeader) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "items anchor not found",
			Context:     strings.Join(lay.itemsHeader, ","),
		})
		return items, false, failures
	}

	endIdx := len(n.Lines)
	terminated := false
	for i := headerIdx + 1; i < len(n.Lines); i++ {
		if containsAnchor(n.Lines[i].Text(), lay.itemsTerminators) {
			endIdx = i
			terminated = true
			break
		}
	}
	if !terminated {
		permit = false
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "items terminator not found",
			Context:     strings.Join(lay.itemsTerminators, ","),
		})
	}

	for _, line := range n.Lines[headerIdx+1 : endIdx] {
		if isDiscountLine(line, lay) {
			discount, fs := parseDiscountLine(line)
			failures = append(failures, fs...)
			if len(items) == 0 {
				failures = append(failures, receipt.Failure{
					Section:     SectionItems,
					Description: "discount line with no preceding item",
					Context:     line.Text(),
				})
				continue
			}
			last := &items[len(items)-1]
			last.DiscountArray = append(last.DiscountArray, discount)
			continue
		}

		fields, ok, fs := parseItemLine(line, lay)
		failures = append(failures, fs...)
		if !ok {
			permit = false
			continue
		}
		items = append(items, fields)
	}

	return items, permit, failures
}

// isDiscountLine reports whether a line carries a discount: it mentions one
// of the style's discount markers and its amount is negative.
func isDiscountLine(line annotation.Line, lay layout) bool {
	if !containsAnchor(line.Text(), lay.discountMarkers) {
		return false
	}
	for _, tok := range line.Tokens {
		if amt, err := parseAmount(tok.Text); err == nil && amt < 0 {
			return true
		}
	}
	return false
}

// parseDiscountLine pulls the name, the negative amount, and the coupon code
// out of a discount line. A non-negative amount violates the discount
// contract and is reported, with the amount clamped to zero.
func parseDiscountLine(line annotation.Line) (receipt.Discount, []receipt.Failure) {
	var failures []receipt.Failure
	d := receipt.Discount{}
	var nameParts []string

	for _, tok := range line.Tokens {
		text := strings.TrimSpace(tok.Text)
		switch {
		case isBareDigits(text) && len(text) >= 8:
			code, err := strconv.ParseInt(text, 10, 64)
			if err == nil {
				d.Code = code
			}
		case isAmountToken(text):
			amt, err := parseAmount(text)
			if err == nil {
				d.Amount = amt
			}
		default:
			nameParts = append(nameParts, text)
		}
	}

	d.Name = strings.Join(nameParts, " ")
	if d.Amount > 0 {
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "discount amount is positive",
			Context:     line.Text(),
		})
		d.Amount = 0
	}
	return d, failures
}

// parseItemLine reads one item line: an optional line index, an optional
// tax-exemption mark, the product name, then a trailing run of amounts
// (unit price, quantity, amount). Partial lines are tolerated with advisory
// failures; a line with no readable amount at all is structural and returns
// ok=false so the section permit drops.
func parseItemLine(line annotation.Line, lay layout) (receipt.ItemFields, bool, []receipt.Failure) {
	var failures []receipt.Failure
	fields := receipt.ItemFields{DiscountArray: []receipt.Discount{}}

	tokens := line.Tokens

	// Leading line index such as "01".
	if len(tokens) > 1 && isBareDigits(tokens[0].Text) && len(tokens[0].Text) <= 2 {
		tokens = tokens[1:]
	}

	// Trailing run of amount-formatted tokens.
	runStart := len(tokens)
	for runStart > 0 && isAmountToken(tokens[runStart-1].Text) {
		runStart--
	}
	nameTokens, amountTokens := tokens[:runStart], tokens[runStart:]

	var nameParts []string
	for _, tok := range nameTokens {
		text := strings.TrimSpace(tok.Text)
		if text == lay.taxExemptMark {
			fields.TaxExemption = true
			continue
		}
		if trimmed, ok := strings.CutPrefix(text, lay.taxExemptMark); ok && lay.taxExemptMark != "" {
			fields.TaxExemption = true
			text = trimmed
		}
		if text != "" {
			nameParts = append(nameParts, text)
		}
	}
	fields.ProductName = strings.Join(nameParts, " ")

	amounts := make([]int, 0, len(amountTokens))
	for _, tok := range amountTokens {
		amt, err := parseAmount(tok.Text)
		if err != nil {
			failures = append(failures, receipt.Failure{
				Section:     SectionItems,
				Description: "unparseable amount token",
				Context:     fmt.Sprintf("%s in line %q", tok.Text, line.Text()),
			})
			return fields, false, failures
		}
		amounts = append(amounts, amt)
	}

	switch len(amounts) {
	case 0:
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "item line without amounts",
			Context:     line.Text(),
		})
		return fields, false, failures
	case 1:
		fields.Amount = amounts[0]
		fields.UnitPrice = amounts[0]
		fields.Quantity = 1
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "item line missing unit price and quantity",
			Context:     line.Text(),
		})
	case 2:
		fields.UnitPrice = amounts[0]
		fields.Amount = amounts[1]
		fields.Quantity = 1
		if fields.UnitPrice != 0 && fields.Amount%fields.UnitPrice == 0 {
			fields.Quantity = fields.Amount / fields.UnitPrice
		} else {
			failures = append(failures, receipt.Failure{
				Section:     SectionItems,
				Description: "item line missing quantity",
				Context:     line.Text(),
			})
		}
	default:
		// Unit price, quantity, amount are the last three of a longer run.
		fields.UnitPrice = amounts[len(amounts)-3]
		fields.Quantity = amounts[len(amounts)-2]
		fields.Amount = amounts[len(amounts)-1]
		if fields.UnitPrice*fields.Quantity != fields.Amount {
			failures = append(failures, receipt.Failure{
				Section:     SectionItems,
				Description: "unit price times quantity differs from amount",
				Context:     line.Text(),
			})
		}
	}

	return fields, true, failures
}
