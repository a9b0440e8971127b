package extract

import (
	"fmt"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

// Assembler runs every section extractor over a normalized annotation and
// merges the outputs into one receipt. Implementations are pure functions of
// their inputs: re-running the same version against the same annotation
// always reproduces the same result, which the regression harness depends
// on.
type Assembler interface {
	Version() string
	Assemble(n annotation.Normalized, ctx Context, imageAddress string) (*receipt.Receipt, receipt.Permits, []receipt.Failure)
}

// ruleset is the shared assembler implementation; versions differ only in
// the toggles set by their constructors.
type ruleset struct {
	version          string
	crossCheckTotals bool
}

// NewV011 returns the baseline ruleset.
func NewV011() Assembler {
	return &ruleset{version: "V0.1.1"}
}

// NewV021 returns the ruleset that additionally cross-checks the summed item
// purchase amounts against the printed grand total.
func NewV021() Assembler {
	return &ruleset{version: "V0.2.1", crossCheckTotals: true}
}

func (a *ruleset) Version() string { return a.version }

// Assemble extracts every section, computes the derived per-item amounts,
// and aggregates permits and failures. Extraction problems are recovered
// into the failures list; Assemble never errors and always yields a receipt.
func (a *ruleset) Assemble(n annotation.Normalized, ctx Context, imageAddress string) (*receipt.Receipt, receipt.Permits, []receipt.Failure) {
	failures := []receipt.Failure{}
	permits := receipt.Permits{}

	lay, known := layoutFor(ctx.ReceiptStyle)
	if !known {
		failures = append(failures, receipt.Failure{
			Section:     SectionPipeline,
			Description: "unrecognized receipt style, using default layout",
			Context:     ctx.ReceiptStyle,
		})
	}

	itemFields, itemsPermit, fs := extractItems(n, lay)
	permits.Items = itemsPermit
	failures = append(failures, fs...)

	shop, shopPermit, fs := extractShopInfo(n, lay)
	permits.ShopInfo = shopPermit
	failures = append(failures, fs...)

	date, datePermit, fs := extractReceiptInfo(n, lay)
	permits.ReceiptInfo = datePermit
	failures = append(failures, fs...)

	tax, taxPermit, fs := extractTaxSummary(n, lay)
	permits.TaxSummary = taxPermit
	failures = append(failures, fs...)

	total, totalPermit, fs := extractAmountSummary(n, lay)
	permits.AmountSummary = totalPermit
	failures = append(failures, fs...)

	items := make([]receipt.Item, 0, len(itemFields))
	purchaseSum := 0
	for _, fields := range itemFields {
		item, fs := deriveItem(fields)
		failures = append(failures, fs...)
		purchaseSum += item.PurchaseAmount
		items = append(items, item)
	}

	if a.crossCheckTotals && total != nil && permits.Items && *total != purchaseSum {
		failures = append(failures, receipt.Failure{
			Section:     SectionAmountSummary,
			Description: "purchase amounts do not sum to the printed total",
			Context:     fmt.Sprintf("sum=%d total=%d", purchaseSum, *total),
		})
	}

	shop.Date = date
	shop.TaxProductAmount = tax.TaxProductAmount
	shop.TaxAmount = tax.TaxAmount
	shop.TaxExemptionProductAmount = tax.TaxExemptionProductAmount

	rec := &receipt.Receipt{
		ImageAddress:    imageAddress,
		ReadFromReceipt: shop,
		ItemArray:       items,
		OutputRequests:  []receipt.OutputRequest{},
	}
	return rec, permits, failures
}

// deriveItem computes the derived amounts from the raw fields. The invariant
// purchaseAmount = amount + itemDiscountAmount always holds; arithmetic
// inconsistencies are reported but never block assembly.
func deriveItem(fields receipt.ItemFields) (receipt.Item, []receipt.Failure) {
	var failures []receipt.Failure

	discountSum := 0
	for _, d := range fields.DiscountArray {
		discountSum += d.Amount
	}
	if discountSum > 0 {
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "item discount total is positive",
			Context:     fields.ProductName,
		})
		discountSum = 0
	}

	purchase := fields.Amount + discountSum
	if purchase < 0 {
		failures = append(failures, receipt.Failure{
			Section:     SectionItems,
			Description: "negative purchase amount",
			Context:     fmt.Sprintf("%s: amount=%d discount=%d", fields.ProductName, fields.Amount, discountSum),
		})
	}

	return receipt.Item{
		ReadFromReceipt:    fields,
		ItemDiscountAmount: discountSum,
		PurchaseAmount:     purchase,
	}, failures
}
