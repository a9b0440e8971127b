package extract

// Context carries the caller-supplied request metadata for one extraction
// run: which retail style's ruleset to apply, where the output should go,
// and in which spreadsheet format. Read-only input, never inferred.
type Context struct {
	ReceiptStyle string `json:"receiptStyle"`
	EmailAddress string `json:"emailAddress"`
	SheetFormat  string `json:"sheetFormat"`
}

// Section names used for permits and failures.
const (
	SectionItems         = "items"
	SectionReceiptInfo   = "receiptInfo"
	SectionShopInfo      = "shopInfo"
	SectionTaxSummary    = "taxSummary"
	SectionAmountSummary = "amountSummary"
	// SectionPipeline marks anomalies that belong to no single receipt
	// section, such as an unrecognized receipt style.
	SectionPipeline = "pipeline"
)
