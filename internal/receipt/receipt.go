package receipt

import "time"

// RequestOrigin records who initiated an output request.
type RequestOrigin string

const (
	// OriginProvided marks a request made by the uploader.
	OriginProvided RequestOrigin = "provided"
	// OriginDevUpdated marks a request re-issued internally after a ruleset update.
	OriginDevUpdated RequestOrigin = "devUpdated"
)

// Discount is one discount line attached to an item.
type Discount struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"` // negative
	Code   int64  `json:"code"`
}

// ItemFields holds the values read verbatim from one item line.
type ItemFields struct {
	ProductName   string     `json:"productName"`
	TaxExemption  bool       `json:"taxExemption"`
	DiscountArray []Discount `json:"discountArray"`
	UnitPrice     int        `json:"unitPrice"`
	Quantity      int        `json:"quantity"`
	Amount        int        `json:"amount"`
}

// Item is one line item plus its derived amounts.
// Invariant: PurchaseAmount = ReadFromReceipt.Amount + ItemDiscountAmount,
// and ItemDiscountAmount <= 0.
type Item struct {
	ReadFromReceipt    ItemFields `json:"readFromReceipt"`
	ItemDiscountAmount int        `json:"itemDiscountAmount"`
	PurchaseAmount     int        `json:"purchaseAmount"`
}

// ShopFields holds the shop-level values read from the receipt. Every field
// is independently optional; a nil pointer is a valid absent value, not an
// error.
type ShopFields struct {
	Date                      *time.Time `json:"date,omitempty"`
	Name                      *string    `json:"name,omitempty"`
	Tel                       *string    `json:"tel,omitempty"`
	Address                   *string    `json:"address,omitempty"`
	Owner                     *string    `json:"owner,omitempty"`
	BusinessNumber            *string    `json:"businessNumber,omitempty"`
	TaxProductAmount          *int       `json:"taxProductAmount,omitempty"`
	TaxAmount                 *int       `json:"taxAmount,omitempty"`
	TaxExemptionProductAmount *int       `json:"taxExemptionProductAmount,omitempty"`
}

// OutputResult is the completion record of an output request.
type OutputResult struct {
	Sent        bool      `json:"sent"`
	Detail      string    `json:"detail,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// OutputRequest is one entry in the receipt's append-only delivery log.
type OutputRequest struct {
	RequestedAt  time.Time     `json:"requestedAt"`
	SheetFormat  string        `json:"sheetFormat"`
	EmailAddress string        `json:"emailAddress"`
	Origin       RequestOrigin `json:"origin"`
	Result       *OutputResult `json:"result,omitempty"`
}

// Receipt is the structured record assembled from one OCR annotation run.
// The image address is the natural key; a re-run produces a fresh Receipt.
type Receipt struct {
	ImageAddress    string          `json:"imageAddress"`
	ReadFromReceipt ShopFields      `json:"readFromReceipt"`
	ItemArray       []Item          `json:"itemArray"`
	OutputRequests  []OutputRequest `json:"outputRequests"`
}

// AddOutputRequest appends a pending delivery request to the log.
func (r *Receipt) AddOutputRequest(requestedAt time.Time, sheetFormat, emailAddress string, origin RequestOrigin) {
	r.OutputRequests = append(r.OutputRequests, OutputRequest{
		RequestedAt:  requestedAt,
		SheetFormat:  sheetFormat,
		EmailAddress: emailAddress,
		Origin:       origin,
	})
}

// CompleteOutputRequest fills in the completion result of the most recent
// output request. A receipt with no pending request is left untouched.
func (r *Receipt) CompleteOutputRequest(result OutputResult) {
	if len(r.OutputRequests) == 0 {
		return
	}
	r.OutputRequests[len(r.OutputRequests)-1].Result = &result
}

// LatestOutputRequest returns the most recent output request, or nil.
func (r *Receipt) LatestOutputRequest() *OutputRequest {
	if len(r.OutputRequests) == 0 {
		return nil
	}
	return &r.OutputRequests[len(r.OutputRequests)-1]
}

// Permits records, per receipt section, whether that section's extraction
// completed with acceptable confidence. A false permit means best-effort
// defaults were used for the section.
type Permits struct {
	Items         bool `json:"items"`
	ReceiptInfo   bool `json:"receiptInfo"`
	ShopInfo      bool `json:"shopInfo"`
	TaxSummary    bool `json:"taxSummary"`
	AmountSummary bool `json:"amountSummary"`
}

// AllTrue reports whether every section permit is set.
func (p Permits) AllTrue() bool {
	return p.Items && p.ReceiptInfo && p.ShopInfo && p.TaxSummary && p.AmountSummary
}

// Failure is a recorded extraction anomaly. It documents reduced trust in
// specific data without necessarily flipping a permit.
type Failure struct {
	Section     string `json:"section"`
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
}
