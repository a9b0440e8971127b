package receipt

import (
	"fmt"
	"time"
)

// Difference is one field-level discrepancy between an assembled receipt and
// its expected baseline.
type Difference struct {
	FieldPath string `json:"fieldPath"`
	Actual    any    `json:"actual"`
	Expected  any    `json:"expected"`
}

// Diff deeply compares an assembled receipt against an expected baseline and
// returns the discrepancies in a fixed field order. Neither input is
// mutated; an empty result is the pass condition.
//
// A mismatching image address is a fatal identity mismatch: it yields a
// single difference and no further comparison. When the item counts differ,
// only the length difference is reported, so index-shifted per-item noise is
// never emitted.
func Diff(actual, expected *Receipt) []Difference {
	diffs := []Difference{}

	if actual.ImageAddress != expected.ImageAddress {
		return append(diffs, Difference{
			FieldPath: "imageAddress",
			Actual:    actual.ImageAddress,
			Expected:  expected.ImageAddress,
		})
	}

	if len(actual.ItemArray) != len(expected.ItemArray) {
		diffs = append(diffs, Difference{
			FieldPath: "itemArray.length",
			Actual:    len(actual.ItemArray),
			Expected:  len(expected.ItemArray),
		})
	} else {
		for i := range actual.ItemArray {
			diffs = append(diffs, diffItem(i, actual.ItemArray[i], expected.ItemArray[i])...)
		}
	}

	diffs = append(diffs, diffShopFields(actual.ReadFromReceipt, expected.ReadFromReceipt)...)
	return diffs
}

func diffItem(idx int, actual, expected Item) []Difference {
	var diffs []Difference
	path := func(field string) string {
		return fmt.Sprintf("itemArray[%d].%s", idx, field)
	}

	a, e := actual.ReadFromReceipt, expected.ReadFromReceipt
	if a.ProductName != e.ProductName {
		diffs = append(diffs, Difference{path("productName"), a.ProductName, e.ProductName})
	}
	if a.TaxExemption != e.TaxExemption {
		diffs = append(diffs, Difference{path("taxExemption"), a.TaxExemption, e.TaxExemption})
	}

	if len(a.DiscountArray) != len(e.DiscountArray) {
		diffs = append(diffs, Difference{
			path("discountArray.length"), len(a.DiscountArray), len(e.DiscountArray),
		})
	} else {
		for d := range a.DiscountArray {
			dPath := func(field string) string {
				return fmt.Sprintf("itemArray[%d].discountArray[%d].%s", idx, d, field)
			}
			ad, ed := a.DiscountArray[d], e.DiscountArray[d]
			if ad.Name != ed.Name {
				diffs = append(diffs, Difference{dPath("name"), ad.Name, ed.Name})
			}
			if ad.Amount != ed.Amount {
				diffs = append(diffs, Difference{dPath("amount"), ad.Amount, ed.Amount})
			}
			if ad.Code != ed.Code {
				diffs = append(diffs, Difference{dPath("code"), ad.Code, ed.Code})
			}
		}
	}

	if a.UnitPrice != e.UnitPrice {
		diffs = append(diffs, Difference{path("unitPrice"), a.UnitPrice, e.UnitPrice})
	}
	if a.Quantity != e.Quantity {
		diffs = append(diffs, Difference{path("quantity"), a.Quantity, e.Quantity})
	}
	if a.Amount != e.Amount {
		diffs = append(diffs, Difference{path("amount"), a.Amount, e.Amount})
	}
	return diffs
}

// diffShopFields compares shop-level fields in a fixed order. Dates are
// normalized before comparison: both absent is equality, one side absent is
// a reportable difference. The same missing-vs-missing rule applies to every
// optional field, so an absent value never silently equals a present one.
func diffShopFields(actual, expected ShopFields) []Difference {
	var diffs []Difference

	switch {
	case actual.Date == nil && expected.Date == nil:
		// both missing, equal
	case actual.Date == nil || expected.Date == nil:
		diffs = append(diffs, Difference{"date", timeValue(actual.Date), timeValue(expected.Date)})
	case !actual.Date.Equal(*expected.Date):
		diffs = append(diffs, Difference{"date", *actual.Date, *expected.Date})
	}

	stringFields := []struct {
		path             string
		actual, expected *string
	}{
		{"name", actual.Name, expected.Name},
		{"tel", actual.Tel, expected.Tel},
		{"address", actual.Address, expected.Address},
		{"owner", actual.Owner, expected.Owner},
		{"businessNumber", actual.BusinessNumber, expected.BusinessNumber},
	}
	for _, f := range stringFields {
		if d, ok := diffStringPtr(f.path, f.actual, f.expected); ok {
			diffs = append(diffs, d)
		}
	}

	intFields := []struct {
		path             string
		actual, expected *int
	}{
		{"taxProductAmount", actual.TaxProductAmount, expected.TaxProductAmount},
		{"taxAmount", actual.TaxAmount, expected.TaxAmount},
		{"taxExemptionProductAmount", actual.TaxExemptionProductAmount, expected.TaxExemptionProductAmount},
	}
	for _, f := range intFields {
		if d, ok := diffIntPtr(f.path, f.actual, f.expected); ok {
			diffs = append(diffs, d)
		}
	}

	return diffs
}

func diffStringPtr(path string, actual, expected *string) (Difference, bool) {
	switch {
	case actual == nil && expected == nil:
		return Difference{}, false
	case actual == nil || expected == nil:
		return Difference{path, stringValue(actual), stringValue(expected)}, true
	case *actual != *expected:
		return Difference{path, *actual, *expected}, true
	}
	return Difference{}, false
}

func diffIntPtr(path string, actual, expected *int) (Difference, bool) {
	switch {
	case actual == nil && expected == nil:
		return Difference{}, false
	case actual == nil || expected == nil:
		return Difference{path, intValue(actual), intValue(expected)}, true
	case *actual != *expected:
		return Difference{path, *actual, *expected}, true
	}
	return Difference{}, false
}

func stringValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func timeValue(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}
