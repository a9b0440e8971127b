// Package output turns an assembled receipt into its deliverable form: an
// itemized spreadsheet attached to an email.
package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/receipto/receipto/internal/receipt"
)

// itemHeaders is the fixed column layout of the itemized sheet. Discount
// columns are appended per discount slot after these.
var itemHeaders = []string{
	"no", "상품명", "단가", "수량", "금액", "할인총금액", "구매금액", "부가세면세",
}

// BuildWorkbook renders the receipt's item listing as an xlsx workbook.
func BuildWorkbook(rec *receipt.Receipt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(rec)
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}

	maxDiscounts := 0
	for _, item := range rec.ItemArray {
		if n := len(item.ReadFromReceipt.DiscountArray); n > maxDiscounts {
			maxDiscounts = n
		}
	}

	headers := append([]string{}, itemHeaders...)
	for d := 1; d <= maxDiscounts; d++ {
		headers = append(headers,
			fmt.Sprintf("할인%d", d),
			fmt.Sprintf("할인%d코드", d),
			fmt.Sprintf("할인%d금액", d),
		)
	}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	for i, item := range rec.ItemArray {
		fields := item.ReadFromReceipt
		values := []any{
			i + 1,
			fields.ProductName,
			fields.UnitPrice,
			fields.Quantity,
			fields.Amount,
			item.ItemDiscountAmount,
			item.PurchaseAmount,
			fields.TaxExemption,
		}
		for _, d := range fields.DiscountArray {
			values = append(values, d.Name, d.Code, d.Amount)
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("item cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing item row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serializing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName derives the tab name from the purchase date and shop name.
// Excel caps sheet names at 31 characters.
func sheetName(rec *receipt.Receipt) string {
	name := "receipt"
	if rec.ReadFromReceipt.Date != nil {
		name = rec.ReadFromReceipt.Date.Format("2006-01-02")
	}
	if rec.ReadFromReceipt.Name != nil {
		name += "-" + *rec.ReadFromReceipt.Name
	}
	runes := []rune(name)
	if len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}
