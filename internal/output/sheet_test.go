package output

import (
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/receipto/receipto/internal/receipt"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

var _ = Describe("BuildWorkbook", func() {
	var rec *receipt.Receipt

	BeforeEach(func() {
		date := time.Date(2022, 8, 15, 18, 30, 25, 0, time.FixedZone("KST", 9*60*60))
		rec = &receipt.Receipt{
			ImageAddress: "img-1.jpg",
			ReadFromReceipt: receipt.ShopFields{
				Date: timePtr(date),
				Name: strPtr("홈플러스 강서점"),
			},
			ItemArray: []receipt.Item{
				{
					ReadFromReceipt: receipt.ItemFields{
						ProductName: "삼겹살",
						DiscountArray: []receipt.Discount{
							{Name: "쿠폰할인", Amount: -4230, Code: 2604220053549},
							{Name: "행사할인", Amount: -500, Code: 0},
						},
						UnitPrice: 14100,
						Quantity:  1,
						Amount:    14100,
					},
					ItemDiscountAmount: -4730,
					PurchaseAmount:     9370,
				},
				{
					ReadFromReceipt: receipt.ItemFields{
						ProductName:   "서울우유",
						TaxExemption:  true,
						DiscountArray: []receipt.Discount{},
						UnitPrice:     3490,
						Quantity:      1,
						Amount:        3490,
					},
					PurchaseAmount: 3490,
				},
			},
			OutputRequests: []receipt.OutputRequest{},
		}
	})

	openRows := func(data []byte) (string, [][]string) {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		sheets := f.GetSheetList()
		Expect(sheets).To(HaveLen(1))
		rows, err := f.GetRows(sheets[0])
		Expect(err).NotTo(HaveOccurred())
		return sheets[0], rows
	}

	It("names the sheet after the purchase date and shop", func() {
		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		name, _ := openRows(data)
		Expect(name).To(Equal("2022-08-15-홈플러스 강서점"))
	})

	It("writes the fixed headers plus one discount column group per slot", func() {
		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		_, rows := openRows(data)
		Expect(rows[0]).To(Equal([]string{
			"no", "상품명", "단가", "수량", "금액", "할인총금액", "구매금액", "부가세면세",
			"할인1", "할인1코드", "할인1금액",
			"할인2", "할인2코드", "할인2금액",
		}))
	})

	It("writes one row per item with discounts trailing", func() {
		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		_, rows := openRows(data)
		Expect(rows).To(HaveLen(3))

		Expect(rows[1][:8]).To(Equal([]string{
			"1", "삼겹살", "14100", "1", "14100", "-4730", "9370", "FALSE",
		}))
		Expect(rows[1][8:]).To(Equal([]string{
			"쿠폰할인", "2604220053549", "-4230",
			"행사할인", "0", "-500",
		}))

		Expect(rows[2][:8]).To(Equal([]string{
			"2", "서울우유", "3490", "1", "3490", "0", "3490", "TRUE",
		}))
	})

	It("handles a receipt with no items", func() {
		rec.ItemArray = nil

		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		_, rows := openRows(data)
		Expect(rows).To(HaveLen(1))
		Expect(rows[0]).To(Equal([]string{
			"no", "상품명", "단가", "수량", "금액", "할인총금액", "구매금액", "부가세면세",
		}))
	})

	It("falls back to a plain name when date and shop are unknown", func() {
		rec.ReadFromReceipt = receipt.ShopFields{}

		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		name, _ := openRows(data)
		Expect(name).To(Equal("receipt"))
	})

	It("caps the sheet name at 31 characters", func() {
		rec.ReadFromReceipt.Name = strPtr(strings.Repeat("홈", 40))

		data, err := BuildWorkbook(rec)
		Expect(err).NotTo(HaveOccurred())

		name, _ := openRows(data)
		Expect([]rune(name)).To(HaveLen(31))
	})
})
