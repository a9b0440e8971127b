package extract

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

var _ = ginkgo.Describe("extractShopInfo", func() {
	var (
		n        annotation.Normalized
		fields   receipt.ShopFields
		permit   bool
		failures []receipt.Failure
	)

	ginkgo.JustBeforeEach(func() {
		fields, permit, failures = extractShopInfo(n, homeplusLayout)
	})

	ginkgo.When("the header carries the full shop identity", func() {
		ginkgo.BeforeEach(func() {
			n = receiptLines(
				[]string{"점포명", ":", "월드컵점"},
				[]string{"대표", ":", "홍길동", "123-45-67890"},
				[]string{"주소", ":", "서울시", "마포구", "월드컵로", "240"},
				[]string{"02-123-4567"},
			)
		})

		ginkgo.It("grants the permit without failures", func() {
			Expect(permit).To(BeTrue())
			Expect(failures).To(BeEmpty())
		})

		ginkgo.It("reads the shop name after its label", func() {
			Expect(fields.Name).NotTo(BeNil())
			Expect(*fields.Name).To(Equal("월드컵점"))
		})

		ginkgo.It("finds the phone and business numbers anywhere in the text", func() {
			Expect(fields.Tel).NotTo(BeNil())
			Expect(*fields.Tel).To(Equal("02-123-4567"))
			Expect(fields.BusinessNumber).NotTo(BeNil())
			Expect(*fields.BusinessNumber).To(Equal("123-45-67890"))
		})

		ginkgo.It("reads the owner, skipping the business number on the same line", func() {
			Expect(fields.Owner).NotTo(BeNil())
			Expect(*fields.Owner).To(Equal("홍길동"))
		})

		ginkgo.It("reads the address after its label", func() {
			Expect(fields.Address).NotTo(BeNil())
			Expect(*fields.Address).To(Equal("서울시 마포구 월드컵로 240"))
		})
	})

	ginkgo.When("the shop name is only printed next to the phone number", func() {
		ginkgo.BeforeEach(func() {
			n = receiptLines(
				[]string{"월드컵점", "02-123-4567"},
				[]string{"상품명"},
			)
		})

		ginkgo.It("falls back to the branch-suffixed word on the phone line", func() {
			Expect(permit).To(BeTrue())
			Expect(fields.Name).NotTo(BeNil())
			Expect(*fields.Name).To(Equal("월드컵점"))
		})
	})

	ginkgo.When("an unlabeled address line matches the address shape", func() {
		ginkgo.BeforeEach(func() {
			n = receiptLines(
				[]string{"점포명", "월드컵점"},
				[]string{"서울시", "마포구", "월드컵로"},
				[]string{"02-123-4567"},
			)
		})

		ginkgo.It("reads the address from the pattern", func() {
			Expect(fields.Address).NotTo(BeNil())
			Expect(*fields.Address).To(Equal("서울시 마포구 월드컵로"))
		})
	})

	ginkgo.When("neither name nor phone can be found", func() {
		ginkgo.BeforeEach(func() {
			n = receiptLines(
				[]string{"상품명"},
				[]string{"서울우유", "3,490"},
			)
		})

		ginkgo.It("withholds the permit and reports it", func() {
			Expect(permit).To(BeFalse())
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].Section).To(Equal(SectionShopInfo))
			Expect(failures[0].Description).To(Equal("shop name or phone number not found"))
		})

		ginkgo.It("leaves the absent fields nil", func() {
			Expect(fields.Name).To(BeNil())
			Expect(fields.Tel).To(BeNil())
			Expect(fields.Owner).To(BeNil())
		})
	})
})
