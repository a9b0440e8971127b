package app

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/extract"
	"github.com/receipto/receipto/internal/receipt"
)

func strAddr(s string) *string { return &s }

// tokenRows builds a raw annotation from rows of words, one row per
// physical receipt line.
func tokenRows(rows ...[]string) annotation.Annotation {
	var tokens []annotation.Token
	for i, row := range rows {
		top := i * 20
		for j, word := range row {
			left := j * 60
			tokens = append(tokens, annotation.Token{
				Text: word,
				Bounds: []annotation.Point{
					{X: left, Y: top},
					{X: left + 50, Y: top},
					{X: left + 50, Y: top + 10},
					{X: left, Y: top + 10},
				},
			})
		}
	}
	return annotation.Annotation{Tokens: tokens}
}

// cleanReceiptAnnotation reads as a complete homeplus receipt: every
// section extracts with its permit granted.
func cleanReceiptAnnotation() annotation.Annotation {
	return tokenRows(
		[]string{"점포명", ":", "월드컵점"},
		[]string{"대표", ":", "홍길동", "123-45-67890"},
		[]string{"주소", ":", "서울시", "마포구", "월드컵로", "240"},
		[]string{"02-123-4567"},
		[]string{"2022-08-15", "18:30:25"},
		[]string{"상품명", "단가", "수량", "금액"},
		[]string{"01", "삼겹살", "14,100", "1", "14,100"},
		[]string{"쿠폰할인", "2604220053549", "-4,230"},
		[]string{"02", "*", "서울우유", "3,490", "1", "3,490"},
		[]string{"과세물품", "8,973"},
		[]string{"부가세", "897"},
		[]string{"면세물품", "3,490"},
		[]string{"합계", "13,360"},
	)
}

var _ = Describe("Service", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		annotator *mockAnnotator
		delivery  *mockDeliverer
		service   *Service
		now       time.Time
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		annotator = &mockAnnotator{annotation: cleanReceiptAnnotation()}
		delivery = &mockDeliverer{result: receipt.OutputResult{Sent: true, Detail: "delivered to user@example.com"}}
		now = time.Date(2022, 8, 16, 9, 0, 0, 0, time.UTC)
		service = NewServiceWithDeps(
			db, storage, annotator, extract.DefaultRegistry(), delivery,
			&mockIDGenerator{id: "test-id"}, &mockTimeSource{now: now},
		)
	})

	Describe("ProcessImage", func() {
		var (
			req ProcessRequest
			rec *receipt.Receipt
			err error
		)

		BeforeEach(func() {
			req = ProcessRequest{
				Filename:     "receipt photo.jpg",
				Data:         []byte("image-bytes"),
				ContentType:  "image/jpeg",
				ReceiptStyle: "homeplus",
				EmailAddress: "user@example.com",
			}
		})

		JustBeforeEach(func() {
			rec, err = service.ProcessImage(context.Background(), req)
		})

		It("stores the image under a generated address", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.savedNames).To(Equal([]string{"test-id_receipt photo.jpg"}))
			Expect(storage.images["test-id_receipt photo.jpg"]).To(Equal([]byte("image-bytes")))
		})

		It("assembles the receipt from the annotation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ImageAddress).To(Equal("test-id_receipt photo.jpg"))
			Expect(*rec.ReadFromReceipt.Name).To(Equal("월드컵점"))
			Expect(rec.ItemArray).To(HaveLen(2))
		})

		It("persists the receipt, annotation and read status", func() {
			Expect(err).NotTo(HaveOccurred())

			Expect(db.receipts).To(HaveKey("test-id_receipt photo.jpg"))

			sa := db.annotations["test-id_receipt photo.jpg"]
			Expect(sa).NotTo(BeNil())
			Expect(sa.ReceiptStyle).To(Equal("homeplus"))
			Expect(sa.EmailAddress).To(Equal("user@example.com"))
			Expect(sa.SheetFormat).To(Equal("xlsx"))
			Expect(sa.Annotation.Tokens).NotTo(BeEmpty())
			Expect(sa.CreatedAt).To(Equal(now))

			st := db.readStatuses["test-id_receipt photo.jpg"]
			Expect(st).NotTo(BeNil())
			Expect(st.Version).To(Equal(extract.DefaultVersion))
			Expect(st.Permits.AllTrue()).To(BeTrue())
			Expect(st.Failures).To(BeEmpty())
			Expect(st.Failed()).To(BeFalse())
		})

		It("executes the delivery request", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(delivery.called).To(BeTrue())
			Expect(delivery.permits.AllTrue()).To(BeTrue())

			latest := rec.LatestOutputRequest()
			Expect(latest).NotTo(BeNil())
			Expect(latest.EmailAddress).To(Equal("user@example.com"))
			Expect(latest.SheetFormat).To(Equal("xlsx"))
			Expect(latest.Origin).To(Equal(receipt.OriginProvided))
			Expect(latest.Result).NotTo(BeNil())
			Expect(latest.Result.Sent).To(BeTrue())
		})

		When("no email address is given", func() {
			BeforeEach(func() {
				req.EmailAddress = ""
			})

			It("records the request without delivering", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(delivery.called).To(BeFalse())
				latest := rec.LatestOutputRequest()
				Expect(latest).NotTo(BeNil())
				Expect(latest.Result).To(BeNil())
			})
		})

		When("the ruleset version is unknown", func() {
			BeforeEach(func() {
				req.Version = "V9.9.9"
			})

			It("rejects the request before touching storage", func() {
				var unknown *extract.UnknownVersionError
				Expect(errors.As(err, &unknown)).To(BeTrue())
				Expect(unknown.Version).To(Equal("V9.9.9"))
				Expect(storage.savedNames).To(BeEmpty())
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("annotation fails", func() {
			BeforeEach(func() {
				annotator.err = errors.New("vision unavailable")
			})

			It("removes the stored image and reports the error", func() {
				Expect(err).To(MatchError(ContainSubstring("annotating image")))
				Expect(storage.deletedNames).To(Equal([]string{"test-id_receipt photo.jpg"}))
				Expect(db.receipts).To(BeEmpty())
				Expect(db.readStatuses).To(BeEmpty())
			})

			When("the cleanup delete also fails", func() {
				BeforeEach(func() {
					storage.deleteErr = errors.New("permission denied")
				})

				It("still reports the annotation error", func() {
					Expect(err).To(MatchError(ContainSubstring("annotating image")))
					Expect(storage.deletedNames).To(Equal([]string{"test-id_receipt photo.jpg"}))
				})
			})
		})

		When("saving the annotation fails", func() {
			BeforeEach(func() {
				db.saveAnnotationErr = errors.New("disk full")
			})

			It("removes the stored image and reports the error", func() {
				Expect(err).To(MatchError(ContainSubstring("saving annotation")))
				Expect(storage.deletedNames).To(Equal([]string{"test-id_receipt photo.jpg"}))
			})
		})

		When("the annotation reads as an unusable receipt", func() {
			BeforeEach(func() {
				annotator.annotation = annotation.Annotation{Tokens: []annotation.Token{}}
				req.EmailAddress = ""
			})

			It("still records the case with a failing read status", func() {
				Expect(err).NotTo(HaveOccurred())
				st := db.readStatuses["test-id_receipt photo.jpg"]
				Expect(st).NotTo(BeNil())
				Expect(st.Failed()).To(BeTrue())
			})
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			_, err := service.ProcessImage(context.Background(), ProcessRequest{
				Filename: "receipt.jpg",
				Data:     []byte("image-bytes"),
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.PromoteReceipt("test-id_receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the receipt and its image but keeps the expected baseline", func() {
			Expect(service.DeleteReceipt("test-id_receipt.jpg")).To(Succeed())

			Expect(db.receipts).To(BeEmpty())
			Expect(storage.deletedNames).To(ContainElement("test-id_receipt.jpg"))
			Expect(db.expected).To(HaveKey("test-id_receipt.jpg"))
		})

		It("fails for an unknown receipt", func() {
			err := service.DeleteReceipt("missing.jpg")
			Expect(errors.Is(err, receipt.ErrNotFound)).To(BeTrue())
		})

		When("the image cannot be deleted", func() {
			BeforeEach(func() {
				storage.deleteErr = errors.New("permission denied")
			})

			It("still removes the receipt record", func() {
				Expect(service.DeleteReceipt("test-id_receipt.jpg")).To(Succeed())
				Expect(db.receipts).To(BeEmpty())
			})
		})
	})

	Describe("GetReceiptImage", func() {
		BeforeEach(func() {
			storage.images["abc_receipt.png"] = []byte("png-bytes")
		})

		It("returns the image data with its content type", func() {
			data, contentType, err := service.GetReceiptImage("abc_receipt.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png-bytes")))
			Expect(contentType).To(Equal("image/png"))
		})
	})

	Describe("ListReadFailures", func() {
		BeforeEach(func() {
			Expect(db.SaveReadStatus(&receipt.ReadStatus{
				ImageAddress: "good.jpg",
				Permits:      receipt.Permits{Items: true, ReceiptInfo: true, ShopInfo: true, TaxSummary: true, AmountSummary: true},
			})).To(Succeed())
			Expect(db.SaveReadStatus(&receipt.ReadStatus{
				ImageAddress: "bad.jpg",
				Permits:      receipt.Permits{Items: false, ReceiptInfo: true, ShopInfo: true, TaxSummary: true, AmountSummary: true},
				Failures:     []receipt.Failure{{Section: "items", Description: "items anchor not found"}},
			})).To(Succeed())
		})

		It("returns only the failing statuses", func() {
			failures, err := service.ListReadFailures()
			Expect(err).NotTo(HaveOccurred())
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].ImageAddress).To(Equal("bad.jpg"))
		})
	})

	Describe("PromoteReceipt", func() {
		BeforeEach(func() {
			_, err := service.ProcessImage(context.Background(), ProcessRequest{
				Filename: "receipt.jpg",
				Data:     []byte("image-bytes"),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("copies the receipt into the expected baseline with a promotion entry", func() {
			promoted, err := service.PromoteReceipt("test-id_receipt.jpg")
			Expect(err).NotTo(HaveOccurred())

			Expect(db.expected).To(HaveKey("test-id_receipt.jpg"))
			latest := promoted.LatestOutputRequest()
			Expect(latest.Origin).To(Equal(receipt.OriginDevUpdated))
			Expect(latest.Result).NotTo(BeNil())
			Expect(latest.Result.Detail).To(Equal("promoted to expected baseline"))
		})

		It("leaves the stored receipt's request log untouched", func() {
			before := len(db.receipts["test-id_receipt.jpg"].OutputRequests)
			_, err := service.PromoteReceipt("test-id_receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(db.receipts["test-id_receipt.jpg"].OutputRequests).To(HaveLen(before))
		})

		It("fails for an unknown receipt", func() {
			_, err := service.PromoteReceipt("missing.jpg")
			Expect(errors.Is(err, receipt.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("SaveExpected", func() {
		It("rejects a receipt without an image address", func() {
			err := service.SaveExpected(&receipt.Receipt{})
			Expect(err).To(MatchError(ContainSubstring("image address")))
		})

		It("stores a hand-checked receipt", func() {
			rec := &receipt.Receipt{ImageAddress: "img.jpg"}
			Expect(service.SaveExpected(rec)).To(Succeed())
			Expect(db.expected).To(HaveKey("img.jpg"))
		})
	})

	Describe("DownloadReceiptsToExpected", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(&receipt.Receipt{ImageAddress: "a.jpg"})).To(Succeed())
			Expect(db.SaveReceipt(&receipt.Receipt{ImageAddress: "b.jpg"})).To(Succeed())
			// a.jpg already has a hand-checked baseline
			Expect(db.SaveExpected(&receipt.Receipt{
				ImageAddress:    "a.jpg",
				ReadFromReceipt: receipt.ShopFields{Name: strAddr("hand-checked")},
			})).To(Succeed())
		})

		It("copies only the receipts without a baseline", func() {
			downloaded, err := service.DownloadReceiptsToExpected()
			Expect(err).NotTo(HaveOccurred())
			Expect(downloaded).To(Equal([]string{"b.jpg"}))
			Expect(db.expected).To(HaveKey("b.jpg"))
		})

		It("never touches an existing baseline", func() {
			_, err := service.DownloadReceiptsToExpected()
			Expect(err).NotTo(HaveOccurred())
			Expect(*db.expected["a.jpg"].ReadFromReceipt.Name).To(Equal("hand-checked"))
		})

		It("reports nothing to copy on a second run", func() {
			_, err := service.DownloadReceiptsToExpected()
			Expect(err).NotTo(HaveOccurred())
			downloaded, err := service.DownloadReceiptsToExpected()
			Expect(err).NotTo(HaveOccurred())
			Expect(downloaded).To(BeEmpty())
		})
	})

	Describe("OverwriteExpected", func() {
		BeforeEach(func() {
			Expect(db.SaveAnnotation(&receipt.StoredAnnotation{
				ImageAddress: "img-1.jpg",
				ReceiptStyle: "homeplus",
				SheetFormat:  "xlsx",
				Annotation:   cleanReceiptAnnotation(),
			})).To(Succeed())
			// stale baseline from an older ruleset
			Expect(db.SaveExpected(&receipt.Receipt{ImageAddress: "img-1.jpg"})).To(Succeed())
		})

		It("replaces the baseline with a re-extraction under the requested version", func() {
			Expect(service.OverwriteExpected("", []string{"img-1.jpg"})).To(Succeed())

			overwritten := db.expected["img-1.jpg"]
			Expect(overwritten).NotTo(BeNil())
			Expect(*overwritten.ReadFromReceipt.Name).To(Equal("월드컵점"))
			Expect(overwritten.ItemArray).To(HaveLen(2))
		})

		It("rejects an unknown ruleset version", func() {
			err := service.OverwriteExpected("V9.9.9", []string{"img-1.jpg"})
			var unknown *extract.UnknownVersionError
			Expect(errors.As(err, &unknown)).To(BeTrue())
		})

		It("fails when an image has no stored annotation", func() {
			err := service.OverwriteExpected("", []string{"img-1.jpg", "missing.jpg"})
			Expect(errors.Is(err, receipt.ErrNotFound)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("missing.jpg"))
		})
	})

	Describe("UpdateVersion", func() {
		When("the latest delivery of a receipt failed", func() {
			BeforeEach(func() {
				delivery.result = receipt.OutputResult{Sent: false, Detail: "sending mail: connection refused"}
				_, err := service.ProcessImage(context.Background(), ProcessRequest{
					Filename:     "receipt.jpg",
					Data:         []byte("image-bytes"),
					ReceiptStyle: "homeplus",
					EmailAddress: "user@example.com",
				})
				Expect(err).NotTo(HaveOccurred())

				// the relay is back for the update run
				delivery.called = false
				delivery.result = receipt.OutputResult{Sent: true, Detail: "delivered to user@example.com"}
			})

			It("re-issues the delivery with a devUpdated request", func() {
				report, err := service.UpdateVersion(context.Background(), "")
				Expect(err).NotTo(HaveOccurred())

				Expect(report.Total).To(Equal(1))
				Expect(report.Redelivered).To(Equal([]string{"test-id_receipt.jpg"}))
				Expect(delivery.called).To(BeTrue())

				updated := db.receipts["test-id_receipt.jpg"]
				Expect(updated.OutputRequests).To(HaveLen(2))
				latest := updated.LatestOutputRequest()
				Expect(latest.Origin).To(Equal(receipt.OriginDevUpdated))
				Expect(latest.SheetFormat).To(Equal("xlsx"))
				Expect(latest.Result).NotTo(BeNil())
				Expect(latest.Result.Sent).To(BeTrue())
			})

			It("rebuilds the read status under the requested version", func() {
				report, err := service.UpdateVersion(context.Background(), "V0.1.1")
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Version).To(Equal("V0.1.1"))

				st := db.readStatuses["test-id_receipt.jpg"]
				Expect(st.Version).To(Equal("V0.1.1"))
			})
		})

		When("the latest delivery succeeded", func() {
			BeforeEach(func() {
				_, err := service.ProcessImage(context.Background(), ProcessRequest{
					Filename:     "receipt.jpg",
					Data:         []byte("image-bytes"),
					ReceiptStyle: "homeplus",
					EmailAddress: "user@example.com",
				})
				Expect(err).NotTo(HaveOccurred())
				delivery.called = false
			})

			It("does not deliver again", func() {
				report, err := service.UpdateVersion(context.Background(), "")
				Expect(err).NotTo(HaveOccurred())

				Expect(report.Redelivered).To(BeEmpty())
				Expect(delivery.called).To(BeFalse())
				Expect(db.receipts["test-id_receipt.jpg"].OutputRequests).To(HaveLen(1))
			})
		})

		When("a case reads as a failure under the new ruleset", func() {
			BeforeEach(func() {
				annotator.annotation = annotation.Annotation{Tokens: []annotation.Token{}}
				_, err := service.ProcessImage(context.Background(), ProcessRequest{
					Filename: "blurry.jpg",
					Data:     []byte("image-bytes"),
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("counts it in the rebuilt read failures", func() {
				report, err := service.UpdateVersion(context.Background(), "")
				Expect(err).NotTo(HaveOccurred())
				Expect(report.ReadFailures).To(Equal(1))
				Expect(db.readStatuses["test-id_blurry.jpg"].Failed()).To(BeTrue())
			})
		})

		It("rejects an unknown ruleset version", func() {
			_, err := service.UpdateVersion(context.Background(), "V9.9.9")
			var unknown *extract.UnknownVersionError
			Expect(errors.As(err, &unknown)).To(BeTrue())
		})
	})

	Describe("RunRegression", func() {
		When("a processed receipt has a promoted baseline", func() {
			BeforeEach(func() {
				_, err := service.ProcessImage(context.Background(), ProcessRequest{
					Filename:     "receipt.jpg",
					Data:         []byte("image-bytes"),
					ReceiptStyle: "homeplus",
				})
				Expect(err).NotTo(HaveOccurred())
				_, err = service.PromoteReceipt("test-id_receipt.jpg")
				Expect(err).NotTo(HaveOccurred())
			})

			It("replays the stored annotation and classifies it a success", func() {
				report, err := service.RunRegression("")
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Total).To(Equal(1))
				Expect(report.Success).To(Equal(1))
				Expect(report.NewFailures).To(BeEmpty())
			})
		})

		When("a stored case previously failed", func() {
			BeforeEach(func() {
				annotator.annotation = annotation.Annotation{Tokens: []annotation.Token{}}
				_, err := service.ProcessImage(context.Background(), ProcessRequest{
					Filename: "blurry.jpg",
					Data:     []byte("image-bytes"),
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("tracks it through the failure branch", func() {
				report, err := service.RunRegression("")
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Total).To(Equal(1))
				Expect(report.Failures).To(Equal(1))
				Expect(report.StillFailure).To(Equal(1))
			})
		})

		When("the ruleset version is unknown", func() {
			It("rejects the run", func() {
				_, err := service.RunRegression("V9.9.9")
				var unknown *extract.UnknownVersionError
				Expect(errors.As(err, &unknown)).To(BeTrue())
			})
		})

		When("listing annotations fails", func() {
			BeforeEach(func() {
				db.listAnnotErr = errors.New("db closed")
			})

			It("propagates the error", func() {
				_, err := service.RunRegression("")
				Expect(err).To(MatchError(ContainSubstring("listing annotations")))
			})
		})
	})

	Describe("Versions", func() {
		It("lists the registered ruleset versions", func() {
			Expect(service.Versions()).To(Equal([]string{"V0.1.1", "V0.2.1"}))
		})
	})
})
