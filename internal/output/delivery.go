package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/receipto/receipto/internal/receipt"
)

// Delivery executes a receipt's pending output request: builds the
// spreadsheet and mails it to the requested address. The outcome, success
// or not, is recorded on the request rather than returned as an error so
// that a delivery problem never loses the extracted receipt.
type Delivery struct {
	mailer Mailer
}

func NewDelivery(mailer Mailer) *Delivery {
	return &Delivery{mailer: mailer}
}

// Execute completes the receipt's latest pending output request. Delivery
// is skipped when the items permit is false since the sheet would be empty
// or wrong.
func (d *Delivery) Execute(ctx context.Context, rec *receipt.Receipt, permits receipt.Permits, now time.Time) {
	req := rec.LatestOutputRequest()
	if req == nil || req.Result != nil {
		return
	}

	if !permits.Items {
		rec.CompleteOutputRequest(receipt.OutputResult{
			Sent:        false,
			Detail:      "items extraction did not pass, delivery skipped",
			CompletedAt: now,
		})
		return
	}

	if req.SheetFormat != "xlsx" {
		rec.CompleteOutputRequest(receipt.OutputResult{
			Sent:        false,
			Detail:      fmt.Sprintf("unsupported sheet format %q", req.SheetFormat),
			CompletedAt: now,
		})
		return
	}

	workbook, err := BuildWorkbook(rec)
	if err != nil {
		slog.Error("building workbook", "imageAddress", rec.ImageAddress, "error", err)
		rec.CompleteOutputRequest(receipt.OutputResult{
			Sent:        false,
			Detail:      fmt.Sprintf("building workbook: %v", err),
			CompletedAt: now,
		})
		return
	}

	attachment := Attachment{
		Filename:    attachmentName(rec),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     workbook,
	}
	subject, body := mailContent(rec)
	if err := d.mailer.Send(ctx, req.EmailAddress, subject, body, []Attachment{attachment}); err != nil {
		slog.Error("sending receipt mail", "imageAddress", rec.ImageAddress, "error", err)
		rec.CompleteOutputRequest(receipt.OutputResult{
			Sent:        false,
			Detail:      fmt.Sprintf("sending mail: %v", err),
			CompletedAt: now,
		})
		return
	}

	rec.CompleteOutputRequest(receipt.OutputResult{
		Sent:        true,
		Detail:      "delivered to " + req.EmailAddress,
		CompletedAt: now,
	})
}

func attachmentName(rec *receipt.Receipt) string {
	name := "receipt"
	if rec.ReadFromReceipt.Date != nil {
		name = rec.ReadFromReceipt.Date.Format("2006-01-02")
	}
	if rec.ReadFromReceipt.Name != nil {
		name += "-" + *rec.ReadFromReceipt.Name
	}
	return name + ".xlsx"
}

func mailContent(rec *receipt.Receipt) (subject, body string) {
	shop := "영수증"
	if rec.ReadFromReceipt.Name != nil {
		shop = *rec.ReadFromReceipt.Name + " 영수증"
	}
	if rec.ReadFromReceipt.Date != nil {
		d := rec.ReadFromReceipt.Date
		subject = fmt.Sprintf("%d년 %d월 %d일 결제하신 %s의 엑셀파일입니다.", d.Year(), int(d.Month()), d.Day(), shop)
	} else {
		subject = fmt.Sprintf("결제하신 %s의 엑셀파일입니다.", shop)
	}
	body = "요청하신 영수증 내역을 첨부파일로 보내드립니다."
	return subject, body
}
