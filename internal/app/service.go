// Package app wires the extraction pipeline together: images come in, get
// annotated by OCR, assembled into receipts, delivered by mail, and recorded
// for the regression corpus.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/extract"
	"github.com/receipto/receipto/internal/receipt"
	"github.com/receipto/receipto/internal/regression"
	"github.com/receipto/receipto/internal/vision"
)

// IDGenerator generates unique IDs for stored images
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Deliverer executes a receipt's pending output request and records the
// outcome on the receipt.
type Deliverer interface {
	Execute(ctx context.Context, rec *receipt.Receipt, permits receipt.Permits, now time.Time)
}

// Service handles receipt extraction operations
type Service struct {
	db          receipt.DB
	storage     receipt.Storage
	annotator   vision.Annotator
	registry    *extract.Registry
	delivery    Deliverer
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db receipt.DB, storage receipt.Storage, annotator vision.Annotator, registry *extract.Registry, delivery Deliverer) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		annotator:   annotator,
		registry:    registry,
		delivery:    delivery,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db receipt.DB, storage receipt.Storage, annotator vision.Annotator, registry *extract.Registry, delivery Deliverer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		annotator:   annotator,
		registry:    registry,
		delivery:    delivery,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessRequest carries one uploaded image and its request metadata.
type ProcessRequest struct {
	Filename     string
	Data         []byte
	ContentType  string
	ReceiptStyle string
	EmailAddress string
	SheetFormat  string
	Version      string
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessImage runs the full pipeline for one uploaded image: store the
// image, annotate it, assemble a receipt under the requested ruleset
// version, execute the output request, and record everything. Extraction
// failures do not abort the pipeline; they are recorded as the image's read
// status so the regression corpus keeps the case.
func (s *Service) ProcessImage(ctx context.Context, req ProcessRequest) (*receipt.Receipt, error) {
	asm, err := s.registry.ForVersion(req.Version)
	if err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	sheetFormat := req.SheetFormat
	if sheetFormat == "" {
		sheetFormat = "xlsx"
	}

	cleanFilename := sanitizeFilename(req.Filename)

	imageAddress, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), req.Data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	ann, err := s.annotator.AnnotateImage(ctx, req.Data, req.ContentType)
	if err != nil {
		slog.Error("Failed to annotate image",
			"filename", req.Filename,
			"content_type", req.ContentType,
			"file_size", len(req.Data),
			"error", err,
		)
		if deleteErr := s.storage.Delete(imageAddress); deleteErr != nil {
			slog.Warn("Failed to delete image", "imageAddress", imageAddress, "error", deleteErr)
		}
		return nil, fmt.Errorf("annotating image: %w", err)
	}

	if err := s.db.SaveAnnotation(&receipt.StoredAnnotation{
		ImageAddress: imageAddress,
		ReceiptStyle: req.ReceiptStyle,
		EmailAddress: req.EmailAddress,
		SheetFormat:  sheetFormat,
		Annotation:   ann,
		CreatedAt:    now,
	}); err != nil {
		if deleteErr := s.storage.Delete(imageAddress); deleteErr != nil {
			slog.Warn("Failed to delete image", "imageAddress", imageAddress, "error", deleteErr)
		}
		return nil, fmt.Errorf("saving annotation: %w", err)
	}

	extractCtx := extract.Context{
		ReceiptStyle: req.ReceiptStyle,
		EmailAddress: req.EmailAddress,
		SheetFormat:  sheetFormat,
	}
	rec, permits, failures := asm.Assemble(annotation.Normalize(ann), extractCtx, imageAddress)

	rec.AddOutputRequest(now, sheetFormat, req.EmailAddress, receipt.OriginProvided)
	if s.delivery != nil && req.EmailAddress != "" {
		s.delivery.Execute(ctx, rec, permits, now)
	}

	if err := s.db.SaveReceipt(rec); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	if err := s.db.SaveReadStatus(&receipt.ReadStatus{
		ImageAddress: imageAddress,
		Version:      asm.Version(),
		Permits:      permits,
		Failures:     failures,
		RecordedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("saving read status: %w", err)
	}

	return rec, nil
}

// GetReceipt retrieves a receipt by image address
func (s *Service) GetReceipt(imageAddress string) (*receipt.Receipt, error) {
	rec, err := s.db.GetReceipt(imageAddress)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return rec, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*receipt.Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt along with its image, annotation and
// read status. The expected baseline, if any, is kept: it is hand-checked
// data and re-uploading the image should find it again.
func (s *Service) DeleteReceipt(imageAddress string) error {
	if _, err := s.db.GetReceipt(imageAddress); err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(imageAddress); err != nil {
		slog.Warn("Failed to delete image", "imageAddress", imageAddress, "error", err)
	}

	if err := s.db.DeleteReceipt(imageAddress); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptImage retrieves the stored image for a receipt
func (s *Service) GetReceiptImage(imageAddress string) ([]byte, string, error) {
	data, err := s.storage.Get(imageAddress)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentTypeForImage(imageAddress), nil
}

// ListReadFailures returns the read statuses of images whose latest
// extraction raised failures or withheld a permit.
func (s *Service) ListReadFailures() ([]*receipt.ReadStatus, error) {
	statuses, err := s.db.ListReadStatuses()
	if err != nil {
		return nil, fmt.Errorf("listing read statuses: %w", err)
	}
	failures := make([]*receipt.ReadStatus, 0)
	for _, st := range statuses {
		if st.Failed() {
			failures = append(failures, st)
		}
	}
	return failures, nil
}

// Versions returns the registered ruleset versions.
func (s *Service) Versions() []string {
	return s.registry.Versions()
}

// RunRegression replays every stored annotation under the given ruleset
// version and classifies each case against its recorded history.
func (s *Service) RunRegression(version string, opts ...regression.Option) (*regression.Report, error) {
	asm, err := s.registry.ForVersion(version)
	if err != nil {
		return nil, err
	}

	stored, err := s.db.ListAnnotations()
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}

	cases := make([]regression.Case, 0, len(stored))
	for _, sa := range stored {
		c := regression.Case{
			ImageAddress: sa.ImageAddress,
			Annotation:   sa.Annotation,
			Context: extract.Context{
				ReceiptStyle: sa.ReceiptStyle,
				EmailAddress: sa.EmailAddress,
				SheetFormat:  sa.SheetFormat,
			},
		}

		expected, err := s.db.GetExpected(sa.ImageAddress)
		switch {
		case err == nil:
			c.Expected = expected
		case errors.Is(err, receipt.ErrNotFound):
			// no baseline for this image
		default:
			return nil, fmt.Errorf("getting expected receipt: %w", err)
		}

		status, err := s.db.GetReadStatus(sa.ImageAddress)
		switch {
		case err == nil:
			if status.Failed() {
				permits := status.Permits
				c.PriorPermits = &permits
			}
		case errors.Is(err, receipt.ErrNotFound):
			// never extracted before, treat as a no-failure case
		default:
			return nil, fmt.Errorf("getting read status: %w", err)
		}

		cases = append(cases, c)
	}

	report, err := regression.Run(asm, cases, opts...)
	if err != nil {
		return nil, fmt.Errorf("running regression: %w", err)
	}
	return report, nil
}

// GetExpected retrieves the expected receipt for an image
func (s *Service) GetExpected(imageAddress string) (*receipt.Receipt, error) {
	rec, err := s.db.GetExpected(imageAddress)
	if err != nil {
		return nil, fmt.Errorf("getting expected receipt: %w", err)
	}
	return rec, nil
}

// ListExpected returns all expected receipts
func (s *Service) ListExpected() ([]*receipt.Receipt, error) {
	receipts, err := s.db.ListExpected()
	if err != nil {
		return nil, fmt.Errorf("listing expected receipts: %w", err)
	}
	return receipts, nil
}

// SaveExpected stores a hand-checked expected receipt for an image
func (s *Service) SaveExpected(rec *receipt.Receipt) error {
	if rec.ImageAddress == "" {
		return fmt.Errorf("expected receipt needs an image address")
	}
	if err := s.db.SaveExpected(rec); err != nil {
		return fmt.Errorf("saving expected receipt: %w", err)
	}
	return nil
}

// DeleteExpected removes the expected receipt for an image
func (s *Service) DeleteExpected(imageAddress string) error {
	if err := s.db.DeleteExpected(imageAddress); err != nil {
		return fmt.Errorf("deleting expected receipt: %w", err)
	}
	return nil
}

// DownloadReceiptsToExpected copies every stored receipt that has no
// expected baseline into the expected bucket. Existing baselines are never
// touched, so hand-corrected data survives the bulk copy. Returns the image
// addresses that were copied.
func (s *Service) DownloadReceiptsToExpected() ([]string, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	downloaded := make([]string, 0)
	for _, rec := range receipts {
		_, err := s.db.GetExpected(rec.ImageAddress)
		switch {
		case err == nil:
			continue
		case errors.Is(err, receipt.ErrNotFound):
		default:
			return nil, fmt.Errorf("getting expected receipt: %w", err)
		}

		if err := s.db.SaveExpected(rec); err != nil {
			return nil, fmt.Errorf("saving expected receipt: %w", err)
		}
		downloaded = append(downloaded, rec.ImageAddress)
	}
	return downloaded, nil
}

// OverwriteExpected re-assembles the stored annotation of each listed image
// under the given ruleset version and replaces its expected baseline with
// the result. An image without a stored annotation fails the whole call.
func (s *Service) OverwriteExpected(version string, imageAddresses []string) error {
	asm, err := s.registry.ForVersion(version)
	if err != nil {
		return err
	}

	for _, address := range imageAddresses {
		sa, err := s.db.GetAnnotation(address)
		if err != nil {
			return fmt.Errorf("getting annotation for %s: %w", address, err)
		}

		rec, _, _ := asm.Assemble(annotation.Normalize(sa.Annotation), extract.Context{
			ReceiptStyle: sa.ReceiptStyle,
			EmailAddress: sa.EmailAddress,
			SheetFormat:  sa.SheetFormat,
		}, address)

		if err := s.db.SaveExpected(rec); err != nil {
			return fmt.Errorf("saving expected receipt: %w", err)
		}
	}
	return nil
}

// VersionUpdateReport summarizes an UpdateVersion run.
type VersionUpdateReport struct {
	Version      string   `json:"version"`
	Total        int      `json:"total"`
	Redelivered  []string `json:"redelivered"`
	ReadFailures int      `json:"readFailures"`
}

// UpdateVersion re-extracts every stored annotation under the given ruleset
// version and updates the database in place: each receipt's extracted
// sections are replaced while its delivery log is kept, a delivery whose
// latest attempt failed is re-issued with origin devUpdated once the items
// permit passes under the new ruleset, and the read status records are
// rebuilt from the new results.
func (s *Service) UpdateVersion(ctx context.Context, version string) (*VersionUpdateReport, error) {
	asm, err := s.registry.ForVersion(version)
	if err != nil {
		return nil, err
	}

	stored, err := s.db.ListAnnotations()
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}

	report := &VersionUpdateReport{
		Version:     asm.Version(),
		Total:       len(stored),
		Redelivered: []string{},
	}
	for _, sa := range stored {
		now := s.timeSource.Now()

		rec, permits, failures := asm.Assemble(annotation.Normalize(sa.Annotation), extract.Context{
			ReceiptStyle: sa.ReceiptStyle,
			EmailAddress: sa.EmailAddress,
			SheetFormat:  sa.SheetFormat,
		}, sa.ImageAddress)

		old, err := s.db.GetReceipt(sa.ImageAddress)
		switch {
		case err == nil:
			rec.OutputRequests = append([]receipt.OutputRequest(nil), old.OutputRequests...)
		case errors.Is(err, receipt.ErrNotFound):
			// annotation without a receipt, keep the fresh empty log
		default:
			return nil, fmt.Errorf("getting receipt: %w", err)
		}

		latest := rec.LatestOutputRequest()
		if latest != nil && latest.Result != nil && !latest.Result.Sent &&
			permits.Items && s.delivery != nil && sa.EmailAddress != "" {
			rec.AddOutputRequest(now, latest.SheetFormat, sa.EmailAddress, receipt.OriginDevUpdated)
			s.delivery.Execute(ctx, rec, permits, now)
			report.Redelivered = append(report.Redelivered, sa.ImageAddress)
		}

		if err := s.db.SaveReceipt(rec); err != nil {
			return nil, fmt.Errorf("saving receipt to database: %w", err)
		}

		if err := s.db.SaveReadStatus(&receipt.ReadStatus{
			ImageAddress: sa.ImageAddress,
			Version:      asm.Version(),
			Permits:      permits,
			Failures:     failures,
			RecordedAt:   now,
		}); err != nil {
			return nil, fmt.Errorf("saving read status: %w", err)
		}
		if len(failures) > 0 || !permits.AllTrue() {
			report.ReadFailures++
		}
	}
	return report, nil
}

// PromoteReceipt copies an extracted receipt into the expected baseline,
// marking it as developer-updated.
func (s *Service) PromoteReceipt(imageAddress string) (*receipt.Receipt, error) {
	rec, err := s.db.GetReceipt(imageAddress)
	if err != nil {
		return nil, fmt.Errorf("getting receipt for promotion: %w", err)
	}

	now := s.timeSource.Now()
	promoted := *rec
	promoted.OutputRequests = append([]receipt.OutputRequest(nil), rec.OutputRequests...)
	promoted.AddOutputRequest(now, "", "", receipt.OriginDevUpdated)
	promoted.CompleteOutputRequest(receipt.OutputResult{
		Sent:        false,
		Detail:      "promoted to expected baseline",
		CompletedAt: now,
	})

	if err := s.db.SaveExpected(&promoted); err != nil {
		return nil, fmt.Errorf("saving expected receipt: %w", err)
	}
	return &promoted, nil
}
