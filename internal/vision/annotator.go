// Package vision provides the OCR annotation providers. The extraction core
// never calls them directly; it receives an already-fetched annotation.
package vision

import (
	"context"

	"github.com/receipto/receipto/internal/annotation"
)

// Annotator runs text detection over a receipt image and returns the raw
// token annotation.
type Annotator interface {
	// AnnotateImage detects text in an image and returns its tokens with
	// bounding geometry.
	AnnotateImage(ctx context.Context, imageData []byte, contentType string) (annotation.Annotation, error)
	// Close releases provider resources.
	Close() error
}
