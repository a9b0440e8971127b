package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/receipto/receipto/internal/annotation"
)

// Google implements Annotator on the Cloud Vision text detection API.
type Google struct {
	service *visionapi.Service
}

// NewGoogle creates a Vision-backed annotator. Pass option.WithCredentialsFile
// or option.WithAPIKey depending on the deployment.
func NewGoogle(ctx context.Context, opts ...option.ClientOption) (*Google, error) {
	service, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision service: %w", err)
	}
	return &Google{service: service}, nil
}

// AnnotateImage runs TEXT_DETECTION over the image and flattens the result
// into the raw token annotation. The image is converted to PNG first so the
// API never sees HEIC or PDF payloads.
func (g *Google) AnnotateImage(ctx context.Context, imageData []byte, contentType string) (annotation.Annotation, error) {
	pngData, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return annotation.Annotation{}, err
	}

	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image: &visionapi.Image{
				Content: base64.StdEncoding.EncodeToString(pngData),
			},
			Features: []*visionapi.Feature{
				{Type: "TEXT_DETECTION"},
			},
		}},
	}

	resp, err := g.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return annotation.Annotation{}, fmt.Errorf("annotating image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return annotation.Annotation{}, fmt.Errorf("no response from vision api")
	}
	if apiErr := resp.Responses[0].Error; apiErr != nil {
		return annotation.Annotation{}, fmt.Errorf("vision api error: %s", apiErr.Message)
	}

	return fromTextAnnotations(resp.Responses[0].TextAnnotations), nil
}

// Close implements Annotator. The REST client holds no resources.
func (g *Google) Close() error { return nil }

// fromTextAnnotations converts the API's entity annotations to tokens. The
// first entity is the whole-image text aggregate and is skipped; the rest
// are individual tokens.
func fromTextAnnotations(entities []*visionapi.EntityAnnotation) annotation.Annotation {
	if len(entities) <= 1 {
		return annotation.Annotation{Tokens: []annotation.Token{}}
	}

	tokens := make([]annotation.Token, 0, len(entities)-1)
	for _, entity := range entities[1:] {
		token := annotation.Token{Text: entity.Description}
		if entity.BoundingPoly != nil {
			for _, v := range entity.BoundingPoly.Vertices {
				token.Bounds = append(token.Bounds, annotation.Point{
					X: int(v.X),
					Y: int(v.Y),
				})
			}
		}
		tokens = append(tokens, token)
	}
	return annotation.Annotation{Tokens: tokens}
}
