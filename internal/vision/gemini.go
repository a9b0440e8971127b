package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/receipto/receipto/internal/annotation"
)

// tokenAnnotationPrompt asks the model to behave like a text detector and
// emit tokens with bounding polygons, matching what the Vision API returns.
const tokenAnnotationPrompt = `You are an OCR engine reading a retail receipt image. Detect every text token in the image.

Return ONLY a valid JSON array, one element per token, in this exact shape:
[
  {"text": "token text", "bounds": [{"x": 0, "y": 0}, {"x": 10, "y": 0}, {"x": 10, "y": 12}, {"x": 0, "y": 12}]}
]

Important:
- One element per visible word or number, not per line
- bounds is the token's bounding polygon in pixel coordinates, four vertices, clockwise from top-left
- Keep the original text exactly, including Korean characters, commas in numbers, and signs
- Do not include any text before or after the JSON array
- Do not use markdown code blocks`

// Gemini implements Annotator on a generative model, as a fallback for
// deployments without Cloud Vision access.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini-backed annotator instance.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// AnnotateImage prompts the model for token JSON and parses it into the raw
// annotation.
func (g *Gemini) AnnotateImage(ctx context.Context, imageData []byte, contentType string) (annotation.Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	pngData, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return annotation.Annotation{}, err
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(tokenAnnotationPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return annotation.Annotation{}, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return annotation.Annotation{}, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return parseTokenJSON(responseText.String())
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// parseTokenJSON parses the model's token array, tolerating markdown fences
// and stray text around the JSON.
func parseTokenJSON(text string) (annotation.Annotation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "[")
	endIdx := strings.LastIndex(text, "]")
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return annotation.Annotation{}, fmt.Errorf("no JSON array found in response")
	}
	text = text[startIdx : endIdx+1]

	var tokens []annotation.Token
	if err := json.Unmarshal([]byte(text), &tokens); err != nil {
		return annotation.Annotation{}, fmt.Errorf("unmarshaling tokens: %w", err)
	}
	return annotation.Annotation{Tokens: tokens}, nil
}
