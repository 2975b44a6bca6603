package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-ocr/internal/imaging"
)

// transcribePrompt asks the model for a verbatim transcription and nothing
// else. Parsing into structured fields happens later in the pipeline.
const transcribePrompt = `Transcribe all text visible in this image exactly as it appears, line by line, top to bottom. Preserve the original line breaks. Output only the transcribed text with no commentary, no markdown, and no description of the image. If the image contains no text, output nothing.`

// Gemini implements the Engine interface using Google Gemini as a cloud
// vision backend.
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	threshold float64
	timeout   time.Duration
}

// NewGemini creates a new Gemini OCR engine
func NewGemini(apiKey string, modelName string, threshold float64, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     client.GenerativeModel(modelName),
		threshold: threshold,
		timeout:   timeout,
	}, nil
}

// ExtractText transcribes the image text via Gemini. The API reports no
// per-line confidence, so every fragment carries 1.0.
func (g *Gemini) ExtractText(ctx context.Context, img imaging.RawImage) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pngData, err := imaging.ToPNG(img)
	if err != nil {
		return Result{}, fmt.Errorf("preparing image: %w", err)
	}

	// genai.ImageData expects just the format suffix, not the full MIME type
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return Result{}, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	// An empty transcription is a successful call on a textless image, not
	// a backend failure.
	fragments := splitLines(text.String(), 1.0)
	return BuildResult(fragments, g.threshold), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
