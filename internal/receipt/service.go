package receipt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zombor/receipt-ocr/internal/extraction"
	"github.com/zombor/receipt-ocr/internal/imaging"
	"github.com/zombor/receipt-ocr/internal/llm"
	"github.com/zombor/receipt-ocr/internal/ocr"
)

// Service runs the receipt processing pipeline: decode, OCR, prompt, LLM,
// validate. Each request is independent; the service holds no per-request
// state.
type Service struct {
	engine    ocr.Engine
	completer llm.Completer
	validator *extraction.Validator
	maxBytes  int64
}

// NewService creates a new Service
func NewService(engine ocr.Engine, completer llm.Completer, validator *extraction.Validator, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = imaging.DefaultMaxBytes
	}
	return &Service{
		engine:    engine,
		completer: completer,
		validator: validator,
		maxBytes:  maxBytes,
	}
}

// ProcessRequest is one inbound image: either raw bytes or a base64 string
// (optionally data-URL-prefixed). Exactly one of Data/Base64 is set.
type ProcessRequest struct {
	Data   []byte
	Base64 string
}

// ProcessResult is the assembled response: structured fields plus the OCR
// full text for debugging, and the raw fragments for diagnostics.
type ProcessResult struct {
	Merchant    extraction.Merchant    `json:"merchant"`
	Transaction extraction.Transaction `json:"transaction"`
	Items       []extraction.LineItem  `json:"items"`
	RawText     string                 `json:"raw_text"`

	Fragments []ocr.Fragment `json:"-"`
}

// Process runs the five pipeline stages in strict order. Every failure is
// mapped to a ProcessingError at the stage boundary; the first failure wins
// and nothing downstream runs.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	img, err := s.decode(req)
	if err != nil {
		return nil, processingError(CodeInvalidImage, "invalid image payload", err)
	}

	ocrResult, err := s.engine.ExtractText(ctx, img)
	if err != nil {
		return nil, processingError(CodeOcrFailed, "OCR processing failed", err)
	}

	// Don't spend an LLM call on an image with no usable text.
	if strings.TrimSpace(ocrResult.FullText) == "" {
		return nil, processingError(CodeNoTextExtracted, "no text could be extracted from the image", nil)
	}

	slog.Debug("OCR complete",
		"fragments", len(ocrResult.Fragments),
		"text_bytes", len(ocrResult.FullText),
	)

	prompt := extraction.BuildPrompt(ocrResult.FullText)

	completion, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, processingError(CodeLlmFailed, "LLM completion failed", err)
	}

	parsed, err := s.validator.Validate(completion)
	if err != nil {
		return nil, processingError(CodeMalformedLlmOutput, "LLM returned malformed receipt data", err)
	}

	return &ProcessResult{
		Merchant:    parsed.Merchant,
		Transaction: parsed.Transaction,
		Items:       parsed.Items,
		RawText:     ocrResult.FullText,
		Fragments:   ocrResult.Fragments,
	}, nil
}

func (s *Service) decode(req ProcessRequest) (imaging.RawImage, error) {
	if req.Base64 != "" {
		return imaging.DecodeBase64(req.Base64, s.maxBytes)
	}
	return imaging.Decode(req.Data, s.maxBytes)
}

// MaxBytes reports the configured upload limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}
