package ocr

import (
	"context"
	"strings"

	"github.com/zombor/receipt-ocr/internal/imaging"
)

// Fragment is one recognized line of text with a confidence score in [0,1].
type Fragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result contains the recognized fragments and the concatenated full text.
// FullText only includes fragments at or above the configured confidence
// threshold; all fragments are retained for diagnostics.
type Result struct {
	Fragments []Fragment
	FullText  string
}

// Engine defines the interface for OCR backends
type Engine interface {
	// ExtractText recognizes text in an image
	ExtractText(ctx context.Context, img imaging.RawImage) (Result, error)
	// Close closes the engine and releases resources
	Close() error
}

// DefaultConfidenceThreshold is the minimum score for a fragment to be
// included in the concatenated text.
const DefaultConfidenceThreshold = 0.3

// BuildResult assembles a Result from fragments, filtering the full text
// by the confidence threshold.
func BuildResult(fragments []Fragment, threshold float64) Result {
	var kept []string
	for _, f := range fragments {
		if f.Confidence >= threshold {
			kept = append(kept, f.Text)
		}
	}
	return Result{
		Fragments: fragments,
		FullText:  strings.Join(kept, "\n"),
	}
}

// splitLines turns a block of recognized text into per-line fragments with
// the given confidence. Blank lines carry no signal and are dropped.
func splitLines(text string, confidence float64) []Fragment {
	var fragments []Fragment
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fragments = append(fragments, Fragment{Text: line, Confidence: confidence})
	}
	return fragments
}
