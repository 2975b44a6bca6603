package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zombor/receipt-ocr/internal/imaging"
)

// Runner lets us stub the tesseract subprocess in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// TesseractConfig configures the local OCR engine.
type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	Languages   string // e.g. "eng" or "eng+deu"
	TessdataDir string
	Threshold   float64
	Timeout     time.Duration
	UseGPU      bool // accepted for config-surface stability; the subprocess engine has no GPU path
}

// Tesseract implements the Engine interface by driving the tesseract binary
// in TSV mode for per-word confidences. Each invocation is an isolated
// process, so concurrent requests need no serialization; only the one-time
// binary probe is shared state.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner

	probeMu sync.Mutex
	probed  bool
}

// NewTesseract creates a new local OCR engine
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UseGPU {
		slog.Warn("OCR hardware acceleration requested but the tesseract engine has no GPU path; ignoring")
	}
	return &Tesseract{cfg: cfg, runner: execRunner{}}
}

// NewTesseractWithRunner creates a local engine with a custom runner for testing
func NewTesseractWithRunner(cfg TesseractConfig, runner Runner) *Tesseract {
	t := NewTesseract(cfg)
	t.runner = runner
	return t
}

// probeTimeout bounds the one-time binary check independently of any
// request deadline, so a canceled request cannot poison the probe.
const probeTimeout = 5 * time.Second

// probe verifies that the binary and its language data are usable. Only
// success is cached; a failed probe is retried on the next request.
func (t *Tesseract) probe() error {
	t.probeMu.Lock()
	defer t.probeMu.Unlock()
	if t.probed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	_, errb, err := t.runner.Run(ctx, t.cfg.Binary, "--version")
	if err != nil {
		return fmt.Errorf("tesseract unavailable: %w (%s)", err, strings.TrimSpace(string(errb)))
	}
	t.probed = true
	return nil
}

// ExtractText runs tesseract over the image and groups the TSV word output
// into per-line fragments with mean word confidence.
func (t *Tesseract) ExtractText(ctx context.Context, img imaging.RawImage) (Result, error) {
	if err := t.probe(); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	pngData, err := imaging.ToPNG(img)
	if err != nil {
		return Result{}, fmt.Errorf("preparing image: %w", err)
	}

	// tesseract reads from a file; stdin handling varies across versions
	f, err := os.CreateTemp("", "receipt-ocr-*.png")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(pngData); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("writing temp file: %w", err)
	}
	f.Close()

	args := []string{f.Name(), "stdout", "-l", t.cfg.Languages}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		return Result{}, fmt.Errorf("tesseract: %w (%s)", err, strings.TrimSpace(string(errb)))
	}

	fragments := parseTSV(string(out))
	return BuildResult(fragments, t.cfg.Threshold), nil
}

// Close closes the engine (no-op for a subprocess engine)
func (t *Tesseract) Close() error {
	return nil
}

// parseTSV groups tesseract TSV word rows into line fragments. Columns:
// level page block par line word left top width height conf text.
func parseTSV(tsv string) []Fragment {
	type lineKey struct {
		page, block, par, line int
	}
	var order []lineKey
	words := make(map[lineKey][]string)
	confs := make(map[lineKey][]float64)

	rows := strings.Split(tsv, "\n")
	for i, row := range rows {
		if i == 0 || strings.TrimSpace(row) == "" {
			continue // header or trailing blank
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue // structural rows carry conf -1
		}
		text := cols[11]
		if strings.TrimSpace(text) == "" {
			continue
		}

		key := lineKey{atoi(cols[1]), atoi(cols[2]), atoi(cols[3]), atoi(cols[4])}
		if _, seen := words[key]; !seen {
			order = append(order, key)
		}
		words[key] = append(words[key], text)
		confs[key] = append(confs[key], conf/100.0)
	}

	fragments := make([]Fragment, 0, len(order))
	for _, key := range order {
		var sum float64
		for _, c := range confs[key] {
			sum += c
		}
		fragments = append(fragments, Fragment{
			Text:       strings.Join(words[key], " "),
			Confidence: sum / float64(len(confs[key])),
		})
	}
	return fragments
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
