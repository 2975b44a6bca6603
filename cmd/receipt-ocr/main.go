package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-ocr/internal/extraction"
	"github.com/zombor/receipt-ocr/internal/llm"
	"github.com/zombor/receipt-ocr/internal/ocr"
	"github.com/zombor/receipt-ocr/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-ocr")
	var (
		host          = fs.StringLong("host", "0.0.0.0", "HTTP server host")
		port          = fs.IntLong("port", 8000, "HTTP server port")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		maxUploadSize = fs.IntLong("max-upload-size", 10<<20, "Maximum upload size in bytes")

		ocrBackend   = fs.StringLong("ocr-backend", "gemini", "OCR backend: 'gemini' or 'tesseract'")
		ocrThreshold = fs.Float64Long("ocr-confidence-threshold", ocr.DefaultConfidenceThreshold, "Minimum fragment confidence for inclusion in extracted text")
		ocrLanguages = fs.StringLong("ocr-languages", "eng", "OCR language set for the local engine (e.g. 'eng' or 'eng+deu')")
		ocrGPU       = fs.BoolLong("ocr-gpu", "Enable OCR hardware acceleration where the engine supports it")
		ocrTimeout   = fs.DurationLong("ocr-timeout", 30*time.Second, "Timeout for one OCR invocation")

		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set RECEIPT_OCR_GEMINI_KEY)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		tesseractBin  = fs.StringLong("tesseract-bin", "tesseract", "Tesseract binary name or path")
		tessdataDir   = fs.StringLong("tessdata-dir", "", "Tesseract language data directory")

		llmBackend   = fs.StringLong("llm-backend", "anthropic", "LLM backend: 'anthropic' or 'ollama'")
		anthropicKey = fs.StringLong("anthropic-key", "", "Anthropic API key (or set RECEIPT_OCR_ANTHROPIC_KEY)")
		llmModel     = fs.StringLong("llm-model", "claude-sonnet-4-20250514", "LLM model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")
		llmTimeout   = fs.DurationLong("llm-timeout", 60*time.Second, "Timeout for one LLM completion")

		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	})))

	// Initialize OCR engine based on type
	var engine ocr.Engine
	var err error
	switch *ocrBackend {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR backend...", "model", *geminiModel)
		engine, err = ocr.NewGemini(apiKey, *geminiModel, *ocrThreshold, *ocrTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "tesseract":
		slog.Info("Initializing tesseract OCR backend...", "binary", *tesseractBin, "languages", *ocrLanguages)
		engine = ocr.NewTesseract(ocr.TesseractConfig{
			Binary:      *tesseractBin,
			Languages:   *ocrLanguages,
			TessdataDir: *tessdataDir,
			Threshold:   *ocrThreshold,
			Timeout:     *ocrTimeout,
			UseGPU:      *ocrGPU,
		})
	default:
		slog.Error("Invalid OCR backend", "backend", *ocrBackend, "valid", "gemini or tesseract")
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize LLM completer based on type
	var completer llm.Completer
	switch *llmBackend {
	case "anthropic":
		apiKey := *anthropicKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Anthropic API key is required. Set --anthropic-key flag or ANTHROPIC_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Anthropic LLM backend...", "model", *llmModel)
		completer, err = llm.NewAnthropic("", apiKey, *llmModel, *llmTimeout)
		if err != nil {
			slog.Error("Failed to initialize Anthropic", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama LLM backend...", "url", *ollamaURL, "model", *ollamaModel)
		completer, err = llm.NewOllama(*ollamaURL, *ollamaModel, *llmTimeout)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid LLM backend", "backend", *llmBackend, "valid", "anthropic or ollama")
		os.Exit(1)
	}
	defer completer.Close()

	validator, err := extraction.NewValidator()
	if err != nil {
		slog.Error("Failed to compile receipt schema", "error", err)
		os.Exit(1)
	}

	service := receipt.NewService(engine, completer, validator, int64(*maxUploadSize))
	server := receipt.NewServer(service)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", addr, "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
