package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// errorBody is the JSON error envelope: a stable code plus a message safe
// for callers. Diagnostic detail stays in the log.
type errorBody struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, perr *ProcessingError) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.HTTPStatus())

	var body errorBody
	body.Error.Code = perr.Code
	body.Error.Message = perr.Message
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding error response", "error", err)
	}
}

// handleHealth reports liveness unconditionally; no dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// handleProcessReceipt accepts a receipt image as a multipart file upload
// or as JSON {"image_base64": ...} and returns the extracted data.
func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("request_id", uuid.NewString())

	req, perr := s.readRequest(w, r)
	if perr != nil {
		logger.Warn("Rejecting request", "code", perr.Code, "error", perr)
		s.metrics.ObserveFailure(perr.Code)
		writeError(w, perr)
		return
	}

	result, err := s.service.Process(r.Context(), req)
	if err != nil {
		var procErr *ProcessingError
		if !errors.As(err, &procErr) {
			procErr = processingError(CodeInternalError, "internal server error while processing receipt", err)
		}
		logger.Error("Error processing receipt", "code", procErr.Code, "error", procErr)
		s.metrics.ObserveFailure(procErr.Code)
		writeError(w, procErr)
		return
	}

	logger.Info("Receipt processed",
		"items", len(result.Items),
		"fragments", len(result.Fragments),
		"text_bytes", len(result.RawText),
	)

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}

// readRequest extracts the image payload from either request form.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (ProcessRequest, *ProcessingError) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.readMultipart(r)
	}

	// base64 inflates the image by 4/3; allow that plus envelope slack
	limit := s.service.MaxBytes()*4/3 + 1024
	reader := http.MaxBytesReader(w, r.Body, limit)

	var body struct {
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(reader).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ProcessRequest{}, processingError(CodeInvalidImage, "request body is too large", err)
		}
		return ProcessRequest{}, processingError(CodeInvalidImage, "invalid request body", err)
	}
	if strings.TrimSpace(body.ImageBase64) == "" {
		return ProcessRequest{}, processingError(CodeInvalidImage, "image_base64 is required", nil)
	}
	return ProcessRequest{Base64: body.ImageBase64}, nil
}

func (s *Server) readMultipart(r *http.Request) (ProcessRequest, *ProcessingError) {
	if err := r.ParseMultipartForm(s.service.MaxBytes()); err != nil {
		return ProcessRequest{}, processingError(CodeInvalidImage, "error parsing multipart form", err)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		return ProcessRequest{}, processingError(CodeInvalidImage, "no file provided", err)
	}
	defer f.Close()

	if header.Size > s.service.MaxBytes() {
		return ProcessRequest{}, processingError(CodeInvalidImage, "file is too large", nil)
	}

	data, err := io.ReadAll(io.LimitReader(f, s.service.MaxBytes()+1))
	if err != nil {
		return ProcessRequest{}, processingError(CodeInvalidImage, "error reading file", err)
	}

	return ProcessRequest{Data: data}, nil
}
