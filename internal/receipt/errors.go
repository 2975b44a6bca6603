package receipt

import (
	"fmt"
	"net/http"
)

// ErrorCode identifies where in the pipeline a request failed. The codes
// are stable API surface; clients match on them.
type ErrorCode string

const (
	CodeInvalidImage       ErrorCode = "InvalidImage"
	CodeOcrFailed          ErrorCode = "OcrFailed"
	CodeNoTextExtracted    ErrorCode = "NoTextExtracted"
	CodeLlmFailed          ErrorCode = "LlmFailed"
	CodeMalformedLlmOutput ErrorCode = "MalformedLlmOutput"
	CodeInternalError      ErrorCode = "InternalError"
)

// ProcessingError is the single error type crossing the pipeline boundary.
// Message is safe for callers; Err carries the diagnostic detail that only
// goes to the log.
type ProcessingError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to its response status.
func (e *ProcessingError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidImage:
		return http.StatusBadRequest
	case CodeNoTextExtracted, CodeMalformedLlmOutput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func processingError(code ErrorCode, message string, err error) *ProcessingError {
	return &ProcessingError{Code: code, Message: message, Err: err}
}
