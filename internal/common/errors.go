package common

import (
	"errors"
	"fmt"
	"time"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// DocumentParseError means the input bytes are not a document we can read.
// It is fatal for the document and never retried.
type DocumentParseError struct {
	Filename string
	Format   string
	Cause    error
}

func (e *DocumentParseError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("parse %s document %q: %v", e.Format, e.Filename, e.Cause)
	}
	return fmt.Sprintf("parse document %q: %v", e.Filename, e.Cause)
}

func (e *DocumentParseError) Unwrap() error { return e.Cause }

// OCRServiceError is a remote OCR failure: transport error, timeout or non-2xx response.
type OCRServiceError struct {
	Op         string // "extract_text" | "health_check"
	StatusCode int    // 0 when no response was received
	Timeout    bool
	Cause      error
}

func (e *OCRServiceError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("ocr service %s: timeout: %v", e.Op, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("ocr service %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	default:
		return fmt.Sprintf("ocr service %s: %v", e.Op, e.Cause)
	}
}

func (e *OCRServiceError) Unwrap() error { return e.Cause }

// CircuitBreakerOpenError is returned without calling the guarded dependency.
type CircuitBreakerOpenError struct {
	Name     string
	ReopenAt time.Time
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.ReopenAt.UTC().Format(time.RFC3339))
}

// ExtractionServiceError is a structured-extraction service failure.
type ExtractionServiceError struct {
	StatusCode int
	Cause      error
}

func (e *ExtractionServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extraction service: status %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("extraction service: %v", e.Cause)
}

func (e *ExtractionServiceError) Unwrap() error { return e.Cause }

// IsDocumentParseError reports whether err (or anything it wraps) is a DocumentParseError.
func IsDocumentParseError(err error) bool {
	var target *DocumentParseError
	return errors.As(err, &target)
}

// IsExtractionServiceError reports whether err (or anything it wraps) is an ExtractionServiceError.
func IsExtractionServiceError(err error) bool {
	var target *ExtractionServiceError
	return errors.As(err, &target)
}

// IsBreakerOpen reports whether err (or anything it wraps) is a CircuitBreakerOpenError.
func IsBreakerOpen(err error) bool {
	var target *CircuitBreakerOpenError
	return errors.As(err, &target)
}
