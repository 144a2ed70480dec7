package errors

import (
	"errors"
	"fmt"
)

// FabError is the structured error type shared by every fabindex component.
// Config parsing, schema building, field writes, store calls and link
// resolution all report failures through it so callers can branch on Code.
type FabError struct {
	// Code is the unique error code (e.g., "ERR_401_UNSUPPORTED_FIELD_TYPE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates a transient failure.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FabError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FabError) Unwrap() error {
	return e.Cause
}

// Is matches another FabError by code, so errors.Is(err, &FabError{Code: c}) works.
func (e *FabError) Is(target error) bool {
	if t, ok := target.(*FabError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FabError) WithDetail(key, value string) *FabError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FabError) WithSuggestion(suggestion string) *FabError {
	e.Suggestion = suggestion
	return e
}

// New creates a FabError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FabError {
	return &FabError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FabError from an existing error.
func Wrap(code string, err error) *FabError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError reports a missing or malformed configuration key.
func ConfigError(key, message string) *FabError {
	code := ErrCodeConfigInvalid
	if message == "" {
		code = ErrCodeConfigMissingKey
		message = "missing required key " + key
	}
	return New(code, message, nil).WithDetail("key", key)
}

// UnsupportedFieldType reports a field type with no index mapping.
func UnsupportedFieldType(field, fieldType string) *FabError {
	return New(ErrCodeUnsupportedFieldType,
		fmt.Sprintf("field %q has unsupported type %q", field, fieldType), nil).
		WithDetail("field", field).
		WithDetail("type", fieldType).
		WithSuggestion("supported field types are \"text\" and \"string\"")
}

// HostCallError reports a failed call to the content store or index engine.
func HostCallError(op string, cause error) *FabError {
	return New(ErrCodeHostCall, op+" failed", cause).WithDetail("op", op)
}

// NotFound reports a metadata object absent from the content store.
func NotFound(library, hash string) *FabError {
	return New(ErrCodeObjectNotFound,
		fmt.Sprintf("object %s/%s not found", library, hash), nil).
		WithDetail("library", library).
		WithDetail("hash", hash)
}

// MalformedMetadata reports metadata without the expected shape.
func MalformedMetadata(path, message string) *FabError {
	return New(ErrCodeMalformedMetadata, message, nil).WithDetail("path", path)
}

// LinkResolutionError reports a link marker that cannot be followed.
func LinkResolutionError(link string, cause error) *FabError {
	msg := fmt.Sprintf("cannot resolve link %q", link)
	return New(ErrCodeLinkResolution, msg, cause).WithDetail("link", link)
}

// As returns the first FabError in err's chain.
func As(err error) (*FabError, bool) {
	var fe *FabError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a transient FabError.
func IsRetryable(err error) bool {
	fe, ok := As(err)
	return ok && fe.Retryable
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	fe, ok := As(err)
	return ok && fe.Severity == SeverityFatal
}

// HasCode reports whether any FabError in err's chain has the given code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &FabError{Code: code})
}

// GetCode extracts the error code, or "" when err is not a FabError.
func GetCode(err error) string {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err is not a FabError.
func GetCategory(err error) Category {
	if fe, ok := As(err); ok {
		return fe.Category
	}
	return ""
}
