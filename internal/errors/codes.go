// Package errors provides the structured error taxonomy for fabindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store and archive I/O errors
//   - 3XX: Host call errors (content store, index engine)
//   - 4XX: Validation errors (field types, metadata shape, links)
//   - 5XX: Internal and index engine errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates store and filesystem errors.
	CategoryIO Category = "IO"
	// CategoryHost indicates failures talking to an external collaborator.
	CategoryHost Category = "HOST"
	// CategoryValidation indicates bad input data.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the crawl.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigMissingKey = "ERR_103_CONFIG_MISSING_KEY"

	// IO errors (200-299)
	ErrCodeObjectNotFound = "ERR_201_OBJECT_NOT_FOUND"
	ErrCodeStoreIO        = "ERR_202_STORE_IO"
	ErrCodeArchiveFailed  = "ERR_203_ARCHIVE_FAILED"
	ErrCodeIndexLocked    = "ERR_204_INDEX_LOCKED"

	// Host call errors (300-399)
	ErrCodeHostTimeout     = "ERR_301_HOST_TIMEOUT"
	ErrCodeHostUnavailable = "ERR_302_HOST_UNAVAILABLE"
	ErrCodeHostCall        = "ERR_303_HOST_CALL"

	// Validation errors (400-499)
	ErrCodeUnsupportedFieldType = "ERR_401_UNSUPPORTED_FIELD_TYPE"
	ErrCodeFieldValue           = "ERR_402_FIELD_VALUE"
	ErrCodeMalformedMetadata    = "ERR_403_MALFORMED_METADATA"
	ErrCodeLinkResolution       = "ERR_404_LINK_RESOLUTION"
	ErrCodeInvalidQuery         = "ERR_405_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeIndexFailed       = "ERR_502_INDEX_FAILED"
	ErrCodeSearchFailed      = "ERR_503_SEARCH_FAILED"
	ErrCodeMissingDocumentID = "ERR_504_MISSING_DOCUMENT_ID"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_101_..." -> '1'
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryHost
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if isRetryableCode(code) {
		return SeverityWarning
	}

	switch categoryFromCode(code) {
	case CategoryConfig, CategoryValidation:
		// Reachable from user input; nothing to retry, the crawl must stop.
		return SeverityFatal
	}

	switch code {
	case ErrCodeMissingDocumentID, ErrCodeIndexLocked:
		return SeverityFatal
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeHostTimeout, ErrCodeHostUnavailable, ErrCodeStoreIO:
		return true
	default:
		return false
	}
}
