// Package errors provides structured error handling for recordsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index storage errors
//   - 3XX: Transient index errors (retryable)
//   - 4XX: Precondition and validation errors
//   - 5XX: Internal and change-event application errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryTransient indicates recoverable failures talking to the index.
	CategoryTransient Category = "TRANSIENT"
	// CategoryPrecondition indicates a rejected operation whose preconditions did not hold.
	CategoryPrecondition Category = "PRECONDITION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeIndexOpen     = "ERR_201_INDEX_OPEN"
	ErrCodeCatalogWrite  = "ERR_202_CATALOG_WRITE"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeMappingFailed = "ERR_204_MAPPING_FAILED"

	// Transient index errors (300-399)
	ErrCodeIndexTimeout     = "ERR_301_INDEX_TIMEOUT"
	ErrCodeIndexUnavailable = "ERR_302_INDEX_UNAVAILABLE"
	ErrCodeQueryFailed      = "ERR_303_QUERY_FAILED"

	// Precondition and validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeAliasMissing      = "ERR_402_ALIAS_MISSING"
	ErrCodeAliasAmbiguous    = "ERR_403_ALIAS_AMBIGUOUS"
	ErrCodeSourceNotAliased  = "ERR_404_SOURCE_NOT_ALIASED"
	ErrCodeIndexMissing      = "ERR_405_INDEX_MISSING"
	ErrCodeDestinationExists = "ERR_406_DESTINATION_EXISTS"
	ErrCodeSameIndex         = "ERR_407_SAME_INDEX"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeCDCApplyFailed = "ERR_502_CDC_APPLY_FAILED"
	ErrCodeReindexFailed  = "ERR_503_REINDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryTransient
	case '4':
		return CategoryPrecondition
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexTimeout, ErrCodeIndexUnavailable, ErrCodeQueryFailed:
		return true
	default:
		return false
	}
}
