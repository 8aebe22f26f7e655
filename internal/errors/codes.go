// Package errors provides structured error handling for CaseWeave.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (system of record, indexes)
//   - 3XX: Backend errors (vector/lexical/KV/LLM services)
//   - 4XX: Validation and lookup errors
//   - 5XX: Internal and workflow errors
package errors

// Kind classifies an error for propagation policy decisions.
// Handlers, the query bus, and workflow activities branch on Kind,
// never on message text.
type Kind string

const (
	// KindValidation indicates malformed caller input. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindNotFound indicates a referenced entity is missing. Terminal for the call.
	KindNotFound Kind = "NOT_FOUND"
	// KindTimeout indicates a deadline was exceeded. Retried only by workflow activities.
	KindTimeout Kind = "TIMEOUT"
	// KindResourceExhausted indicates governor or store capacity was hit.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// KindConsistency indicates a dual-store partial write that compensation
	// could not repair. Scheduled for the orphan reaper.
	KindConsistency Kind = "CONSISTENCY"
	// KindTransientBackend indicates a single backend is unavailable.
	// Search degrades; workflow activities retry.
	KindTransientBackend Kind = "TRANSIENT_BACKEND"
	// KindFatalBackend indicates all backends (or the workflow engine) are
	// unavailable. Never retried.
	KindFatalBackend Kind = "FATAL_BACKEND"
	// KindConfig indicates invalid or missing configuration.
	KindConfig Kind = "CONFIG"
	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreIO      = "ERR_201_STORE_IO"
	ErrCodeIndexCorrupt = "ERR_202_INDEX_CORRUPT"
	ErrCodeConsistency  = "ERR_203_CONSISTENCY"
	ErrCodeFileTooLarge = "ERR_204_FILE_TOO_LARGE"

	// Backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeBackendFatal       = "ERR_303_BACKEND_FATAL"
	ErrCodeResourceExhausted  = "ERR_304_RESOURCE_EXHAUSTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeNotFound     = "ERR_402_NOT_FOUND"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_404_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeQueryExecution = "ERR_502_QUERY_EXECUTION"
	ErrCodeWorkflow       = "ERR_503_WORKFLOW"
	ErrCodeEmbedding      = "ERR_504_EMBEDDING_FAILED"
	ErrCodeSearch         = "ERR_505_SEARCH_FAILED"
)

// kindFromCode derives the taxonomy kind from an error code.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid:
		return KindConfig
	case ErrCodeConsistency:
		return KindConsistency
	case ErrCodeBackendTimeout:
		return KindTimeout
	case ErrCodeBackendUnavailable:
		return KindTransientBackend
	case ErrCodeBackendFatal:
		return KindFatalBackend
	case ErrCodeResourceExhausted:
		return KindResourceExhausted
	case ErrCodeInvalidInput, ErrCodeInvalidQuery, ErrCodeQueryEmpty:
		return KindValidation
	case ErrCodeNotFound:
		return KindNotFound
	default:
		return KindInternal
	}
}

// severityFromKind determines severity based on the kind.
func severityFromKind(kind Kind) Severity {
	switch kind {
	case KindFatalBackend:
		return SeverityFatal
	case KindTimeout, KindResourceExhausted, KindTransientBackend:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableKind reports whether workflow activities may retry this kind.
func retryableKind(kind Kind) bool {
	switch kind {
	case KindTimeout, KindResourceExhausted, KindTransientBackend:
		return true
	default:
		return false
	}
}
