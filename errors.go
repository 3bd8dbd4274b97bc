package settings

import "github.com/ArakawaHenri/fastapiex-settings/internal"

// Code classifies a settings error.
type Code = internal.Code

const (
	// CodeRegistration marks invalid or conflicting section declarations.
	CodeRegistration = internal.CodeRegistration
	// CodeValidation marks raw data that fails a declared section shape.
	CodeValidation = internal.CodeValidation
	// CodeResolve marks a query that cannot be answered and has no default.
	CodeResolve = internal.CodeResolve
	// CodeConflict marks re-initialization with a different resolved source.
	CodeConflict = internal.CodeConflict
)

// Error is a structured settings error with a classification code.
type Error = internal.Error

// CodeOf extracts the classification code from an error chain. Errors outside
// the settings taxonomy report an empty code.
func CodeOf(err error) Code {
	return internal.CodeOf(err)
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return internal.IsCode(err, code)
}
