package exitcodes

const (
	// ================================
	// Platform-universal exit codes
	// ================================

	// ExitCodeSuccess indicates no errors or failures had occurred.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates some type of general error occurred.
	ExitCodeGeneralError = 1

	// ================================
	// Application-specific exit codes
	// ================================
	// Note: Despite not being standardized, exit codes 2-5 are often used for common use cases, so we avoid them.

	// ExitCodeCollectionError indicates that there was an error while connecting to, or collecting coverage from,
	// a VM Service or browser target. Note that an error with error code ExitCodeGeneralError and
	// ExitCodeCollectionError are mutually exclusive errors.
	ExitCodeCollectionError = 6

	// ExitCodeReportError indicates that report generation (LCOV or pretty-print) failed, e.g. because of a
	// MissingFunctionCoverage condition or an unreadable input file.
	ExitCodeReportError = 7
)
