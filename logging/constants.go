package logging

// These constants are used to identify the various services that may do some logging, so that log lines are
// "grep-able" by the service that produced them.
const (
	// VM_SERVICE_SERVICE is the constant used to identify the vmservice package.
	VM_SERVICE_SERVICE = "vmservice"
	// BROWSERCOV_SERVICE is the constant used to identify the browsercov package.
	BROWSERCOV_SERVICE = "browsercov"
	// HITMAP_SERVICE is the constant used to identify the hitmap package.
	HITMAP_SERVICE = "hitmap"
	// REPORT_SERVICE is the constant used to identify the report package.
	REPORT_SERVICE = "report"
	// CLI_SERVICE is the constant used to identify the cmd package.
	CLI_SERVICE = "cli"
)
