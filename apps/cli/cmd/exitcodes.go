package cmd

// Exit codes for the fetchkit CLI
const (
	// ExitSuccess indicates the request succeeded
	ExitSuccess = 0

	// ExitRequestFailure indicates the response failed status validation or
	// schema validation
	ExitRequestFailure = 1

	// ExitParseError indicates a request-file or response parsing error
	ExitParseError = 2

	// ExitConfigError indicates an invalid request description
	ExitConfigError = 3

	// ExitNetworkError indicates a network, timeout or redirect error
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)
