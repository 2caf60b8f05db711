package cmd

// Exit codes for snare CLI
const (
	// ExitSuccess indicates the session ended normally
	ExitSuccess = 0

	// ExitFailure indicates an unclassified error
	ExitFailure = 1

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitStorageError indicates the content directory or database could not be opened
	ExitStorageError = 5

	// ExitBrowserError indicates the browser could not be launched or attached
	ExitBrowserError = 6

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)
