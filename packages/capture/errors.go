package capture

import "errors"

var (
	// ErrFetch marks a failure to retrieve a response body
	ErrFetch = errors.New("body retrieval failed")

	// ErrRecord marks a failed metadata insert. The artifact file may still exist.
	ErrRecord = errors.New("metadata persist failed")

	// ErrPipeline marks any other failure while handling a single response,
	// including recovered panics
	ErrPipeline = errors.New("capture pipeline failed")
)
