package fetch

import "fmt"

// RequestError represents a per-identifier network failure: timeouts,
// connection errors, non-200 statuses and malformed or empty bodies. These
// are recoverable; they are recorded in the ledger and the run continues.
type RequestError struct {
	ID         string // Identifier whose fetch failed
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Reason     string // Short ledger-friendly explanation, e.g. "timeout"
	Err        error  // Underlying error, if any
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch failed for %s (HTTP %d): %s", e.ID, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("fetch failed for %s: %s", e.ID, e.Reason)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StoreError represents a failure to persist a fetched artifact. The fetch
// itself succeeded but the bytes could not be committed to the content store.
type StoreError struct {
	ID  string // Identifier whose artifact could not be written
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to store artifact for %s: %v", e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
