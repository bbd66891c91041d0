package github

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

// Error kinds.
const (
	// KindTransient covers network failures, timeouts, 5xx and rate limits.
	KindTransient ErrorKind = "transient"
	// KindNotFound means the handle does not resolve to a GitHub user.
	KindNotFound ErrorKind = "not_found"
	// KindProtocol covers malformed bodies, GraphQL errors and rejected requests.
	KindProtocol ErrorKind = "protocol"
)

// FetchError reports why metrics for a handle could not be fetched.
type FetchError struct {
	Kind   ErrorKind
	Handle string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("github %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("github %s for %q: %v", e.Kind, e.Handle, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed.
func (e *FetchError) Temporary() bool { return e.Kind == KindTransient }

// IsKind reports whether err is a FetchError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

func fetchErr(kind ErrorKind, handle string, err error) *FetchError {
	return &FetchError{Kind: kind, Handle: handle, Err: err}
}

func withHandle(err error, handle string) error {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Handle == "" {
		return fetchErr(fe.Kind, handle, fe.Err)
	}
	return err
}
