package tabs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTabNotFound indicates a requested tab does not exist.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNotDraft indicates the operation needs a draft tab.
	ErrNotDraft = errors.New("tab is not a draft tab")
	// ErrTabLimit indicates the draft tab cap was reached and eviction is off.
	ErrTabLimit = errors.New("draft tab limit reached")
	// ErrSubmitInFlight indicates a submission for the tab has not finished yet.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrNoSubmitter indicates the manager was built without a submitter.
	ErrNoSubmitter = errors.New("submitter not configured")
)

// Field names a user-editable input of a draft pane.
type Field string

const (
	FieldAuthor  Field = "author"
	FieldContent Field = "content"
)

// ValidationError reports every required field that was left blank.
type ValidationError struct {
	Missing []Field
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, f := range e.Missing {
		names = append(names, string(f))
	}
	return "missing required fields: " + strings.Join(names, ", ")
}

// Has reports whether f is among the missing fields.
func (e *ValidationError) Has(f Field) bool {
	for _, m := range e.Missing {
		if m == f {
			return true
		}
	}
	return false
}

// RemoteRejectedError means the endpoint answered but did not report success.
type RemoteRejectedError struct {
	Status  string
	Message string
}

func (e *RemoteRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submission rejected (status %q)", e.Status)
	}
	return fmt.Sprintf("submission rejected (status %q): %s", e.Status, e.Message)
}

// TransportError means no status was obtained from the endpoint.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "submission transport failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Outcome names the class of a SubmitDraft result for logs and events.
func Outcome(err error) string {
	var (
		verr *ValidationError
		rerr *RemoteRejectedError
		terr *TransportError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &rerr):
		return "rejected"
	case errors.As(err, &terr):
		return "transport"
	case errors.Is(err, ErrSubmitInFlight):
		return "busy"
	default:
		return "error"
	}
}
