package osticket

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuth means the control panel refused the credentials, it aborts the
	// whole command.
	ErrAuth       = errors.New("authentication failed")
	ErrNavigation = errors.New("navigation failed")
	// ErrSessionExpired is a navigation failure caused by being sent back to
	// the login page in the middle of a run.
	ErrSessionExpired     = fmt.Errorf("%w: session expired", ErrNavigation)
	ErrTimeout            = errors.New("timed out")
	ErrParse              = errors.New("unexpected markup")
	ErrNotFound           = errors.New("ticket not found")
	ErrTransition         = errors.New("status transition failed")
	ErrAttachmentDownload = errors.New("attachment download failed")
	ErrRender             = errors.New("receipt rendering failed")
	ErrClosed             = errors.New("session closed")
)

// ParseError is a mismatch between the markup a view adapter expects and what
// the page contains.
type ParseError struct {
	View string
	// RowID is the raw identifier of the offending row or ticket, if known.
	RowID  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.RowID != "" {
		return fmt.Sprintf("parse %s view (row %s): %s", e.View, e.RowID, e.Reason)
	}
	return fmt.Sprintf("parse %s view: %s", e.View, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// AttachmentError reports one attachment that could not be stored.
type AttachmentError struct {
	Filename string
	Url      string
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Filename, e.Err)
}

func (e *AttachmentError) Is(target error) bool {
	return target == ErrAttachmentDownload
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// TransitionError means the ticket did not end up in a resolved state after
// the reply was submitted.
type TransitionError struct {
	TicketID string
	// Status is the status read back after submission.
	Status string
	// Message is the error banner the control panel displayed, if any.
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ticket %s: reply rejected: %s", e.TicketID, e.Message)
	}
	return fmt.Sprintf("ticket %s: status is %q after resolving", e.TicketID, e.Status)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransition
}

// wrapContext attaches ErrTimeout to errors caused by an expired deadline so
// timeouts stay distinguishable from explicit failures.
func wrapContext(kind error, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", kind, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind names the failure class of err for reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrTransition):
		return "transition"
	case errors.Is(err, ErrAttachmentDownload):
		return "attachment_download"
	case errors.Is(err, ErrRender):
		return "render"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
