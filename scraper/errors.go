package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrAuth indicates an authentication attempt failed.
type ErrAuth struct {
	Location string
	Err      error
}

func (e ErrAuth) Error() string {
	if e.Location != "" {
		return fmt.Errorf("auth (at %s): %w", e.Location, e.Err).Error()
	}
	return fmt.Errorf("auth: %w", e.Err).Error()
}

func (e ErrAuth) Unwrap() error {
	return e.Err
}

// ErrSessionExpired indicates the data page redirected back to the login page.
type ErrSessionExpired struct {
	Location string
}

func (e ErrSessionExpired) Error() string {
	return fmt.Sprintf("session_expired: landed on %s", e.Location)
}

// ErrExtractionTimeout indicates a bounded wait on the data page was exceeded.
type ErrExtractionTimeout struct {
	Selector string
	Err      error
}

func (e ErrExtractionTimeout) Error() string {
	return fmt.Errorf("extraction_timeout (%s): %w", e.Selector, e.Err).Error()
}

func (e ErrExtractionTimeout) Unwrap() error {
	return e.Err
}

// IsSessionExpired reports whether err is, or wraps, a session expiry.
func IsSessionExpired(err error) bool {
	var expired ErrSessionExpired
	return errors.As(err, &expired)
}

// ErrorLabel maps an error onto a low-cardinality label for logs and metrics.
func ErrorLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var auth ErrAuth
	if errors.As(err, &auth) {
		return "auth"
	}
	var expired ErrSessionExpired
	if errors.As(err, &expired) {
		return "session_expired"
	}
	var timeout ErrExtractionTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	var labeled interface{ ErrorLabel() string }
	if errors.As(err, &labeled) {
		return labeled.ErrorLabel()
	}
	return "other"
}
