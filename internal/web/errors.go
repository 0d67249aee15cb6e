// File: internal/web/errors.go
package web

import (
	"context"
	"errors"
	"strings"
)

// Sentinel error kinds. Target and timeout errors are contained at step
// scope; bootstrap errors fail the whole run.
var (
	ErrBootstrap      = errors.New("bootstrap failure")
	ErrTargetNotFound = errors.New("target not found")
	ErrStepTimeout    = errors.New("interactive timeout")
	ErrRunTimeout     = errors.New("run timeout")
	ErrIframeFocus    = errors.New("stuck iframe focus")
	ErrPageClosed     = errors.New("page closed")
)

// isTimeoutError folds context deadlines and chromedp timeout text into one
// predicate.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStepTimeout) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}

// isPageClosedError detects a dead target underneath us.
func isPageClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPageClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	low := strings.ToLower(err.Error())
	for _, hint := range []string{"target closed", "session closed", "websocket: close", "connection refused", "no such target"} {
		if strings.Contains(low, hint) {
			return true
		}
	}
	return false
}
