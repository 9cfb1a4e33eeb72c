// internal/crawler/errors.go
package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAnchor is returned when an anchor name was never registered.
	ErrUnknownAnchor = errors.New("unknown anchor")
	// ErrAnchorAlreadyClosed is returned when an anchor is used after it was closed.
	ErrAnchorAlreadyClosed = errors.New("anchor already closed")
	// ErrAnchorHandle is returned when an anchor window is passed where a leaf is expected.
	ErrAnchorHandle = errors.New("handle belongs to an anchor")
	// ErrNoNewWindow is returned when a trigger did not open a window before the timeout.
	ErrNoNewWindow = errors.New("no new window opened")
	// ErrCaptchaUnsolved is returned when a captcha was detected but no solution could be applied.
	ErrCaptchaUnsolved = errors.New("captcha could not be solved")
)

// AnchorError ties a registry failure to the anchor it concerns.
type AnchorError struct {
	Name string
	Err  error
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("anchor %q: %v", e.Name, e.Err)
}

func (e *AnchorError) Unwrap() error {
	return e.Err
}
