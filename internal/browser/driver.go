// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"time"
)

// Handle identifies a browser window (a CDP page target).
type Handle string

var (
	// ErrElementNotFound is returned by operations that need a concrete element
	// (click, type, read) when the selector matches nothing at the requested index.
	// Probing for optional elements goes through Count or WaitFor instead.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoActiveWindow is returned when a page operation runs after the active window was closed
	// and nothing has been switched to yet.
	ErrNoActiveWindow = errors.New("no active window")
	// ErrUnknownWindow is returned when switching to a handle the browser does not have.
	ErrUnknownWindow = errors.New("unknown window handle")
)

// Driver is the set of browser primitives the crawl state machine is written against.
// Every page-level method acts on the active window.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// Count returns how many elements currently match selector, without waiting.
	Count(ctx context.Context, selector string) (int, error)
	// WaitFor polls until selector matches at least one element or timeout elapses.
	// A timeout is reported as (false, nil).
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	Click(ctx context.Context, selector string, n int) error
	SendKeys(ctx context.Context, selector, text string) error
	Texts(ctx context.Context, selector string) ([]string, error)
	Attribute(ctx context.Context, selector string, n int, name string) (string, bool, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error

	// Active returns the active window, or "" after it was closed.
	Active() Handle
	// WindowHandles lists open windows in the order the driver first saw them.
	WindowHandles(ctx context.Context) ([]Handle, error)
	SwitchTo(ctx context.Context, h Handle) error
	// CloseActive closes the active window. No window is active afterwards.
	CloseActive(ctx context.Context) error

	SetDownloadDir(ctx context.Context, dir string) error
	// Quit terminates the browser and releases every resource held by the driver.
	Quit(ctx context.Context) error
}
