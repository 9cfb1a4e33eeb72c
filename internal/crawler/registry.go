// internal/crawler/registry.go
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/browser"
	"github.com/xkilldash9x/docket-cli/internal/config"
)

// Trigger performs the page action that is expected to open a new window.
type Trigger func(ctx context.Context) error

// Registry names the long-lived windows of a crawl (anchors) and is the only
// component that changes the active window.
//
// Anchors never hold a closed handle: closing removes the entry before returning.
// The Registry is not safe for concurrent use; a crawl drives it from one goroutine.
type Registry struct {
	driver       browser.Driver
	logger       *zap.Logger
	openTimeout  time.Duration
	pollInterval time.Duration

	anchors map[string]browser.Handle
	closed  map[string]bool
}

// NewRegistry creates an empty registry over driver.
func NewRegistry(driver browser.Driver, cfg config.BrowserConfig, logger *zap.Logger) *Registry {
	openTimeout := cfg.WindowOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 15 * time.Second
	}
	poll := cfg.WindowPollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Registry{
		driver:       driver,
		logger:       logger.Named("registry"),
		openTimeout:  openTimeout,
		pollInterval: poll,
		anchors:      make(map[string]browser.Handle),
		closed:       make(map[string]bool),
	}
}

// Adopt registers the currently active window under name.
func (r *Registry) Adopt(ctx context.Context, name string) (browser.Handle, error) {
	h := r.driver.Active()
	if h == "" {
		handles, err := r.driver.WindowHandles(ctx)
		if err != nil {
			return "", &AnchorError{Name: name, Err: err}
		}
		if len(handles) == 0 {
			return "", &AnchorError{Name: name, Err: browser.ErrNoActiveWindow}
		}
		h = handles[0]
		if err := r.driver.SwitchTo(ctx, h); err != nil {
			return "", &AnchorError{Name: name, Err: err}
		}
	}
	r.anchors[name] = h
	delete(r.closed, name)
	r.logger.Debug("Anchor adopted.", zap.String("anchor", name), zap.String("handle", string(h)))
	return h, nil
}

// OpenAnchor runs trigger, waits for the window it opens, registers it as name and switches to it.
func (r *Registry) OpenAnchor(ctx context.Context, name string, trigger Trigger) (browser.Handle, error) {
	h, err := r.openWindow(ctx, trigger)
	if err != nil {
		return "", &AnchorError{Name: name, Err: err}
	}
	r.anchors[name] = h
	delete(r.closed, name)
	if err := r.driver.SwitchTo(ctx, h); err != nil {
		return "", &AnchorError{Name: name, Err: err}
	}
	r.logger.Debug("Anchor opened.", zap.String("anchor", name), zap.String("handle", string(h)))
	return h, nil
}

// SwitchTo makes the named anchor the active window.
func (r *Registry) SwitchTo(ctx context.Context, name string) error {
	h, err := r.lookup(name)
	if err != nil {
		return err
	}
	if err := r.driver.SwitchTo(ctx, h); err != nil {
		return &AnchorError{Name: name, Err: err}
	}
	return nil
}

// CloseAnchor closes the named anchor's window and forgets it. No window is active afterwards.
func (r *Registry) CloseAnchor(ctx context.Context, name string) error {
	h, err := r.lookup(name)
	if err != nil {
		return err
	}
	delete(r.anchors, name)
	r.closed[name] = true

	if err := r.driver.SwitchTo(ctx, h); err != nil {
		return &AnchorError{Name: name, Err: err}
	}
	if err := r.driver.CloseActive(ctx); err != nil {
		return &AnchorError{Name: name, Err: err}
	}
	r.logger.Debug("Anchor closed.", zap.String("anchor", name), zap.String("handle", string(h)))
	return nil
}

// OpenLeaf runs trigger and returns the window it opened without switching to it.
func (r *Registry) OpenLeaf(ctx context.Context, trigger Trigger) (browser.Handle, error) {
	return r.openWindow(ctx, trigger)
}

// CloseLeaf closes a window that is not an anchor. No window is active afterwards.
func (r *Registry) CloseLeaf(ctx context.Context, h browser.Handle) error {
	if name, ok := r.anchorName(h); ok {
		return &AnchorError{Name: name, Err: ErrAnchorHandle}
	}
	if err := r.driver.SwitchTo(ctx, h); err != nil {
		return fmt.Errorf("switch to leaf %s: %w", h, err)
	}
	if err := r.driver.CloseActive(ctx); err != nil {
		return fmt.Errorf("close leaf %s: %w", h, err)
	}
	return nil
}

// CloseAllExcept closes every open window that is not a current anchor, then
// activates the anchor restore. It returns how many windows were closed.
func (r *Registry) CloseAllExcept(ctx context.Context, restore string) (int, error) {
	if _, err := r.lookup(restore); err != nil {
		return 0, err
	}
	handles, err := r.driver.WindowHandles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list windows: %w", err)
	}

	closed := 0
	for _, h := range handles {
		if _, isAnchor := r.anchorName(h); isAnchor {
			continue
		}
		if err := r.CloseLeaf(ctx, h); err != nil {
			r.logger.Warn("Failed to close leftover window.", zap.String("handle", string(h)), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, r.SwitchTo(ctx, restore)
}

// Anchor returns the handle registered under name.
func (r *Registry) Anchor(name string) (browser.Handle, bool) {
	h, ok := r.anchors[name]
	return h, ok
}

// AnchorNames lists the registered anchors.
func (r *Registry) AnchorNames() []string {
	names := make([]string, 0, len(r.anchors))
	for name := range r.anchors {
		names = append(names, name)
	}
	return names
}

func (r *Registry) lookup(name string) (browser.Handle, error) {
	if h, ok := r.anchors[name]; ok {
		return h, nil
	}
	if r.closed[name] {
		return "", &AnchorError{Name: name, Err: ErrAnchorAlreadyClosed}
	}
	return "", &AnchorError{Name: name, Err: ErrUnknownAnchor}
}

func (r *Registry) anchorName(h browser.Handle) (string, bool) {
	for name, ah := range r.anchors {
		if ah == h {
			return name, true
		}
	}
	return "", false
}

// openWindow runs trigger and polls the window list until a handle that was not open
// before appears. When several appear, the most recently listed one wins.
func (r *Registry) openWindow(ctx context.Context, trigger Trigger) (browser.Handle, error) {
	before, err := r.driver.WindowHandles(ctx)
	if err != nil {
		return "", fmt.Errorf("list windows: %w", err)
	}
	seen := make(map[browser.Handle]bool, len(before))
	for _, h := range before {
		seen[h] = true
	}

	if err := trigger(ctx); err != nil {
		return "", fmt.Errorf("open window: %w", err)
	}

	deadline := time.Now().Add(r.openTimeout)
	for {
		after, err := r.driver.WindowHandles(ctx)
		if err != nil {
			return "", fmt.Errorf("list windows: %w", err)
		}
		for i := len(after) - 1; i >= 0; i-- {
			if !seen[after[i]] {
				return after[i], nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w within %s", ErrNoNewWindow, r.openTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}
