// internal/browser/cdp_driver.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/config"
)

// tab is a chromedp context attached to one page target.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	// root marks the tab created with the browser; canceling it would shut the browser down.
	root bool
}

// CDPDriver drives a local Chrome instance over the DevTools protocol.
// Windows are CDP page targets; the handle is the target ID.
type CDPDriver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc
	browserCtx  context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	tabs   map[Handle]*tab
	order  []Handle
	active Handle
	closed bool
}

var _ Driver = (*CDPDriver)(nil)

// NewCDPDriver launches the browser and attaches to its first window, which becomes active.
func NewCDPDriver(ctx context.Context, cfg config.BrowserConfig, proxyAddr string, logger *zap.Logger) (*CDPDriver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg, proxyAddr)...)

	browserCtx, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	startCtx, startCancel := CombineContext(browserCtx, ctx)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("browser started without a page target")
	}
	root := Handle(c.Target.TargetID)

	d := &CDPDriver{
		logger:      logger.Named("browser"),
		cfg:         cfg,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		rootCancel:  rootCancel,
		tabs:        map[Handle]*tab{root: {ctx: browserCtx, cancel: rootCancel, root: true}},
		order:       []Handle{root},
		active:      root,
	}
	d.logger.Info("Browser started.", zap.String("root_window", string(root)), zap.Bool("headless", cfg.Headless))
	return d, nil
}

// browserExecutor returns a context whose CDP commands go to the browser endpoint rather than a page.
func (d *CDPDriver) browserExecutor(ctx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := CombineContext(d.browserCtx, ctx)
	c := chromedp.FromContext(d.browserCtx)
	return cdp.WithExecutor(combined, c.Browser), cancel
}

// run executes actions against the active window, bounded by ctx and the configured action timeout.
func (d *CDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	t, ok := d.tabs[d.active]
	d.mu.Unlock()
	if !ok {
		return ErrNoActiveWindow
	}

	opCtx := ctx
	if d.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, d.cfg.ActionTimeout)
		defer cancel()
	}
	runCtx, cancel := CombineContext(t.ctx, opCtx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (d *CDPDriver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := d.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (d *CDPDriver) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return n, nil
}

func (d *CDPDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	interval := d.cfg.WindowPollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for {
		n, err := d.Count(ctx, selector)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// nodes returns the elements matching selector without waiting for them to appear.
func (d *CDPDriver) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return nodes, nil
}

func (d *CDPDriver) Click(ctx context.Context, selector string, n int) error {
	nodes, err := d.nodes(ctx, selector)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(nodes) {
		return fmt.Errorf("%w: %q[%d] (matched %d)", ErrElementNotFound, selector, n, len(nodes))
	}
	// A real mouse event is used so that target=_blank links and window.open calls are not
	// treated as unrequested popups.
	return d.run(ctx, chromedp.MouseClickNode(nodes[n]))
}

func (d *CDPDriver) SendKeys(ctx context.Context, selector, text string) error {
	count, err := d.Count(ctx, selector)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	return d.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (d *CDPDriver) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s), e => (e.innerText || e.textContent || "").trim())`, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &texts)); err != nil {
		return nil, fmt.Errorf("read texts %q: %w", selector, err)
	}
	return texts, nil
}

func (d *CDPDriver) Attribute(ctx context.Context, selector string, n int, name string) (string, bool, error) {
	var res struct {
		Found bool   `json:"found"`
		Has   bool   `json:"has"`
		Value string `json:"value"`
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelectorAll(%s)[%d];
		if (!el) return {found: false, has: false, value: ""};
		return {found: true, has: el.hasAttribute(%s), value: el.getAttribute(%s) || ""};
	})()`, jsString(selector), n, jsString(name), jsString(name))
	if err := d.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return "", false, fmt.Errorf("read attribute %s of %q: %w", name, selector, err)
	}
	if !res.Found {
		return "", false, fmt.Errorf("%w: %q[%d]", ErrElementNotFound, selector, n)
	}
	return res.Value, res.Has, nil
}

func (d *CDPDriver) OuterHTML(ctx context.Context, selector string) (string, error) {
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.outerHTML : null; })()`, jsString(selector))
	var raw *string
	if err := d.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return "", fmt.Errorf("read html %q: %w", selector, err)
	}
	if raw == nil {
		return "", fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	return *raw, nil
}

func (d *CDPDriver) Evaluate(ctx context.Context, script string, res interface{}) error {
	return d.run(ctx, chromedp.Evaluate(script, res))
}

func (d *CDPDriver) Active() Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *CDPDriver) WindowHandles(ctx context.Context) ([]Handle, error) {
	execCtx, cancel := d.browserExecutor(ctx)
	defer cancel()
	infos, err := target.GetTargets().Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	present := make(map[Handle]bool, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			present[Handle(info.TargetID)] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	known := make(map[Handle]bool, len(d.order))
	kept := d.order[:0]
	for _, h := range d.order {
		if present[h] {
			kept = append(kept, h)
			known[h] = true
		}
	}
	d.order = kept
	// CDP does not report creation order; targets are appended in the order they are first seen.
	for _, info := range infos {
		h := Handle(info.TargetID)
		if present[h] && !known[h] {
			d.order = append(d.order, h)
			known[h] = true
		}
	}
	return append([]Handle(nil), d.order...), nil
}

func (d *CDPDriver) SwitchTo(ctx context.Context, h Handle) error {
	d.mu.Lock()
	t, ok := d.tabs[h]
	d.mu.Unlock()

	if !ok {
		handles, err := d.WindowHandles(ctx)
		if err != nil {
			return err
		}
		if !containsHandle(handles, h) {
			return fmt.Errorf("%w: %s", ErrUnknownWindow, h)
		}
		tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(target.ID(h)))
		attachCtx, attachCancel := CombineContext(tabCtx, ctx)
		err = chromedp.Run(attachCtx)
		attachCancel()
		if err != nil {
			cancel()
			return fmt.Errorf("attach to window %s: %w", h, err)
		}
		t = &tab{ctx: tabCtx, cancel: cancel}
		d.mu.Lock()
		d.tabs[h] = t
		d.mu.Unlock()
	}

	execCtx, cancel := d.browserExecutor(ctx)
	defer cancel()
	if err := target.ActivateTarget(target.ID(h)).Do(execCtx); err != nil {
		return fmt.Errorf("activate window %s: %w", h, err)
	}

	d.mu.Lock()
	d.active = h
	d.mu.Unlock()
	return nil
}

func (d *CDPDriver) CloseActive(ctx context.Context) error {
	d.mu.Lock()
	h := d.active
	t, ok := d.tabs[h]
	d.mu.Unlock()
	if !ok {
		return ErrNoActiveWindow
	}

	execCtx, cancel := d.browserExecutor(ctx)
	defer cancel()
	if err := target.CloseTarget(target.ID(h)).Do(execCtx); err != nil {
		return fmt.Errorf("close window %s: %w", h, err)
	}

	d.mu.Lock()
	delete(d.tabs, h)
	for i, o := range d.order {
		if o == h {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.active = ""
	d.mu.Unlock()

	if !t.root {
		t.cancel()
	}
	return nil
}

func (d *CDPDriver) SetDownloadDir(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir %s: %w", dir, err)
	}
	execCtx, cancel := d.browserExecutor(ctx)
	defer cancel()
	err := cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir).
		WithEventsEnabled(true).
		Do(execCtx)
	if err != nil {
		return fmt.Errorf("set download dir %s: %w", dir, err)
	}
	d.logger.Debug("Download directory set.", zap.String("dir", dir))
	return nil
}

func (d *CDPDriver) Quit(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	tabs := d.tabs
	d.tabs = map[Handle]*tab{}
	d.active = ""
	d.mu.Unlock()

	for _, t := range tabs {
		if !t.root {
			t.cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		// Canceling the root context closes the browser gracefully.
		d.rootCancel()
		d.allocCancel()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Browser closed.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser shutdown: %w", ctx.Err())
	}
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func containsHandle(handles []Handle, h Handle) bool {
	for _, x := range handles {
		if x == h {
			return true
		}
	}
	return false
}
