// internal/crawler/fake_driver_test.go
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/docket-cli/internal/browser"
)

// fakePage is the content of one fake browser window.
type fakePage struct {
	kind    string
	url     string
	counts  map[string]int
	texts   map[string][]string
	attrs   map[string][]map[string]string
	html    map[string]string
	onClick map[string]func(ctx context.Context, n int) error
	// injectOK is returned by scripts evaluated on this page.
	injectOK bool
}

func newFakePage(kind, url string) *fakePage {
	return &fakePage{
		kind:     kind,
		url:      url,
		counts:   map[string]int{},
		texts:    map[string][]string{},
		attrs:    map[string][]map[string]string{},
		html:     map[string]string{},
		onClick:  map[string]func(ctx context.Context, n int) error{},
		injectOK: true,
	}
}

// fakeDriver is an in-memory browser.Driver. Windows are pages keyed by synthetic handles.
type fakeDriver struct {
	mu sync.Mutex

	pages  map[browser.Handle]*fakePage
	order  []browser.Handle
	active browser.Handle
	seq    int

	openByKind   map[string]int
	peakByKind   map[string]int
	closedKinds  []string
	downloadDirs []string
	typed        map[string]string
	evaluated    []string
	quit         bool

	// beforeOpen is called before a click opens a window of the given kind.
	beforeOpen func(kind string)
	// onCount is called before every Count with the selector being counted.
	onCount func(selector string)
	// vanish lists URLs whose window closes before it can be listed, like a link
	// that turns straight into a download.
	vanish map[string]bool
	// delayOpen makes a window appear only after this many handle listings.
	delayOpen int
	pending   []*fakePage
}

var _ browser.Driver = (*fakeDriver)(nil)

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{
		pages:      map[browser.Handle]*fakePage{},
		openByKind: map[string]int{},
		peakByKind: map[string]int{},
		typed:      map[string]string{},
	}
	root := d.addWindowLocked(newFakePage("blank", "about:blank"))
	d.active = root
	return d
}

func (d *fakeDriver) addWindowLocked(p *fakePage) browser.Handle {
	d.seq++
	h := browser.Handle(fmt.Sprintf("W%d", d.seq))
	d.pages[h] = p
	d.order = append(d.order, h)
	d.openByKind[p.kind]++
	if d.openByKind[p.kind] > d.peakByKind[p.kind] {
		d.peakByKind[p.kind] = d.openByKind[p.kind]
	}
	return h
}

// openWindow simulates a page action opening a new window.
func (d *fakeDriver) openWindow(p *fakePage) {
	if d.beforeOpen != nil {
		d.beforeOpen(p.kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vanish[p.url] {
		return
	}
	if d.delayOpen > 0 {
		d.pending = append(d.pending, p)
		return
	}
	d.addWindowLocked(p)
}

func (d *fakeDriver) activePage() (*fakePage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[d.active]
	if !ok {
		return nil, browser.ErrNoActiveWindow
	}
	return p, nil
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.activePage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	p.url = url
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	p, err := d.activePage()
	if err != nil {
		return "", err
	}
	return p.url, nil
}

func (d *fakeDriver) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.onCount != nil {
		d.onCount(selector)
	}
	p, err := d.activePage()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.counts[selector], nil
}

func (d *fakeDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	n, err := d.Count(ctx, selector)
	return n > 0, err
}

func (d *fakeDriver) Click(ctx context.Context, selector string, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.activePage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	count := p.counts[selector]
	fn := p.onClick[selector]
	d.mu.Unlock()
	if n < 0 || n >= count {
		return fmt.Errorf("%w: %s[%d]", browser.ErrElementNotFound, selector, n)
	}
	if fn != nil {
		return fn(ctx, n)
	}
	return nil
}

func (d *fakeDriver) SendKeys(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.activePage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.counts[selector] == 0 {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) Texts(ctx context.Context, selector string) ([]string, error) {
	p, err := d.activePage()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), p.texts[selector]...), nil
}

func (d *fakeDriver) Attribute(ctx context.Context, selector string, n int, name string) (string, bool, error) {
	p, err := d.activePage()
	if err != nil {
		return "", false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := p.attrs[selector]
	if n < 0 || n >= len(list) {
		return "", false, fmt.Errorf("%w: %s[%d]", browser.ErrElementNotFound, selector, n)
	}
	v, ok := list[n][name]
	return v, ok, nil
}

func (d *fakeDriver) OuterHTML(ctx context.Context, selector string) (string, error) {
	p, err := d.activePage()
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := p.html[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return h, nil
}

func (d *fakeDriver) Evaluate(ctx context.Context, script string, res interface{}) error {
	p, err := d.activePage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluated = append(d.evaluated, script)
	if b, ok := res.(*bool); ok {
		*b = p.injectOK
	}
	return nil
}

func (d *fakeDriver) Active() browser.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *fakeDriver) WindowHandles(ctx context.Context) ([]browser.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		d.delayOpen--
		if d.delayOpen <= 0 {
			for _, p := range d.pending {
				d.addWindowLocked(p)
			}
			d.pending = nil
		}
	}
	return append([]browser.Handle(nil), d.order...), nil
}

func (d *fakeDriver) SwitchTo(ctx context.Context, h browser.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pages[h]; !ok {
		return fmt.Errorf("%w: %s", browser.ErrUnknownWindow, h)
	}
	d.active = h
	return nil
}

func (d *fakeDriver) CloseActive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[d.active]
	if !ok {
		return browser.ErrNoActiveWindow
	}
	delete(d.pages, d.active)
	for i, h := range d.order {
		if h == d.active {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.openByKind[p.kind]--
	d.closedKinds = append(d.closedKinds, p.kind)
	d.active = ""
	return nil
}

func (d *fakeDriver) SetDownloadDir(ctx context.Context, dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.downloadDirs = append(d.downloadDirs, dir)
	return nil
}

func (d *fakeDriver) Quit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quit = true
	return nil
}

func (d *fakeDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *fakeDriver) open(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openByKind[kind]
}

func (d *fakeDriver) closed(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, k := range d.closedKinds {
		if k == kind {
			n++
		}
	}
	return n
}

func (d *fakeDriver) peak(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakByKind[kind]
}

func (d *fakeDriver) activeKind() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pages[d.active]; ok {
		return p.kind
	}
	return ""
}
