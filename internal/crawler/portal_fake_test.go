// internal/crawler/portal_fake_test.go
package crawler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/docket-cli/internal/captcha"
	"github.com/xkilldash9x/docket-cli/internal/config"
)

const testSiteKey = "6LeSiteKey"

type mockSolver struct {
	mock.Mock
}

func (m *mockSolver) Solve(ctx context.Context, ch captcha.Challenge) (string, error) {
	args := m.Called(ctx, ch)
	return args.String(0), args.Error(1)
}

type mockResumer struct {
	mock.Mock
}

func (m *mockResumer) Suspend(ctx context.Context, reason string) error {
	args := m.Called(ctx, reason)
	return args.Error(0)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Crawl.IndexNumber = "123456/2020"
	cfg.Crawl.BatchSize = 2
	cfg.Crawl.SettleDelay = 0
	cfg.Crawl.DownloadDir = t.TempDir()
	cfg.Browser.WindowOpenTimeout = 20 * time.Millisecond
	cfg.Browser.WindowPollInterval = time.Millisecond
	cfg.Captcha.DetectTimeout = time.Millisecond
	return cfg
}

// fakeCase describes one search result of the fake portal.
type fakeCase struct {
	general   []string
	docs      int
	attorneys string
	captcha   bool
}

// withRecaptcha adds a reCAPTCHA widget frame after an unrelated frame.
func withRecaptcha(p *fakePage) {
	p.counts["iframe"] = 2
	p.attrs["iframe"] = []map[string]string{
		{"title": "advertisement", "src": "https://ads.example/frame"},
		{"title": " reCAPTCHA ", "src": "https://www.google.com/recaptcha/api2/anchor?ar=1&k=" + testSiteKey + "&hl=en"},
	}
}

// buildPortal turns the driver's first window into the search page of a fake portal.
func buildPortal(d *fakeDriver, cfg *config.Config, cases []fakeCase) {
	portal := cfg.Portal

	d.mu.Lock()
	search := d.pages[d.active]
	d.openByKind[search.kind]--
	search.kind = "search"
	d.openByKind["search"]++
	d.peakByKind["search"] = 1
	d.mu.Unlock()

	search.counts[portal.IndexInputSelector] = 1
	search.counts[portal.SearchButtonSelector] = 1
	search.onClick[portal.SearchButtonSelector] = func(ctx context.Context, n int) error {
		d.mu.Lock()
		search.counts[portal.CaseRowSelector] = len(cases)
		d.mu.Unlock()
		return nil
	}
	search.onClick[portal.CaseRowSelector] = func(ctx context.Context, n int) error {
		d.openWindow(casePage(d, cfg, cases[n], n))
		return nil
	}
}

func casePage(d *fakeDriver, cfg *config.Config, c fakeCase, n int) *fakePage {
	portal := cfg.Portal
	p := newFakePage("case_info", fmt.Sprintf("https://portal.example/case/%d", n))
	p.texts[portal.GeneralDataCellSelector] = c.general
	if c.attorneys != "" {
		p.html[portal.AttorneyTableSelector] = c.attorneys
	}
	if c.captcha {
		withRecaptcha(p)
	}
	if c.docs > 0 {
		p.counts[portal.DocsButtonSelector] = 1
		p.onClick[portal.DocsButtonSelector] = func(ctx context.Context, _ int) error {
			d.openWindow(docsPage(d, cfg, c.docs, n))
			return nil
		}
	}
	return p
}

func docsPage(d *fakeDriver, cfg *config.Config, docs, n int) *fakePage {
	portal := cfg.Portal
	p := newFakePage("case_docs", fmt.Sprintf("https://portal.example/case/%d/docs", n))
	p.counts[portal.DocLinkSelector] = docs
	labels := make([]string, docs)
	for i := range labels {
		labels[i] = fmt.Sprintf("doc-%d.pdf", i)
	}
	p.texts[portal.DocLinkSelector] = labels
	p.onClick[portal.DocLinkSelector] = func(ctx context.Context, i int) error {
		d.openWindow(newFakePage("doc", fmt.Sprintf("https://portal.example/doc/%d/%d", n, i)))
		return nil
	}
	return p
}

// docListPage builds a standalone document-list window for batch tests.
func docListPage(d *fakeDriver, docs int) *fakePage {
	p := newFakePage("case_docs", "https://portal.example/docs")
	p.counts["a.doc"] = docs
	p.onClick["a.doc"] = func(ctx context.Context, i int) error {
		d.openWindow(newFakePage("doc", fmt.Sprintf("https://portal.example/doc/%d", i)))
		return nil
	}
	return p
}

func docLinks(n int) []DocumentLink {
	links := make([]DocumentLink, n)
	for i := range links {
		links[i] = DocumentLink{Selector: "a.doc", Index: i, Label: fmt.Sprintf("doc-%d", i)}
	}
	return links
}
