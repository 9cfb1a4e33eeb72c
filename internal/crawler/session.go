// internal/crawler/session.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/browser"
	"github.com/xkilldash9x/docket-cli/internal/captcha"
	"github.com/xkilldash9x/docket-cli/internal/config"
	"github.com/xkilldash9x/docket-cli/internal/extract"
	"github.com/xkilldash9x/docket-cli/internal/operator"
	"github.com/xkilldash9x/docket-cli/internal/report"
)

const teardownTimeout = 30 * time.Second

var pathSeparators = strings.NewReplacer("/", "_", `\`, "_")

// CaseDownloadDir is where a case's documents are saved: <root>/<run id>/<case number>,
// with path separators in the case number replaced. seq names the directory when the
// case number is unknown.
func CaseDownloadDir(root, runID, caseNumber string, seq int) string {
	name := pathSeparators.Replace(strings.TrimSpace(caseNumber))
	if name == "" || name == "." || name == ".." {
		name = fmt.Sprintf("unknown-%d", seq)
	}
	return filepath.Join(root, runID, name)
}

// Option customizes a Session.
type Option func(*Session)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(State)) Option {
	return func(s *Session) { s.onTransition = fn }
}

// Session drives one crawl: search, then every case in result order, then teardown.
type Session struct {
	cfg    *config.Config
	runID  string
	driver browser.Driver
	logger *zap.Logger

	registry *Registry
	gate     *Gate
	closer   *BatchCloser

	state        State
	onTransition func(State)
}

// NewSession wires the registry, gate and batch closer around driver.
// The session owns the driver and quits it when Run returns.
func NewSession(cfg *config.Config, runID string, driver browser.Driver, solver captcha.Solver, resumer operator.Resumer, logger *zap.Logger, opts ...Option) *Session {
	log := logger.Named("crawler").With(zap.String("run_id", runID))
	s := &Session{
		cfg:      cfg,
		runID:    runID,
		driver:   driver,
		logger:   log,
		registry: NewRegistry(driver, cfg.Browser, log),
		gate:     NewGate(driver, solver, resumer, cfg.Captcha, cfg.Portal, log),
		closer:   NewBatchCloser(driver, cfg.Crawl.SettleDelay, log),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current phase.
func (s *Session) State() State {
	return s.state
}

// Run crawls every case listed for the configured index number and returns the finalized report.
// Teardown runs on every exit path.
func (s *Session) Run(ctx context.Context) (*report.CrawlReport, error) {
	defer s.teardown(ctx)

	rep := report.New(s.cfg.Crawl.IndexNumber)
	if err := s.submitSearch(ctx); err != nil {
		return nil, err
	}

	s.transition(StateCaseListed)
	rows, err := s.driver.Count(ctx, s.cfg.Portal.CaseRowSelector)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	s.logger.Info("Cases found.", zap.Int("cases", rows))

	for i := 0; i < rows; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.crawlCase(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("case %d of %d: %w", i+1, rows, err)
		}
		rep.Append(rec)
	}

	if err := rep.Finalize(rows); err != nil {
		return nil, err
	}
	s.transition(StateFinished)
	s.logger.Info("Execution finished.", zap.Int("cases", rep.Cases), zap.Int("docs", rep.TotalDocs()))
	return rep, nil
}

func (s *Session) submitSearch(ctx context.Context) error {
	s.transition(StateSearchSubmitted)
	portal := s.cfg.Portal

	if _, err := s.registry.Adopt(ctx, AnchorCaseSearch); err != nil {
		return err
	}
	s.logger.Info("Accessing site.", zap.String("url", portal.SearchURL))
	if err := s.driver.Navigate(ctx, portal.SearchURL); err != nil {
		return err
	}
	if err := s.checkGate(ctx); err != nil {
		return fmt.Errorf("search page: %w", err)
	}
	if err := s.driver.SendKeys(ctx, portal.IndexInputSelector, s.cfg.Crawl.IndexNumber); err != nil {
		return fmt.Errorf("enter index number: %w", err)
	}
	if err := s.driver.Click(ctx, portal.SearchButtonSelector, 0); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	if err := s.checkGate(ctx); err != nil {
		return fmt.Errorf("search results: %w", err)
	}
	return nil
}

// crawlCase opens result row i, extracts its data and documents, and returns to the search window.
func (s *Session) crawlCase(ctx context.Context, i int) (report.CaseRecord, error) {
	portal := s.cfg.Portal
	rec := report.CaseRecord{GeneralData: extract.ExtractGeneralData(nil)}

	if err := s.registry.SwitchTo(ctx, AnchorCaseSearch); err != nil {
		return rec, err
	}
	s.transition(StateCaseDetailOpen)
	_, err := s.registry.OpenAnchor(ctx, AnchorCaseInfo, func(ctx context.Context) error {
		return s.driver.Click(ctx, portal.CaseRowSelector, i)
	})
	if err != nil {
		return rec, err
	}

	blocked, err := s.gateCase(ctx)
	if err != nil {
		return rec, err
	}
	if !blocked {
		if err := s.extractCase(ctx, &rec); err != nil {
			return rec, err
		}
		log := s.logger.With(zap.String("case_number", rec.CaseNumber))
		docs, err := s.downloadDocuments(ctx, rec.CaseNumber, i+1, log)
		if err != nil {
			return rec, err
		}
		rec.Docs = docs
	}

	s.transition(StateCaseClosed)
	if _, ok := s.registry.Anchor(AnchorCaseDocs); ok {
		if err := s.registry.CloseAnchor(ctx, AnchorCaseDocs); err != nil {
			return rec, err
		}
	}
	if err := s.registry.CloseAnchor(ctx, AnchorCaseInfo); err != nil {
		return rec, err
	}
	if err := s.registry.SwitchTo(ctx, AnchorCaseSearch); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Session) extractCase(ctx context.Context, rec *report.CaseRecord) error {
	cells, err := s.driver.Texts(ctx, s.cfg.Portal.GeneralDataCellSelector)
	if err != nil {
		return fmt.Errorf("read case details: %w", err)
	}
	rec.GeneralData = extract.ExtractGeneralData(cells)
	rec.CaseNumber = rec.GeneralData[extract.FieldIndexNumber]
	if rec.CaseNumber == "" {
		s.logger.Warn("Case detail has no index number.")
	}

	if !s.cfg.Crawl.IncludeAttorneys {
		return nil
	}
	tableHTML, err := s.driver.OuterHTML(ctx, s.cfg.Portal.AttorneyTableSelector)
	if err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			s.logger.Info("No attorney table found.", zap.String("case_number", rec.CaseNumber))
			return nil
		}
		return fmt.Errorf("read attorney table: %w", err)
	}
	attorneys, err := extract.ParseAttorneys(tableHTML)
	if err != nil {
		s.logger.Warn("Failed to parse attorney table.", zap.String("case_number", rec.CaseNumber), zap.Error(err))
		return nil
	}
	rec.Attorneys = attorneys
	return nil
}

// downloadDocuments opens the document list when the case has one and downloads its documents.
func (s *Session) downloadDocuments(ctx context.Context, caseNumber string, seq int, log *zap.Logger) (int, error) {
	portal := s.cfg.Portal

	present, err := s.driver.Count(ctx, portal.DocsButtonSelector)
	if err != nil {
		return 0, fmt.Errorf("check documents button: %w", err)
	}
	if present == 0 {
		s.transition(StateDocsAbsent)
		log.Info("No docs found.")
		return 0, nil
	}

	_, err = s.registry.OpenAnchor(ctx, AnchorCaseDocs, func(ctx context.Context) error {
		return s.driver.Click(ctx, portal.DocsButtonSelector, 0)
	})
	if err != nil {
		return 0, err
	}
	s.transition(StateDocListOpen)

	blocked, err := s.gateCase(ctx)
	if err != nil || blocked {
		return 0, err
	}

	count, err := s.driver.Count(ctx, portal.DocLinkSelector)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	if limit := s.cfg.Crawl.DocLimit(); limit > 0 && count > limit {
		count = limit
	}
	log.Info("Documents found for this case.", zap.Int("docs", count))

	labels, err := s.driver.Texts(ctx, portal.DocLinkSelector)
	if err != nil {
		log.Debug("Could not read document labels.", zap.Error(err))
	}
	links := make([]DocumentLink, count)
	for i := range links {
		links[i] = DocumentLink{Selector: portal.DocLinkSelector, Index: i}
		if i < len(labels) {
			links[i].Label = labels[i]
		}
	}

	dir := CaseDownloadDir(s.cfg.Crawl.DownloadDir, s.runID, caseNumber, seq)
	if err := s.driver.SetDownloadDir(ctx, dir); err != nil {
		return 0, err
	}

	opened, err := s.closer.DownloadAll(ctx, links, s.cfg.Crawl.BatchSize, s.registry, AnchorCaseDocs)
	if err != nil {
		return opened, err
	}
	s.transition(StateDocsDownloaded)
	return opened, nil
}

// checkGate resolves a captcha on the active window and submits the captcha form after a solve.
func (s *Session) checkGate(ctx context.Context) error {
	outcome, err := s.gate.Resolve(ctx)
	if err != nil {
		return err
	}
	if outcome != Solved || s.cfg.Portal.CaptchaSubmitSelector == "" {
		return nil
	}
	n, err := s.driver.Count(ctx, s.cfg.Portal.CaptchaSubmitSelector)
	if err != nil {
		return fmt.Errorf("check captcha submit: %w", err)
	}
	if n > 0 {
		return s.driver.Click(ctx, s.cfg.Portal.CaptchaSubmitSelector, 0)
	}
	return nil
}

// gateCase runs the gate inside a case. An unsolved captcha is reported as blocked
// instead of an error so that only this case's document phase is abandoned.
func (s *Session) gateCase(ctx context.Context) (bool, error) {
	err := s.checkGate(ctx)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrCaptchaUnsolved) && ctx.Err() == nil {
		s.logger.Warn("Captcha unsolved, skipping the rest of this case.", zap.Error(err))
		return true, nil
	}
	return false, err
}

func (s *Session) transition(to State) {
	s.logger.Debug("State transition.", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
	if s.onTransition != nil {
		s.onTransition(to)
	}
}

// teardown closes every window the crawl opened and quits the browser, even after cancellation.
func (s *Session) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(browser.Detach(ctx), teardownTimeout)
	defer cancel()
	s.logger.Debug("Tearing down.", zap.Strings("anchors", s.registry.AnchorNames()))

	if _, ok := s.registry.Anchor(AnchorCaseSearch); ok {
		if _, err := s.registry.CloseAllExcept(ctx, AnchorCaseSearch); err != nil {
			s.logger.Warn("Failed to sweep leftover windows.", zap.Error(err))
		}
	}
	for _, name := range []string{AnchorCaseDocs, AnchorCaseInfo, AnchorCaseSearch} {
		if _, ok := s.registry.Anchor(name); !ok {
			continue
		}
		if err := s.registry.CloseAnchor(ctx, name); err != nil {
			s.logger.Warn("Failed to close anchor window.", zap.String("anchor", name), zap.Error(err))
		}
	}
	if err := s.driver.Quit(ctx); err != nil {
		s.logger.Warn("Failed to quit browser.", zap.Error(err))
	}
}
