// internal/crawler/gate.go
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/browser"
	"github.com/xkilldash9x/docket-cli/internal/captcha"
	"github.com/xkilldash9x/docket-cli/internal/config"
	"github.com/xkilldash9x/docket-cli/internal/operator"
)

// Outcome is the result of one gate check.
type Outcome int

const (
	NotPresent Outcome = iota
	Solved
	ManualInterventionRequired
)

func (o Outcome) String() string {
	switch o {
	case NotPresent:
		return "not_present"
	case Solved:
		return "solved"
	case ManualInterventionRequired:
		return "manual_intervention_required"
	default:
		return "unknown"
	}
}

const (
	recaptchaFrameTitle = "recaptcha"
	responseFieldID     = "g-recaptcha-response"

	challengePollInterval = 250 * time.Millisecond
)

// Gate detects reCAPTCHA interstitials on the active window and clears them,
// through the solver when possible and the operator otherwise.
type Gate struct {
	driver  browser.Driver
	solver  captcha.Solver
	resumer operator.Resumer
	cfg     config.CaptchaConfig
	portal  config.PortalConfig
	logger  *zap.Logger

	pollInterval time.Duration
}

// NewGate builds a gate. A nil solver or a disabled captcha config falls back to
// detecting the portal's captcha form and waiting for the operator.
func NewGate(driver browser.Driver, solver captcha.Solver, resumer operator.Resumer, cfg config.CaptchaConfig, portal config.PortalConfig, logger *zap.Logger) *Gate {
	return &Gate{
		driver:  driver,
		solver:  solver,
		resumer: resumer,
		cfg:     cfg,
		portal:  portal,
		logger:  logger.Named("gate"),

		pollInterval: challengePollInterval,
	}
}

// Resolve checks the active window once. It is idempotent when no challenge is present.
// Frames are rescanned until the detect timeout, so an unrelated frame loading first
// does not hide a challenge frame that appears after it.
func (g *Gate) Resolve(ctx context.Context) (Outcome, error) {
	if !g.cfg.Enabled || g.solver == nil {
		return g.resolveManually(ctx)
	}

	deadline := time.Now().Add(g.cfg.DetectTimeout)
	found, err := g.driver.WaitFor(ctx, "iframe", g.cfg.DetectTimeout)
	if err != nil {
		return NotPresent, fmt.Errorf("wait for frames: %w", err)
	}
	if !found {
		g.logger.Debug("Captcha not found.")
		return NotPresent, nil
	}

	src, ok, err := g.awaitChallengeFrame(ctx, deadline)
	if err != nil {
		return NotPresent, err
	}
	if !ok {
		g.logger.Debug("Captcha not found.")
		return NotPresent, nil
	}

	siteKey, err := captcha.SiteKeyFromFrameSrc(src)
	if err != nil {
		return NotPresent, fmt.Errorf("%w: %v", ErrCaptchaUnsolved, err)
	}
	pageURL, err := g.driver.CurrentURL(ctx)
	if err != nil {
		return NotPresent, fmt.Errorf("read page url: %w", err)
	}

	g.logger.Info("Captcha detected, submitting to solver.", zap.String("page_url", pageURL))
	token, err := g.solver.Solve(ctx, captcha.Challenge{SiteKey: siteKey, PageURL: pageURL})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return NotPresent, ctx.Err()
	case errors.Is(err, captcha.ErrAccessDenied):
		g.logger.Warn("Access to the captcha service denied, check the account balance and credentials.", zap.Error(err))
		if err := g.resumer.Suspend(ctx, "Captcha solver access denied: "+err.Error()); err != nil {
			return NotPresent, err
		}
		return ManualInterventionRequired, nil
	default:
		return NotPresent, fmt.Errorf("%w: %w", ErrCaptchaUnsolved, err)
	}

	if err := g.inject(ctx, token); err != nil {
		return NotPresent, err
	}
	g.logger.Info("Captcha solved.")
	return Solved, nil
}

// awaitChallengeFrame rescans the frames until a challenge frame shows up or deadline passes.
func (g *Gate) awaitChallengeFrame(ctx context.Context, deadline time.Time) (string, bool, error) {
	for {
		src, ok, err := g.findChallengeFrame(ctx)
		if err != nil || ok {
			return src, ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		wait := g.pollInterval
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", false, ctx.Err()
		}
	}
}

// findChallengeFrame scans every iframe for the reCAPTCHA widget and returns its src.
func (g *Gate) findChallengeFrame(ctx context.Context) (string, bool, error) {
	n, err := g.driver.Count(ctx, "iframe")
	if err != nil {
		return "", false, fmt.Errorf("count frames: %w", err)
	}
	for i := 0; i < n; i++ {
		title, _, err := g.driver.Attribute(ctx, "iframe", i, "title")
		if err != nil {
			if errors.Is(err, browser.ErrElementNotFound) {
				// The frame list changed while scanning.
				break
			}
			return "", false, fmt.Errorf("read frame title: %w", err)
		}
		if strings.ToLower(strings.TrimSpace(title)) != recaptchaFrameTitle {
			continue
		}
		src, _, err := g.driver.Attribute(ctx, "iframe", i, "src")
		if err != nil {
			return "", false, fmt.Errorf("read frame src: %w", err)
		}
		return src, true, nil
	}
	return "", false, nil
}

func (g *Gate) inject(ctx context.Context, token string) error {
	quoted, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode captcha token: %w", err)
	}
	script := fmt.Sprintf(`(function(t) {
		var el = document.getElementById(%q);
		if (!el) { return false; }
		el.value = t;
		el.innerHTML = t;
		return true;
	})(%s)`, responseFieldID, quoted)

	var injected bool
	if err := g.driver.Evaluate(ctx, script, &injected); err != nil {
		return fmt.Errorf("inject captcha token: %w", err)
	}
	if !injected {
		return fmt.Errorf("%w: response field #%s missing", ErrCaptchaUnsolved, responseFieldID)
	}
	return nil
}

// resolveManually waits for the operator whenever the portal's captcha form is shown.
func (g *Gate) resolveManually(ctx context.Context) (Outcome, error) {
	if g.portal.CaptchaFormSelector == "" {
		return NotPresent, nil
	}
	n, err := g.driver.Count(ctx, g.portal.CaptchaFormSelector)
	if err != nil {
		return NotPresent, fmt.Errorf("check captcha form: %w", err)
	}
	if n == 0 {
		return NotPresent, nil
	}
	g.logger.Info("Captcha form found.")
	if err := g.resumer.Suspend(ctx, "Captcha form present"); err != nil {
		return NotPresent, err
	}
	return ManualInterventionRequired, nil
}
