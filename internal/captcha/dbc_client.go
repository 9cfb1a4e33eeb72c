// internal/captcha/dbc_client.go
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/docket-cli/internal/config"
	"github.com/xkilldash9x/docket-cli/internal/network"
)

// recaptchaV2Token is the DeathByCaptcha type code for token-based reCAPTCHA v2.
const recaptchaV2Token = "4"

// errPending marks a poll that found the challenge still being worked on.
var errPending = errors.New("captcha solution pending")

// dbcCaptcha is the status document returned by the submit and poll endpoints.
type dbcCaptcha struct {
	Captcha   int64  `json:"captcha"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
}

type tokenParams struct {
	Proxy     string `json:"proxy"`
	ProxyType string `json:"proxytype"`
	GoogleKey string `json:"googlekey"`
	PageURL   string `json:"page_url"`
}

// DBCClient solves reCAPTCHA challenges through the DeathByCaptcha HTTP API.
type DBCClient struct {
	cfg        config.CaptchaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	proxy      string
}

var _ Solver = (*DBCClient)(nil)

// NewDBCClient builds a client. proxy, when set, is forwarded to the service so it
// solves from the same exit address as the browser.
func NewDBCClient(cfg config.CaptchaConfig, proxy string, logger *zap.Logger) *DBCClient {
	limit := rate.Inf
	if cfg.SubmitsPerMin > 0 {
		limit = rate.Limit(cfg.SubmitsPerMin / 60.0)
	}
	clientCfg := network.NewDefaultClientConfig()
	if cfg.RequestTimeout > 0 {
		clientCfg.RequestTimeout = cfg.RequestTimeout
	}
	clientCfg.Logger = logger
	return &DBCClient{
		cfg:        cfg,
		httpClient: network.NewClient(clientCfg),
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named("dbc"),
		proxy:      proxy,
	}
}

// Solve submits the challenge and polls until a token arrives, the service gives up,
// or the solve timeout expires.
func (c *DBCClient) Solve(ctx context.Context, ch Challenge) (string, error) {
	if ch.SiteKey == "" {
		return "", ErrMissingSiteKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("captcha submission throttled: %w", err)
	}

	id, err := c.submit(ctx, ch)
	if err != nil {
		return "", err
	}
	c.logger.Info("Captcha submitted.", zap.Int64("captcha_id", id), zap.String("page_url", ch.PageURL))

	token, err := c.poll(ctx, id)
	if err != nil {
		return "", err
	}
	c.logger.Info("Captcha solved.", zap.Int64("captcha_id", id))
	return token, nil
}

func (c *DBCClient) submit(ctx context.Context, ch Challenge) (int64, error) {
	params, err := json.Marshal(tokenParams{
		Proxy:     c.proxy,
		ProxyType: "HTTP",
		GoogleKey: ch.SiteKey,
		PageURL:   ch.PageURL,
	})
	if err != nil {
		return 0, fmt.Errorf("encode token params: %w", err)
	}
	form := url.Values{
		"username":     {c.cfg.Username},
		"password":     {c.cfg.Password},
		"type":         {recaptchaV2Token},
		"token_params": {string(params)},
	}

	var result dbcCaptcha
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("captcha"), strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create submit request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return c.do(req, &result)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval()
	b.MaxInterval = c.maxPollInterval()
	b.MaxElapsedTime = c.solveTimeout()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return 0, err
	}
	if result.Captcha == 0 {
		return 0, fmt.Errorf("%w: service did not assign a captcha id", ErrEmptySolution)
	}
	return result.Captcha, nil
}

func (c *DBCClient) poll(ctx context.Context, id int64) (string, error) {
	var result dbcCaptcha
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("captcha", strconv.FormatInt(id, 10)), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create poll request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if err := c.do(req, &result); err != nil {
			return err
		}
		if result.Text != "" {
			return nil
		}
		if !result.IsCorrect {
			return backoff.Permanent(fmt.Errorf("%w: captcha %d marked unsolvable", ErrEmptySolution, id))
		}
		return errPending
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval()
	b.MaxInterval = c.maxPollInterval()
	b.MaxElapsedTime = c.solveTimeout()

	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errPending) {
			c.logger.Warn("Captcha poll failed, retrying.", zap.Int64("captcha_id", id), zap.Error(err), zap.Duration("next", next))
		}
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, errPending) {
			return "", fmt.Errorf("%w: captcha %d not solved within %s", ErrEmptySolution, id, c.solveTimeout())
		}
		return "", err
	}
	return result.Text, nil
}

// do executes req and decodes the JSON status document into out. Transient failures
// are returned as plain errors so backoff retries them.
func (c *DBCClient) do(req *http.Request, out *dbcCaptcha) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return backoff.Permanent(req.Context().Err())
		}
		return fmt.Errorf("captcha service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read captcha service response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrAccessDenied, strings.TrimSpace(string(body))))
	case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("captcha service overloaded (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("captcha service error (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("captcha service rejected request (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	*out = dbcCaptcha{}
	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode captcha service response: %w", err))
	}
	if out.Status == 255 {
		// Generic failure reported in-band, typically a bad balance or banned account.
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrAccessDenied, out.Error))
	}
	return nil
}

func (c *DBCClient) endpoint(parts ...string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + strings.Join(parts, "/")
}

func (c *DBCClient) pollInterval() time.Duration {
	if c.cfg.PollInterval > 0 {
		return c.cfg.PollInterval
	}
	return 5 * time.Second
}

func (c *DBCClient) maxPollInterval() time.Duration {
	if c.cfg.MaxPollInterval > 0 {
		return c.cfg.MaxPollInterval
	}
	return 20 * time.Second
}

func (c *DBCClient) solveTimeout() time.Duration {
	if c.cfg.SolveTimeout > 0 {
		return c.cfg.SolveTimeout
	}
	return 3 * time.Minute
}
