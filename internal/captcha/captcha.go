// internal/captcha/captcha.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrAccessDenied means the solving service refused the request: bad credentials or no balance.
	ErrAccessDenied = errors.New("captcha service denied access")
	// ErrEmptySolution means the service accepted the challenge but produced no token.
	ErrEmptySolution = errors.New("captcha service returned no solution")
	// ErrMissingSiteKey is returned when a challenge frame carries no site key.
	ErrMissingSiteKey = errors.New("recaptcha frame has no site key")
)

// Challenge is a reCAPTCHA v2 instance to be solved.
type Challenge struct {
	SiteKey string
	PageURL string
}

// Solver turns a challenge into a response token.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// SiteKeyFromFrameSrc extracts the "k" query parameter from a reCAPTCHA iframe src.
func SiteKeyFromFrameSrc(src string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", fmt.Errorf("parse frame src: %w", err)
	}
	key := u.Query().Get("k")
	if key == "" {
		return "", ErrMissingSiteKey
	}
	return key, nil
}
