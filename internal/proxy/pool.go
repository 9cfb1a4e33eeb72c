// internal/proxy/pool.go
package proxy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

// ErrInvalidProxy is returned for proxy URIs that cannot be used by the browser.
var ErrInvalidProxy = errors.New("invalid proxy uri")

// Pool is a set of upstream proxies; each crawl session uses one of them.
type Pool []*url.URL

// BuildPool expands bare host:port entries into authenticated proxy URIs.
func BuildPool(username, password string, hosts []string) []string {
	uris := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		u := &url.URL{Scheme: "http", Host: h}
		if username != "" {
			u.User = url.UserPassword(username, password)
		}
		uris = append(uris, u.String())
	}
	return uris
}

// ParsePool validates every URI. Only http and https proxies are accepted.
func ParsePool(uris []string) (Pool, error) {
	pool := make(Pool, 0, len(uris))
	for _, raw := range uris {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidProxy, u.Scheme, u.Redacted())
		}
		if u.Hostname() == "" || u.Port() == "" {
			return nil, fmt.Errorf("%w: %s needs host and port", ErrInvalidProxy, u.Redacted())
		}
		pool = append(pool, u)
	}
	return pool, nil
}

// Pick returns a uniformly random member, or nil for an empty pool.
func (p Pool) Pick() *url.URL {
	if len(p) == 0 {
		return nil
	}
	return p[rand.IntN(len(p))]
}
