// internal/proxy/relay.go
package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
)

// Relay is a local forward proxy that chains every request to one upstream proxy and
// attaches its credentials. Chrome cannot take proxy credentials on the command line,
// so the browser is pointed at the relay instead of the upstream.
type Relay struct {
	upstream *url.URL
	proxy    *goproxy.ProxyHttpServer
	logger   *zap.Logger

	listener net.Listener
	server   *http.Server
	done     chan error
}

// NewRelay configures a relay for upstream. Nothing listens until Start.
func NewRelay(upstream *url.URL, logger *zap.Logger) (*Relay, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: no upstream", ErrInvalidProxy)
	}
	log := logger.Named("proxy_relay")

	p := goproxy.NewProxyHttpServer()
	p.Logger = zap.NewStdLog(log)
	p.Verbose = false

	// http.Transport sends Proxy-Authorization from the URL's userinfo for plain HTTP.
	p.Tr = &http.Transport{
		Proxy:                 http.ProxyURL(upstream),
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	// CONNECT tunnels are dialed through the upstream by hand, so the header is added here.
	auth := proxyAuthorization(upstream)
	p.ConnectDial = p.NewConnectDialToProxyWithHandler(stripUserinfo(upstream).String(), func(req *http.Request) {
		if auth != "" {
			req.Header.Set("Proxy-Authorization", auth)
		}
	})

	return &Relay{
		upstream: upstream,
		proxy:    p,
		logger:   log,
	}, nil
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves in the background.
func (r *Relay) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for proxy relay: %w", err)
	}
	r.listener = ln
	r.server = &http.Server{Handler: r.proxy, ReadHeaderTimeout: 10 * time.Second}
	r.done = make(chan error, 1)

	go func() {
		r.done <- r.server.Serve(ln)
	}()

	r.logger.Info("Proxy relay started.",
		zap.String("listen", ln.Addr().String()),
		zap.String("upstream", r.upstream.Redacted()))
	return ln.Addr().String(), nil
}

// Addr returns the bound address, or "" before Start.
func (r *Relay) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Upstream returns the proxy the relay forwards to.
func (r *Relay) Upstream() *url.URL {
	return r.upstream
}

// Close stops accepting connections and waits for the server to exit.
func (r *Relay) Close(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	err := r.server.Shutdown(ctx)
	if serveErr := <-r.done; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	r.proxy.Tr.CloseIdleConnections()
	r.server = nil
	return err
}

func proxyAuthorization(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	pass, _ := u.User.Password()
	creds := u.User.Username() + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func stripUserinfo(u *url.URL) *url.URL {
	c := *u
	c.User = nil
	return &c
}
