// internal/operator/http.go
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Status describes whether a crawl is waiting on the operator.
type Status struct {
	Suspended bool      `json:"suspended"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since,omitempty"`
}

// HTTPResumer exposes suspension state over HTTP and resumes on POST /api/v1/resume.
type HTTPResumer struct {
	logger *zap.Logger
	addr   string

	mu      sync.Mutex
	status  Status
	resumed chan struct{}

	listener net.Listener
	ready    chan struct{}
}

// NewHTTPResumer creates a resumer that will listen on addr once Run is called.
func NewHTTPResumer(addr string, logger *zap.Logger) *HTTPResumer {
	return &HTTPResumer{
		logger: logger.Named("operator"),
		addr:   addr,
		ready:  make(chan struct{}),
	}
}

func (h *HTTPResumer) Suspend(ctx context.Context, reason string) error {
	h.mu.Lock()
	resumed := make(chan struct{})
	h.resumed = resumed
	h.status = Status{Suspended: true, Reason: reason, Since: time.Now().UTC()}
	h.mu.Unlock()

	h.logger.Warn("Crawl suspended for manual intervention. POST /api/v1/resume to continue.",
		zap.String("reason", reason), zap.String("address", h.Addr()))

	defer func() {
		h.mu.Lock()
		h.status = Status{}
		h.resumed = nil
		h.mu.Unlock()
	}()

	select {
	case <-resumed:
		h.logger.Info("Crawl resumed by operator.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resume releases the pending suspension. It reports false when nothing is suspended.
func (h *HTTPResumer) resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resumed == nil {
		return false
	}
	close(h.resumed)
	h.resumed = nil
	return true
}

func (h *HTTPResumer) currentStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Router returns the HTTP routes served by the resumer.
func (h *HTTPResumer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", h.handleHealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Post("/resume", h.handleResume)
	})
	return r
}

func (h *HTTPResumer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *HTTPResumer) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.currentStatus())
}

func (h *HTTPResumer) handleResume(w http.ResponseWriter, r *http.Request) {
	if !h.resume() {
		h.respondJSON(w, http.StatusConflict, map[string]string{"error": "crawl is not suspended"})
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

func (h *HTTPResumer) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Addr returns the bound listen address once Run has started, or the configured one before.
func (h *HTTPResumer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Ready is closed once the server is accepting connections.
func (h *HTTPResumer) Ready() <-chan struct{} {
	return h.ready
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (h *HTTPResumer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	srv := &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	close(h.ready)
	h.logger.Info("Resume server listening.", zap.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
