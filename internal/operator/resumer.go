// internal/operator/resumer.go
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Resumer suspends the crawl until a human signals that manual work in the browser is done.
type Resumer interface {
	// Suspend blocks until resumed or ctx is done.
	Suspend(ctx context.Context, reason string) error
}

// ConsoleResumer waits for the operator to press Enter on a terminal.
type ConsoleResumer struct {
	logger *zap.Logger
	out    io.Writer

	mu    sync.Mutex
	lines chan error
	in    *bufio.Reader
}

// NewConsoleResumer reads resume signals from in and writes prompts to out.
func NewConsoleResumer(in io.Reader, out io.Writer, logger *zap.Logger) *ConsoleResumer {
	return &ConsoleResumer{
		logger: logger.Named("operator"),
		out:    out,
		in:     bufio.NewReader(in),
	}
}

func (c *ConsoleResumer) Suspend(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("Crawl suspended for manual intervention.", zap.String("reason", reason))
	fmt.Fprintf(c.out, "%s\nSolve it in the browser window, then press Enter to continue: ", reason)

	// A read left over from a canceled suspension is reused rather than started twice.
	if c.lines == nil {
		lines := make(chan error, 1)
		c.lines = lines
		go func() {
			_, err := c.in.ReadString('\n')
			lines <- err
		}()
	}

	select {
	case err := <-c.lines:
		c.lines = nil
		if err != nil {
			return fmt.Errorf("read resume signal: %w", err)
		}
		c.logger.Info("Crawl resumed by operator.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
