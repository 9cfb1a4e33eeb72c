// internal/crawler/batch.go
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/browser"
	"github.com/xkilldash9x/docket-cli/internal/config"
)

// DocumentLink is the n-th match of a selector on the document-list window.
type DocumentLink struct {
	Selector string
	Index    int
	Label    string
}

// BatchCloser opens document windows one by one and closes them in fixed-size batches,
// so at most batchSize document windows are open at any time.
type BatchCloser struct {
	driver      browser.Driver
	settleDelay time.Duration
	logger      *zap.Logger
}

// NewBatchCloser creates a closer that waits settleDelay before closing each batch,
// giving downloads time to start.
func NewBatchCloser(driver browser.Driver, settleDelay time.Duration, logger *zap.Logger) *BatchCloser {
	return &BatchCloser{
		driver:      driver,
		settleDelay: settleDelay,
		logger:      logger.Named("batch_closer"),
	}
}

// DownloadAll opens every document from the origin anchor and returns how many were
// delegated, which is len(docs) unless the run is canceled. A document whose window
// never shows up (a link that turns straight into a download closes its tab) is logged
// and still counted. On cancellation the leftover windows are swept and the context
// error is returned.
func (c *BatchCloser) DownloadAll(ctx context.Context, docs []DocumentLink, batchSize int, reg *Registry, origin string) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: download batch size must be positive, got %d", config.ErrInvalidConfiguration, batchSize)
	}

	delegated := 0
	inFlight := make([]browser.Handle, 0, batchSize)
	var loopErr error

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		c.logger.Info("Downloading document.", zap.String("document", doc.Label), zap.Int("index", i))
		h, err := reg.OpenLeaf(ctx, func(ctx context.Context) error {
			return c.driver.Click(ctx, doc.Selector, doc.Index)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				loopErr = ctxErr
				break
			}
			c.logger.Warn("Document window did not open, skipping.", zap.String("document", doc.Label), zap.Error(err))
		} else {
			inFlight = append(inFlight, h)
		}
		delegated++

		if err := reg.SwitchTo(ctx, origin); err != nil {
			loopErr = err
			break
		}

		if i%batchSize == batchSize-1 {
			if err := ctx.Err(); err != nil {
				loopErr = err
				break
			}
			c.logger.Info("Closing old document windows.", zap.Int("count", len(inFlight)))
			if err := c.settle(ctx); err != nil {
				loopErr = err
				break
			}
			c.closeBatch(ctx, reg, inFlight)
			inFlight = inFlight[:0]
			if err := reg.SwitchTo(ctx, origin); err != nil {
				loopErr = err
				break
			}
		}
	}

	sweepCtx := ctx
	if loopErr == nil {
		c.logger.Info("Closing leftover windows.")
		if err := c.settle(ctx); err != nil {
			loopErr = err
		}
	}
	if loopErr != nil {
		sweepCtx = browser.Detach(ctx)
	}
	if _, err := reg.CloseAllExcept(sweepCtx, origin); err != nil && loopErr == nil {
		loopErr = err
	}
	return delegated, loopErr
}

func (c *BatchCloser) closeBatch(ctx context.Context, reg *Registry, handles []browser.Handle) {
	for _, h := range handles {
		if err := reg.CloseLeaf(ctx, h); err != nil {
			c.logger.Warn("Failed to close document window.", zap.String("handle", string(h)), zap.Error(err))
		}
	}
}

func (c *BatchCloser) settle(ctx context.Context) error {
	if c.settleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.settleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
