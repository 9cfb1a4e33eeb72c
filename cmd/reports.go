// File: cmd/reports.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/config"
	"github.com/xkilldash9x/docket-cli/internal/observability"
	"github.com/xkilldash9x/docket-cli/internal/report"
	"github.com/xkilldash9x/docket-cli/internal/store"
)

// runStore is the part of the store the commands use.
type runStore interface {
	SaveReport(ctx context.Context, run store.Run, rep *report.CrawlReport) error
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// storeProvider creates a run store. Tests inject one backed by a fake instead of a live database.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources, and an error.
	Create(ctx context.Context, cfg *config.Config) (runStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to PostgreSQL, verifies the connection and makes sure the schema exists.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (DOCKET_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// newReportsCmd creates the `reports` command group.
func newReportsCmd(provider storeProvider) *cobra.Command {
	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect persisted crawl runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent crawl runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReportsList(ctx, observability.GetLogger(), cfg, provider, limit, cmd.OutOrStdout())
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")

	reportsCmd.AddCommand(listCmd)
	return reportsCmd
}

func runReportsList(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider, limit int, out io.Writer) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	logger.Debug("Runs loaded.", zap.Int("count", len(runs)))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tINDEX NUMBER\tCASES\tDOCS\tFINISHED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.ID, r.InputCaseNumber, r.Cases, r.Docs, r.FinishedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
