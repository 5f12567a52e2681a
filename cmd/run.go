package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ratingharvest/internal/api"
	"github.com/JakeFAU/ratingharvest/internal/id/uuid"
	"github.com/JakeFAU/ratingharvest/internal/input"
	"github.com/JakeFAU/ratingharvest/internal/pipeline"
	"github.com/JakeFAU/ratingharvest/internal/shutdown"
)

// newRunCmd creates the 'run' subcommand, which performs one extraction pass.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract ratings for every URL not yet in the output",
		Long: `Loads the input list, skips URLs already present in the output, and
processes the rest with a fixed pool of workers. Results are checkpointed
every few seconds. SIGINT or SIGTERM stops new work; in-flight requests
finish and their results are flushed before exit.`,
		Args: cobra.NoArgs,
		RunE: runRunCommand,
	}
	cmd.Flags().String("input", "", "CSV (with a URL column) or .txt file of URLs")
	cmd.Flags().String("output", "", "output CSV path for the csv backend")
	cmd.Flags().String("backend", "", "output backend: csv, postgres, redis or gcs")
	cmd.Flags().Int("workers", 0, "number of concurrent workers")
	cmd.Flags().String("status", "", "address for the status server, e.g. :9090")
	return cmd
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// PersistentPostRun is skipped when RunE fails; Close is idempotent.
	defer appInstance.Close()
	cfg := appInstance.Config
	logger := appInstance.Logger

	urls, err := input.Load(cfg.Input.Path)
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}
	logger.Info("loaded input", zap.String("path", cfg.Input.Path), zap.Int("urls", len(urls)))

	ctx := cmd.Context()
	coordinator := shutdown.New(logger)
	release := coordinator.Watch(ctx)
	defer release()

	runner := pipeline.NewRunner(
		appInstance.Store,
		appInstance.Extractor,
		appInstance.Sleeper,
		appInstance.Clock,
		appInstance.IDs,
		coordinator,
		cfg.PipelineOptions(),
		logger,
	)

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-coordinator.Done():
			logger.Info("stop requested; finishing in-flight work",
				zap.Int("left_for_next_run", runner.Tracker().Snapshot().Remaining))
		case <-statusCtx.Done():
		}
		return nil
	})
	if cfg.Status.Addr != "" {
		server := api.NewServer(runner.Tracker(), coordinator, logger)
		g.Go(func() error {
			return server.ListenAndServe(statusCtx, cfg.Status.Addr)
		})
	}

	summary, runErr := runner.Run(ctx, urls)
	stopStatus()
	if err := g.Wait(); err != nil {
		logger.Warn("status server stopped with error", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("run pipeline: %w", runErr)
	}

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("already_done", summary.AlreadyDone),
		zap.Int("duplicates", summary.Duplicates),
	}
	if started, err := uuid.StartedAt(summary.RunID); err == nil {
		fields = append(fields, zap.Time("started_at", started))
	}
	if appInstance.Limiter != nil {
		fields = append(fields, zap.Int("hosts_contacted", appInstance.Limiter.Hosts()))
	}
	logger.Info("run summary", fields...)

	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: %d processed, %d errors, %d skipped (already done), %d duplicate input rows in %s (%.2f/s)\n",
		summary.RunID, summary.Processed, summary.Errors, summary.AlreadyDone, summary.Duplicates,
		summary.Elapsed.Round(time.Millisecond), summary.Rate)
	if summary.Interrupted {
		fmt.Fprintln(cmd.OutOrStdout(), "interrupted: re-run with the same input to resume")
	}
	return nil
}
