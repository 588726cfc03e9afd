package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/archive"
	"github.com/xkilldash9x/tracesmith/internal/browser"
	"github.com/xkilldash9x/tracesmith/internal/collector"
	"github.com/xkilldash9x/tracesmith/internal/observability"
	"github.com/xkilldash9x/tracesmith/internal/planner"
	"github.com/xkilldash9x/tracesmith/internal/snapshot"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

var (
	runTask string
	runURL  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one AI-directed collection session against a target site.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runTask == "" || runURL == "" {
			return fmt.Errorf("both --task and --url are required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSession(ctx)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "task description for the session")
	runCmd.Flags().StringVarP(&runURL, "url", "u", "", "start URL for the session")
	rootCmd.AddCommand(runCmd)
}

// runSession drives one complete session: launch the browser, let the
// planner choose actions one at a time, record each through the collector
// and close the session with the planner's verdict.
func runSession(ctx context.Context) error {
	logger := observability.GetLogger()

	store, err := tracelog.NewStore(appConfig.Collector.DataDir, logger)
	if err != nil {
		return err
	}

	var opts []collector.Option
	if appConfig.Archive.Enabled {
		pool, err := pgxpool.New(ctx, appConfig.Archive.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to archive database: %w", err)
		}
		defer pool.Close()

		arc, err := archive.New(ctx, pool, logger)
		if err != nil {
			return err
		}
		if err := arc.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, collector.WithArchiver(arc))
	}
	col := collector.New(appConfig.Collector, store, logger, opts...)

	plan, err := planner.New(ctx, appConfig.Planner, logger)
	if err != nil {
		return err
	}

	b, err := browser.Launch(ctx, appConfig.Browser, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	page := b.Page()

	sessionID, err := col.StartSession(runTask, runURL, appConfig.Planner.Model)
	if err != nil {
		return err
	}
	logger.Info("Collection session started.", zap.String("session_id", sessionID))

	// The first action is always the navigation to the start URL.
	if _, rec, err := col.Record(ctx, page, collector.RecordRequest{
		Kind:        schemas.ActionNavigate,
		Instruction: "Navigate to " + runURL,
		Value:       runURL,
	}, func(ctx context.Context) (string, error) {
		return page.PerformAction(ctx, schemas.Instruction{Kind: schemas.ActionNavigate, Value: runURL})
	}); err != nil {
		return err
	} else if !rec.Success {
		logger.Warn("Initial navigation failed; ending session.", zap.String("error", rec.Error))
		_, endErr := col.EndSession(ctx, page, false, 0, "")
		return endErr
	}

	capturer := snapshot.NewCapturer(logger)
	limiter := rate.NewLimiter(rate.Limit(float64(appConfig.Planner.ActionsPerMinute)/60.0), 1)

	succeeded := false
	for i := 0; i < appConfig.Planner.MaxActions; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		snap, err := capturer.Capture(ctx, page)
		if err != nil {
			logger.Error("Failed to observe page for planning.", zap.Error(err))
			break
		}

		decision, err := plan.NextAction(ctx, runTask, snap, col.OpenSessionActions())
		if err != nil {
			logger.Error("Planner failed.", zap.Error(err))
			break
		}
		if decision.Done {
			succeeded = true
			break
		}

		inst := schemas.Instruction{
			Kind:     decision.Kind,
			Text:     decision.Instruction,
			Selector: decision.Selector,
			Value:    decision.Value,
		}
		_, rec, err := col.Record(ctx, page, collector.RecordRequest{
			Kind:        decision.Kind,
			Instruction: decision.Instruction,
			Selector:    decision.Selector,
			Value:       decision.Value,
		}, func(ctx context.Context) (string, error) {
			return page.PerformAction(ctx, inst)
		})
		if err != nil {
			return err
		}
		if !rec.Success {
			logger.Warn("Action failed; planner will see the unchanged page.",
				zap.String("kind", string(rec.Kind)), zap.String("error", rec.Error))
		}
	}

	sess, err := col.EndSession(ctx, page, succeeded, 0, "")
	if err != nil {
		return err
	}
	logger.Info("Collection session finished.",
		zap.String("session_id", sess.ID),
		zap.Bool("success", sess.Success),
		zap.Int("actions", len(sess.Actions)),
	)
	return nil
}
