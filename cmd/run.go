package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/dispatcher"
	"github.com/JakeFAU/hoops-harvester/internal/server"
)

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one harvest run to completion",
		Long: `Runs every job of the plan, stores the fragments in the configured backend
and prints a summary. The command exits non-zero when any job failed; the
artifacts of the jobs that succeeded are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.Build(ctx, env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			plan, err := flags.apply(cmd, app.Runs().Plan())
			if err != nil {
				return err
			}
			report, err := app.Runs().Execute(ctx, plan)
			if err != nil {
				return err
			}
			printReport(cmd, report)
			if err := report.Err(); err != nil {
				env.logger.Error("run failed", zap.String("run_id", report.RunID), zap.Error(err))
				counters := report.Counters()
				return fmt.Errorf("run %s: %d of %d jobs failed", report.RunID, counters.Failed, counters.Jobs)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printReport(cmd *cobra.Command, report *dispatcher.Report) {
	out := cmd.OutOrStdout()
	counters := report.Counters()
	fmt.Fprintf(out, "run %s %s: %d jobs, %d succeeded, %d failed in %s\n",
		report.RunID,
		report.Status(),
		counters.Jobs,
		counters.Succeeded,
		counters.Failed,
		report.Finished.Sub(report.Started).Round(time.Millisecond),
	)
	for _, artifact := range report.Artifacts() {
		fmt.Fprintf(out, "  stored %s (%d bytes)\n", artifact.URI, artifact.Size)
	}
	for _, record := range report.Failures() {
		fmt.Fprintf(out, "  failed %s after %d attempts: %s\n", record.Job.Key(), record.Attempts, record.ErrorText)
	}
}
