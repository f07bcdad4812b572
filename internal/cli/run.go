package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pledgeloop/pledge/internal/daemon"
	"github.com/pledgeloop/pledge/internal/infra/scheduler"
)

func init() {
	runCmd.Flags().StringVar(&runAt, "at", "", "Run as of this RFC3339 instant (default now)")
	rootCmd.AddCommand(runCmd)
}

var runAt string

var runJobs = []string{
	scheduler.JobEvaluate,
	scheduler.JobCharge,
	scheduler.JobReconcile,
	scheduler.JobTransfer,
	scheduler.JobStaged,
}

var runCmd = &cobra.Command{
	Use:       "run <" + strings.Join(runJobs, "|") + ">",
	Short:     "Run one scheduled pass now",
	Long:      `Run a single pass outside the cron loop. Every pass is idempotent, so running it again is safe.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: runJobs,
	RunE:      runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	at, err := parseAt(runAt)
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	start := time.Now()
	if err := d.RunOnce(context.Background(), args[0], at); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Printf("%s done in %s\n", args[0], time.Since(start).Round(time.Millisecond))
	return nil
}

// parseAt reads the --at flag; empty means now.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339 (e.g. 2024-01-09T01:30:00-08:00): %w", err)
	}
	return t, nil
}
