package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pledgeloop/pledge/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveEnv, "env", "", "Cadence table: production or development (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
	serveEnv  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the operations API",
	Long:  `Start the periodic evaluation and settlement jobs and the HTTP server for health, metrics and the Stripe webhook.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveEnv != "" {
		cfg.Scheduler.Env = serveEnv
	}

	d, err := daemon.NewWithConfig(cfg, nil)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
