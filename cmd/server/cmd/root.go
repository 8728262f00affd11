package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makemelearn/api/internal/config"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "server",
		Short: "MakeMeLearn API server - early sign-up backend",
		Long: `MakeMeLearn API server backs the MakeMeLearn landing site.

The server provides:
- Early registrations with email verification and unsubscription
- A contact form relayed to the team by email
- Public, growth and system statistics
- Health, readiness and Prometheus metrics endpoints
- Scheduled retention maintenance through a PostgreSQL job queue`,
		SilenceUsage: true,
		// With no subcommand the server is started.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, serveOptions{})
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newMaintenanceCommand(opts),
		newHealthcheckCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree until it returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the environment (and --config, if set), then applies flag overrides.
func loadConfig(opts *globalOptions) (config.Config, error) {
	var files []string
	if opts.configPath != "" {
		files = append(files, opts.configPath)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	return cfg, nil
}
