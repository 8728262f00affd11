package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/jobs"
	"github.com/makemelearn/api/internal/storage/postgres"
)

type maintenanceOptions struct {
	unverifiedDays int
	statsDays      int
	enqueue        bool
}

func newMaintenanceCommand(opts *globalOptions) *cobra.Command {
	var flags maintenanceOptions

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Purge stale registrations and old statistics",
		Long: `Run the retention maintenance once.

Unverified registrations older than the retention window are deleted, as are
daily statistics older than theirs. The command runs in-process by default;
with --enqueue it schedules a maintenance job for the running workers instead.

Examples:
  # Run with the configured retention windows
  server maintenance

  # Keep unverified registrations for two weeks only
  server maintenance --unverified-days 14

  # Hand the work to the job queue
  server maintenance --enqueue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance(cmd, opts, flags)
		},
	}

	cmd.Flags().IntVar(&flags.unverifiedDays, "unverified-days", 0, "days to keep unverified registrations (default: MAINTENANCE_UNVERIFIED_RETENTION_DAYS)")
	cmd.Flags().IntVar(&flags.statsDays, "stats-days", 0, "days to keep daily statistics (default: MAINTENANCE_STATS_RETENTION_DAYS)")
	cmd.Flags().BoolVar(&flags.enqueue, "enqueue", false, "insert a maintenance job instead of running it here")
	return cmd
}

func runMaintenance(cmd *cobra.Command, opts *globalOptions, flags maintenanceOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	unverifiedDays, statsDays, err := retentionWindows(cfg.Maintenance, flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := config.NewLogger(cfg.Logging)
	db, err := postgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if flags.enqueue {
		client, err := jobs.NewClient(db.Pool(), cfg.Jobs, nil, config.NewSlogLogger(cfg.Logging), nil, nil)
		if err != nil {
			return fmt.Errorf("job queue: %w", err)
		}
		res, err := client.Insert(ctx, jobs.MaintenanceArgs{}, jobs.NewRetryPolicy(cfg.Jobs).InsertOpts(jobs.JobKindMaintenance))
		if err != nil {
			return fmt.Errorf("enqueue maintenance: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "maintenance job %d enqueued\n", res.Job.ID)
		return nil
	}

	result, err := db.PerformMaintenance(ctx, unverifiedDays, statsDays)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// retentionWindows applies flag overrides to the configured windows.
func retentionWindows(cfg config.MaintenanceConfig, flags maintenanceOptions) (int, int, error) {
	unverified, stats := cfg.UnverifiedRetentionDays, cfg.StatsRetentionDays
	if flags.unverifiedDays != 0 {
		unverified = flags.unverifiedDays
	}
	if flags.statsDays != 0 {
		stats = flags.statsDays
	}
	if unverified < 1 || stats < 1 {
		return 0, 0, fmt.Errorf("retention windows must be at least one day (unverified=%d, stats=%d)", unverified, stats)
	}
	return unverified, stats, nil
}
