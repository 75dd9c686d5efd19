package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthmate/healthmate/internal/config"
	"github.com/healthmate/healthmate/internal/domain/pipeline"
	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "healthmate",
		Short: "HealthMate health tracking API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(etlCmd())
	root.AddCommand(backupCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withMigrator loads config, connects and hands a migrator to fn.
func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	})
	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func etlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Manage ETL jobs",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Sync job definitions from a YAML file and run batch jobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			name, _ := cmd.Flags().GetString("job")
			return runETL(cmd, path, name)
		},
	}
	run.Flags().String("config", "jobs.yaml", "Path to the ETL job definitions")
	run.Flags().String("job", "", "Run only the named job")
	cmd.AddCommand(run)
	return cmd
}

func runETL(cmd *cobra.Command, path, name string) error {
	defs, err := pipeline.LoadJobsFile(path)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.pipeline.SyncJobs(ctx, defs)
	if err != nil {
		return err
	}
	targets, err := batchJobs(jobs, name)
	if err != nil {
		return err
	}
	var failed int
	for _, j := range targets {
		run, err := a.pipeline.RunJob(ctx, j.ID)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%-30s failed: %v\n", j.Name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s extracted=%d loaded=%d dropped=%d\n",
			j.Name, run.Status, run.RecordsExtracted, run.RecordsLoaded, run.RecordsDropped)
	}
	if failed > 0 {
		return fmt.Errorf("%d job(s) failed", failed)
	}
	return nil
}

// batchJobs selects the enabled batch jobs to run, or only the named one.
func batchJobs(jobs []*pipeline.ETLJobConfig, name string) ([]*pipeline.ETLJobConfig, error) {
	var out []*pipeline.ETLJobConfig
	for _, j := range jobs {
		if name != "" {
			if j.Name != name {
				continue
			}
			if j.Mode != pipeline.ModeBatch {
				return nil, fmt.Errorf("job %q is not a batch job", name)
			}
			return []*pipeline.ETLJobConfig{j}, nil
		}
		if j.Mode == pipeline.ModeBatch && j.Enabled {
			out = append(out, j)
		}
	}
	if name != "" {
		return nil, fmt.Errorf("job %q not found in config", name)
	}
	return out, nil
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Database backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Export all tables to object storage once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.BackupBucket == "" {
				return fmt.Errorf("BACKUP_BUCKET is required")
			}
			run, err := a.backup.Run(ctx)
			if run != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "backup %s %s: %d objects, %d rows, %d bytes\n",
					run.ID, run.Status, len(run.Objects), run.RowCount, run.ByteCount)
			}
			return err
		},
	})
	return cmd
}
