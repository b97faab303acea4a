package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vllry/transit-archive/pkg/config"
	"github.com/vllry/transit-archive/pkg/logging"
	"github.com/vllry/transit-archive/pkg/schema"
	"github.com/vllry/transit-archive/pkg/trigger"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state set up before every subcommand.
type cli struct {
	config *config.Config
	logger *zap.Logger
}

func rootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "archiver",
		Short:         "Archive CTA realtime and static GTFS data to Cloud Storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env file is optional; the environment wins over it.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "failed to load .env")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			c.config, c.logger = cfg, logger
			return nil
		},
	}

	root.AddCommand(c.serveCmd(), c.scheduleCmd(), c.realtimeCmd(), c.staticCmd(), c.migrateCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume fetch triggers from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmd.Context(), c.config, c.logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve(cmd.Context())
		},
	}
}

func (c *cli) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Produce realtime and static fetch triggers to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := c.config.Kafka()
			if err != nil {
				return err
			}
			s, err := NewScheduler(k, c.config.StaticInterval, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = c.logger.Sync() }()
			return s.Run(cmd.Context())
		},
	}
}

func (c *cli) realtimeCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Archive rail and bus positions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := trigger.Trigger{Channel: trigger.Realtime, Time: time.Now()}
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return errors.Wrap(err, "invalid --at")
				}
				t.Time = parsed
			}
			return c.runOnce(cmd.Context(), t)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "trigger time as RFC3339 (default now)")
	return cmd
}

func (c *cli) staticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "static",
		Short: "Archive the static GTFS schedule if it changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOnce(cmd.Context(), trigger.Trigger{Channel: trigger.Static, Time: time.Now()})
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply archive ledger migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.PostgresURL == "" {
				return errors.New("POSTGRES_URL is required to migrate")
			}
			if err := schema.RunMigrations(c.config.PostgresURL); err != nil {
				return err
			}
			c.logger.Info("Migrations applied")
			return nil
		},
	}
}

func (c *cli) runOnce(ctx context.Context, t trigger.Trigger) error {
	app, err := NewApp(ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.orchestrator.Handle(ctx, t)
}
