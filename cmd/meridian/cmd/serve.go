package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	meridian "github.com/meridian-data/meridian"
	"github.com/meridian-data/meridian/internal/config"
	"github.com/meridian-data/meridian/internal/metrics"
	"github.com/meridian-data/meridian/internal/server"
	"github.com/meridian-data/meridian/internal/store/postgres"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

// newServeCmd builds the serve command.
func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canonization engine over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx := cmd.Context()
			logger := logging.Default()

			opts := []meridian.Option{
				meridian.WithEntityDefinitions(cfg.EntityDefinitions()),
				meridian.WithReplayCapacity(cfg.ReplayCapacity),
				meridian.WithMergePosture(records.MergePosture(cfg.MergePosture)),
				meridian.WithLogger(logger),
				meridian.WithMetrics(metrics.New()),
			}

			if cfg.Store.Driver == "postgres" {
				store, err := postgres.New(ctx, cfg.Store.DSN)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				opts = append(opts,
					meridian.WithStore(store),
					meridian.WithStagingStore(store),
					meridian.WithAuditSink(store),
				)
			}

			engine, err := meridian.New(opts...)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}

			return server.New(engine, logger).Listen(ctx, cfg.Listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides configuration)")
	return cmd
}
