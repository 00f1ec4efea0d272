package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/photovault/internal/app"
	"github.com/dmitrymomot/photovault/pkg/config"
	"github.com/dmitrymomot/photovault/pkg/logger"
)

var (
	envFiles []string

	log       *slog.Logger
	container *app.App
)

type commandInfo struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandInfoKey struct{}

var rootCmd = &cobra.Command{
	Use:   "photovault",
	Short: "PhotoVault billing and storage quota service",
	Long: `PhotoVault keeps plan entitlements on users and spaces in step with the
payment gateway, enforces storage and AI quotas on uploads and reverts
lapsed entitlements on a schedule.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if len(envFiles) > 0 {
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}
		}
		var cfg app.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		log = logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.StartupTimeout)
		defer cancel()
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		container = a

		info := commandInfo{correlationID: uuid.New(), startedAt: time.Now()}
		cmd.SetContext(context.WithValue(cmd.Context(), commandInfoKey{}, info))
		log.InfoContext(cmd.Context(), "command start",
			slog.String("command", cmd.CommandPath()),
			slog.String("correlation_id", info.correlationID.String()),
		)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if info, ok := cmd.Context().Value(commandInfoKey{}).(commandInfo); ok {
			log.InfoContext(cmd.Context(), "command end",
				slog.String("command", cmd.CommandPath()),
				slog.String("correlation_id", info.correlationID.String()),
				logger.Duration(time.Since(info.startedAt)),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading configuration")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd, refundQuoteCmd, verifyCatalogCmd)
}
