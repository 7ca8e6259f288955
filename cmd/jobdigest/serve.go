package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jonathan/jobdigest/internal/delivery"
	"github.com/jonathan/jobdigest/internal/observability"
	"github.com/jonathan/jobdigest/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run digest batches on a cron schedule",
	Long:  "Run the pipeline continuously, executing one digest run per cron tick until interrupted.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (required)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	serveCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Override the delivery webhook URL")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed debug information")

	_ = serveCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Verbose)
	sender := delivery.NewWebhookSender(cfg.WebhookURL, log)

	p, err := pipeline.New(cfg, sender, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Schedule, func() {
		if _, err := p.Run(ctx); err != nil {
			// Ledger verification failures must not be survived; a broken
			// ledger would silently redeliver on every subsequent tick.
			log.Error().Err(err).Msg("scheduled run aborted, shutting down")
			os.Exit(1)
		}
	})
	if err != nil {
		return err
	}

	log.Info().Str("schedule", cfg.Schedule).Msg("scheduler started")
	scheduler.Start()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	<-scheduler.Stop().Done()
	return nil
}
