package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/delivery"
	"github.com/jonathan/jobdigest/internal/observability"
	"github.com/jonathan/jobdigest/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one digest run",
	Long:  "Fetch all configured feeds once, deliver net-new postings, and persist dedupe and ledger state.",
	RunE:  runRun,
}

var (
	configPath string
	dataDir    string
	webhookURL string
	verbose    bool
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (required)")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	runCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Override the delivery webhook URL")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed debug information")

	_ = runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
}

// loadRunConfig merges config file, env, flags, and defaults, then validates.
func loadRunConfig() (config.Config, error) {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	cfg := *loaded
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if webhookURL != "" {
		cfg.WebhookURL = webhookURL
	}
	if verbose {
		cfg.Verbose = true
	}
	cfg.ApplyEnv()
	cfg = cfg.MergeWithDefaults(config.Defaults())

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if cfg.WebhookURL == "" {
		return config.Config{}, fmt.Errorf("no webhook URL configured; set 'webhook_url', --webhook-url, or JOBDIGEST_WEBHOOK_URL")
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
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

	stats, err := p.Run(cmd.Context())
	if err != nil {
		// A ledger verification failure means delivery history may be lost;
		// exiting non-zero here is the whole point of the check.
		log.Error().Err(err).Msg("run aborted")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Fetched %d jobs: %d delivered, %d duplicates, %d skipped\n",
		stats.Fetched, stats.Delivered, stats.Duplicates, stats.Skipped)
	return nil
}
