package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/dedupe"
	"github.com/jonathan/jobdigest/internal/ledger"
	"github.com/jonathan/jobdigest/internal/observability"
)

// loadStatusConfig is loadRunConfig without the webhook requirement;
// read-only commands never deliver.
func loadStatusConfig() (config.Config, error) {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	cfg := *loaded
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.ApplyEnv()
	cfg = cfg.MergeWithDefaults(config.Defaults())

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a summary of the persisted stores",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (required)")
	statusCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	_ = statusCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadStatusConfig()
	if err != nil {
		return err
	}

	log := observability.NewLogger(false)

	seen := dedupe.Load(cfg.DedupeStorePath(), time.Duration(cfg.DedupeTTLDays)*24*time.Hour, log)
	fmt.Fprintf(os.Stdout, "Dedupe store: %d tracked keys\n", seen.Len())

	ledgerCfg := ledger.Config{
		ActiveWindow:        time.Duration(cfg.ActiveWindowDays) * 24 * time.Hour,
		ReopenWindow:        time.Duration(cfg.ReopenWindowDays) * 24 * time.Hour,
		AssumeReopenedAfter: time.Duration(cfg.AssumeReopenedAfterMonths) * 30 * 24 * time.Hour,
	}
	postings, err := ledger.Load(cfg.LedgerPath(), cfg.ArchiveDir(), ledgerCfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Posting ledger: %d active instances\n", postings.ActiveCount())

	marks := postings.HighWaterMarks()
	channels := make([]string, 0, len(marks))
	for ch := range marks {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		fmt.Fprintf(os.Stdout, "  channel %-20s sequence %d\n", ch, marks[ch])
	}

	return nil
}
