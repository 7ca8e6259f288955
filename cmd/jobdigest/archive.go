package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobdigest/internal/ledger"
	"github.com/jonathan/jobdigest/internal/observability"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Force an archive pass over the posting ledger",
	Long:  "Move instances older than the active window into their monthly archive files and rewrite the active ledger. Normally this happens on every run; this command exists for maintenance.",
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (required)")
	archiveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	_ = archiveCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadStatusConfig()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Verbose)
	ledgerCfg := ledger.Config{
		ActiveWindow:        time.Duration(cfg.ActiveWindowDays) * 24 * time.Hour,
		ReopenWindow:        time.Duration(cfg.ReopenWindowDays) * 24 * time.Hour,
		AssumeReopenedAfter: time.Duration(cfg.AssumeReopenedAfterMonths) * 30 * 24 * time.Hour,
	}

	postings, err := ledger.Load(cfg.LedgerPath(), cfg.ArchiveDir(), ledgerCfg, log)
	if err != nil {
		return err
	}

	before := postings.ActiveCount()
	if err := postings.Save(time.Now()); err != nil {
		log.Error().Err(err).Msg("archive pass aborted")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Archived %d instances; %d remain active\n",
		before-postings.ActiveCount(), postings.ActiveCount())
	return nil
}
