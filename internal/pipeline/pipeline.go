// Package pipeline wires the stages of one digest run together: fetch, dedupe,
// route, decide, deliver, record.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/dedupe"
	"github.com/jonathan/jobdigest/internal/delivery"
	"github.com/jonathan/jobdigest/internal/feeds"
	"github.com/jonathan/jobdigest/internal/fingerprint"
	"github.com/jonathan/jobdigest/internal/globaldedupe"
	"github.com/jonathan/jobdigest/internal/ledger"
	"github.com/jonathan/jobdigest/internal/routing"
)

const day = 24 * time.Hour

// Stats summarizes one run.
type Stats struct {
	Fetched    int
	NetNew     int
	Delivered  int
	Duplicates int
	Skipped    int
}

// Pipeline runs the digest end to end. All stage state is rebuilt from the
// persisted stores each run; overlapping runs reconcile through the ledger's
// merge-on-save.
type Pipeline struct {
	cfg    config.Config
	log    zerolog.Logger
	feeds  []feeds.Feed
	router *routing.Router
	sender delivery.Sender
}

// New builds a pipeline from configuration.
func New(cfg config.Config, sender delivery.Sender, log zerolog.Logger) (*Pipeline, error) {
	feedClients, err := feeds.Build(cfg.Feeds, log)
	if err != nil {
		return nil, err
	}
	router, err := routing.New(cfg.Rules, cfg.DefaultChannel)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:    cfg,
		log:    log,
		feeds:  feedClients,
		router: router,
		sender: sender,
	}, nil
}

// Run executes one batch. An error from the posting ledger's save
// verification is returned as-is and must terminate the process.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	now := time.Now()
	stats := Stats{}

	seen := dedupe.Load(p.cfg.DedupeStorePath(), time.Duration(p.cfg.DedupeTTLDays)*day, p.log)
	seen.EvictExpired(now)

	ledgerCfg := ledger.Config{
		ActiveWindow:        time.Duration(p.cfg.ActiveWindowDays) * day,
		ReopenWindow:        time.Duration(p.cfg.ReopenWindowDays) * day,
		AssumeReopenedAfter: time.Duration(p.cfg.AssumeReopenedAfterMonths) * 30 * day,
	}
	postings, err := ledger.Load(p.cfg.LedgerPath(), p.cfg.ArchiveDir(), ledgerCfg, p.log)
	if err != nil {
		return stats, err
	}

	global := globaldedupe.Load(p.cfg.GlobalLedgerPath(), time.Duration(p.cfg.GlobalTTLDays)*day, p.log)

	jobs := feeds.FetchAll(ctx, p.feeds, p.log)
	stats.Fetched = len(jobs)

	for _, job := range jobs {
		fp := fingerprint.Hash(job.Title, job.Company, job.Location)

		if seen.CheckAndMark(job.ID, fp, now) == dedupe.Duplicate {
			stats.Skipped++
			continue
		}
		stats.NetNew++

		targets := p.router.Targets(job)
		if len(targets) == 0 {
			p.log.Debug().Str("jobId", job.ID).Str("title", job.Title).Msg("no matching channel, skipped")
			stats.Skipped++
			continue
		}

		dec := postings.ShouldDeliver(job, now)
		p.log.Debug().
			Str("jobId", dec.JobID).
			Stringer("outcome", dec.Outcome).
			Msg("delivery decision")
		if !dec.Deliver() {
			stats.Duplicates++
			continue
		}

		if global.HasBeenDelivered(fp, now) {
			p.log.Info().Str("jobId", job.ID).Msg("already delivered by another consumer, skipped")
			stats.Duplicates++
			continue
		}

		delivered := false
		for _, target := range targets {
			ref, err := p.sender.Send(ctx, job, target.ChannelID)
			if err != nil {
				p.log.Warn().Err(err).Str("jobId", job.ID).Str("channel", target.ChannelID).Msg("delivery failed")
				continue
			}

			if _, err := postings.RecordDelivery(job, target.ChannelID, target.Kind, ref, 0, now); err != nil {
				p.log.Warn().Err(err).Str("jobId", job.ID).Str("channel", target.ChannelID).Msg("delivery not recorded")
				continue
			}
			global.MarkDelivered(fp, job.ID, p.cfg.SourceRepo, target.ChannelID, ref, now)
			delivered = true
		}
		if delivered {
			stats.Delivered++
		}
	}

	// The posting ledger is the source of truth; a failed save or a
	// verification mismatch is fatal for the whole run.
	if err := postings.Save(now); err != nil {
		return stats, fmt.Errorf("posting ledger save: %w", err)
	}

	global.PruneExpired(now)
	if err := global.Save(); err != nil {
		p.log.Warn().Err(err).Msg("global delivery ledger save failed")
	}
	if err := seen.Save(now); err != nil {
		p.log.Warn().Err(err).Msg("dedupe store save failed")
	}

	p.log.Info().
		Int("fetched", stats.Fetched).
		Int("netNew", stats.NetNew).
		Int("delivered", stats.Delivered).
		Int("duplicates", stats.Duplicates).
		Int("skipped", stats.Skipped).
		Msg("run complete")

	return stats, nil
}
