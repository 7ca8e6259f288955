package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/fingerprint"
	"github.com/jonathan/jobdigest/internal/types"
)

// Feed is an upstream source of normalized job records.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]types.Job, error)
}

// Build constructs feed clients from configuration.
func Build(cfgs []config.FeedConfig, log zerolog.Logger) ([]Feed, error) {
	feeds := make([]Feed, 0, len(cfgs))
	for _, fc := range cfgs {
		interval := time.Duration(fc.RequestIntervalMS) * time.Millisecond
		switch fc.Kind {
		case "json":
			feeds = append(feeds, newJSONFeed(fc, newFetcher(interval), log))
		case "html":
			feeds = append(feeds, newHTMLFeed(fc, newFetcher(interval), log))
		default:
			return nil, fmt.Errorf("unknown feed kind %q for feed %q", fc.Kind, fc.Name)
		}
	}
	return feeds, nil
}

// FetchAll fetches every feed concurrently and returns the combined job list.
// A failing feed is logged and skipped; one broken source must not starve the
// others. Invalid job records are dropped at this boundary.
func FetchAll(ctx context.Context, feeds []Feed, log zerolog.Logger) []types.Job {
	var (
		mu   sync.Mutex
		jobs []types.Job
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			fetched, err := feed.Fetch(ctx)
			if err != nil {
				log.Warn().Err(err).Str("feed", feed.Name()).Msg("feed fetch failed")
				return nil
			}

			kept := normalize(fetched, feed.Name(), log)
			mu.Lock()
			jobs = append(jobs, kept...)
			mu.Unlock()

			log.Info().Str("feed", feed.Name()).Int("jobs", len(kept)).Msg("feed fetched")
			return nil
		})
	}
	_ = g.Wait() // individual errors already handled

	return jobs
}

// normalize stamps the source name, backfills content-derived ids, and drops
// records that fail validation.
func normalize(jobs []types.Job, source string, log zerolog.Logger) []types.Job {
	kept := jobs[:0]
	for _, job := range jobs {
		job.Source = source
		if job.ID == "" {
			job.ID = fingerprint.ContentID(job.Title, job.Company)
		}
		if err := job.Validate(); err != nil {
			log.Warn().Err(err).Str("feed", source).Str("title", job.Title).Msg("dropping invalid job record")
			continue
		}
		kept = append(kept, job)
	}
	return kept
}
