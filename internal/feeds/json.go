package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/types"
)

// jsonRecord is the wire shape of one posting in a JSON API feed. Date fields
// vary across sources, so the posting date is accepted in a couple of formats.
type jsonRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	URL      string `json:"url"`
	Date     string `json:"date"`
}

// jsonFeed fetches postings from a paginated JSON API.
type jsonFeed struct {
	cfg     config.FeedConfig
	fetcher *fetcher
	log     zerolog.Logger
}

func newJSONFeed(cfg config.FeedConfig, f *fetcher, log zerolog.Logger) *jsonFeed {
	return &jsonFeed{cfg: cfg, fetcher: f, log: log}
}

func (f *jsonFeed) Name() string { return f.cfg.Name }

// Fetch retrieves all configured pages sequentially. Pages share the feed's
// rate limiter; a short page ends pagination early.
func (f *jsonFeed) Fetch(ctx context.Context) ([]types.Job, error) {
	pages := f.cfg.Pages
	if pages < 1 {
		pages = 1
	}

	var jobs []types.Job
	for page := 1; page <= pages; page++ {
		body, err := f.fetcher.get(ctx, f.pageURL(page))
		if err != nil {
			if page > 1 {
				// Keep what earlier pages returned.
				f.log.Warn().Err(err).Str("feed", f.cfg.Name).Int("page", page).Msg("page fetch failed")
				break
			}
			return nil, err
		}

		var records []jsonRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("feed %s returned invalid JSON: %w", f.cfg.Name, err)
		}

		for _, rec := range records {
			jobs = append(jobs, types.Job{
				ID:         rec.ID,
				Title:      rec.Title,
				Company:    rec.Company,
				Location:   rec.Location,
				URL:        rec.URL,
				SourceDate: parseSourceDate(rec.Date),
			})
		}

		if len(records) == 0 {
			break
		}
	}

	return jobs, nil
}

func (f *jsonFeed) pageURL(page int) string {
	if page == 1 {
		return f.cfg.URL
	}
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return f.cfg.URL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseSourceDate accepts the date formats seen across feeds. An unparsable
// or absent date yields nil; downstream treats that as "no freshness signal".
func parseSourceDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
