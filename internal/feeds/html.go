package feeds

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/types"
)

// htmlFeed scrapes postings from a job-board listing page using configured
// CSS selectors. Boards rarely expose reliable posting dates on listing
// pages, so HTML feeds emit no source date.
type htmlFeed struct {
	cfg     config.FeedConfig
	fetcher *fetcher
	log     zerolog.Logger
}

func newHTMLFeed(cfg config.FeedConfig, f *fetcher, log zerolog.Logger) *htmlFeed {
	return &htmlFeed{cfg: cfg, fetcher: f, log: log}
}

func (f *htmlFeed) Name() string { return f.cfg.Name }

func (f *htmlFeed) Fetch(ctx context.Context) ([]types.Job, error) {
	var html string
	if f.cfg.UseBrowser {
		rendered, err := renderWithBrowser(ctx, f.cfg.URL)
		if err != nil {
			return nil, &Error{URL: f.cfg.URL, Message: "browser rendering failed", Cause: err}
		}
		html = rendered
	} else {
		body, err := f.fetcher.get(ctx, f.cfg.URL)
		if err != nil {
			return nil, err
		}
		html = string(body)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("feed %s returned unparsable HTML: %w", f.cfg.Name, err)
	}

	var jobs []types.Job
	doc.Find(f.cfg.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		job := types.Job{
			Title:    textOf(item, f.cfg.TitleSelector),
			Company:  textOf(item, f.cfg.CompanySelector),
			Location: textOf(item, f.cfg.LocationSelector),
			URL:      f.resolveLink(item),
		}
		jobs = append(jobs, job)
	})

	return jobs, nil
}

// textOf extracts trimmed text from the first selector match within item.
// An empty selector falls back to the item's own text.
func textOf(item *goquery.Selection, selector string) string {
	if selector == "" {
		return strings.TrimSpace(item.Text())
	}
	return strings.TrimSpace(item.Find(selector).First().Text())
}

// resolveLink extracts the posting link and resolves it against the feed URL.
func (f *htmlFeed) resolveLink(item *goquery.Selection) string {
	sel := item
	if f.cfg.LinkSelector != "" {
		sel = item.Find(f.cfg.LinkSelector).First()
	}
	href, ok := sel.Attr("href")
	if !ok {
		return ""
	}

	base, err := url.Parse(f.cfg.URL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
