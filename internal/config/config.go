// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FeedConfig describes one upstream source of job postings.
type FeedConfig struct {
	Name string `json:"name"`
	// Kind is "json" for API feeds or "html" for scraped boards.
	Kind string `json:"kind"`
	URL  string `json:"url"`
	// Pages is how many pages to request from a paginated feed (default 1).
	Pages int `json:"pages,omitempty"`
	// RequestIntervalMS is the minimum delay between requests to this source.
	RequestIntervalMS int `json:"request_interval_ms,omitempty"`
	// UseBrowser renders the page in a headless browser before scraping;
	// needed for JS-rendered boards.
	UseBrowser bool `json:"use_browser,omitempty"`

	// Selectors configure HTML feeds. Ignored for JSON feeds.
	ItemSelector     string `json:"item_selector,omitempty"`
	TitleSelector    string `json:"title_selector,omitempty"`
	CompanySelector  string `json:"company_selector,omitempty"`
	LocationSelector string `json:"location_selector,omitempty"`
	LinkSelector     string `json:"link_selector,omitempty"`
}

// RuleConfig maps a keyword/regex pattern to delivery channels.
type RuleConfig struct {
	Pattern  string   `json:"pattern"`
	Channels []string `json:"channels"`
	// Kind labels the channel class (e.g. "topic", "firehose") and is stored
	// verbatim on delivery records.
	Kind string `json:"kind,omitempty"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Paths
	DataDir string `json:"data_dir,omitempty"` // Directory holding all persisted stores

	// Windows
	DedupeTTLDays             int `json:"dedupe_ttl_days,omitempty"`              // Rolling dedupe store TTL
	ActiveWindowDays          int `json:"active_window_days,omitempty"`           // Live-duplicate window for the posting ledger
	ReopenWindowDays          int `json:"reopen_window_days,omitempty"`           // Max age of a source date that still counts as reopening
	AssumeReopenedAfterMonths int `json:"assume_reopened_after_months,omitempty"` // No-source-date reopening fallback horizon
	GlobalTTLDays             int `json:"global_ttl_days,omitempty"`              // Cross-consumer delivery ledger TTL

	// Delivery
	WebhookURL     string `json:"webhook_url,omitempty"`     // Delivery endpoint; returns a message id per post
	DefaultChannel string `json:"default_channel,omitempty"` // Channel for jobs matching no routing rule; empty skips them
	SourceRepo     string `json:"source_repo,omitempty"`     // Identifier recorded in the global delivery ledger

	// Behavior
	Schedule string `json:"schedule,omitempty"` // Cron expression for serve mode
	Verbose  bool   `json:"verbose,omitempty"`  // Print detailed debug information

	Feeds []FeedConfig `json:"feeds,omitempty"`
	Rules []RuleConfig `json:"rules,omitempty"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		DataDir:                   "data",
		DedupeTTLDays:             14,
		ActiveWindowDays:          7,
		ReopenWindowDays:          7,
		AssumeReopenedAfterMonths: 3,
		GlobalTTLDays:             14,
		Schedule:                  "0 */6 * * *",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.DedupeTTLDays < 0 {
		return fmt.Errorf("config error: 'dedupe_ttl_days' must be non-negative")
	}
	if c.ActiveWindowDays < 0 {
		return fmt.Errorf("config error: 'active_window_days' must be non-negative")
	}
	if c.ReopenWindowDays < 0 {
		return fmt.Errorf("config error: 'reopen_window_days' must be non-negative")
	}
	if c.GlobalTTLDays < 0 {
		return fmt.Errorf("config error: 'global_ttl_days' must be non-negative")
	}

	for i, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("config error: feeds[%d] has no name", i)
		}
		if feed.Kind != "json" && feed.Kind != "html" {
			return fmt.Errorf("config error: feed %q has unknown kind %q (want \"json\" or \"html\")", feed.Name, feed.Kind)
		}
		if feed.URL == "" {
			return fmt.Errorf("config error: feed %q has no url", feed.Name)
		}
		if feed.Kind == "html" && feed.ItemSelector == "" {
			return fmt.Errorf("config error: html feed %q needs an item_selector", feed.Name)
		}
	}

	for i, rule := range c.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("config error: rules[%d] has no pattern", i)
		}
		if len(rule.Channels) == 0 {
			return fmt.Errorf("config error: rules[%d] has no channels", i)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.WebhookURL == "" {
		result.WebhookURL = defaults.WebhookURL
	}
	if result.DefaultChannel == "" {
		result.DefaultChannel = defaults.DefaultChannel
	}
	if result.SourceRepo == "" {
		result.SourceRepo = defaults.SourceRepo
	}
	if result.Schedule == "" {
		result.Schedule = defaults.Schedule
	}

	// Int fields: use default if zero
	if result.DedupeTTLDays == 0 {
		result.DedupeTTLDays = defaults.DedupeTTLDays
	}
	if result.ActiveWindowDays == 0 {
		result.ActiveWindowDays = defaults.ActiveWindowDays
	}
	if result.ReopenWindowDays == 0 {
		result.ReopenWindowDays = defaults.ReopenWindowDays
	}
	if result.AssumeReopenedAfterMonths == 0 {
		result.AssumeReopenedAfterMonths = defaults.AssumeReopenedAfterMonths
	}
	if result.GlobalTTLDays == 0 {
		result.GlobalTTLDays = defaults.GlobalTTLDays
	}

	if len(result.Feeds) == 0 {
		result.Feeds = defaults.Feeds
	}
	if len(result.Rules) == 0 {
		result.Rules = defaults.Rules
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv fills unset fields from environment variables.
func (c *Config) ApplyEnv() {
	if c.WebhookURL == "" {
		c.WebhookURL = os.Getenv("JOBDIGEST_WEBHOOK_URL")
	}
	if c.DataDir == "" {
		c.DataDir = os.Getenv("JOBDIGEST_DATA_DIR")
	}
	if c.SourceRepo == "" {
		c.SourceRepo = os.Getenv("JOBDIGEST_SOURCE_REPO")
	}
}

// DedupeStorePath returns the rolling dedupe store file path.
func (c *Config) DedupeStorePath() string {
	return filepath.Join(c.DataDir, "seen.json")
}

// LedgerPath returns the posting ledger file path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.json")
}

// ArchiveDir returns the directory holding monthly archive files.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// GlobalLedgerPath returns the cross-consumer delivery ledger file path.
func (c *Config) GlobalLedgerPath() string {
	return filepath.Join(c.DataDir, "global-deliveries.json")
}
