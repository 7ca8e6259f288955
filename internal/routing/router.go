// Package routing assigns delivery channels to jobs via keyword/regex rules.
// Channel identifiers are opaque to the rest of the pipeline.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/types"
)

// Target is one delivery destination for a job.
type Target struct {
	ChannelID string
	// Kind labels the channel class; recorded verbatim on delivery entries.
	Kind string
}

type rule struct {
	pattern  *regexp.Regexp
	channels []string
	kind     string
}

// Router matches jobs against an ordered rule list.
type Router struct {
	rules          []rule
	defaultChannel string
}

// New compiles the configured rules into a router.
func New(cfgs []config.RuleConfig, defaultChannel string) (*Router, error) {
	r := &Router{defaultChannel: defaultChannel}
	for i, rc := range cfgs {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: invalid pattern %q: %w", i, rc.Pattern, err)
		}
		r.rules = append(r.rules, rule{pattern: re, channels: rc.Channels, kind: rc.Kind})
	}
	return r, nil
}

// Targets returns the delivery targets for job, deduplicated across rules in
// rule order. A job matching nothing goes to the default channel, or nowhere
// when none is configured.
func (r *Router) Targets(job types.Job) []Target {
	haystack := strings.ToLower(job.Title + " " + job.Location)

	var targets []Target
	seen := make(map[string]bool)
	for _, rule := range r.rules {
		if !rule.pattern.MatchString(haystack) {
			continue
		}
		for _, ch := range rule.channels {
			if seen[ch] {
				continue
			}
			seen[ch] = true
			targets = append(targets, Target{ChannelID: ch, Kind: rule.kind})
		}
	}

	if len(targets) == 0 && r.defaultChannel != "" {
		targets = append(targets, Target{ChannelID: r.defaultChannel, Kind: "default"})
	}
	return targets
}
