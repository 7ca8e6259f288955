package ledger

import (
	"time"

	"github.com/jonathan/jobdigest/internal/fingerprint"
	"github.com/jonathan/jobdigest/internal/types"
)

// Outcome tags one branch of the delivery decision cascade. The cascade is an
// ordered table rather than nested conditionals so each branch stays auditable
// and testable on its own.
type Outcome int

const (
	// OutcomeNetNew means the job has no recorded instances anywhere.
	OutcomeNetNew Outcome = iota
	// OutcomeActiveDuplicate means an instance is still inside the active window.
	OutcomeActiveDuplicate
	// OutcomeReopened means all instances are archived and the feed reports a
	// source date inside the reopening window.
	OutcomeReopened
	// OutcomeStaleRepost means the feed reports a source date older than the
	// reopening window: republished stale data, not a reopening.
	OutcomeStaleRepost
	// OutcomeAssumedReopened means no source date is available but the oldest
	// instance is old enough that a reopening is plausible.
	OutcomeAssumedReopened
	// OutcomeDuplicate is the fail-closed default.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNetNew:
		return "net-new"
	case OutcomeActiveDuplicate:
		return "active-duplicate"
	case OutcomeReopened:
		return "reopened"
	case OutcomeStaleRepost:
		return "stale-repost"
	case OutcomeAssumedReopened:
		return "assumed-reopened"
	default:
		return "duplicate"
	}
}

// Decision is the result of ShouldDeliver.
type Decision struct {
	Outcome Outcome

	// JobID is the identifier the decision resolved to. It differs from the
	// job's primary id when the lookup fell back to the content-derived scheme.
	JobID string

	// InstanceNumber is the number the next instance would take if delivered.
	// Zero when delivery is denied.
	InstanceNumber int
}

// Deliver reports whether the decision allows delivery.
func (d Decision) Deliver() bool {
	switch d.Outcome {
	case OutcomeNetNew, OutcomeReopened, OutcomeAssumedReopened:
		return true
	}
	return false
}

// ShouldDeliver decides whether job should be (re)delivered at now.
//
// Feeds differ wildly in freshness-signal quality, so the cascade prefers
// false negatives (missing a genuine reopening) over false positives (spamming
// a still-open role), except where a fresh source date justifies confidence.
func (l *Ledger) ShouldDeliver(job types.Job, now time.Time) Decision {
	// Upstream identifiers drift between URL-derived and content-hash schemes;
	// retry the lookup once under the content-derived id before concluding the
	// job is new.
	jobID := job.ID
	matches := l.instancesFor(jobID)
	if len(matches) == 0 && !fingerprint.IsContentID(jobID) {
		if alt := fingerprint.ContentID(job.Title, job.Company); alt != jobID {
			if altMatches := l.instancesFor(alt); len(altMatches) > 0 {
				jobID = alt
				matches = altMatches
			}
		}
	}

	if len(matches) == 0 {
		return Decision{Outcome: OutcomeNetNew, JobID: jobID, InstanceNumber: 1}
	}

	for _, inst := range matches {
		if now.Sub(inst.PostedAt) <= l.cfg.ActiveWindow {
			return Decision{Outcome: OutcomeActiveDuplicate, JobID: jobID}
		}
	}

	// All matches are archived. Anchor the staleness checks on the earliest
	// instance, preferring its self-reported source date over our wall clock.
	earliest := earliestReference(matches)
	if age := now.Sub(earliest); age > l.cfg.ActiveWindow {
		// Too stale to resurrect through the normal freshness path. A fresh
		// source date can still override below, so only note it.
		l.log.Debug().
			Str("jobId", jobID).
			Dur("age", age).
			Msg("all instances past the staleness ceiling")
	}

	next := maxInstanceNumber(matches) + 1

	if job.SourceDate != nil {
		if now.Sub(*job.SourceDate) <= l.cfg.ReopenWindow {
			return Decision{Outcome: OutcomeReopened, JobID: jobID, InstanceNumber: next}
		}
		return Decision{Outcome: OutcomeStaleRepost, JobID: jobID}
	}

	// No freshness signal at all. If the history is old enough, assume enough
	// time has passed that this is plausibly a reopening. Tunable default, no
	// strong signal behind it.
	if now.Sub(earliest) > l.cfg.AssumeReopenedAfter {
		return Decision{Outcome: OutcomeAssumedReopened, JobID: jobID, InstanceNumber: next}
	}

	return Decision{Outcome: OutcomeDuplicate, JobID: jobID}
}

// earliestReference returns the earliest reference date across instances,
// taking each instance's source date when present and its postedAt otherwise.
func earliestReference(instances []*PostingInstance) time.Time {
	var earliest time.Time
	for i, inst := range instances {
		ref := inst.PostedAt
		if inst.SourceDate != nil {
			ref = *inst.SourceDate
		}
		if i == 0 || ref.Before(earliest) {
			earliest = ref
		}
	}
	return earliest
}

func maxInstanceNumber(instances []*PostingInstance) int {
	max := 0
	for _, inst := range instances {
		if inst.InstanceNumber > max {
			max = inst.InstanceNumber
		}
	}
	return max
}
