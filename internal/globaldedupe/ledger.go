// Package globaldedupe implements the cross-consumer delivery ledger: a
// single-purpose TTL store keyed by content fingerprint, used as a last-resort
// duplicate guard when several consumers share one delivery surface.
//
// Unlike the rolling dedupe store, expiry here is strict: checking an entry
// never refreshes it.
package globaldedupe

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/storage"
)

const documentVersion = 1

// documentSchema guards against shape drift in the global ledger file.
const documentSchema = `{
  "type": "object",
  "required": ["version", "fingerprints"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "fingerprints": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["jobId", "postedAt"],
        "properties": {
          "jobId": {"type": "string"},
          "sourceRepo": {"type": "string"},
          "channelId": {"type": "string"},
          "deliveryRef": {"type": "string"},
          "postedAt": {"type": "string"}
        }
      }
    }
  }
}`

// Entry records one cross-consumer delivery.
type Entry struct {
	JobID       string    `json:"jobId"`
	SourceRepo  string    `json:"sourceRepo,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	DeliveryRef string    `json:"deliveryRef,omitempty"`
	PostedAt    time.Time `json:"postedAt"`
}

type document struct {
	Version      int              `json:"version"`
	Fingerprints map[string]Entry `json:"fingerprints"`
}

// Ledger is the global delivery ledger.
type Ledger struct {
	path         string
	ttl          time.Duration
	fingerprints map[string]Entry
	log          zerolog.Logger
}

// Load reads the ledger from path. Missing or corrupt files yield an empty
// ledger with a warning; this store is a safety net, not the source of truth.
func Load(path string, ttl time.Duration, log zerolog.Logger) *Ledger {
	l := &Ledger{
		path:         path,
		ttl:          ttl,
		fingerprints: make(map[string]Entry),
		log:          log,
	}

	var doc document
	if err := storage.ReadValidatedJSON(path, documentSchema, &doc); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("global delivery ledger unreadable, starting empty")
		}
		return l
	}
	if doc.Fingerprints != nil {
		l.fingerprints = doc.Fingerprints
	}
	return l
}

// HasBeenDelivered reports whether fp was delivered within the TTL as of now.
// The check does not refresh the entry.
func (l *Ledger) HasBeenDelivered(fp string, now time.Time) bool {
	entry, ok := l.fingerprints[fp]
	if !ok {
		return false
	}
	return now.Sub(entry.PostedAt) <= l.ttl
}

// MarkDelivered records a delivery of fp at now, overwriting any prior entry.
func (l *Ledger) MarkDelivered(fp, jobID, sourceRepo, channelID, deliveryRef string, now time.Time) {
	l.fingerprints[fp] = Entry{
		JobID:       jobID,
		SourceRepo:  sourceRepo,
		ChannelID:   channelID,
		DeliveryRef: deliveryRef,
		PostedAt:    now,
	}
}

// PruneExpired drops entries older than the TTL and returns how many were
// removed.
func (l *Ledger) PruneExpired(now time.Time) int {
	pruned := 0
	for fp, entry := range l.fingerprints {
		if now.Sub(entry.PostedAt) > l.ttl {
			delete(l.fingerprints, fp)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of tracked fingerprints.
func (l *Ledger) Len() int {
	return len(l.fingerprints)
}

// Save persists the ledger atomically.
func (l *Ledger) Save() error {
	doc := document{
		Version:      documentVersion,
		Fingerprints: l.fingerprints,
	}
	return storage.WriteJSONAtomic(l.path, doc)
}
