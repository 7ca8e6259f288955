// Package dedupe implements the rolling-window duplicate store.
//
// The store answers "have I seen this job recently?" while bounding memory via
// time-based eviction. Two parallel key spaces are kept: one keyed by upstream
// job identifier and one keyed by content fingerprint, because upstream
// identifiers are not always stable. A hit in either space means duplicate.
package dedupe

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/storage"
)

// Verdict is the result of a CheckAndMark call.
type Verdict int

const (
	// NetNew means neither the id nor the fingerprint was known; both are now recorded.
	NetNew Verdict = iota
	// Duplicate means at least one key was already present within the TTL window.
	Duplicate
)

func (v Verdict) String() string {
	if v == Duplicate {
		return "duplicate"
	}
	return "net-new"
}

// document is the persisted shape of the store.
type document struct {
	IDs          map[string]int64 `json:"ids"`
	Fingerprints map[string]int64 `json:"fingerprints"`
	LastUpdated  time.Time        `json:"lastUpdated"`
}

// Store tracks recently seen job identifiers and fingerprints with per-entry
// timestamps.
//
// Expiry is sliding: a duplicate hit refreshes the matching entries, so a job
// the source keeps emitting never ages out. That is intentional — it keeps a
// still-open posting inside the active window instead of letting it starve out
// and resurface as new — but it also means a permanently-reposted job is never
// evicted. Known trade-off, not a bug.
type Store struct {
	path         string
	ttl          time.Duration
	ids          map[string]int64
	fingerprints map[string]int64
	log          zerolog.Logger
}

// Load reads the store from path. A missing file yields an empty store; a
// corrupt file logs a warning and also yields an empty store, since the worst
// outcome of rebuilding the rolling window is transient re-delivery.
func Load(path string, ttl time.Duration, log zerolog.Logger) *Store {
	s := &Store{
		path:         path,
		ttl:          ttl,
		ids:          make(map[string]int64),
		fingerprints: make(map[string]int64),
		log:          log,
	}

	var doc document
	if err := storage.ReadJSON(path, &doc); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("dedupe store unreadable, starting empty")
		}
		return s
	}

	if doc.IDs != nil {
		s.ids = doc.IDs
	}
	if doc.Fingerprints != nil {
		s.fingerprints = doc.Fingerprints
	}
	return s
}

// CheckAndMark records a sighting of (id, fp) at now.
//
// If either key is already present, the matching keys are refreshed to now and
// Duplicate is returned. Otherwise both keys are recorded at now and NetNew is
// returned.
func (s *Store) CheckAndMark(id, fp string, now time.Time) Verdict {
	ms := now.UnixMilli()

	_, idSeen := s.ids[id]
	_, fpSeen := s.fingerprints[fp]

	if idSeen || fpSeen {
		if idSeen {
			s.ids[id] = ms
		}
		if fpSeen {
			s.fingerprints[fp] = ms
		}
		return Duplicate
	}

	s.ids[id] = ms
	s.fingerprints[fp] = ms
	return NetNew
}

// Seen reports whether either key is currently present, without refreshing.
func (s *Store) Seen(id, fp string) bool {
	_, idSeen := s.ids[id]
	_, fpSeen := s.fingerprints[fp]
	return idSeen || fpSeen
}

// EvictExpired removes every entry older than the TTL relative to now and
// returns the number of evicted keys. Runs once per batch, before new
// candidates are processed.
func (s *Store) EvictExpired(now time.Time) int {
	cutoff := now.Add(-s.ttl).UnixMilli()
	evicted := 0

	for key, ts := range s.ids {
		if ts < cutoff {
			delete(s.ids, key)
			evicted++
		}
	}
	for key, ts := range s.fingerprints {
		if ts < cutoff {
			delete(s.fingerprints, key)
			evicted++
		}
	}

	if evicted > 0 {
		s.log.Debug().Int("evicted", evicted).Msg("dedupe store eviction")
	}
	return evicted
}

// Len returns the total number of tracked keys across both key spaces.
func (s *Store) Len() int {
	return len(s.ids) + len(s.fingerprints)
}

// Save persists the full key/timestamp maps atomically.
func (s *Store) Save(now time.Time) error {
	doc := document{
		IDs:          s.ids,
		Fingerprints: s.fingerprints,
		LastUpdated:  now.UTC(),
	}
	return storage.WriteJSONAtomic(s.path, doc)
}
