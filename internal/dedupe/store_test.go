package dedupe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seen.json")
	return Load(path, ttl, zerolog.Nop())
}

func TestCheckAndMark_Idempotent(t *testing.T) {
	s := newTestStore(t, 7*day)
	now := time.Now()

	assert.Equal(t, NetNew, s.CheckAndMark("j1", "fp1", now))
	assert.Equal(t, Duplicate, s.CheckAndMark("j1", "fp1", now.Add(time.Minute)))
	assert.Equal(t, 2, s.Len(), "second call must not create new entries")
}

func TestCheckAndMark_EitherKeyMatches(t *testing.T) {
	s := newTestStore(t, 7*day)
	now := time.Now()

	s.CheckAndMark("j1", "fp1", now)

	// Same fingerprint under a drifted upstream id is still a duplicate.
	assert.Equal(t, Duplicate, s.CheckAndMark("j1-drifted", "fp1", now))
	// Same id with changed content is still a duplicate.
	assert.Equal(t, Duplicate, s.CheckAndMark("j1", "fp1-changed", now))
}

func TestEvictExpired_SlidingTTL(t *testing.T) {
	ttl := 7 * day
	s := newTestStore(t, ttl)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.CheckAndMark("j1", "fp1", t0)

	// Re-checked just before expiry: refreshed, so it survives past the
	// original deadline.
	assert.Equal(t, Duplicate, s.CheckAndMark("j1", "fp1", t0.Add(ttl-time.Hour)))
	s.EvictExpired(t0.Add(2*ttl - 2*time.Hour))
	assert.True(t, s.Seen("j1", "fp1"))

	// Never re-checked again: evicted one TTL after the refresh.
	s.EvictExpired(t0.Add(2*ttl + time.Hour))
	assert.False(t, s.Seen("j1", "fp1"))
}

func TestEvictExpired_RemovesOnlyStaleKeys(t *testing.T) {
	s := newTestStore(t, 7*day)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	s.CheckAndMark("old", "fp-old", t0)
	s.CheckAndMark("new", "fp-new", t0.Add(5*day))

	evicted := s.EvictExpired(t0.Add(8 * day))
	assert.Equal(t, 2, evicted)
	assert.False(t, s.Seen("old", "fp-old"))
	assert.True(t, s.Seen("new", "fp-new"))
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	now := time.Now()

	s := Load(path, 7*day, zerolog.Nop())
	s.CheckAndMark("j1", "fp1", now)
	s.CheckAndMark("j2", "fp2", now)
	require.NoError(t, s.Save(now))

	reloaded := Load(path, 7*day, zerolog.Nop())
	assert.Equal(t, 4, reloaded.Len())
	assert.Equal(t, Duplicate, reloaded.CheckAndMark("j1", "fp1", now))
}

func TestLoad_CorruptFileFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	s := Load(path, 7*day, zerolog.Nop())
	assert.Equal(t, 0, s.Len())

	// The store stays usable and can persist over the corrupt file.
	s.CheckAndMark("j1", "fp1", time.Now())
	require.NoError(t, s.Save(time.Now()))
	assert.Equal(t, 2, Load(path, 7*day, zerolog.Nop()).Len())
}
