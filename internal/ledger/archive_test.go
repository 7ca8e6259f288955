package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobdigest/internal/storage"
	"github.com/jonathan/jobdigest/internal/types"
)

func TestSave_ArchivesExpiredInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	archiveDir := filepath.Join(dir, "archive")
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	l, err := Load(path, archiveDir, testCfg, zerolog.Nop())
	require.NoError(t, err)

	oldJob := types.Job{ID: "j-old", Title: "Old Role", Company: "Acme"}
	freshJob := types.Job{ID: "j-fresh", Title: "Fresh Role", Company: "Acme"}
	_, err = l.RecordDelivery(oldJob, "tech", "topic", "msg-1", 0, t0)
	require.NoError(t, err)
	_, err = l.RecordDelivery(freshJob, "tech", "topic", "msg-2", 0, t0.Add(8*day))
	require.NoError(t, err)

	require.NoError(t, l.Save(t0.Add(10*day)))

	// The expired instance is in exactly one monthly archive and gone from
	// the active ledger; the fresh one stays active and unarchived.
	assert.Equal(t, 1, l.ActiveCount())
	assert.Equal(t, "j-fresh", l.ActiveInstances()[0].JobID)

	var archived []*PostingInstance
	require.NoError(t, storage.ReadJSON(filepath.Join(archiveDir, "2026-05.json"), &archived))
	require.Len(t, archived, 1)
	assert.Equal(t, "j-old", archived[0].JobID)

	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSave_PartitionsArchivesByMonth(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(filepath.Join(dir, "ledger.json"), filepath.Join(dir, "archive"), testCfg, zerolog.Nop())
	require.NoError(t, err)

	april := time.Date(2026, 4, 28, 12, 0, 0, 0, time.UTC)
	may := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	_, err = l.RecordDelivery(types.Job{ID: "j-apr", Title: "A", Company: "Acme"}, "tech", "topic", "m1", 0, april)
	require.NoError(t, err)
	_, err = l.RecordDelivery(types.Job{ID: "j-may", Title: "B", Company: "Acme"}, "tech", "topic", "m2", 0, may)
	require.NoError(t, err)

	require.NoError(t, l.Save(may.Add(30*day)))

	var aprArchived, mayArchived []*PostingInstance
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, "archive", "2026-04.json"), &aprArchived))
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, "archive", "2026-05.json"), &mayArchived))
	assert.Len(t, aprArchived, 1)
	assert.Len(t, mayArchived, 1)
	assert.Equal(t, "j-apr", aprArchived[0].JobID)
	assert.Equal(t, "j-may", mayArchived[0].JobID)
}

func TestSave_ArchiveUnionNeverDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	archiveDir := filepath.Join(dir, "archive")
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Two independent views hold the same expired instance; both save.
	a, err := Load(path, archiveDir, testCfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = a.RecordDelivery(types.Job{ID: "j1", Title: "A", Company: "Acme"}, "tech", "topic", "m1", 0, t0)
	require.NoError(t, err)
	require.NoError(t, a.Save(t0))

	b, err := Load(path, archiveDir, testCfg, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, a.Save(t0.Add(10*day)))
	require.NoError(t, b.Save(t0.Add(10*day)))

	var archived []*PostingInstance
	require.NoError(t, storage.ReadJSON(filepath.Join(archiveDir, "2026-05.json"), &archived))
	assert.Len(t, archived, 1, "same instanceId must not be archived twice")
}

func TestArchiveFiles_SortedByPostedAt(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(filepath.Join(dir, "ledger.json"), filepath.Join(dir, "archive"), testCfg, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"j-c", "j-a", "j-b"} {
		// Recorded out of postedAt order on purpose.
		at := base.Add(time.Duration(2-i) * day)
		_, err = l.RecordDelivery(types.Job{ID: id, Title: id, Company: "Acme"}, "tech", "topic", "m", 0, at)
		require.NoError(t, err)
	}
	require.NoError(t, l.Save(base.Add(30*day)))

	var archived []*PostingInstance
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, "archive", "2026-05.json"), &archived))
	require.Len(t, archived, 3)
	for i := 1; i < len(archived); i++ {
		assert.False(t, archived[i].PostedAt.Before(archived[i-1].PostedAt))
	}
}

func TestEnsureArchiveIndex_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(archiveDir, 0o755))

	good := []*PostingInstance{{
		InstanceID:     "j1:2026-03-01:1",
		JobID:          "j1",
		PostedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		InstanceNumber: 1,
		ChannelDeliveries: map[string]ChannelDelivery{
			"tech": {DeliveryRef: "m1", DeliveredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ChannelSequence: 1},
		},
	}}
	require.NoError(t, storage.WriteJSONAtomic(filepath.Join(archiveDir, "2026-03.json"), good))
	require.NoError(t, os.WriteFile(filepath.Join(archiveDir, "2026-04.json"), []byte("{corrupt"), 0o644))

	l, err := Load(filepath.Join(dir, "ledger.json"), archiveDir, testCfg, zerolog.Nop())
	require.NoError(t, err)

	// Reconstruction survives the corrupt month and still counts the good one.
	assert.Equal(t, 2, l.NextChannelSequence("tech"))

	// Archived history from the readable month still drives decisions.
	dec := l.ShouldDeliver(types.Job{ID: "j1", Title: "X", Company: "Acme"}, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, OutcomeAssumedReopened, dec.Outcome)
}
