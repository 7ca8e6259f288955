package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/jobdigest/internal/storage"
)

// archiveMonth returns the calendar-month partition key for a posting time.
func archiveMonth(postedAt time.Time) string {
	return postedAt.UTC().Format("2006-01")
}

func (l *Ledger) archivePath(month string) string {
	return filepath.Join(l.archiveDir, month+".json")
}

// archiveIndex caches everything the ledger needs from the archive files:
// archived instances per job (for reopening decisions) and per-channel
// delivery totals (for counter reconstruction). Archives are append-only and
// large, so they are scanned once per process lifetime, not per call.
type archiveIndex struct {
	byJob         map[string][]*PostingInstance
	channelTotals map[string]int
	seen          map[string]bool
}

func newArchiveIndex() *archiveIndex {
	return &archiveIndex{
		byJob:         make(map[string][]*PostingInstance),
		channelTotals: make(map[string]int),
		seen:          make(map[string]bool),
	}
}

func (a *archiveIndex) add(inst *PostingInstance) {
	if a.seen[inst.InstanceID] {
		return
	}
	a.seen[inst.InstanceID] = true
	a.byJob[inst.JobID] = append(a.byJob[inst.JobID], inst)
	for ch := range inst.ChannelDeliveries {
		a.channelTotals[ch]++
	}
}

// ensureArchiveIndex builds the archive index on first use. A corrupt archive
// file is skipped with a warning rather than aborting the scan; losing one
// month from the index risks an inflated instance number or a low counter
// seed, both recoverable, while aborting would stall the whole pipeline.
func (l *Ledger) ensureArchiveIndex() *archiveIndex {
	if l.arch != nil {
		return l.arch
	}
	l.arch = newArchiveIndex()

	entries, err := os.ReadDir(l.archiveDir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Str("dir", l.archiveDir).Msg("archive directory unreadable")
		}
		return l.arch
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var instances []*PostingInstance
		if err := storage.ReadJSON(filepath.Join(l.archiveDir, name), &instances); err != nil {
			l.log.Warn().Err(err).Str("file", name).Msg("skipping corrupt archive file")
			continue
		}
		for _, inst := range instances {
			l.arch.add(inst)
		}
	}

	return l.arch
}

// archiveExpired partitions merged instances into still-active and expired,
// merges the expired ones into their monthly archive files, and returns the
// remaining active set. Archive files are unioned by instanceId and kept
// sorted by postedAt.
func (l *Ledger) archiveExpired(merged map[string]*PostingInstance, now time.Time) (map[string]*PostingInstance, error) {
	active := make(map[string]*PostingInstance, len(merged))
	byMonth := make(map[string][]*PostingInstance)

	for id, inst := range merged {
		if now.Sub(inst.PostedAt) <= l.cfg.ActiveWindow {
			active[id] = inst
			continue
		}
		month := archiveMonth(inst.PostedAt)
		byMonth[month] = append(byMonth[month], inst)
	}

	for month, expired := range byMonth {
		if err := l.mergeIntoArchive(month, expired); err != nil {
			return nil, err
		}
	}

	return active, nil
}

// mergeIntoArchive unions expired instances into one monthly archive file and
// rewrites it atomically. Archives are permanent: an existing file that cannot
// be read is an error here, since rewriting over it would destroy history.
func (l *Ledger) mergeIntoArchive(month string, expired []*PostingInstance) error {
	path := l.archivePath(month)

	var existing []*PostingInstance
	if err := storage.ReadJSON(path, &existing); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot merge into archive %s: %w", month, err)
	}

	byID := make(map[string]*PostingInstance, len(existing)+len(expired))
	for _, inst := range existing {
		byID[inst.InstanceID] = inst
	}
	for _, inst := range expired {
		if prior, ok := byID[inst.InstanceID]; ok {
			inst.mergeInto(prior)
		} else {
			byID[inst.InstanceID] = inst
		}
	}

	out := make([]*PostingInstance, 0, len(byID))
	for _, inst := range byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})

	if err := storage.WriteJSONAtomic(path, out); err != nil {
		return err
	}

	// Keep the cached index consistent so counter reconstruction and
	// reopening lookups later in this process still see these instances.
	if l.arch != nil {
		for _, inst := range out {
			l.arch.add(inst)
		}
	}

	l.log.Info().Str("month", month).Int("archived", len(expired)).Int("total", len(out)).Msg("archive updated")
	return nil
}
