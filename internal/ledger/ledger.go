package ledger

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/fingerprint"
	"github.com/jonathan/jobdigest/internal/storage"
	"github.com/jonathan/jobdigest/internal/types"
)

// ErrVerificationFailed is returned by Save when the read-back after a write
// does not match what was intended to be written. Callers must treat it as
// fatal: the ledger is the sole source of truth for delivery history, and
// continuing with possibly-lost state would cause duplicate redeliveries.
var ErrVerificationFailed = errors.New("ledger write verification failed")

// ErrHandledToday is returned by RecordDelivery when the same job was already
// recorded earlier the same calendar day within this process. It guards
// against duplicate invocation inside one batch before the instance has been
// persisted.
var ErrHandledToday = errors.New("job already handled today")

// Config holds the ledger's time windows.
type Config struct {
	// ActiveWindow is how long a delivered instance counts as a live duplicate.
	ActiveWindow time.Duration
	// ReopenWindow bounds how old a reported source date may be to count as a
	// legitimate reopening.
	ReopenWindow time.Duration
	// AssumeReopenedAfter is the no-source-date fallback: history older than
	// this is assumed to plausibly be a reopening.
	AssumeReopenedAfter time.Duration
}

// Ledger is the posting-state manager. All operations are synchronous;
// concurrency safety against overlapping process invocations comes entirely
// from the merge-then-verify protocol in Save, not from locks.
type Ledger struct {
	path       string
	archiveDir string
	cfg        Config
	log        zerolog.Logger

	instances    map[string]*PostingInstance // by instanceId, active window only
	meta         Metadata
	handledToday map[string]string // jobId -> YYYY-MM-DD
	arch         *archiveIndex     // built once per process, lazily
}

// Load reads the active ledger from path. A missing file yields an empty
// ledger; a file that exists but cannot be parsed or has the wrong shape is an
// error, never silently replaced.
func Load(path, archiveDir string, cfg Config, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		path:         path,
		archiveDir:   archiveDir,
		cfg:          cfg,
		log:          log,
		instances:    make(map[string]*PostingInstance),
		meta:         Metadata{ChannelSequenceHighWaterMarks: make(map[string]int)},
		handledToday: make(map[string]string),
	}

	doc, err := readDocument(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to load posting ledger: %w", err)
	}

	for _, inst := range doc.Instances {
		if inst.ChannelDeliveries == nil {
			inst.ChannelDeliveries = make(map[string]ChannelDelivery)
		}
		l.instances[inst.InstanceID] = inst
	}
	if doc.Metadata.ChannelSequenceHighWaterMarks != nil {
		l.meta = doc.Metadata
	}
	return l, nil
}

func readDocument(path string) (*document, error) {
	var doc document
	if err := storage.ReadValidatedJSON(path, documentSchema, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ActiveCount returns the number of instances currently in the active window.
func (l *Ledger) ActiveCount() int {
	return len(l.instances)
}

// ActiveInstances returns the active instances sorted by postedAt.
func (l *Ledger) ActiveInstances() []*PostingInstance {
	return sortedInstances(l.instances)
}

// HighWaterMarks returns a copy of the per-channel sequence high-water marks.
func (l *Ledger) HighWaterMarks() map[string]int {
	out := make(map[string]int, len(l.meta.ChannelSequenceHighWaterMarks))
	for ch, n := range l.meta.ChannelSequenceHighWaterMarks {
		out[ch] = n
	}
	return out
}

// instancesFor returns every stored instance for jobID, active and archived.
func (l *Ledger) instancesFor(jobID string) []*PostingInstance {
	var matches []*PostingInstance
	for _, inst := range l.instances {
		if inst.JobID == jobID {
			matches = append(matches, inst)
		}
	}
	matches = append(matches, l.ensureArchiveIndex().byJob[jobID]...)
	return matches
}

// activeInstanceFor returns the instance for jobID still inside the active
// window, if any.
func (l *Ledger) activeInstanceFor(jobID string, now time.Time) *PostingInstance {
	for _, inst := range l.instances {
		if inst.JobID == jobID && now.Sub(inst.PostedAt) <= l.cfg.ActiveWindow {
			return inst
		}
	}
	return nil
}

// RecordDelivery records a delivery of job to channelID at now.
//
// It locates the job's active-window instance or creates one with the next
// instance number. When channelSequence is zero, the next value is taken from
// the channel counter. The delivery entry is inserted (or overwritten) under
// channelID on the instance.
func (l *Ledger) RecordDelivery(job types.Job, channelID, channelKind, deliveryRef string, channelSequence int, now time.Time) (*PostingInstance, error) {
	// Resolve identity the same way ShouldDeliver does: when the primary id
	// has no history at all, retry under the content-derived id, including
	// archived instances. Otherwise a reopening after id drift would start a
	// fresh history at instance #1 under the new id.
	jobID := job.ID
	if len(l.instancesFor(jobID)) == 0 && !fingerprint.IsContentID(jobID) {
		if alt := fingerprint.ContentID(job.Title, job.Company); alt != jobID {
			if len(l.instancesFor(alt)) > 0 {
				jobID = alt
			}
		}
	}
	inst := l.activeInstanceFor(jobID, now)

	today := now.UTC().Format("2006-01-02")
	if inst == nil {
		if l.handledToday[jobID] == today {
			return nil, fmt.Errorf("%w: %s", ErrHandledToday, jobID)
		}

		next := maxInstanceNumber(l.instancesFor(jobID)) + 1
		inst = &PostingInstance{
			InstanceID:        instanceID(jobID, now, next),
			JobID:             jobID,
			Company:           job.Company,
			Title:             job.Title,
			SourceURL:         job.URL,
			PostedAt:          now,
			SourceDate:        job.SourceDate,
			InstanceNumber:    next,
			ChannelDeliveries: make(map[string]ChannelDelivery),
		}
		l.instances[inst.InstanceID] = inst
	}
	l.handledToday[jobID] = today

	if channelSequence <= 0 {
		channelSequence = l.NextChannelSequence(channelID)
	} else {
		// A caller-supplied sequence must still raise the high-water mark, or
		// a later counter-issued number could fall below one already persisted.
		if l.meta.ChannelSequenceHighWaterMarks == nil {
			l.meta.ChannelSequenceHighWaterMarks = make(map[string]int)
		}
		if channelSequence > l.meta.ChannelSequenceHighWaterMarks[channelID] {
			l.meta.ChannelSequenceHighWaterMarks[channelID] = channelSequence
		}
	}

	inst.ChannelDeliveries[channelID] = ChannelDelivery{
		DeliveryRef:     deliveryRef,
		ChannelKind:     channelKind,
		DeliveredAt:     now,
		ChannelSequence: channelSequence,
	}

	l.log.Info().
		Str("jobId", jobID).
		Str("channel", channelID).
		Int("instance", inst.InstanceNumber).
		Int("sequence", channelSequence).
		Msg("delivery recorded")

	return inst, nil
}

// NextChannelSequence returns the next monotonic sequence number for a
// channel. The high-water mark persists independently of the instances that
// incremented it, so numbering survives archiving. When no mark is persisted
// yet, an initial value is reconstructed once by counting deliveries to the
// channel across the active ledger and all archive files.
func (l *Ledger) NextChannelSequence(channelID string) int {
	if l.meta.ChannelSequenceHighWaterMarks == nil {
		l.meta.ChannelSequenceHighWaterMarks = make(map[string]int)
	}

	if _, ok := l.meta.ChannelSequenceHighWaterMarks[channelID]; !ok {
		seed := l.ensureArchiveIndex().channelTotals[channelID]
		for _, inst := range l.instances {
			if _, delivered := inst.ChannelDeliveries[channelID]; delivered {
				seed++
			}
		}
		l.meta.ChannelSequenceHighWaterMarks[channelID] = seed
		if seed > 0 {
			l.log.Info().Str("channel", channelID).Int("seed", seed).Msg("reconstructed channel sequence high-water mark")
		}
	}

	l.meta.ChannelSequenceHighWaterMarks[channelID]++
	return l.meta.ChannelSequenceHighWaterMarks[channelID]
}

// Save persists the ledger using the optimistic merge-then-verify protocol:
//
//  1. Snapshot the in-memory instances.
//  2. Reload the on-disk ledger fresh; another invocation may have written it
//     since we loaded.
//  3. Merge, starting from the disk instances: in-memory instances are added
//     when absent, replace the disk copy when strictly newer, and deep-merge
//     channel deliveries when timestamps are equal, so concurrent writers
//     never drop each other's deliveries.
//  4. Archive instances that have left the active window.
//  5. Write atomically, then read the file back and verify the instance count.
//
// A verification mismatch returns ErrVerificationFailed and must abort the
// process.
func (l *Ledger) Save(now time.Time) error {
	mem := make(map[string]*PostingInstance, len(l.instances))
	for id, inst := range l.instances {
		mem[id] = inst.clone()
	}

	merged := make(map[string]*PostingInstance)
	diskMeta := Metadata{}
	if doc, err := readDocument(l.path); err == nil {
		for _, inst := range doc.Instances {
			if inst.ChannelDeliveries == nil {
				inst.ChannelDeliveries = make(map[string]ChannelDelivery)
			}
			merged[inst.InstanceID] = inst
		}
		diskMeta = doc.Metadata
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to reload ledger before save: %w", err)
	}

	for id, inst := range mem {
		onDisk, ok := merged[id]
		switch {
		case !ok:
			merged[id] = inst
		case inst.PostedAt.After(onDisk.PostedAt):
			merged[id] = inst
		case inst.PostedAt.Equal(onDisk.PostedAt):
			inst.mergeInto(onDisk)
		}
	}

	// Counters only ever move forward; take the max of both views per channel.
	if l.meta.ChannelSequenceHighWaterMarks == nil {
		l.meta.ChannelSequenceHighWaterMarks = make(map[string]int)
	}
	for ch, n := range diskMeta.ChannelSequenceHighWaterMarks {
		if n > l.meta.ChannelSequenceHighWaterMarks[ch] {
			l.meta.ChannelSequenceHighWaterMarks[ch] = n
		}
	}

	active, err := l.archiveExpired(merged, now)
	if err != nil {
		return err
	}
	l.instances = active

	doc := document{
		Version:     documentVersion,
		LastUpdated: now.UTC(),
		Instances:   sortedInstances(active),
		Metadata:    l.meta,
	}
	if err := storage.WriteJSONAtomic(l.path, doc); err != nil {
		return err
	}

	check, err := readDocument(l.path)
	if err != nil {
		return fmt.Errorf("%w: read-back failed: %v", ErrVerificationFailed, err)
	}
	if len(check.Instances) != len(doc.Instances) {
		return fmt.Errorf("%w: wrote %d instances, read back %d",
			ErrVerificationFailed, len(doc.Instances), len(check.Instances))
	}

	return nil
}

func sortedInstances(m map[string]*PostingInstance) []*PostingInstance {
	out := make([]*PostingInstance, 0, len(m))
	for _, inst := range m {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out
}
