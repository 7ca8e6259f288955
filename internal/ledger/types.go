// Package ledger implements the posting ledger: the cross-run record of which
// jobs have been delivered where, with per-channel delivery tracking, monthly
// archiving, reopening detection, and merge-safe persistence across concurrent
// pipeline invocations.
package ledger

import (
	"fmt"
	"time"
)

// documentVersion is the current on-disk format version of the active ledger.
const documentVersion = 1

// ChannelDelivery records one delivery of an instance to one channel.
type ChannelDelivery struct {
	DeliveryRef     string    `json:"deliveryRef"`
	ChannelKind     string    `json:"channelKind,omitempty"`
	DeliveredAt     time.Time `json:"deliveredAt"`
	ChannelSequence int       `json:"channelSequenceNumber"`
}

// PostingInstance represents one (re)posting of a job. Instances are numbered
// sequentially per job, across both active and archived storage.
type PostingInstance struct {
	InstanceID        string                     `json:"instanceId"`
	JobID             string                     `json:"jobId"`
	Company           string                     `json:"company"`
	Title             string                     `json:"title"`
	SourceURL         string                     `json:"sourceUrl,omitempty"`
	PostedAt          time.Time                  `json:"postedAt"`
	SourceDate        *time.Time                 `json:"sourceDate,omitempty"`
	InstanceNumber    int                        `json:"instanceNumber"`
	ChannelDeliveries map[string]ChannelDelivery `json:"channelDeliveries"`
}

// clone returns a deep copy of the instance.
func (p *PostingInstance) clone() *PostingInstance {
	cp := *p
	cp.ChannelDeliveries = make(map[string]ChannelDelivery, len(p.ChannelDeliveries))
	for ch, d := range p.ChannelDeliveries {
		cp.ChannelDeliveries[ch] = d
	}
	if p.SourceDate != nil {
		sd := *p.SourceDate
		cp.SourceDate = &sd
	}
	return &cp
}

// mergeInto merges p into dst under union semantics: every delivery present on
// either copy survives. On a channel recorded by both, the later DeliveredAt
// wins.
func (p *PostingInstance) mergeInto(dst *PostingInstance) {
	for ch, d := range p.ChannelDeliveries {
		existing, ok := dst.ChannelDeliveries[ch]
		if !ok || d.DeliveredAt.After(existing.DeliveredAt) {
			dst.ChannelDeliveries[ch] = d
		}
	}
}

// Metadata holds ledger state that must survive archiving of the instances
// that produced it.
type Metadata struct {
	ChannelSequenceHighWaterMarks map[string]int `json:"channelSequenceHighWaterMarks"`
}

// document is the persisted shape of the active ledger file.
type document struct {
	Version     int                `json:"version"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Instances   []*PostingInstance `json:"instances"`
	Metadata    Metadata           `json:"metadata"`
}

// documentSchema guards against shape drift in the active ledger file.
// The ledger is the sole source of truth for delivery history, so a file that
// parses but has the wrong shape must not be silently accepted.
const documentSchema = `{
  "type": "object",
  "required": ["version", "instances"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "lastUpdated": {"type": "string"},
    "instances": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["instanceId", "jobId", "postedAt", "instanceNumber"],
        "properties": {
          "instanceId": {"type": "string", "minLength": 1},
          "jobId": {"type": "string", "minLength": 1},
          "company": {"type": "string"},
          "title": {"type": "string"},
          "sourceUrl": {"type": "string"},
          "postedAt": {"type": "string"},
          "sourceDate": {"type": "string"},
          "instanceNumber": {"type": "integer", "minimum": 1},
          "channelDeliveries": {"type": "object"}
        }
      }
    },
    "metadata": {
      "type": "object",
      "properties": {
        "channelSequenceHighWaterMarks": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

// instanceID derives the identifier for a new instance from the job id, the
// posting date, and the instance ordinal.
func instanceID(jobID string, postedAt time.Time, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", jobID, postedAt.UTC().Format("2006-01-02"), ordinal)
}
