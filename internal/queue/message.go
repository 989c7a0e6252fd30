package queue

import (
	"context"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type JobKind string

const (
	JobIngest  JobKind = "ingest"
	JobExtract JobKind = "extract"
	JobRelate  JobKind = "relate"
	JobRepair  JobKind = "repair"
)

// Extraction sources for extract jobs.
const (
	SourceModel = "model"
	SourceRules = "rules"
)

// JobMsg is the body of every queued job. Fields not used by a kind are
// left empty.
type JobMsg struct {
	JobID string  `json:"job_id"`
	Kind  JobKind `json:"kind"`

	// ingest
	Agency    string `json:"agency,omitempty"`
	BundleKey string `json:"bundle_key,omitempty"`
	Replace   bool   `json:"replace,omitempty"`
	// DeleteAfter removes the bundle objects once their reports are stored.
	DeleteAfter bool `json:"delete_after,omitempty"`

	// extract and relate
	Sections []string `json:"sections,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// QueueFor maps a job kind to its queue.
func QueueFor(kind JobKind) (string, error) {
	switch kind {
	case JobIngest:
		return IngestQueue, nil
	case JobExtract:
		return ExtractQueue, nil
	case JobRelate:
		return RelateQueue, nil
	case JobRepair:
		return RepairQueue, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}

// Submit assigns a job id when missing and publishes msg to the queue of
// its kind. It returns the job id.
func Submit(ctx context.Context, ch Publisher, msg JobMsg) (string, error) {
	queueName, err := QueueFor(msg.Kind)
	if err != nil {
		return "", err
	}
	if msg.JobID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		msg.JobID = id
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := PublishFIFO(ctx, ch, queueName, data, nil); err != nil {
		return "", fmt.Errorf("publish %s job: %w", msg.Kind, err)
	}
	return msg.JobID, nil
}
