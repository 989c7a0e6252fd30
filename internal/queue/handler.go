package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/pipeline"
)

var ErrNoBundleStore = errors.New("ingest job needs a bundle store")

// BundleReader loads parsed report bundles for ingest jobs. A key ending in
// "/" names every bundle below that prefix.
type BundleReader interface {
	GetReportBundles(ctx context.Context, key string) ([]common.ReportInput, []string, error)
	DeleteFiles(ctx context.Context, keys []string) error
}

// Locker serializes jobs across worker processes.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// PipelineLockKey guards every job that writes to the store.
const PipelineLockKey = "compass:pipeline"

// Handler runs job messages against a pipeline.
type Handler struct {
	pipeline *pipeline.Pipeline
	bundles  BundleReader
	locker   Locker
}

// NewHandler wires a handler. bundles may be nil when no ingest jobs are
// expected.
func NewHandler(p *pipeline.Pipeline, bundles BundleReader) *Handler {
	return &Handler{pipeline: p, bundles: bundles}
}

// WithLocker makes every job hold PipelineLockKey while it runs.
func (h *Handler) WithLocker(l Locker) *Handler {
	h.locker = l
	return h
}

// Handle decodes body and runs the job of queueName.
func (h *Handler) Handle(ctx context.Context, queueName string, body []byte) error {
	var msg JobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}

	if h.locker == nil {
		return h.dispatch(ctx, queueName, msg)
	}
	return h.locker.WithLease(ctx, PipelineLockKey, func(ctx context.Context) error {
		return h.dispatch(ctx, queueName, msg)
	})
}

func (h *Handler) dispatch(ctx context.Context, queueName string, msg JobMsg) error {
	switch queueName {
	case IngestQueue:
		return h.ProcessIngest(ctx, msg)
	case ExtractQueue:
		return h.ProcessExtract(ctx, msg)
	case RelateQueue:
		return h.ProcessRelate(ctx, msg)
	case RepairQueue:
		return h.ProcessRepair(ctx, msg)
	}
	return fmt.Errorf("unknown queue %q", queueName)
}

func (h *Handler) ProcessIngest(ctx context.Context, msg JobMsg) error {
	if h.bundles == nil {
		return ErrNoBundleStore
	}
	reports, keys, err := h.bundles.GetReportBundles(ctx, msg.BundleKey)
	if err != nil {
		return fmt.Errorf("load bundle %s: %w", msg.BundleKey, err)
	}
	res, err := h.pipeline.Ingest(ctx, msg.Agency, reports, msg.Replace)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Ingest finished", "job_id", msg.JobID, "bundles", len(keys),
		"reports", res.Reports, "sections", res.Sections, "deleted", res.Deleted)

	if msg.DeleteAfter {
		// the reports are stored; a redelivery would ingest them twice
		if err := h.bundles.DeleteFiles(ctx, keys); err != nil {
			logger.Warn("[Queue] Could not delete ingested bundles", "job_id", msg.JobID, "keys", keys, "err", err)
		}
	}
	return nil
}

func (h *Handler) ProcessExtract(ctx context.Context, msg JobMsg) error {
	var (
		counts common.Counts
		err    error
	)
	switch msg.Source {
	case SourceRules:
		counts, err = h.pipeline.ExtractRules(ctx, msg.Sections)
	case "", SourceModel:
		counts, err = h.pipeline.Extract(ctx, msg.Sections)
	default:
		return fmt.Errorf("unknown extraction source %q", msg.Source)
	}
	if err != nil {
		return err
	}
	logger.Info("[Queue] Extract finished", "job_id", msg.JobID, "source", msg.Source,
		"events", counts.Events, "factors", counts.Factors, "variables", counts.Variables)
	return nil
}

func (h *Handler) ProcessRelate(ctx context.Context, msg JobMsg) error {
	res, err := h.pipeline.Relate(ctx, msg.Sections)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Relate finished", "job_id", msg.JobID, "sections", res.Sections, "edges", res.Edges)
	return nil
}

func (h *Handler) ProcessRepair(ctx context.Context, msg JobMsg) error {
	if _, err := h.pipeline.Repair(ctx); err != nil {
		return err
	}
	logger.Info("[Queue] Repair finished", "job_id", msg.JobID)
	return nil
}
