// Package pipeline runs the batch stages over a store: ingest parsed reports,
// extract entities, link them into relation edges and repair references.
// Every stage is serial and can be re-run; later runs replace earlier output
// for the sections they touch.
package pipeline

import (
	"errors"

	"github.com/OFFIS-RIT/compass/backend/pkg/extract"
	"github.com/OFFIS-RIT/compass/backend/pkg/ids"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

var (
	ErrNoReports   = errors.New("no reports to ingest")
	ErrNoExtractor = errors.New("pipeline has no extractor")
)

type Config struct {
	Mode            extract.Mode
	ExcludeSections []string
}

func DefaultConfig() Config {
	return Config{
		Mode:            extract.ModePassage,
		ExcludeSections: extract.DefaultExcludeSections,
	}
}

type Pipeline struct {
	store     store.EFVStorage
	extractor *extract.Extractor
	ids       ids.Allocator
	cfg       Config
	filter    extract.SectionFilter
}

// New wires a pipeline. The extractor may be nil when only ingest, rules,
// relate and repair are used.
func New(st store.EFVStorage, ex *extract.Extractor, alloc ids.Allocator, cfg Config) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = extract.ModePassage
	}
	return &Pipeline{
		store:     st,
		extractor: ex,
		ids:       alloc,
		cfg:       cfg,
		filter:    extract.NewSectionFilter(cfg.ExcludeSections),
	}
}
