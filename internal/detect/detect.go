// Package detect runs the stateful attack detectors over enriched records
// and merges their verdicts.
package detect

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/gridshield/backend/internal/pipeline"
)

// Detector inspects one record and returns a detection, or nil when the
// record is clean. Implementations own any cross-record state they keep.
type Detector interface {
	Name() string
	Detect(ctx context.Context, rec *pipeline.Record) *pipeline.Detection
}

// Engine fans a record out to every registered detector concurrently and
// returns the verdicts ordered by severity, registration order breaking
// ties.
type Engine struct {
	detectors []Detector
	log       *slog.Logger
}

func NewEngine(log *slog.Logger, detectors ...Detector) *Engine {
	return &Engine{detectors: detectors, log: log}
}

// Detect runs every detector on the record. A panicking detector loses its
// vote; the rest still report.
func (e *Engine) Detect(ctx context.Context, rec *pipeline.Record) []pipeline.Detection {
	results := make([]*pipeline.Detection, len(e.detectors))

	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("detector panicked", "detector", d.Name(), "panic", r)
				}
			}()
			results[i] = d.Detect(ctx, rec)
		}(i, d)
	}
	wg.Wait()

	detections := make([]pipeline.Detection, 0, len(e.detectors))
	for _, r := range results {
		if r == nil {
			continue
		}
		// Detectors that work off the message alone inherit the record's
		// network and principal context for downstream containment.
		if r.SourceIP == "" {
			r.SourceIP = rec.ClientIP()
		}
		if r.User == "" {
			r.User = rec.User()
		}
		detections = append(detections, *r)
	}

	// Registration order is already positional; the stable sort keeps it as
	// the tie-break within a severity.
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Severity.Rank() > detections[j].Severity.Rank()
	})

	if len(detections) > 0 {
		e.log.Info("threats detected",
			"count", len(detections),
			"top", detections[0].AttackType,
			"severity", detections[0].Severity)
	}
	return detections
}

// Detector returns a registered detector by name, nil when absent.
func (e *Engine) Detector(name string) Detector {
	for _, d := range e.detectors {
		if d.Name() == name {
			return d
		}
	}
	return nil
}
