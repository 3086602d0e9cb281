package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Detector runs an ordered strategy set against a candidate and ranks the
// results. Detection is read-only and safe to run concurrently across
// independent candidates.
type Detector struct {
	logger ectologger.Logger
}

// NewDetector creates a new duplicate detector.
func NewDetector(logger ectologger.Logger) *Detector {
	return &Detector{logger: logger}
}

// DetectDuplicates runs every requested strategy, keeps results at or above
// MinMatchThreshold, and ranks them by confidence descending with ties broken
// by strategy reliability. An empty pool or all-below-threshold results yield
// IsDuplicate=false with no matches, never an error. A strategy that panics
// is logged and skipped; the remaining strategies still run.
func (d *Detector) DetectDuplicates(ctx context.Context, candidate models.Entity, pool []models.Entity, strategies []Strategy) models.DetectionResult {
	ctx, span := tracing.StartSpan(ctx, "matching.Detector.DetectDuplicates")
	defer span.End()

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id": candidate.ID(),
		"entity_kind":  string(candidate.Kind),
		"pool_size":    len(pool),
	})

	result := models.DetectionResult{
		CandidateID: candidate.ID(),
		Matches:     []models.MatchResult{},
	}

	if len(pool) == 0 || len(strategies) == 0 {
		return result
	}

	for _, strategy := range strategies {
		matches, err := d.runStrategy(strategy, candidate, pool)
		if err != nil {
			log.WithError(err).WithField("strategy", strategy.Name()).Warn("Matching strategy failed; skipping")
			continue
		}
		for _, m := range matches {
			if m.Confidence >= MinMatchThreshold {
				result.Matches = append(result.Matches, m)
			}
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return StrategyReliability(a.Strategy) < StrategyReliability(b.Strategy)
	})

	if len(result.Matches) > 0 && result.Matches[0].Confidence >= DuplicateThreshold {
		result.IsDuplicate = true
	}

	log.WithFields(map[string]any{
		"match_count":  len(result.Matches),
		"is_duplicate": result.IsDuplicate,
	}).Debug("Detection complete")

	return result
}

// runStrategy isolates a single strategy so a panic inside one never aborts
// the others.
func (d *Detector) runStrategy(strategy Strategy, candidate models.Entity, pool []models.Entity) (matches []models.MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r)
		}
	}()
	return strategy.Match(candidate, pool), nil
}
