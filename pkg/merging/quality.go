package merging

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// recencyWindow is how long a record stays "fresh" relative to the newest
// cluster member before its recency component decays to zero.
const recencyWindow = 365 * 24 * time.Hour

// QualityScore rates a record for master selection. Extraction confidence
// dominates, field completeness second, recency last. Recency decays
// linearly over recencyWindow measured from the newest member, so the score
// only orders records within one cluster.
func QualityScore(e models.Entity, newest time.Time) float64 {
	recency := 0.0
	if !e.UpdatedAt().IsZero() && !newest.IsZero() {
		age := newest.Sub(e.UpdatedAt())
		if age < 0 {
			age = 0
		}
		if age < recencyWindow {
			recency = 1 - float64(age)/float64(recencyWindow)
		}
	}

	return 0.5*e.Confidence() + 0.3*e.Completeness() + 0.2*recency
}

// ChooseMaster picks the surviving record for a cluster merge. Ties break to
// the lowest entity ID so repeated merges over the same cluster are
// deterministic.
func ChooseMaster(members []models.Entity, strategy models.MergeStrategyType) (models.Entity, error) {
	if len(members) == 0 {
		return models.Entity{}, fmt.Errorf("cannot choose a master from zero members")
	}

	switch strategy {
	case models.MergeStrategyKeepHighestQuality:
		newest := newestUpdate(members)
		best := members[0]
		bestScore := QualityScore(best, newest)
		for _, m := range members[1:] {
			score := QualityScore(m, newest)
			if score > bestScore || (score == bestScore && m.ID() < best.ID()) {
				best = m
				bestScore = score
			}
		}
		return best, nil

	case models.MergeStrategyKeepNewest:
		best := members[0]
		for _, m := range members[1:] {
			if m.UpdatedAt().After(best.UpdatedAt()) ||
				(m.UpdatedAt().Equal(best.UpdatedAt()) && m.ID() < best.ID()) {
				best = m
			}
		}
		return best, nil
	}

	return models.Entity{}, fmt.Errorf("unknown merge strategy %q", strategy)
}

func newestUpdate(members []models.Entity) time.Time {
	var newest time.Time
	for _, m := range members {
		if m.UpdatedAt().After(newest) {
			newest = m.UpdatedAt()
		}
	}
	return newest
}
