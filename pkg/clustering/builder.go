package clustering

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Config contains configuration for the cluster builder.
type Config struct {
	// EdgeThreshold is the minimum match confidence for a pair to count as
	// a cluster edge. Defaults to the detector's duplicate threshold so a
	// cluster never contains a pair the detector would not have flagged.
	EdgeThreshold float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{EdgeThreshold: matching.DuplicateThreshold}
}

// Builder computes duplicate clusters for a batch of entities of one kind.
// Clustering is read-only and deterministic: rerunning over an unchanged
// batch yields identical entity-id sets.
type Builder struct {
	logger   ectologger.Logger
	detector *matching.Detector
	cfg      Config
}

// NewBuilder creates a cluster builder.
func NewBuilder(logger ectologger.Logger, detector *matching.Detector, cfg Config) *Builder {
	if cfg.EdgeThreshold <= 0 {
		cfg.EdgeThreshold = matching.DuplicateThreshold
	}
	return &Builder{logger: logger, detector: detector, cfg: cfg}
}

// ClusterDuplicates scores every entity against the rest of the batch,
// keeps edges at or above the edge threshold, and returns one cluster per
// connected component of size >= 2. Singletons are dropped. A cluster's
// confidence is the minimum edge confidence inside its component.
func (b *Builder) ClusterDuplicates(ctx context.Context, entities []models.Entity, strategies []matching.Strategy) []models.Cluster {
	ctx, span := tracing.StartSpan(ctx, "clustering.Builder.ClusterDuplicates")
	defer span.End()

	log := b.logger.WithContext(ctx).WithField("batch_size", len(entities))

	if len(entities) < 2 {
		return nil
	}

	index := make(map[string]int, len(entities))
	for i, e := range entities {
		index[e.ID()] = i
	}

	uf := newUnionFind(len(entities))
	// edgeConfidence keeps the best confidence seen per unordered pair.
	type pairKey struct{ a, b int }
	edgeConfidence := make(map[pairKey]float64)

	for i, candidate := range entities {
		result := b.detector.DetectDuplicates(ctx, candidate, entities, strategies)
		for _, m := range result.Matches {
			if m.Confidence < b.cfg.EdgeThreshold {
				continue
			}
			j, ok := index[m.MatchedID]
			if !ok || j == i {
				continue
			}
			key := pairKey{a: min(i, j), b: max(i, j)}
			if m.Confidence > edgeConfidence[key] {
				edgeConfidence[key] = m.Confidence
			}
			uf.union(i, j)
		}
	}

	// Group members by component root.
	components := make(map[int][]int)
	for i := range entities {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	// Minimum edge confidence per component root.
	minEdge := make(map[int]float64)
	for key, confidence := range edgeConfidence {
		root := uf.find(key.a)
		if existing, ok := minEdge[root]; !ok || confidence < existing {
			minEdge[root] = confidence
		}
	}

	var clusters []models.Cluster
	for root, members := range components {
		if len(members) < 2 {
			continue
		}
		ids := make([]string, 0, len(members))
		for _, i := range members {
			ids = append(ids, entities[i].ID())
		}
		sort.Strings(ids)

		clusters = append(clusters, models.Cluster{
			EntityKind:      entities[members[0]].Kind,
			EntityIDs:       ids,
			ConfidenceScore: minEdge[root],
			Status:          models.ClusterStatusPending,
		})
	}

	// Stable output order keyed by each cluster's lowest member id.
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].EntityIDs[0] < clusters[j].EntityIDs[0]
	})

	log.WithField("cluster_count", len(clusters)).Debug("Built duplicate clusters")

	return clusters
}
