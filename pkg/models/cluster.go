package models

import (
	"time"

	"github.com/lib/pq"
)

// ClusterStatus is the merge lifecycle state of a duplicate cluster.
type ClusterStatus string

const (
	ClusterStatusPending ClusterStatus = "pending"
	ClusterStatusMerging ClusterStatus = "merging"
	ClusterStatusMerged  ClusterStatus = "merged"
)

// Cluster groups transitively-linked duplicate entities of one kind.
// Invariant: clusters of the same kind are disjoint in EntityIDs while
// status != merged. EntityIDs always has at least two members and is kept
// sorted so reruns over a stable input produce identical clusters.
type Cluster struct {
	ID              string         `json:"id" db:"id"`
	EntityKind      EntityKind     `json:"entity_kind" db:"entity_kind"`
	EntityIDs       pq.StringArray `json:"entity_ids" db:"entity_ids"`
	ConfidenceScore float64        `json:"confidence_score" db:"confidence_score"`
	Status          ClusterStatus  `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Contains reports whether the cluster includes the given entity ID.
func (c *Cluster) Contains(entityID string) bool {
	for _, id := range c.EntityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}
