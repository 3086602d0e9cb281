package models

import (
	"time"

	"github.com/lib/pq"
)

// MergeStrategyType selects how the merge engine picks the master record.
type MergeStrategyType string

const (
	// MergeStrategyKeepHighestQuality scores each member by extraction
	// confidence, field completeness and recency, keeping the best.
	MergeStrategyKeepHighestQuality MergeStrategyType = "KEEP_HIGHEST_QUALITY"
	// MergeStrategyKeepNewest keeps the most recently updated member.
	MergeStrategyKeepNewest MergeStrategyType = "KEEP_NEWEST"
)

// ConflictResolutionType selects how per-field conflicts are resolved when a
// cluster collapses onto the master record.
type ConflictResolutionType string

const (
	// ConflictResolutionMergeArrays unions array-valued fields across all
	// members onto the target; scalars keep the target's value unless empty.
	ConflictResolutionMergeArrays ConflictResolutionType = "MERGE_ARRAYS"
	// ConflictResolutionPreferTarget keeps the target's value for every
	// field, filling only fields the target left empty.
	ConflictResolutionPreferTarget ConflictResolutionType = "PREFER_TARGET"
	// ConflictResolutionPreferHighestConfidence takes each field from the
	// member with the highest extraction confidence, ties going to the
	// target. Arrays behave as with PREFER_TARGET.
	ConflictResolutionPreferHighestConfidence ConflictResolutionType = "PREFER_HIGHEST_CONFIDENCE"
)

// MergeOptions parameterize a cluster merge.
type MergeOptions struct {
	MergeStrategy      MergeStrategyType      `json:"merge_strategy" validate:"required,oneof=KEEP_HIGHEST_QUALITY KEEP_NEWEST"`
	ConflictResolution ConflictResolutionType `json:"conflict_resolution" validate:"required,oneof=MERGE_ARRAYS PREFER_TARGET PREFER_HIGHEST_CONFIDENCE"`
	MergedBy           string                 `json:"merged_by" validate:"required"`
}

// MergeHistory is the append-only record of one cluster merge. Rows are never
// deleted; unmerge only flips the unmerged fields.
type MergeHistory struct {
	ID                 string                 `json:"id" db:"id"`
	ClusterID          string                 `json:"cluster_id" db:"cluster_id"`
	EntityKind         EntityKind             `json:"entity_kind" db:"entity_kind"`
	MergeStrategy      MergeStrategyType      `json:"merge_strategy" db:"merge_strategy"`
	ConflictResolution ConflictResolutionType `json:"conflict_resolution" db:"conflict_resolution"`
	TargetEntityID     string                 `json:"target_entity_id" db:"target_entity_id"`
	SourceEntityIDs    pq.StringArray         `json:"source_entity_ids" db:"source_entity_ids"`
	MergedBy           string                 `json:"merged_by" db:"merged_by"`
	CreatedAt          time.Time              `json:"created_at" db:"created_at"`
	Unmerged           bool                   `json:"unmerged" db:"unmerged"`
	UnmergedAt         *time.Time             `json:"unmerged_at,omitempty" db:"unmerged_at"`
	UnmergeReason      *string                `json:"unmerge_reason,omitempty" db:"unmerge_reason"`
}

// MergeOutcome is returned to callers of MergeCluster.
type MergeOutcome struct {
	Success         bool     `json:"success"`
	MergedEntityID  string   `json:"merged_entity_id"`
	SourceEntityIDs []string `json:"source_entity_ids"`
	MergeHistoryID  string   `json:"merge_history_id"`
}

// UnmergeOutcome is returned to callers of UnmergeCluster.
type UnmergeOutcome struct {
	Success           bool     `json:"success"`
	MergeHistoryID    string   `json:"merge_history_id"`
	RestoredEntityIDs []string `json:"restored_entity_ids"`
}
