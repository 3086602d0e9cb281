package models

import "time"

// MatchResult is the verdict of one strategy comparing a candidate against one
// pool member. Ephemeral: produced by the strategy library, consumed by the
// detector and cluster builder, never persisted as-is.
type MatchResult struct {
	CandidateID string         `json:"candidate_id"`
	MatchedID   string         `json:"matched_id"`
	Confidence  float64        `json:"confidence"`
	Strategy    string         `json:"strategy"`
	Details     map[string]any `json:"details,omitempty"`
}

// DetectionResult is the detector's answer for one candidate entity.
type DetectionResult struct {
	CandidateID string        `json:"candidate_id"`
	IsDuplicate bool          `json:"is_duplicate"`
	Matches     []MatchResult `json:"matches"`
}

// DetectionStatus tracks the lifecycle of a persisted detection row.
type DetectionStatus string

const (
	DetectionStatusPending   DetectionStatus = "pending"
	DetectionStatusConfirmed DetectionStatus = "confirmed"
	DetectionStatusMerged    DetectionStatus = "merged"
	DetectionStatusDismissed DetectionStatus = "dismissed"
)

// DuplicateDetection is the persisted projection of a high-confidence match,
// kept so the merge engine can retire detections that referenced merged
// sources.
type DuplicateDetection struct {
	ID          string          `json:"id" db:"id"`
	EntityKind  EntityKind      `json:"entity_kind" db:"entity_kind"`
	CandidateID string          `json:"candidate_id" db:"candidate_id"`
	MatchedID   string          `json:"matched_id" db:"matched_id"`
	Confidence  float64         `json:"confidence" db:"confidence"`
	Strategy    string          `json:"strategy" db:"strategy"`
	Status      DetectionStatus `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
