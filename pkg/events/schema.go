package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event.
type EventType string

const (
	EventTypeEntityMerged      EventType = "entity.merged"
	EventTypeEntityUnmerged    EventType = "entity.unmerged"
	EventTypeDuplicateDetected EventType = "duplicate.detected"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EntityMergedEvent is emitted after a cluster merge commits.
type EntityMergedEvent struct {
	BaseEvent
	MergeHistoryID  string   `json:"merge_history_id"`
	EntityKind      string   `json:"entity_kind"`
	TargetEntityID  string   `json:"target_entity_id"`
	SourceEntityIDs []string `json:"source_entity_ids"`
	MergedBy        string   `json:"merged_by"`
	MergeStrategy   string   `json:"merge_strategy"`
}

// EntityUnmergedEvent is emitted after a merge is reversed.
type EntityUnmergedEvent struct {
	BaseEvent
	MergeHistoryID    string   `json:"merge_history_id"`
	EntityKind        string   `json:"entity_kind"`
	TargetEntityID    string   `json:"target_entity_id"`
	RestoredEntityIDs []string `json:"restored_entity_ids"`
	Reason            string   `json:"reason,omitempty"`
}

// DuplicateDetectedEvent is emitted when a detection run flags a candidate.
type DuplicateDetectedEvent struct {
	BaseEvent
	EntityKind  string  `json:"entity_kind"`
	CandidateID string  `json:"candidate_id"`
	MatchedID   string  `json:"matched_id"`
	Strategy    string  `json:"strategy"`
	Confidence  float64 `json:"confidence"`
}

// NewBaseEvent creates a base event with common fields.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
