// Package events publishes registry lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = "1.0"

// Emitter publishes lifecycle events. Emission is best-effort: failures are
// logged, never surfaced, so a broker outage cannot fail a committed merge.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitEntityMerged publishes an entity.merged event for a committed merge.
func (e *Emitter) EmitEntityMerged(ctx context.Context, h *models.MergeHistory) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityMerged")
	defer span.End()

	payload := EntityMergedEvent{
		BaseEvent:       NewBaseEvent(EventTypeEntityMerged),
		MergeHistoryID:  h.ID,
		EntityKind:      string(h.EntityKind),
		TargetEntityID:  h.TargetEntityID,
		SourceEntityIDs: h.SourceEntityIDs,
		MergedBy:        h.MergedBy,
		MergeStrategy:   string(h.MergeStrategy),
	}

	e.publish(ctx, string(EventTypeEntityMerged), string(h.EntityKind), h.TargetEntityID, h.SourceEntityIDs, payload)
}

// EmitEntityUnmerged publishes an entity.unmerged event after a merge is
// reversed.
func (e *Emitter) EmitEntityUnmerged(ctx context.Context, h *models.MergeHistory) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityUnmerged")
	defer span.End()

	reason := ""
	if h.UnmergeReason != nil {
		reason = *h.UnmergeReason
	}

	payload := EntityUnmergedEvent{
		BaseEvent:         NewBaseEvent(EventTypeEntityUnmerged),
		MergeHistoryID:    h.ID,
		EntityKind:        string(h.EntityKind),
		TargetEntityID:    h.TargetEntityID,
		RestoredEntityIDs: h.SourceEntityIDs,
		Reason:            reason,
	}

	e.publish(ctx, string(EventTypeEntityUnmerged), string(h.EntityKind), h.TargetEntityID, h.SourceEntityIDs, payload)
}

// EmitDuplicatesDetected publishes one duplicate.detected event per
// high-confidence match in a detection run.
func (e *Emitter) EmitDuplicatesDetected(ctx context.Context, kind models.EntityKind, matches []models.MatchResult) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDuplicatesDetected")
	defer span.End()

	if len(matches) == 0 {
		return
	}

	batch := make([]*kafka.RegistryEvent, 0, len(matches))
	for _, m := range matches {
		payload := DuplicateDetectedEvent{
			BaseEvent:   NewBaseEvent(EventTypeDuplicateDetected),
			EntityKind:  string(kind),
			CandidateID: m.CandidateID,
			MatchedID:   m.MatchedID,
			Strategy:    m.Strategy,
			Confidence:  m.Confidence,
		}

		data, err := json.Marshal(payload)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to marshal duplicate.detected event")
			continue
		}

		batch = append(batch, &kafka.RegistryEvent{
			EventType:  string(EventTypeDuplicateDetected),
			EntityKind: string(kind),
			EntityID:   m.CandidateID,
			Data:       data,
		})
	}

	if err := e.producer.PublishRegistryEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to publish duplicate.detected events")
	}
}

func (e *Emitter) publish(ctx context.Context, eventType, entityKind, entityID string, sourceIDs []string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warnf("Failed to marshal %s event", eventType)
		return
	}

	event := &kafka.RegistryEvent{
		EventType:       eventType,
		EntityKind:      entityKind,
		EntityID:        entityID,
		Data:            data,
		SourceEntityIDs: sourceIDs,
	}

	if err := e.producer.PublishRegistryEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish %s event", eventType)
	}
}
