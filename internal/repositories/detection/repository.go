// Package detection persists high-confidence duplicate detections so the
// merge engine can retire them once their sources collapse.
package detection

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var detectionCols = []string{"id", "entity_kind", "candidate_id", "matched_id", "confidence", "strategy", "status", "created_at", "updated_at"}

// Repository handles duplicate detection persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new detection repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Record stores the duplicate matches of one detection run. An existing
// pending row for the same pair is refreshed rather than duplicated.
func (r *Repository) Record(ctx context.Context, kind models.EntityKind, matches []models.MatchResult) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.Record")
	defer span.End()

	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO duplicate_detections (id, entity_kind, candidate_id, matched_id, confidence, strategy, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (entity_kind, candidate_id, matched_id)
		DO UPDATE SET confidence = EXCLUDED.confidence, strategy = EXCLUDED.strategy, updated_at = EXCLUDED.updated_at
	`

	exec := database.FromContext(ctx, r.db)
	for _, m := range matches {
		if _, err := exec.ExecContext(ctx, query,
			uuid.New().String(), string(kind), m.CandidateID, m.MatchedID,
			m.Confidence, m.Strategy, string(models.DetectionStatusPending), now); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": m.CandidateID, "matched_id": m.MatchedID}).Error("Failed to record duplicate detection")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record duplicate detection")
		}
	}
	return nil
}

// ListByStatus returns detections of a kind in the given status.
func (r *Repository) ListByStatus(ctx context.Context, kind models.EntityKind, status models.DetectionStatus) ([]models.DuplicateDetection, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.ListByStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(detectionCols...)
	sb.From("duplicate_detections")
	sb.Where(
		sb.Equal("entity_kind", string(kind)),
		sb.Equal("status", string(status)),
	)
	sb.OrderBy("confidence DESC", "created_at ASC")

	query, args := sb.Build()
	var detections []models.DuplicateDetection
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &detections, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_kind": string(kind), "status": string(status)}).Error("Failed to list detections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list detections")
	}
	return detections, nil
}

// RetireForEntities marks every non-terminal detection touching the given
// entities as merged so future detection passes do not re-surface them.
func (r *Repository) RetireForEntities(ctx context.Context, kind models.EntityKind, entityIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.RetireForEntities")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil
	}

	query := `
		UPDATE duplicate_detections
		SET status = $1, updated_at = $2
		WHERE entity_kind = $3
		  AND status IN ($4, $5)
		  AND (candidate_id = ANY($6) OR matched_id = ANY($6))
	`
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		string(models.DetectionStatusMerged), time.Now().UTC(), string(kind),
		string(models.DetectionStatusPending), string(models.DetectionStatusConfirmed),
		pq.Array(entityIDs))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_kind", string(kind)).Error("Failed to retire detections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to retire detections")
	}
	return nil
}

// ReopenForEntities flips merged detections touching the given entities back
// to pending after an unmerge.
func (r *Repository) ReopenForEntities(ctx context.Context, kind models.EntityKind, entityIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.ReopenForEntities")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil
	}

	query := `
		UPDATE duplicate_detections
		SET status = $1, updated_at = $2
		WHERE entity_kind = $3
		  AND status = $4
		  AND (candidate_id = ANY($5) OR matched_id = ANY($5))
	`
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		string(models.DetectionStatusPending), time.Now().UTC(), string(kind),
		string(models.DetectionStatusMerged), pq.Array(entityIDs))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_kind", string(kind)).Error("Failed to reopen detections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reopen detections")
	}
	return nil
}
