// Package mergehistory persists the append-only merge audit trail.
package mergehistory

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

const noRowsErr = "sql: no rows in result set"

var historyCols = []string{"id", "cluster_id", "entity_kind", "merge_strategy", "conflict_resolution", "target_entity_id", "source_entity_ids", "merged_by", "created_at", "unmerged", "unmerged_at", "unmerge_reason"}

// Filter narrows merge history listings. Zero values mean no constraint.
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	MergedBy   string
	EntityKind models.EntityKind
}

// Repository handles merge history persistence. Rows are append-only; the
// only mutation is flagging a row unmerged.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge history repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Create inserts a merge history row.
func (r *Repository) Create(ctx context.Context, h *models.MergeHistory) (*models.MergeHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.Create")
	defer span.End()

	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("merge_history")
	sb.Cols(historyCols...)
	sb.Values(h.ID, h.ClusterID, string(h.EntityKind), string(h.MergeStrategy), string(h.ConflictResolution), h.TargetEntityID, pq.Array(h.SourceEntityIDs), h.MergedBy, h.CreatedAt, h.Unmerged, h.UnmergedAt, h.UnmergeReason)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("cluster_id", h.ClusterID).Error("Failed to create merge history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create merge history")
	}
	return h, nil
}

// GetByID returns a merge history row, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.MergeHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(historyCols...)
	sb.From("merge_history")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var h models.MergeHistory
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &h, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", id).Error("Failed to get merge history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge history")
	}
	return &h, nil
}

// HasActiveMerge reports whether a non-unmerged history row already exists
// for the target/source pair. Guards against duplicate active merges.
func (r *Repository) HasActiveMerge(ctx context.Context, targetEntityID string, sourceEntityIDs []string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.HasActiveMerge")
	defer span.End()

	query := `
		SELECT COUNT(*) FROM merge_history
		WHERE target_entity_id = $1
		  AND source_entity_ids @> $2 AND source_entity_ids <@ $2
		  AND unmerged = false
	`
	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query, targetEntityID, pq.Array(sourceEntityIDs)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("target_entity_id", targetEntityID).Error("Failed to check active merge")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check active merge")
	}
	return count > 0, nil
}

// List returns history rows matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]models.MergeHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(historyCols...)
	sb.From("merge_history")

	var where []string
	if filter.StartDate != nil {
		where = append(where, sb.GreaterEqualThan("created_at", *filter.StartDate))
	}
	if filter.EndDate != nil {
		where = append(where, sb.LessEqualThan("created_at", *filter.EndDate))
	}
	if filter.MergedBy != "" {
		where = append(where, sb.Equal("merged_by", filter.MergedBy))
	}
	if filter.EntityKind != "" {
		where = append(where, sb.Equal("entity_kind", string(filter.EntityKind)))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var rows []models.MergeHistory
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge history")
	}
	return rows, nil
}

// MarkUnmerged flags a history row as unmerged. The row itself is preserved.
func (r *Repository) MarkUnmerged(ctx context.Context, id, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.MarkUnmerged")
	defer span.End()

	query := "UPDATE merge_history SET unmerged = true, unmerged_at = $1, unmerge_reason = $2 WHERE id = $3 AND unmerged = false"
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, time.Now().UTC(), reason, id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", id).Error("Failed to mark merge history unmerged")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark merge history unmerged")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark merge history unmerged")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "merge history %s is already unmerged", id)
	}
	return nil
}
