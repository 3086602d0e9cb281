// Package extractionlog reads the append-only field provenance log written
// by the extraction pipelines.
package extractionlog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var logCols = []string{"id", "entity_id", "entity_kind", "field_name", "raw_value", "source_file_id", "extraction_method", "confidence", "extracted_at"}

// Repository handles extraction log persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new extraction log repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Append inserts a provenance row. The log is append-only; existing rows are
// never updated.
func (r *Repository) Append(ctx context.Context, p *models.FieldProvenance) (*models.FieldProvenance, error) {
	ctx, span := tracing.StartSpan(ctx, "extractionlog.Repository.Append")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ExtractedAt.IsZero() {
		p.ExtractedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("extraction_log")
	sb.Cols(logCols...)
	sb.Values(p.ID, p.EntityID, string(p.EntityKind), p.FieldName, p.RawValue, p.SourceFileID, p.ExtractionMethod, p.Confidence, p.ExtractedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": p.EntityID, "field_name": p.FieldName}).Error("Failed to append extraction log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append extraction log")
	}
	return p, nil
}

// ListByEntity returns provenance rows for an entity ordered by extraction
// time ascending, optionally restricted to one field.
func (r *Repository) ListByEntity(ctx context.Context, entityID, fieldName string) ([]models.FieldProvenance, error) {
	ctx, span := tracing.StartSpan(ctx, "extractionlog.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(logCols...)
	sb.From("extraction_log")
	where := []string{sb.Equal("entity_id", entityID)}
	if fieldName != "" {
		where = append(where, sb.Equal("field_name", fieldName))
	}
	sb.Where(where...)
	sb.OrderBy("extracted_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []models.FieldProvenance
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list extraction log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list extraction log")
	}
	return rows, nil
}
