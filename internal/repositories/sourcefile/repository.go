// Package sourcefile persists ingested source artifacts referenced by
// entity provenance.
package sourcefile

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

var fileCols = []string{"id", "file_name", "file_type", "ingested_at"}

// Repository handles source file persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source file repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts a source file row.
func (r *Repository) Create(ctx context.Context, f *models.SourceFile) (*models.SourceFile, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcefile.Repository.Create")
	defer span.End()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.IngestedAt.IsZero() {
		f.IngestedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("source_files")
	sb.Cols(fileCols...)
	sb.Values(f.ID, f.FileName, f.FileType, f.IngestedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("file_name", f.FileName).Error("Failed to create source file")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create source file")
	}
	return f, nil
}

// ListByIDs returns the source files with the given ids, skipping missing.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]models.SourceFile, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcefile.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	query := "SELECT id, file_name, file_type, ingested_at FROM source_files WHERE id = ANY($1) ORDER BY ingested_at ASC"
	var files []models.SourceFile
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &files, query, pq.Array(ids)); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list source files")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list source files")
	}
	return files, nil
}
