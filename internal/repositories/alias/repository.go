// Package alias persists normalized vendor aliases used by the alias
// matching strategy and learned from merges.
package alias

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
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var aliasCols = []string{"id", "vendor_id", "alias", "confidence", "created_at"}

// Repository handles vendor alias persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new alias repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Upsert stores a normalized alias for a vendor. Re-learning an existing
// alias keeps the higher confidence.
func (r *Repository) Upsert(ctx context.Context, vendorID, alias string, confidence float64) (*models.VendorAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Upsert")
	defer span.End()

	normalized := normalizers.NormalizeCompanyName(alias)
	if normalized == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "alias normalizes to empty")
	}

	row := &models.VendorAlias{
		ID:         uuid.New().String(),
		VendorID:   vendorID,
		Alias:      normalized,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}

	query := `
		INSERT INTO vendor_aliases (id, vendor_id, alias, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vendor_id, alias)
		DO UPDATE SET confidence = GREATEST(vendor_aliases.confidence, EXCLUDED.confidence)
	`
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, row.ID, row.VendorID, row.Alias, row.Confidence, row.CreatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"vendor_id": vendorID, "alias": normalized}).Error("Failed to upsert vendor alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert vendor alias")
	}
	return row, nil
}

// ListAll returns every stored alias. The strategy library indexes these in
// memory per detection batch.
func (r *Repository) ListAll(ctx context.Context) ([]models.VendorAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.ListAll")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(aliasCols...)
	sb.From("vendor_aliases")
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var aliases []models.VendorAlias
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list vendor aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vendor aliases")
	}
	return aliases, nil
}

// ListByVendor returns the aliases pointing at one vendor.
func (r *Repository) ListByVendor(ctx context.Context, vendorID string) ([]models.VendorAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.ListByVendor")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(aliasCols...)
	sb.From("vendor_aliases")
	sb.Where(sb.Equal("vendor_id", vendorID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var aliases []models.VendorAlias
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", vendorID).Error("Failed to list vendor aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vendor aliases")
	}
	return aliases, nil
}

// RewireVendor repoints aliases from merged source vendors to the target.
func (r *Repository) RewireVendor(ctx context.Context, sourceVendorIDs []string, targetVendorID string) error {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.RewireVendor")
	defer span.End()

	if len(sourceVendorIDs) == 0 {
		return nil
	}

	query := `
		UPDATE vendor_aliases SET vendor_id = $1
		WHERE vendor_id = ANY($2)
		  AND NOT EXISTS (
			SELECT 1 FROM vendor_aliases existing
			WHERE existing.vendor_id = $1 AND existing.alias = vendor_aliases.alias
		  )
	`
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, targetVendorID, pq.Array(sourceVendorIDs)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("target_vendor_id", targetVendorID).Error("Failed to rewire vendor aliases")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to rewire vendor aliases")
	}
	return nil
}
