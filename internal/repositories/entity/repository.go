// Package entity persists the vendor, deal and contact registry tables and
// exposes them through the tagged Entity variant.
package entity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
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

const noRowsErr = "sql: no rows in result set"

var vendorCols = []string{"id", "name", "aliases", "domains", "keywords", "contact_emails", "correlation_key", "source_file_ids", "confidence", "merged", "merged_into", "created_at", "updated_at"}
var dealCols = []string{"id", "name", "customer", "vendor_id", "value", "product_mentions", "correlation_key", "source_file_ids", "confidence", "merged", "merged_into", "created_at", "updated_at"}
var contactCols = []string{"id", "name", "email", "title", "vendor_id", "correlation_key", "source_file_ids", "confidence", "merged", "merged_into", "created_at", "updated_at"}

func tableFor(kind models.EntityKind) string {
	switch kind {
	case models.EntityKindVendor:
		return "vendors"
	case models.EntityKindDeal:
		return "deals"
	case models.EntityKindContact:
		return "contacts"
	}
	return ""
}

// Repository handles entity persistence across the three registry tables.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// CreateVendor inserts a vendor row.
func (r *Repository) CreateVendor(ctx context.Context, v *models.Vendor) (*models.Vendor, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CreateVendor")
	defer span.End()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now().UTC()
	v.UpdatedAt = v.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("vendors")
	sb.Cols(vendorCols...)
	sb.Values(v.ID, v.Name, pq.Array(v.Aliases), pq.Array(v.Domains), pq.Array(v.Keywords), pq.Array(v.ContactEmails), v.CorrelationKey, pq.Array(v.SourceFileIDs), v.Confidence, v.Merged, v.MergedInto, v.CreatedAt, v.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", v.ID).Error("Failed to create vendor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create vendor")
	}
	return v, nil
}

// CreateDeal inserts a deal row. The normalized customer column is derived
// here so sibling lookups never normalize at query time.
func (r *Repository) CreateDeal(ctx context.Context, d *models.Deal) (*models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CreateDeal")
	defer span.End()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("deals")
	sb.Cols("id", "name", "customer", "customer_normalized", "vendor_id", "value", "product_mentions", "correlation_key", "source_file_ids", "confidence", "merged", "merged_into", "created_at", "updated_at")
	sb.Values(d.ID, d.Name, d.Customer, normalizers.NormalizeCompanyName(d.Customer), d.VendorID, d.Value, pq.Array(d.ProductMentions), d.CorrelationKey, pq.Array(d.SourceFileIDs), d.Confidence, d.Merged, d.MergedInto, d.CreatedAt, d.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("deal_id", d.ID).Error("Failed to create deal")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create deal")
	}
	return d, nil
}

// CreateContact inserts a contact row.
func (r *Repository) CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CreateContact")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("contacts")
	sb.Cols(contactCols...)
	sb.Values(c.ID, c.Name, c.Email, c.Title, c.VendorID, c.CorrelationKey, pq.Array(c.SourceFileIDs), c.Confidence, c.Merged, c.MergedInto, c.CreatedAt, c.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("contact_id", c.ID).Error("Failed to create contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create contact")
	}
	return c, nil
}

// GetVendor returns a vendor by id, or nil when absent.
func (r *Repository) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetVendor")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(vendorCols...)
	sb.From("vendors")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var v models.Vendor
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &v, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", id).Error("Failed to get vendor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get vendor")
	}
	return &v, nil
}

// GetDeal returns a deal by id, or nil when absent.
func (r *Repository) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetDeal")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(dealCols...)
	sb.From("deals")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var d models.Deal
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &d, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("deal_id", id).Error("Failed to get deal")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get deal")
	}
	return &d, nil
}

// GetContact returns a contact by id, or nil when absent.
func (r *Repository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetContact")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactCols...)
	sb.From("contacts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var c models.Contact
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &c, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("contact_id", id).Error("Failed to get contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact")
	}
	return &c, nil
}

// GetEntity loads one record of the given kind wrapped in the tagged variant.
// Returns nil when the record does not exist.
func (r *Repository) GetEntity(ctx context.Context, kind models.EntityKind, id string) (*models.Entity, error) {
	switch kind {
	case models.EntityKindVendor:
		v, err := r.GetVendor(ctx, id)
		if err != nil || v == nil {
			return nil, err
		}
		e := models.NewVendorEntity(v)
		return &e, nil
	case models.EntityKindDeal:
		d, err := r.GetDeal(ctx, id)
		if err != nil || d == nil {
			return nil, err
		}
		e := models.NewDealEntity(d)
		return &e, nil
	case models.EntityKindContact:
		c, err := r.GetContact(ctx, id)
		if err != nil || c == nil {
			return nil, err
		}
		e := models.NewContactEntity(c)
		return &e, nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
}

// GetEntitiesByIDs loads records of one kind by id, skipping missing ids.
func (r *Repository) GetEntitiesByIDs(ctx context.Context, kind models.EntityKind, ids []string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetEntitiesByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	table := tableFor(kind)
	if table == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY($1)", columnList(kind), table)
	return r.selectEntities(ctx, kind, query, pq.Array(ids))
}

// ListByKind returns every record of a kind, excluding merged-away rows
// unless includeMerged is set.
func (r *Repository) ListByKind(ctx context.Context, kind models.EntityKind, includeMerged bool) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListByKind")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", columnList(kind), table)
	if !includeMerged {
		query += " WHERE merged = false"
	}
	query += " ORDER BY created_at ASC"
	return r.selectEntities(ctx, kind, query)
}

// ListMissingCorrelationKey returns active records of a kind with no
// correlation key yet.
func (r *Repository) ListMissingCorrelationKey(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListMissingCorrelationKey")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE correlation_key IS NULL AND merged = false ORDER BY created_at ASC", columnList(kind), table)
	return r.selectEntities(ctx, kind, query)
}

// FindByFileOverlap returns active keyed records of a kind whose
// source_file_ids intersect the given file set.
func (r *Repository) FindByFileOverlap(ctx context.Context, kind models.EntityKind, fileIDs []string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FindByFileOverlap")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}
	if len(fileIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE merged = false
		  AND correlation_key IS NOT NULL
		  AND source_file_ids && $1
		ORDER BY created_at ASC
	`, columnList(kind), table)
	return r.selectEntities(ctx, kind, query, pq.Array(fileIDs))
}

// SetCorrelationKey persists a derived correlation key.
func (r *Repository) SetCorrelationKey(ctx context.Context, kind models.EntityKind, id, key string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetCorrelationKey")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	query := fmt.Sprintf("UPDATE %s SET correlation_key = $1, updated_at = $2 WHERE id = $3", table)
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, key, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": id, "entity_kind": string(kind)}).Error("Failed to set correlation key")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set correlation key")
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "%s %s not found", kind, id)
	}
	return nil
}

// UpdateVendor rewrites a vendor's mergeable fields.
func (r *Repository) UpdateVendor(ctx context.Context, v *models.Vendor) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateVendor")
	defer span.End()

	v.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE vendors SET
			name = $1, aliases = $2, domains = $3, keywords = $4,
			contact_emails = $5, correlation_key = $6, source_file_ids = $7,
			confidence = $8, updated_at = $9
		WHERE id = $10
	`
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		v.Name, pq.Array(v.Aliases), pq.Array(v.Domains), pq.Array(v.Keywords),
		pq.Array(v.ContactEmails), v.CorrelationKey, pq.Array(v.SourceFileIDs),
		v.Confidence, v.UpdatedAt, v.ID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", v.ID).Error("Failed to update vendor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update vendor")
	}
	return nil
}

// UpdateDeal rewrites a deal's mergeable fields.
func (r *Repository) UpdateDeal(ctx context.Context, d *models.Deal) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateDeal")
	defer span.End()

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE deals SET
			name = $1, customer = $2, customer_normalized = $3, vendor_id = $4,
			value = $5, product_mentions = $6, correlation_key = $7,
			source_file_ids = $8, confidence = $9, updated_at = $10
		WHERE id = $11
	`
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		d.Name, d.Customer, normalizers.NormalizeCompanyName(d.Customer), d.VendorID,
		d.Value, pq.Array(d.ProductMentions), d.CorrelationKey,
		pq.Array(d.SourceFileIDs), d.Confidence, d.UpdatedAt, d.ID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("deal_id", d.ID).Error("Failed to update deal")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update deal")
	}
	return nil
}

// UpdateContact rewrites a contact's mergeable fields.
func (r *Repository) UpdateContact(ctx context.Context, c *models.Contact) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateContact")
	defer span.End()

	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE contacts SET
			name = $1, email = $2, title = $3, vendor_id = $4,
			correlation_key = $5, source_file_ids = $6, confidence = $7,
			updated_at = $8
		WHERE id = $9
	`
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		c.Name, c.Email, c.Title, c.VendorID,
		c.CorrelationKey, pq.Array(c.SourceFileIDs), c.Confidence,
		c.UpdatedAt, c.ID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("contact_id", c.ID).Error("Failed to update contact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact")
	}
	return nil
}

// UpdateEntity dispatches to the kind-specific update.
func (r *Repository) UpdateEntity(ctx context.Context, e models.Entity) error {
	switch e.Kind {
	case models.EntityKindVendor:
		return r.UpdateVendor(ctx, e.Vendor)
	case models.EntityKindDeal:
		return r.UpdateDeal(ctx, e.Deal)
	case models.EntityKindContact:
		return r.UpdateContact(ctx, e.Contact)
	}
	return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", e.Kind)
}

// MarkMerged flags source records as merged into the target.
func (r *Repository) MarkMerged(ctx context.Context, kind models.EntityKind, sourceIDs []string, targetID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.MarkMerged")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}
	if len(sourceIDs) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET merged = true, merged_into = $1, updated_at = $2 WHERE id = ANY($3)", table)
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, targetID, time.Now().UTC(), pq.Array(sourceIDs))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"target_id": targetID, "entity_kind": string(kind)}).Error("Failed to mark entities merged")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark entities merged")
	}
	return nil
}

// RestoreMerged clears the merged flag on previously merged records.
func (r *Repository) RestoreMerged(ctx context.Context, kind models.EntityKind, sourceIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.RestoreMerged")
	defer span.End()

	table := tableFor(kind)
	if table == "" {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}
	if len(sourceIDs) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET merged = false, merged_into = NULL, updated_at = $1 WHERE id = ANY($2)", table)
	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, time.Now().UTC(), pq.Array(sourceIDs))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_kind", string(kind)).Error("Failed to restore merged entities")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to restore merged entities")
	}
	return nil
}

// ListDealsByNormalizedCustomer returns active deals sharing a normalized
// customer name, excluding the given deal.
func (r *Repository) ListDealsByNormalizedCustomer(ctx context.Context, normalizedCustomer, excludeID string) ([]models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListDealsByNormalizedCustomer")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s FROM deals
		WHERE customer_normalized = $1 AND id <> $2 AND merged = false
		ORDER BY created_at ASC
	`, columnList(models.EntityKindDeal))

	var deals []models.Deal
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &deals, query, normalizedCustomer, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("customer", normalizedCustomer).Error("Failed to list deals by customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list deals by customer")
	}
	return deals, nil
}

// ListDealsByVendor returns active deals referencing a vendor.
func (r *Repository) ListDealsByVendor(ctx context.Context, vendorID string) ([]models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListDealsByVendor")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM deals WHERE vendor_id = $1 AND merged = false ORDER BY created_at ASC", columnList(models.EntityKindDeal))

	var deals []models.Deal
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &deals, query, vendorID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", vendorID).Error("Failed to list deals by vendor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list deals by vendor")
	}
	return deals, nil
}

// ListContactsByVendor returns active contacts associated with a vendor.
func (r *Repository) ListContactsByVendor(ctx context.Context, vendorID string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListContactsByVendor")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM contacts WHERE vendor_id = $1 AND merged = false ORDER BY created_at ASC", columnList(models.EntityKindContact))

	var contacts []models.Contact
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &contacts, query, vendorID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vendor_id", vendorID).Error("Failed to list contacts by vendor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list contacts by vendor")
	}
	return contacts, nil
}

func columnList(kind models.EntityKind) string {
	var cols []string
	switch kind {
	case models.EntityKindVendor:
		cols = vendorCols
	case models.EntityKindDeal:
		cols = dealCols
	case models.EntityKindContact:
		cols = contactCols
	}
	return strings.Join(cols, ", ")
}

func (r *Repository) selectEntities(ctx context.Context, kind models.EntityKind, query string, args ...any) ([]models.Entity, error) {
	exec := database.FromContext(ctx, r.db)

	switch kind {
	case models.EntityKindVendor:
		var rows []models.Vendor
		if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to select vendors")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to select vendors")
		}
		entities := make([]models.Entity, 0, len(rows))
		for i := range rows {
			entities = append(entities, models.NewVendorEntity(&rows[i]))
		}
		return entities, nil

	case models.EntityKindDeal:
		var rows []models.Deal
		if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to select deals")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to select deals")
		}
		entities := make([]models.Entity, 0, len(rows))
		for i := range rows {
			entities = append(entities, models.NewDealEntity(&rows[i]))
		}
		return entities, nil

	case models.EntityKindContact:
		var rows []models.Contact
		if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to select contacts")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to select contacts")
		}
		entities := make([]models.Entity, 0, len(rows))
		for i := range rows {
			entities = append(entities, models.NewContactEntity(&rows[i]))
		}
		return entities, nil
	}

	return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
}
