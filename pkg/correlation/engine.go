package correlation

import (
	"context"
	"net/http"
	"sort"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// EntityStore is the slice of entity persistence the engine needs.
type EntityStore interface {
	GetEntity(ctx context.Context, kind models.EntityKind, id string) (*models.Entity, error)
	GetVendor(ctx context.Context, id string) (*models.Vendor, error)
	GetDeal(ctx context.Context, id string) (*models.Deal, error)
	ListMissingCorrelationKey(ctx context.Context, kind models.EntityKind) ([]models.Entity, error)
	SetCorrelationKey(ctx context.Context, kind models.EntityKind, id, key string) error
	FindByFileOverlap(ctx context.Context, kind models.EntityKind, fileIDs []string) ([]models.Entity, error)
	ListDealsByNormalizedCustomer(ctx context.Context, normalizedCustomer, excludeID string) ([]models.Deal, error)
	ListDealsByVendor(ctx context.Context, vendorID string) ([]models.Deal, error)
	ListContactsByVendor(ctx context.Context, vendorID string) ([]models.Contact, error)
}

// ProvenanceStore reads the extraction log.
type ProvenanceStore interface {
	ListByEntity(ctx context.Context, entityID, fieldName string) ([]models.FieldProvenance, error)
}

// FileStore reads ingested source files.
type FileStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.SourceFile, error)
}

// Engine answers relationship, lineage and cross-source queries. All reads
// are side-effect-free; UpdateCorrelationKeys is the one corrective write
// path and uses per-row error isolation.
type Engine struct {
	logger      ectologger.Logger
	entities    EntityStore
	provenance  ProvenanceStore
	sourceFiles FileStore
}

// NewEngine creates a correlation engine.
func NewEngine(logger ectologger.Logger, entities EntityStore, provenance ProvenanceStore, sourceFiles FileStore) *Engine {
	return &Engine{
		logger:      logger,
		entities:    entities,
		provenance:  provenance,
		sourceFiles: sourceFiles,
	}
}

// FindRelatedEntities loads the one-hop neighborhood of an entity: its
// vendor, source files, vendor contacts, and sibling deals sharing the same
// normalized customer.
func (e *Engine) FindRelatedEntities(ctx context.Context, id string, kind models.EntityKind) (*models.RelatedEntities, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.FindRelatedEntities")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   id,
		"entity_kind": string(kind),
	})

	primary, err := e.entities.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "%s %s not found", kind, id)
	}

	related := &models.RelatedEntities{Entity: *primary}

	vendorID := relatedVendorID(*primary)
	if vendorID != "" {
		vendor, err := e.entities.GetVendor(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		related.Vendor = vendor

		contacts, err := e.entities.ListContactsByVendor(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		related.Contacts = contacts
	}

	if primary.Kind == models.EntityKindDeal {
		customer := normalizers.NormalizeCompanyName(primary.Deal.Customer)
		if customer != "" {
			siblings, err := e.entities.ListDealsByNormalizedCustomer(ctx, customer, id)
			if err != nil {
				return nil, err
			}
			related.SiblingDeals = siblings
		}
	}

	if fileIDs := primary.SourceFileIDs(); len(fileIDs) > 0 {
		files, err := e.sourceFiles.ListByIDs(ctx, fileIDs)
		if err != nil {
			return nil, err
		}
		related.SourceFiles = files
	}

	log.WithFields(map[string]any{
		"contact_count": len(related.Contacts),
		"sibling_count": len(related.SiblingDeals),
		"file_count":    len(related.SourceFiles),
	}).Debug("Resolved related entities")

	return related, nil
}

// BuildDealCorrelationMap aggregates everything known about a deal's
// lineage: vendor, contacts, contributing files and per-field provenance.
func (e *Engine) BuildDealCorrelationMap(ctx context.Context, dealID string) (*models.DealCorrelationMap, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.BuildDealCorrelationMap")
	defer span.End()

	deal, err := e.entities.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "deal %s not found", dealID)
	}

	result := &models.DealCorrelationMap{
		Deal:            *deal,
		FieldProvenance: map[string][]models.FieldProvenance{},
	}

	if deal.VendorID != nil {
		vendor, err := e.entities.GetVendor(ctx, *deal.VendorID)
		if err != nil {
			return nil, err
		}
		result.Vendor = vendor

		contacts, err := e.entities.ListContactsByVendor(ctx, *deal.VendorID)
		if err != nil {
			return nil, err
		}
		result.Contacts = contacts
	}

	if len(deal.SourceFileIDs) > 0 {
		files, err := e.sourceFiles.ListByIDs(ctx, deal.SourceFileIDs)
		if err != nil {
			return nil, err
		}
		result.SourceFiles = files
	}

	lineage, err := e.GetDataLineage(ctx, dealID, "")
	if err != nil {
		return nil, err
	}
	result.FieldProvenance = lineage

	return result, nil
}

// GetDataLineage returns per-field provenance ordered by extraction time
// ascending. An empty fieldName returns all fields.
func (e *Engine) GetDataLineage(ctx context.Context, entityID, fieldName string) (map[string][]models.FieldProvenance, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.GetDataLineage")
	defer span.End()

	rows, err := e.provenance.ListByEntity(ctx, entityID, fieldName)
	if err != nil {
		return nil, err
	}

	lineage := make(map[string][]models.FieldProvenance)
	for _, row := range rows {
		lineage[row.FieldName] = append(lineage[row.FieldName], row)
	}
	return lineage, nil
}

// UpdateCorrelationKeys derives and persists keys for every entity of a kind
// lacking one. Row failures are counted, never fatal.
func (e *Engine) UpdateCorrelationKeys(ctx context.Context, kind models.EntityKind) (models.CorrelationKeyReport, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.UpdateCorrelationKeys")
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("entity_kind", string(kind))

	var report models.CorrelationKeyReport

	if !kind.Valid() {
		return report, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	pending, err := e.entities.ListMissingCorrelationKey(ctx, kind)
	if err != nil {
		return report, err
	}

	for _, entity := range pending {
		key, err := DeriveCorrelationKey(entity)
		if err != nil {
			report.Errors++
			log.WithError(err).WithField("entity_id", entity.ID()).Warn("Failed to derive correlation key")
			continue
		}
		if err := e.entities.SetCorrelationKey(ctx, kind, entity.ID(), key); err != nil {
			report.Errors++
			log.WithError(err).WithField("entity_id", entity.ID()).Warn("Failed to persist correlation key")
			continue
		}
		report.Updated++
	}

	log.WithFields(map[string]any{
		"updated": report.Updated,
		"errors":  report.Errors,
	}).Info("Correlation key backfill complete")

	return report, nil
}

// FindCrossSourceDuplicates groups entities of a kind that share a
// correlation key and whose source files intersect the given file set.
// Only groups with at least two members are returned.
func (e *Engine) FindCrossSourceDuplicates(ctx context.Context, fileIDs []string, kind models.EntityKind) ([]models.CrossSourceGroup, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.FindCrossSourceDuplicates")
	defer span.End()

	if !kind.Valid() {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}
	if len(fileIDs) == 0 {
		return nil, nil
	}

	entities, err := e.entities.FindByFileOverlap(ctx, kind, fileIDs)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]string)
	for _, entity := range entities {
		key := entity.CorrelationKey()
		if key == nil || *key == "" {
			continue
		}
		byKey[*key] = append(byKey[*key], entity.ID())
	}

	var groups []models.CrossSourceGroup
	for key, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		groups = append(groups, models.CrossSourceGroup{
			CorrelationKey: key,
			EntityKind:     kind,
			EntityIDs:      ids,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CorrelationKey < groups[j].CorrelationKey
	})

	return groups, nil
}

// relatedVendorID extracts the vendor association of an entity: the entity's
// own id for vendors, the vendor_id reference for deals and contacts.
func relatedVendorID(e models.Entity) string {
	switch e.Kind {
	case models.EntityKindVendor:
		return e.Vendor.ID
	case models.EntityKindDeal:
		if e.Deal.VendorID != nil {
			return *e.Deal.VendorID
		}
	case models.EntityKindContact:
		if e.Contact.VendorID != nil {
			return *e.Contact.VendorID
		}
	}
	return ""
}
