package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeEntityStore is an in-memory EntityStore.
type fakeEntityStore struct {
	vendors  map[string]*models.Vendor
	deals    map[string]*models.Deal
	contacts map[string]*models.Contact

	keyFailures map[string]error
	setKeys     map[string]string
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		vendors:     map[string]*models.Vendor{},
		deals:       map[string]*models.Deal{},
		contacts:    map[string]*models.Contact{},
		keyFailures: map[string]error{},
		setKeys:     map[string]string{},
	}
}

func (f *fakeEntityStore) GetEntity(_ context.Context, kind models.EntityKind, id string) (*models.Entity, error) {
	switch kind {
	case models.EntityKindVendor:
		if v, ok := f.vendors[id]; ok {
			e := models.NewVendorEntity(v)
			return &e, nil
		}
	case models.EntityKindDeal:
		if d, ok := f.deals[id]; ok {
			e := models.NewDealEntity(d)
			return &e, nil
		}
	case models.EntityKindContact:
		if c, ok := f.contacts[id]; ok {
			e := models.NewContactEntity(c)
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeEntityStore) GetVendor(_ context.Context, id string) (*models.Vendor, error) {
	return f.vendors[id], nil
}

func (f *fakeEntityStore) GetDeal(_ context.Context, id string) (*models.Deal, error) {
	return f.deals[id], nil
}

func (f *fakeEntityStore) ListMissingCorrelationKey(_ context.Context, kind models.EntityKind) ([]models.Entity, error) {
	var out []models.Entity
	switch kind {
	case models.EntityKindVendor:
		for _, v := range f.vendors {
			if v.CorrelationKey == nil {
				out = append(out, models.NewVendorEntity(v))
			}
		}
	case models.EntityKindDeal:
		for _, d := range f.deals {
			if d.CorrelationKey == nil {
				out = append(out, models.NewDealEntity(d))
			}
		}
	case models.EntityKindContact:
		for _, c := range f.contacts {
			if c.CorrelationKey == nil {
				out = append(out, models.NewContactEntity(c))
			}
		}
	}
	return out, nil
}

func (f *fakeEntityStore) SetCorrelationKey(_ context.Context, kind models.EntityKind, id, key string) error {
	if err, ok := f.keyFailures[id]; ok {
		return err
	}
	f.setKeys[id] = key
	switch kind {
	case models.EntityKindVendor:
		if v, ok := f.vendors[id]; ok {
			v.CorrelationKey = &key
		}
	case models.EntityKindDeal:
		if d, ok := f.deals[id]; ok {
			d.CorrelationKey = &key
		}
	case models.EntityKindContact:
		if c, ok := f.contacts[id]; ok {
			c.CorrelationKey = &key
		}
	}
	return nil
}

func (f *fakeEntityStore) FindByFileOverlap(_ context.Context, kind models.EntityKind, fileIDs []string) ([]models.Entity, error) {
	fileSet := map[string]bool{}
	for _, id := range fileIDs {
		fileSet[id] = true
	}
	overlaps := func(ids []string) bool {
		for _, id := range ids {
			if fileSet[id] {
				return true
			}
		}
		return false
	}

	var out []models.Entity
	if kind == models.EntityKindDeal {
		for _, d := range f.deals {
			if !d.Merged && d.CorrelationKey != nil && overlaps(d.SourceFileIDs) {
				out = append(out, models.NewDealEntity(d))
			}
		}
	}
	if kind == models.EntityKindVendor {
		for _, v := range f.vendors {
			if !v.Merged && v.CorrelationKey != nil && overlaps(v.SourceFileIDs) {
				out = append(out, models.NewVendorEntity(v))
			}
		}
	}
	return out, nil
}

func (f *fakeEntityStore) ListDealsByNormalizedCustomer(_ context.Context, normalizedCustomer, excludeID string) ([]models.Deal, error) {
	var out []models.Deal
	for _, d := range f.deals {
		if d.ID == excludeID || d.Merged {
			continue
		}
		if normalizers.NormalizeCompanyName(d.Customer) == normalizedCustomer {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeEntityStore) ListDealsByVendor(_ context.Context, vendorID string) ([]models.Deal, error) {
	var out []models.Deal
	for _, d := range f.deals {
		if d.VendorID != nil && *d.VendorID == vendorID && !d.Merged {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeEntityStore) ListContactsByVendor(_ context.Context, vendorID string) ([]models.Contact, error) {
	var out []models.Contact
	for _, c := range f.contacts {
		if c.VendorID != nil && *c.VendorID == vendorID && !c.Merged {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeProvenanceStore serves canned extraction log rows.
type fakeProvenanceStore struct {
	rows []models.FieldProvenance
}

func (f *fakeProvenanceStore) ListByEntity(_ context.Context, entityID, fieldName string) ([]models.FieldProvenance, error) {
	var out []models.FieldProvenance
	for _, row := range f.rows {
		if row.EntityID != entityID {
			continue
		}
		if fieldName != "" && row.FieldName != fieldName {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// fakeFileStore serves canned source files.
type fakeFileStore struct {
	files map[string]models.SourceFile
}

func (f *fakeFileStore) ListByIDs(_ context.Context, ids []string) ([]models.SourceFile, error) {
	var out []models.SourceFile
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func newTestEngine(entities *fakeEntityStore, prov *fakeProvenanceStore, files *fakeFileStore) *Engine {
	if prov == nil {
		prov = &fakeProvenanceStore{}
	}
	if files == nil {
		files = &fakeFileStore{files: map[string]models.SourceFile{}}
	}
	return NewEngine(testLogger(), entities, prov, files)
}

func strPtr(s string) *string { return &s }

func TestDeriveCorrelationKey(t *testing.T) {
	t.Run("vendor keys on normalized name", func(t *testing.T) {
		key, err := DeriveCorrelationKey(models.NewVendorEntity(&models.Vendor{ID: "v-1", Name: "Acme, Inc."}))
		require.NoError(t, err)
		assert.Equal(t, "vendor:acme", key)
	})

	t.Run("deal keys on customer and lowest product", func(t *testing.T) {
		key, err := DeriveCorrelationKey(models.NewDealEntity(&models.Deal{
			ID:              "d-1",
			Customer:        "Acme Corporation",
			ProductMentions: []string{"Office 365", "Azure"},
		}))
		require.NoError(t, err)
		assert.Equal(t, "deal:acme:azure", key)
	})

	t.Run("deal without products keys on customer", func(t *testing.T) {
		key, err := DeriveCorrelationKey(models.NewDealEntity(&models.Deal{ID: "d-1", Customer: "Acme Corp"}))
		require.NoError(t, err)
		assert.Equal(t, "deal:acme", key)
	})

	t.Run("contact keys on email", func(t *testing.T) {
		key, err := DeriveCorrelationKey(models.NewContactEntity(&models.Contact{ID: "c-1", Email: "Jane@Acme.COM"}))
		require.NoError(t, err)
		assert.Equal(t, "contact:jane@acme.com", key)
	})

	t.Run("missing key material errors", func(t *testing.T) {
		_, err := DeriveCorrelationKey(models.NewDealEntity(&models.Deal{ID: "d-1"}))
		assert.Error(t, err)
	})
}

func TestEngine_FindRelatedEntities(t *testing.T) {
	ctx := context.Background()

	store := newFakeEntityStore()
	store.vendors["v-1"] = &models.Vendor{ID: "v-1", Name: "Microsoft"}
	store.deals["d-1"] = &models.Deal{ID: "d-1", Name: "Azure Migration", Customer: "Acme Corporation", VendorID: strPtr("v-1"), SourceFileIDs: []string{"f-1"}}
	store.deals["d-2"] = &models.Deal{ID: "d-2", Name: "Teams Rollout", Customer: "Acme Corp", VendorID: strPtr("v-1")}
	store.deals["d-3"] = &models.Deal{ID: "d-3", Name: "AWS Expansion", Customer: "Globex"}
	store.contacts["c-1"] = &models.Contact{ID: "c-1", Name: "Jane Doe", Email: "jane@microsoft.com", VendorID: strPtr("v-1")}

	files := &fakeFileStore{files: map[string]models.SourceFile{
		"f-1": {ID: "f-1", FileName: "deals.xlsx", FileType: "spreadsheet"},
	}}

	engine := newTestEngine(store, nil, files)

	t.Run("one hop neighborhood of a deal", func(t *testing.T) {
		related, err := engine.FindRelatedEntities(ctx, "d-1", models.EntityKindDeal)
		require.NoError(t, err)

		assert.Equal(t, "d-1", related.Entity.ID())
		require.NotNil(t, related.Vendor)
		assert.Equal(t, "v-1", related.Vendor.ID)
		require.Len(t, related.Contacts, 1)
		assert.Equal(t, "c-1", related.Contacts[0].ID)
		require.Len(t, related.SiblingDeals, 1)
		assert.Equal(t, "d-2", related.SiblingDeals[0].ID, "siblings share the normalized customer")
		require.Len(t, related.SourceFiles, 1)
		assert.Equal(t, "f-1", related.SourceFiles[0].ID)
	})

	t.Run("missing entity is not found", func(t *testing.T) {
		_, err := engine.FindRelatedEntities(ctx, "missing", models.EntityKindDeal)
		require.Error(t, err)
		assert.Equal(t, 404, httperror.GetStatusCode(err))
	})
}

func TestEngine_BuildDealCorrelationMap(t *testing.T) {
	ctx := context.Background()

	store := newFakeEntityStore()
	store.vendors["v-1"] = &models.Vendor{ID: "v-1", Name: "Microsoft"}
	store.deals["d-1"] = &models.Deal{ID: "d-1", Name: "Azure Migration", Customer: "Acme", VendorID: strPtr("v-1"), SourceFileIDs: []string{"f-1", "f-2"}}
	store.contacts["c-1"] = &models.Contact{ID: "c-1", Name: "Jane Doe", Email: "jane@microsoft.com", VendorID: strPtr("v-1")}

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	prov := &fakeProvenanceStore{rows: []models.FieldProvenance{
		{ID: "p-1", EntityID: "d-1", FieldName: "value", RawValue: "100000", SourceFileID: "f-1", ExtractedAt: base},
		{ID: "p-2", EntityID: "d-1", FieldName: "value", RawValue: "120000", SourceFileID: "f-2", ExtractedAt: base.Add(time.Hour)},
		{ID: "p-3", EntityID: "d-1", FieldName: "customer", RawValue: "Acme", SourceFileID: "f-1", ExtractedAt: base},
	}}
	files := &fakeFileStore{files: map[string]models.SourceFile{
		"f-1": {ID: "f-1", FileName: "inbox.mbox", FileType: "mbox"},
		"f-2": {ID: "f-2", FileName: "pipeline.xlsx", FileType: "spreadsheet"},
	}}

	engine := newTestEngine(store, prov, files)

	result, err := engine.BuildDealCorrelationMap(ctx, "d-1")
	require.NoError(t, err)

	require.NotNil(t, result.Vendor)
	assert.Equal(t, "v-1", result.Vendor.ID)
	assert.Len(t, result.Contacts, 1)
	assert.Len(t, result.SourceFiles, 2)
	require.Len(t, result.FieldProvenance["value"], 2)
	assert.Equal(t, "100000", result.FieldProvenance["value"][0].RawValue)
	assert.Equal(t, "120000", result.FieldProvenance["value"][1].RawValue)
	assert.Len(t, result.FieldProvenance["customer"], 1)

	t.Run("missing deal is not found", func(t *testing.T) {
		_, err := engine.BuildDealCorrelationMap(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, 404, httperror.GetStatusCode(err))
	})
}

func TestEngine_GetDataLineage(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	prov := &fakeProvenanceStore{rows: []models.FieldProvenance{
		{ID: "p-1", EntityID: "d-1", FieldName: "value", ExtractedAt: base},
		{ID: "p-2", EntityID: "d-1", FieldName: "value", ExtractedAt: base.Add(time.Hour)},
		{ID: "p-3", EntityID: "d-1", FieldName: "name", ExtractedAt: base},
	}}

	engine := newTestEngine(newFakeEntityStore(), prov, nil)

	t.Run("all fields", func(t *testing.T) {
		lineage, err := engine.GetDataLineage(ctx, "d-1", "")
		require.NoError(t, err)
		assert.Len(t, lineage, 2)
		require.Len(t, lineage["value"], 2)
		assert.True(t, lineage["value"][0].ExtractedAt.Before(lineage["value"][1].ExtractedAt))
	})

	t.Run("single field", func(t *testing.T) {
		lineage, err := engine.GetDataLineage(ctx, "d-1", "name")
		require.NoError(t, err)
		assert.Len(t, lineage, 1)
		assert.Len(t, lineage["name"], 1)
	})

	t.Run("repeated calls return identical history", func(t *testing.T) {
		first, err := engine.GetDataLineage(ctx, "d-1", "value")
		require.NoError(t, err)
		second, err := engine.GetDataLineage(ctx, "d-1", "value")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestEngine_UpdateCorrelationKeys(t *testing.T) {
	ctx := context.Background()

	store := newFakeEntityStore()
	store.deals["d-1"] = &models.Deal{ID: "d-1", Customer: "Acme Corp", ProductMentions: []string{"Azure"}}
	store.deals["d-2"] = &models.Deal{ID: "d-2"} // no customer: derivation fails
	store.deals["d-3"] = &models.Deal{ID: "d-3", Customer: "Globex", CorrelationKey: strPtr("deal:globex")}
	store.keyFailures["d-4"] = errors.New("storage down")
	store.deals["d-4"] = &models.Deal{ID: "d-4", Customer: "Initech"}

	engine := newTestEngine(store, nil, nil)

	report, err := engine.UpdateCorrelationKeys(ctx, models.EntityKindDeal)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, "deal:acme:azure", store.setKeys["d-1"])

	t.Run("unknown kind is a validation error", func(t *testing.T) {
		_, err := engine.UpdateCorrelationKeys(ctx, models.EntityKind("invoice"))
		require.Error(t, err)
		assert.Equal(t, 400, httperror.GetStatusCode(err))
	})
}

func TestEngine_FindCrossSourceDuplicates(t *testing.T) {
	ctx := context.Background()

	store := newFakeEntityStore()
	key := "deal:acme:azure"
	store.deals["d-1"] = &models.Deal{ID: "d-1", Customer: "Acme", CorrelationKey: &key, SourceFileIDs: []string{"file-1"}}
	store.deals["d-2"] = &models.Deal{ID: "d-2", Customer: "Acme", CorrelationKey: &key, SourceFileIDs: []string{"file-1", "file-2"}}
	// Shares the key but only via a different file: still grouped only when
	// its own files intersect the queried set.
	store.deals["d-3"] = &models.Deal{ID: "d-3", Customer: "Acme", CorrelationKey: &key, SourceFileIDs: []string{"file-9"}}
	other := "deal:globex"
	store.deals["d-4"] = &models.Deal{ID: "d-4", Customer: "Globex", CorrelationKey: &other, SourceFileIDs: []string{"file-1"}}

	engine := newTestEngine(store, nil, nil)

	groups, err := engine.FindCrossSourceDuplicates(ctx, []string{"file-1"}, models.EntityKindDeal)
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, key, groups[0].CorrelationKey)
	assert.Equal(t, []string{"d-1", "d-2"}, groups[0].EntityIDs)

	t.Run("empty file set yields nothing", func(t *testing.T) {
		groups, err := engine.FindCrossSourceDuplicates(ctx, nil, models.EntityKindDeal)
		require.NoError(t, err)
		assert.Empty(t, groups)
	})
}
