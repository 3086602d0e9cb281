package merging

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestFieldMerger_MergeArrays(t *testing.T) {
	merger := NewFieldMerger()

	target := models.NewVendorEntity(&models.Vendor{
		ID:            "v-1",
		Name:          "Acme Corporation",
		Domains:       pq.StringArray{"acme.com"},
		SourceFileIDs: pq.StringArray{"f-1"},
		Confidence:    0.9,
	})
	source := models.NewVendorEntity(&models.Vendor{
		ID:            "v-2",
		Name:          "Acme Corp",
		Aliases:       pq.StringArray{"acme inc"},
		Domains:       pq.StringArray{"acme.com", "acme.io"},
		SourceFileIDs: pq.StringArray{"f-2"},
		Confidence:    0.7,
	})

	resolved, err := merger.Resolve(target, []models.Entity{source}, models.ConflictResolutionMergeArrays)
	require.NoError(t, err)

	v := resolved.Vendor
	assert.Equal(t, "Acme Corporation", v.Name, "scalar keeps the target value")
	assert.Equal(t, pq.StringArray{"acme.com", "acme.io"}, v.Domains, "arrays union without duplicates")
	assert.Equal(t, pq.StringArray{"acme inc"}, v.Aliases, "empty target arrays fill from sources")
	assert.Equal(t, pq.StringArray{"f-1", "f-2"}, v.SourceFileIDs, "provenance unions")
	assert.Empty(t, target.Vendor.Aliases, "input record is not mutated")
}

func TestFieldMerger_PreferTarget(t *testing.T) {
	merger := NewFieldMerger()

	vendorID := "v-1"
	value := 50000.0
	target := models.NewDealEntity(&models.Deal{
		ID:       "d-1",
		Name:     "Azure Migration",
		Customer: "Acme",
	})
	source := models.NewDealEntity(&models.Deal{
		ID:              "d-2",
		Name:            "Azure Migration Phase 2",
		Customer:        "Acme Corp",
		VendorID:        &vendorID,
		Value:           &value,
		ProductMentions: pq.StringArray{"Azure"},
	})

	resolved, err := merger.Resolve(target, []models.Entity{source}, models.ConflictResolutionPreferTarget)
	require.NoError(t, err)

	d := resolved.Deal
	assert.Equal(t, "Azure Migration", d.Name)
	assert.Equal(t, "Acme", d.Customer)
	require.NotNil(t, d.VendorID, "empty target fields fill from the source")
	assert.Equal(t, "v-1", *d.VendorID)
	require.NotNil(t, d.Value)
	assert.Equal(t, 50000.0, *d.Value)
	assert.Equal(t, pq.StringArray{"Azure"}, d.ProductMentions, "empty target array fills, no union")
}

func TestFieldMerger_PreferHighestConfidence(t *testing.T) {
	merger := NewFieldMerger()

	title := "VP Sales"
	target := models.NewContactEntity(&models.Contact{
		ID:         "c-1",
		Name:       "J. Doe",
		Email:      "jdoe@acme.com",
		Confidence: 0.6,
	})
	source := models.NewContactEntity(&models.Contact{
		ID:         "c-2",
		Name:       "Jane Doe",
		Email:      "jane.doe@acme.com",
		Title:      &title,
		Confidence: 0.9,
	})

	resolved, err := merger.Resolve(target, []models.Entity{source}, models.ConflictResolutionPreferHighestConfidence)
	require.NoError(t, err)

	c := resolved.Contact
	assert.Equal(t, "Jane Doe", c.Name, "higher confidence source wins the field")
	assert.Equal(t, "jane.doe@acme.com", c.Email)
	require.NotNil(t, c.Title)
	assert.Equal(t, "VP Sales", *c.Title)

	t.Run("confidence tie keeps target", func(t *testing.T) {
		tied := models.NewContactEntity(&models.Contact{ID: "c-3", Name: "Janet Doe", Email: "janet@acme.com", Confidence: 0.6})
		resolved, err := merger.Resolve(target, []models.Entity{tied}, models.ConflictResolutionPreferHighestConfidence)
		require.NoError(t, err)
		assert.Equal(t, "J. Doe", resolved.Contact.Name)
	})
}

func TestFieldMerger_RejectsMixedKinds(t *testing.T) {
	merger := NewFieldMerger()

	target := models.NewVendorEntity(&models.Vendor{ID: "v-1", Name: "Acme"})
	source := models.NewDealEntity(&models.Deal{ID: "d-1", Name: "Azure Migration", Customer: "Acme"})

	_, err := merger.Resolve(target, []models.Entity{source}, models.ConflictResolutionMergeArrays)
	assert.Error(t, err)
}
