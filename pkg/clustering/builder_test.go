package clustering

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testBuilder() *Builder {
	return NewBuilder(testLogger(), matching.NewDetector(testLogger()), DefaultConfig())
}

func vendor(id, name string) models.Entity {
	return models.NewVendorEntity(&models.Vendor{ID: id, Name: name})
}

func deal(id, name, customer, vendorID string) models.Entity {
	d := &models.Deal{ID: id, Name: name, Customer: customer}
	if vendorID != "" {
		d.VendorID = &vendorID
	}
	return models.NewDealEntity(d)
}

func TestBuilder_ClusterDuplicates(t *testing.T) {
	builder := testBuilder()
	ctx := context.Background()
	strategies := matching.DefaultStrategies(nil)

	t.Run("transitive duplicates form one cluster", func(t *testing.T) {
		entities := []models.Entity{
			vendor("v-1", "Acme, Inc."),
			vendor("v-2", "ACME Corporation"),
			vendor("v-3", "Acme"),
			vendor("v-4", "Globex"),
		}

		clusters := builder.ClusterDuplicates(ctx, entities, strategies)
		require.Len(t, clusters, 1)
		assert.Equal(t, models.EntityKindVendor, clusters[0].EntityKind)
		assert.Equal(t, []string{"v-1", "v-2", "v-3"}, []string(clusters[0].EntityIDs))
		assert.Equal(t, models.ClusterStatusPending, clusters[0].Status)
		assert.Equal(t, 1.0, clusters[0].ConfidenceScore)
	})

	t.Run("unrelated deal stays out of the cluster", func(t *testing.T) {
		entities := []models.Entity{
			deal("d-1", "Azure Migration for Acme", "Acme Corporation", "vendor-ms"),
			deal("d-2", "Microsoft Azure Cloud Migration", "Acme Corp", "vendor-ms"),
			deal("d-3", "AWS Expansion Initiative", "Globex Corporation", ""),
		}

		clusters := builder.ClusterDuplicates(ctx, entities, strategies)
		require.Len(t, clusters, 1)
		assert.Equal(t, []string{"d-1", "d-2"}, []string(clusters[0].EntityIDs))
		assert.GreaterOrEqual(t, clusters[0].ConfidenceScore, 0.8)
	})

	t.Run("singletons are dropped", func(t *testing.T) {
		entities := []models.Entity{
			vendor("v-1", "Acme"),
			vendor("v-2", "Globex"),
			vendor("v-3", "Initech"),
		}

		clusters := builder.ClusterDuplicates(ctx, entities, strategies)
		assert.Empty(t, clusters)
	})

	t.Run("clustering is idempotent", func(t *testing.T) {
		entities := []models.Entity{
			vendor("v-1", "Acme, Inc."),
			vendor("v-2", "ACME Corporation"),
			vendor("v-4", "Globex LLC"),
			vendor("v-5", "Globex"),
		}

		first := builder.ClusterDuplicates(ctx, entities, strategies)
		second := builder.ClusterDuplicates(ctx, entities, strategies)

		require.Len(t, first, 2)
		require.Len(t, second, 2)
		for i := range first {
			assert.Equal(t, first[i].EntityIDs, second[i].EntityIDs)
			assert.Equal(t, first[i].ConfidenceScore, second[i].ConfidenceScore)
		}
	})

	t.Run("confidence is the weakest edge", func(t *testing.T) {
		// v-1/v-2 match exactly (1.0); v-3 only joins through an alias
		// edge at 0.9, which becomes the cluster confidence.
		aliases := []models.VendorAlias{
			{ID: "a-1", VendorID: "v-1", Alias: "Zenith Partners", Confidence: 0.9},
		}
		withAlias := matching.DefaultStrategies(aliases)

		entities := []models.Entity{
			vendor("v-1", "Quantum Fabrication"),
			vendor("v-2", "Quantum Fabrication Ltd"),
			vendor("v-3", "Zenith Partners"),
		}

		clusters := builder.ClusterDuplicates(ctx, entities, withAlias)
		require.Len(t, clusters, 1)
		assert.Equal(t, []string{"v-1", "v-2", "v-3"}, []string(clusters[0].EntityIDs))
		assert.InDelta(t, 0.9, clusters[0].ConfidenceScore, 0.001)
	})

	t.Run("batches smaller than two yield nothing", func(t *testing.T) {
		assert.Empty(t, builder.ClusterDuplicates(ctx, []models.Entity{vendor("v-1", "Acme")}, strategies))
		assert.Empty(t, builder.ClusterDuplicates(ctx, nil, strategies))
	})
}
