package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/mergehistory"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeHistoryStore struct {
	rows       []models.MergeHistory
	lastFilter mergehistory.Filter
}

func (s *fakeHistoryStore) List(_ context.Context, filter mergehistory.Filter) ([]models.MergeHistory, error) {
	s.lastFilter = filter
	return s.rows, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestExporter_ExportCSV(t *testing.T) {
	ctx := context.Background()
	mergedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	unmergedAt := mergedAt.Add(48 * time.Hour)
	reason := "wrong pairing"

	store := &fakeHistoryStore{rows: []models.MergeHistory{
		{
			ID:                 "mh-1",
			ClusterID:          "cl-1",
			EntityKind:         models.EntityKindVendor,
			MergeStrategy:      models.MergeStrategyKeepHighestQuality,
			ConflictResolution: models.ConflictResolutionMergeArrays,
			TargetEntityID:     "v-1",
			SourceEntityIDs:    pq.StringArray{"v-2", "v-3"},
			MergedBy:           "analyst@clover",
			CreatedAt:          mergedAt,
		},
		{
			ID:                 "mh-2",
			ClusterID:          "cl-2",
			EntityKind:         models.EntityKindDeal,
			MergeStrategy:      models.MergeStrategyKeepNewest,
			ConflictResolution: models.ConflictResolutionPreferTarget,
			TargetEntityID:     "d-1",
			SourceEntityIDs:    pq.StringArray{"d-2"},
			MergedBy:           "analyst@clover",
			CreatedAt:          mergedAt,
			Unmerged:           true,
			UnmergedAt:         &unmergedAt,
			UnmergeReason:      &reason,
		},
	}}

	exporter := NewExporter(testLogger(), store)

	var buf bytes.Buffer
	require.NoError(t, exporter.ExportCSV(ctx, &buf, mergehistory.Filter{}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, csvHeader, records[0])

	assert.Equal(t, []string{
		"mh-1", "2025-06-01T12:00:00Z", "analyst@clover", "vendor",
		"KEEP_HIGHEST_QUALITY", "MERGE_ARRAYS", "v-1", "2", "false", "", "",
	}, records[1])

	assert.Equal(t, []string{
		"mh-2", "2025-06-01T12:00:00Z", "analyst@clover", "deal",
		"KEEP_NEWEST", "PREFER_TARGET", "d-1", "1", "true",
		"2025-06-03T12:00:00Z", "wrong pairing",
	}, records[2])
}

func TestExporter_ExportCSV_Empty(t *testing.T) {
	exporter := NewExporter(testLogger(), &fakeHistoryStore{})

	var buf bytes.Buffer
	require.NoError(t, exporter.ExportCSV(context.Background(), &buf, mergehistory.Filter{}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "empty history exports the header only")
	assert.Equal(t, csvHeader, records[0])
}

func TestExporter_ExportCSV_PassesFilter(t *testing.T) {
	store := &fakeHistoryStore{}
	exporter := NewExporter(testLogger(), store)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := mergehistory.Filter{
		StartDate:  &start,
		MergedBy:   "analyst@clover",
		EntityKind: models.EntityKindVendor,
	}

	var buf bytes.Buffer
	require.NoError(t, exporter.ExportCSV(context.Background(), &buf, filter))
	assert.Equal(t, filter, store.lastFilter)
}
