package resolution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/clustering"
	clovercontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeEntityStore struct {
	pool []models.Entity
	err  error
}

func (f *fakeEntityStore) ListByKind(_ context.Context, kind models.EntityKind, _ bool) ([]models.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}

	out := []models.Entity{}
	for _, e := range f.pool {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAliasStore struct {
	aliases []models.VendorAlias
}

func (f *fakeAliasStore) ListAll(context.Context) ([]models.VendorAlias, error) {
	return f.aliases, nil
}

type fakeDetectionStore struct {
	recorded [][]models.MatchResult
}

func (f *fakeDetectionStore) Record(_ context.Context, _ models.EntityKind, matches []models.MatchResult) error {
	f.recorded = append(f.recorded, matches)
	return nil
}

type fakeClusterStore struct {
	clusters map[string]*models.Cluster
	replaced []models.Cluster
}

func (f *fakeClusterStore) GetByID(_ context.Context, id string) (*models.Cluster, error) {
	return f.clusters[id], nil
}

func (f *fakeClusterStore) ListByStatus(_ context.Context, kind models.EntityKind, status models.ClusterStatus) ([]models.Cluster, error) {
	out := []models.Cluster{}
	for _, c := range f.clusters {
		if c.EntityKind == kind && c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeClusterStore) Replace(_ context.Context, _ models.EntityKind, clusters []models.Cluster) ([]models.Cluster, error) {
	f.replaced = clusters
	return clusters, nil
}

type fakeMerger struct {
	mergeOutcome   *models.MergeOutcome
	unmergeOutcome *models.UnmergeOutcome
	err            error
	lastClusterID  string
	lastTargetID   string
	lastOpts       models.MergeOptions
	lastReason     string
}

func (f *fakeMerger) MergeCluster(_ context.Context, clusterID, targetEntityID string, opts models.MergeOptions) (*models.MergeOutcome, error) {
	f.lastClusterID = clusterID
	f.lastTargetID = targetEntityID
	f.lastOpts = opts
	return f.mergeOutcome, f.err
}

func (f *fakeMerger) UnmergeCluster(_ context.Context, historyID, reason string) (*models.UnmergeOutcome, error) {
	f.lastClusterID = historyID
	f.lastReason = reason
	return f.unmergeOutcome, f.err
}

type fakeHistoryStore struct {
	rows map[string]*models.MergeHistory
}

func (f *fakeHistoryStore) GetByID(_ context.Context, id string) (*models.MergeHistory, error) {
	return f.rows[id], nil
}

type fakeEmitter struct {
	batches [][]models.MatchResult
}

func (f *fakeEmitter) EmitDuplicatesDetected(_ context.Context, _ models.EntityKind, matches []models.MatchResult) {
	f.batches = append(f.batches, matches)
}

type fakeProjector struct {
	merged   []string
	unmerged []string
}

func (f *fakeProjector) ProjectMerge(_ context.Context, h *models.MergeHistory) error {
	f.merged = append(f.merged, h.ID)
	return nil
}

func (f *fakeProjector) ProjectUnmerge(_ context.Context, h *models.MergeHistory) error {
	f.unmerged = append(f.unmerged, h.ID)
	return nil
}

type testHarness struct {
	handler    *Handler
	entities   *fakeEntityStore
	detections *fakeDetectionStore
	clusters   *fakeClusterStore
	merger     *fakeMerger
	history    *fakeHistoryStore
	emitter    *fakeEmitter
	projector  *fakeProjector
}

func newHarness() *testHarness {
	logger := testLogger()
	h := &testHarness{
		entities:   &fakeEntityStore{},
		detections: &fakeDetectionStore{},
		clusters:   &fakeClusterStore{clusters: map[string]*models.Cluster{}},
		merger:     &fakeMerger{},
		history:    &fakeHistoryStore{rows: map[string]*models.MergeHistory{}},
		emitter:    &fakeEmitter{},
		projector:  &fakeProjector{},
	}

	detector := matching.NewDetector(logger)
	builder := clustering.NewBuilder(logger, detector, clustering.DefaultConfig())

	h.handler = NewHandler(
		logger,
		detector,
		builder,
		h.entities,
		&fakeAliasStore{},
		h.detections,
		h.clusters,
		h.merger,
		h.history,
		h.emitter,
		h.projector,
	)
	return h
}

func jsonRequest(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestDetectDuplicates(t *testing.T) {
	h := newHarness()
	h.entities.pool = []models.Entity{
		models.NewVendorEntity(&models.Vendor{ID: "v-1", Name: "Acme Corporation", Confidence: 0.9}),
		models.NewVendorEntity(&models.Vendor{ID: "v-2", Name: "Globex", Confidence: 0.9}),
	}

	body := `{"entity": {"kind": "vendor", "vendor": {"name": "Acme Corp"}}}`
	c, rec := jsonRequest(t, http.MethodPost, "/detect", body)

	require.NoError(t, h.handler.DetectDuplicates(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.DetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.True(t, result.IsDuplicate)
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "v-1", result.Matches[0].MatchedID)
	assert.InDelta(t, 1.0, result.Matches[0].Confidence, 1e-9)

	require.Len(t, h.detections.recorded, 1)
	require.Len(t, h.emitter.batches, 1)
}

func TestDetectDuplicates_EmptyPool(t *testing.T) {
	h := newHarness()

	body := `{"entity": {"kind": "vendor", "vendor": {"name": "Acme Corp"}}}`
	c, rec := jsonRequest(t, http.MethodPost, "/detect", body)

	require.NoError(t, h.handler.DetectDuplicates(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.DetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.False(t, result.IsDuplicate)
	assert.Empty(t, h.detections.recorded)
	assert.Empty(t, h.emitter.batches)
}

func TestDetectDuplicates_InvalidKind(t *testing.T) {
	h := newHarness()

	body := `{"entity": {"kind": "invoice"}}`
	c, _ := jsonRequest(t, http.MethodPost, "/detect", body)

	err := h.handler.DetectDuplicates(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestDetectDuplicates_MissingPayload(t *testing.T) {
	h := newHarness()

	body := `{"entity": {"kind": "deal"}}`
	c, _ := jsonRequest(t, http.MethodPost, "/detect", body)

	err := h.handler.DetectDuplicates(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestRebuildClusters(t *testing.T) {
	h := newHarness()
	h.entities.pool = []models.Entity{
		models.NewVendorEntity(&models.Vendor{ID: "v-1", Name: "Acme Corporation", Confidence: 0.9}),
		models.NewVendorEntity(&models.Vendor{ID: "v-2", Name: "Acme Corp", Confidence: 0.9}),
		models.NewVendorEntity(&models.Vendor{ID: "v-3", Name: "Globex", Confidence: 0.9}),
	}

	body := `{"entity_kind": "vendor"}`
	c, rec := jsonRequest(t, http.MethodPost, "/clusters/rebuild", body)

	require.NoError(t, h.handler.RebuildClusters(c))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, h.clusters.replaced, 1)
	assert.ElementsMatch(t, []string{"v-1", "v-2"}, h.clusters.replaced[0].EntityIDs)
}

func TestGetCluster_NotFound(t *testing.T) {
	h := newHarness()

	c, _ := jsonRequest(t, http.MethodGet, "/clusters/cl-missing", "")
	c.SetParamNames("id")
	c.SetParamValues("cl-missing")

	err := h.handler.GetCluster(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestListClusters_InvalidKind(t *testing.T) {
	h := newHarness()

	c, _ := jsonRequest(t, http.MethodGet, "/clusters?entity_kind=invoice", "")

	err := h.handler.ListClusters(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestMergeCluster(t *testing.T) {
	h := newHarness()
	h.merger.mergeOutcome = &models.MergeOutcome{
		Success:         true,
		MergedEntityID:  "v-1",
		SourceEntityIDs: []string{"v-2"},
		MergeHistoryID:  "mh-1",
	}
	h.history.rows["mh-1"] = &models.MergeHistory{ID: "mh-1", EntityKind: models.EntityKindVendor}

	body := `{"merge_strategy": "KEEP_HIGHEST_QUALITY", "conflict_resolution": "MERGE_ARRAYS", "merged_by": "analyst@clover"}`
	c, rec := jsonRequest(t, http.MethodPost, "/clusters/cl-1/merge", body)
	c.SetParamNames("id")
	c.SetParamValues("cl-1")

	require.NoError(t, h.handler.MergeCluster(c))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "cl-1", h.merger.lastClusterID)
	assert.Equal(t, "analyst@clover", h.merger.lastOpts.MergedBy)
	assert.Equal(t, []string{"mh-1"}, h.projector.merged)
}

func TestMergeCluster_MergedByFromContext(t *testing.T) {
	h := newHarness()
	h.merger.mergeOutcome = &models.MergeOutcome{Success: true, MergeHistoryID: "mh-1"}
	h.history.rows["mh-1"] = &models.MergeHistory{ID: "mh-1", EntityKind: models.EntityKindVendor}

	body := `{"merge_strategy": "KEEP_NEWEST", "conflict_resolution": "PREFER_TARGET"}`
	c, rec := jsonRequest(t, http.MethodPost, "/clusters/cl-1/merge", body)
	c.SetParamNames("id")
	c.SetParamValues("cl-1")

	ctx := clovercontext.SetUserID(c.Request().Context(), "ops@clover")
	c.SetRequest(c.Request().WithContext(ctx))

	require.NoError(t, h.handler.MergeCluster(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@clover", h.merger.lastOpts.MergedBy)
}

func TestUnmergeCluster(t *testing.T) {
	h := newHarness()
	h.merger.unmergeOutcome = &models.UnmergeOutcome{
		Success:           true,
		MergeHistoryID:    "mh-1",
		RestoredEntityIDs: []string{"v-2"},
	}
	h.history.rows["mh-1"] = &models.MergeHistory{ID: "mh-1", EntityKind: models.EntityKindVendor}

	body := `{"reason": "wrong match"}`
	c, rec := jsonRequest(t, http.MethodPost, "/merge-history/mh-1/unmerge", body)
	c.SetParamNames("id")
	c.SetParamValues("mh-1")

	require.NoError(t, h.handler.UnmergeCluster(c))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "wrong match", h.merger.lastReason)
	assert.Equal(t, []string{"mh-1"}, h.projector.unmerged)
}

func TestUnmergeCluster_MissingReason(t *testing.T) {
	h := newHarness()

	c, _ := jsonRequest(t, http.MethodPost, "/merge-history/mh-1/unmerge", `{}`)
	c.SetParamNames("id")
	c.SetParamValues("mh-1")

	err := h.handler.UnmergeCluster(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
