// Package resolution exposes duplicate detection, clustering, and merge
// operations over HTTP.
package resolution

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/clustering"
	clovercontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

// EntityStore loads detection pools and cluster inputs.
type EntityStore interface {
	ListByKind(ctx context.Context, kind models.EntityKind, includeMerged bool) ([]models.Entity, error)
}

// AliasStore preloads vendor aliases for the alias strategy.
type AliasStore interface {
	ListAll(ctx context.Context) ([]models.VendorAlias, error)
}

// DetectionStore persists detection outcomes for later review.
type DetectionStore interface {
	Record(ctx context.Context, kind models.EntityKind, matches []models.MatchResult) error
}

// ClusterStore reads and replaces duplicate clusters.
type ClusterStore interface {
	GetByID(ctx context.Context, id string) (*models.Cluster, error)
	ListByStatus(ctx context.Context, kind models.EntityKind, status models.ClusterStatus) ([]models.Cluster, error)
	Replace(ctx context.Context, kind models.EntityKind, clusters []models.Cluster) ([]models.Cluster, error)
}

// Merger executes cluster merges and unmerges.
type Merger interface {
	MergeCluster(ctx context.Context, clusterID, targetEntityID string, opts models.MergeOptions) (*models.MergeOutcome, error)
	UnmergeCluster(ctx context.Context, historyID, reason string) (*models.UnmergeOutcome, error)
}

// HistoryStore fetches merge history rows for post-merge projection.
type HistoryStore interface {
	GetByID(ctx context.Context, id string) (*models.MergeHistory, error)
}

// Emitter publishes detection events. Implementations must be best-effort.
type Emitter interface {
	EmitDuplicatesDetected(ctx context.Context, kind models.EntityKind, matches []models.MatchResult)
}

// Projector mirrors merge outcomes into the graph read model.
type Projector interface {
	ProjectMerge(ctx context.Context, h *models.MergeHistory) error
	ProjectUnmerge(ctx context.Context, h *models.MergeHistory) error
}

// Handler serves resolution routes. Emitter and Projector may be nil.
type Handler struct {
	logger     ectologger.Logger
	detector   *matching.Detector
	builder    *clustering.Builder
	entities   EntityStore
	aliases    AliasStore
	detections DetectionStore
	clusters   ClusterStore
	merger     Merger
	history    HistoryStore
	emitter    Emitter
	projector  Projector
}

// NewHandler creates a resolution handler.
func NewHandler(
	logger ectologger.Logger,
	detector *matching.Detector,
	builder *clustering.Builder,
	entities EntityStore,
	aliases AliasStore,
	detections DetectionStore,
	clusters ClusterStore,
	merger Merger,
	history HistoryStore,
	emitter Emitter,
	projector Projector,
) *Handler {
	return &Handler{
		logger:     logger,
		detector:   detector,
		builder:    builder,
		entities:   entities,
		aliases:    aliases,
		detections: detections,
		clusters:   clusters,
		merger:     merger,
		history:    history,
		emitter:    emitter,
		projector:  projector,
	}
}

// Register registers resolution routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/detect", h.DetectDuplicates)
	g.POST("/clusters/rebuild", h.RebuildClusters)
	g.GET("/clusters", h.ListClusters)
	g.GET("/clusters/:id", h.GetCluster)
	g.POST("/clusters/:id/merge", h.MergeCluster)
	g.POST("/merge-history/:id/unmerge", h.UnmergeCluster)
}

type detectRequest struct {
	Entity models.Entity `json:"entity"`
}

// DetectDuplicates scores a candidate against the stored pool of its kind.
func (h *Handler) DetectDuplicates(c echo.Context) error {
	ctx := c.Request().Context()

	var req detectRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validateCandidate(req.Entity); err != nil {
		return err
	}

	pool, err := h.entities.ListByKind(ctx, req.Entity.Kind, false)
	if err != nil {
		return err
	}
	pool = excludeEntity(pool, req.Entity.ID())

	strategies, err := h.loadStrategies(ctx)
	if err != nil {
		return err
	}

	result := h.detector.DetectDuplicates(ctx, req.Entity, pool, strategies)

	if result.IsDuplicate {
		// Persistence and event emission are best-effort; the detection
		// result is still valid without them.
		if err := h.detections.Record(ctx, req.Entity.Kind, result.Matches); err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Failed to record duplicate detections")
		}
		if h.emitter != nil {
			h.emitter.EmitDuplicatesDetected(ctx, req.Entity.Kind, result.Matches)
		}
	}

	return c.JSON(http.StatusOK, result)
}

type rebuildRequest struct {
	EntityKind models.EntityKind `json:"entity_kind"`
}

// RebuildClusters recomputes pending duplicate clusters for one entity kind
// and replaces the stored set.
func (h *Handler) RebuildClusters(c echo.Context) error {
	ctx := c.Request().Context()

	var req rebuildRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.EntityKind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", req.EntityKind)
	}

	entities, err := h.entities.ListByKind(ctx, req.EntityKind, false)
	if err != nil {
		return err
	}

	strategies, err := h.loadStrategies(ctx)
	if err != nil {
		return err
	}

	clusters := h.builder.ClusterDuplicates(ctx, entities, strategies)

	stored, err := h.clusters.Replace(ctx, req.EntityKind, clusters)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind":   string(req.EntityKind),
		"cluster_count": len(stored),
	}).Info("Rebuilt duplicate clusters")

	return c.JSON(http.StatusOK, stored)
}

// ListClusters lists clusters for a kind, filtered by status.
func (h *Handler) ListClusters(c echo.Context) error {
	ctx := c.Request().Context()

	kind := models.EntityKind(c.QueryParam("entity_kind"))
	if !kind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", kind)
	}

	status := models.ClusterStatus(c.QueryParam("status"))
	if status == "" {
		status = models.ClusterStatusPending
	}

	clusters, err := h.clusters.ListByStatus(ctx, kind, status)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, clusters)
}

// GetCluster fetches one cluster by id.
func (h *Handler) GetCluster(c echo.Context) error {
	ctx := c.Request().Context()

	cluster, err := h.clusters.GetByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if cluster == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "cluster not found: %s", c.Param("id"))
	}

	return c.JSON(http.StatusOK, cluster)
}

type mergeRequest struct {
	TargetEntityID     string                       `json:"target_entity_id"`
	MergeStrategy      models.MergeStrategyType     `json:"merge_strategy"`
	ConflictResolution models.ConflictResolutionType `json:"conflict_resolution"`
	MergedBy           string                       `json:"merged_by"`
}

// MergeCluster collapses a cluster into its chosen master record.
func (h *Handler) MergeCluster(c echo.Context) error {
	ctx := c.Request().Context()

	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	mergedBy := req.MergedBy
	if mergedBy == "" {
		mergedBy = clovercontext.GetUserID(ctx)
	}

	opts := models.MergeOptions{
		MergeStrategy:      req.MergeStrategy,
		ConflictResolution: req.ConflictResolution,
		MergedBy:           mergedBy,
	}

	outcome, err := h.merger.MergeCluster(ctx, c.Param("id"), req.TargetEntityID, opts)
	if err != nil {
		return err
	}

	h.projectMerge(ctx, outcome.MergeHistoryID, false)

	return c.JSON(http.StatusOK, outcome)
}

type unmergeRequest struct {
	Reason string `json:"reason"`
}

// UnmergeCluster reverses a recorded merge.
func (h *Handler) UnmergeCluster(c echo.Context) error {
	ctx := c.Request().Context()

	var req unmergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	outcome, err := h.merger.UnmergeCluster(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return err
	}

	h.projectMerge(ctx, outcome.MergeHistoryID, true)

	return c.JSON(http.StatusOK, outcome)
}

// loadStrategies builds the standard strategy set with persisted aliases.
func (h *Handler) loadStrategies(ctx context.Context) ([]matching.Strategy, error) {
	aliases, err := h.aliases.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return matching.DefaultStrategies(aliases), nil
}

// projectMerge mirrors a committed merge or unmerge into the graph. Failures
// are logged; the relational commit already happened.
func (h *Handler) projectMerge(ctx context.Context, historyID string, unmerge bool) {
	if h.projector == nil {
		return
	}

	history, err := h.history.GetByID(ctx, historyID)
	if err != nil || history == nil {
		h.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", historyID).Warn("Failed to load merge history for graph projection")
		return
	}

	if unmerge {
		err = h.projector.ProjectUnmerge(ctx, history)
	} else {
		err = h.projector.ProjectMerge(ctx, history)
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", historyID).Warn("Failed to project merge into graph")
	}
}

func validateCandidate(e models.Entity) error {
	if !e.Kind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", e.Kind)
	}

	switch e.Kind {
	case models.EntityKindVendor:
		if e.Vendor == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "vendor payload is required")
		}
	case models.EntityKindDeal:
		if e.Deal == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "deal payload is required")
		}
	case models.EntityKindContact:
		if e.Contact == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "contact payload is required")
		}
	}
	return nil
}

func excludeEntity(pool []models.Entity, id string) []models.Entity {
	if id == "" {
		return pool
	}

	out := pool[:0]
	for _, e := range pool {
		if e.ID() != id {
			out = append(out, e)
		}
	}
	return out
}
