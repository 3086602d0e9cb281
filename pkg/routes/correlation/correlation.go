// Package correlation exposes cross-source correlation and lineage queries
// over HTTP.
package correlation

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Engine is the correlation engine surface the routes need.
type Engine interface {
	FindRelatedEntities(ctx context.Context, id string, kind models.EntityKind) (*models.RelatedEntities, error)
	BuildDealCorrelationMap(ctx context.Context, dealID string) (*models.DealCorrelationMap, error)
	GetDataLineage(ctx context.Context, entityID, fieldName string) (map[string][]models.FieldProvenance, error)
	UpdateCorrelationKeys(ctx context.Context, kind models.EntityKind) (models.CorrelationKeyReport, error)
	FindCrossSourceDuplicates(ctx context.Context, fileIDs []string, kind models.EntityKind) ([]models.CrossSourceGroup, error)
}

// Handler serves correlation routes.
type Handler struct {
	logger ectologger.Logger
	engine Engine
}

// NewHandler creates a correlation handler.
func NewHandler(logger ectologger.Logger, engine Engine) *Handler {
	return &Handler{
		logger: logger,
		engine: engine,
	}
}

// Register registers correlation routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities/:kind/:id/related", h.FindRelatedEntities)
	g.GET("/deals/:id/correlation-map", h.BuildDealCorrelationMap)
	g.GET("/entities/:id/lineage", h.GetDataLineage)
	g.POST("/correlation-keys/:kind/refresh", h.UpdateCorrelationKeys)
	g.POST("/cross-source-duplicates", h.FindCrossSourceDuplicates)
}

// FindRelatedEntities returns the one-hop neighborhood of an entity.
func (h *Handler) FindRelatedEntities(c echo.Context) error {
	ctx := c.Request().Context()

	kind := models.EntityKind(c.Param("kind"))
	if !kind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", kind)
	}

	related, err := h.engine.FindRelatedEntities(ctx, c.Param("id"), kind)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, related)
}

// BuildDealCorrelationMap aggregates a deal's full lineage picture.
func (h *Handler) BuildDealCorrelationMap(c echo.Context) error {
	ctx := c.Request().Context()

	m, err := h.engine.BuildDealCorrelationMap(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, m)
}

// GetDataLineage returns per-field provenance history, oldest first.
func (h *Handler) GetDataLineage(c echo.Context) error {
	ctx := c.Request().Context()

	lineage, err := h.engine.GetDataLineage(ctx, c.Param("id"), c.QueryParam("field"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lineage)
}

// UpdateCorrelationKeys backfills missing correlation keys for one kind.
func (h *Handler) UpdateCorrelationKeys(c echo.Context) error {
	ctx := c.Request().Context()

	kind := models.EntityKind(c.Param("kind"))
	if !kind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", kind)
	}

	report, err := h.engine.UpdateCorrelationKeys(ctx, kind)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind": string(kind),
		"updated":     report.Updated,
		"errors":      report.Errors,
	}).Info("Refreshed correlation keys")

	return c.JSON(http.StatusOK, report)
}

type crossSourceRequest struct {
	EntityKind models.EntityKind `json:"entity_kind"`
	FileIDs    []string          `json:"file_ids"`
}

// FindCrossSourceDuplicates groups entities sharing a correlation key whose
// source files intersect the queried file set.
func (h *Handler) FindCrossSourceDuplicates(c echo.Context) error {
	ctx := c.Request().Context()

	var req crossSourceRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.EntityKind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", req.EntityKind)
	}

	groups, err := h.engine.FindCrossSourceDuplicates(ctx, req.FileIDs, req.EntityKind)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, groups)
}
