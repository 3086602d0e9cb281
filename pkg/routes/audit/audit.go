// Package audit exposes the merge audit trail over HTTP.
package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/mergehistory"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Handler serves audit routes.
type Handler struct {
	logger   ectologger.Logger
	exporter *audit.Exporter
}

// NewHandler creates an audit handler.
func NewHandler(logger ectologger.Logger, exporter *audit.Exporter) *Handler {
	return &Handler{
		logger:   logger,
		exporter: exporter,
	}
}

// Register registers audit routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/merge-history", h.ListMergeHistory)
	g.GET("/merge-history/export", h.ExportMergeHistory)
}

// ListMergeHistory returns merge history rows matching the filter.
func (h *Handler) ListMergeHistory(c echo.Context) error {
	ctx := c.Request().Context()

	filter, err := parseFilter(c)
	if err != nil {
		return err
	}

	rows, err := h.exporter.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rows)
}

// ExportMergeHistory streams the audit trail as CSV.
func (h *Handler) ExportMergeHistory(c echo.Context) error {
	ctx := c.Request().Context()

	filter, err := parseFilter(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", exportFilename()))
	res.WriteHeader(http.StatusOK)

	return h.exporter.ExportCSV(ctx, res, filter)
}

func exportFilename() string {
	return fmt.Sprintf("merge-history-%s.csv", time.Now().UTC().Format("2006-01-02"))
}

func parseFilter(c echo.Context) (mergehistory.Filter, error) {
	filter := mergehistory.Filter{
		MergedBy: c.QueryParam("merged_by"),
	}

	if kind := c.QueryParam("entity_type"); kind != "" {
		entityKind := models.EntityKind(kind)
		if !entityKind.Valid() {
			return filter, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid entity kind: %s", kind)
		}
		filter.EntityKind = entityKind
	}

	start, err := parseDate(c.QueryParam("start_date"))
	if err != nil {
		return filter, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid start_date: %s", c.QueryParam("start_date"))
	}
	filter.StartDate = start

	end, err := parseDate(c.QueryParam("end_date"))
	if err != nil {
		return filter, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid end_date: %s", c.QueryParam("end_date"))
	}
	filter.EndDate = end

	return filter, nil
}

// parseDate accepts RFC3339 timestamps or plain dates.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}

	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
