// Package cluster persists duplicate clusters and their merge lifecycle
// status.
package cluster

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const noRowsErr = "sql: no rows in result set"

var clusterCols = []string{"id", "entity_kind", "entity_ids", "confidence_score", "status", "created_at", "updated_at"}

// Repository handles duplicate cluster persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new cluster repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Create inserts a cluster row.
func (r *Repository) Create(ctx context.Context, c *models.Cluster) (*models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.Create")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.ClusterStatusPending
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("duplicate_clusters")
	sb.Cols(clusterCols...)
	sb.Values(c.ID, string(c.EntityKind), pq.Array(c.EntityIDs), c.ConfidenceScore, string(c.Status), c.CreatedAt, c.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("cluster_id", c.ID).Error("Failed to create cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create cluster")
	}
	return c, nil
}

// GetByID returns a cluster by id, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(clusterCols...)
	sb.From("duplicate_clusters")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var c models.Cluster
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &c, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("cluster_id", id).Error("Failed to get cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get cluster")
	}
	return &c, nil
}

// ListByStatus returns clusters of a kind in the given status.
func (r *Repository) ListByStatus(ctx context.Context, kind models.EntityKind, status models.ClusterStatus) ([]models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.ListByStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(clusterCols...)
	sb.From("duplicate_clusters")
	sb.Where(
		sb.Equal("entity_kind", string(kind)),
		sb.Equal("status", string(status)),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var clusters []models.Cluster
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &clusters, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_kind": string(kind), "status": string(status)}).Error("Failed to list clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list clusters")
	}
	return clusters, nil
}

// TransitionStatus moves a cluster from an expected status to a new one.
// Returns a conflict error when the cluster is not in the expected status,
// which is what serializes concurrent merge attempts.
func (r *Repository) TransitionStatus(ctx context.Context, id string, from, to models.ClusterStatus) error {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.TransitionStatus")
	defer span.End()

	query := "UPDATE duplicate_clusters SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4"
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cluster_id": id, "from": string(from), "to": string(to)}).Error("Failed to transition cluster status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition cluster status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition cluster status")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "cluster %s is not in status %s", id, from)
	}
	return nil
}

// Replace deletes a kind's pending clusters and inserts the given set.
// Keeps rebuilds idempotent without disturbing merging/merged clusters.
func (r *Repository) Replace(ctx context.Context, kind models.EntityKind, clusters []models.Cluster) ([]models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.Replace")
	defer span.End()

	exec := database.FromContext(ctx, r.db)
	if _, err := exec.ExecContext(ctx, "DELETE FROM duplicate_clusters WHERE entity_kind = $1 AND status = $2", string(kind), string(models.ClusterStatusPending)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_kind", string(kind)).Error("Failed to clear pending clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear pending clusters")
	}

	out := make([]models.Cluster, 0, len(clusters))
	for i := range clusters {
		created, err := r.Create(ctx, &clusters[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}
