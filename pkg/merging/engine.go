// Package merging collapses duplicate clusters onto a single master record
// and records the merge so it can be reversed.
package merging

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var validate = validator.New()

// TxBeginner opens (or joins) a transaction carried by the context.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EntityStore is the slice of entity persistence the engine needs.
type EntityStore interface {
	GetEntitiesByIDs(ctx context.Context, kind models.EntityKind, ids []string) ([]models.Entity, error)
	UpdateEntity(ctx context.Context, e models.Entity) error
	MarkMerged(ctx context.Context, kind models.EntityKind, sourceIDs []string, targetID string) error
	RestoreMerged(ctx context.Context, kind models.EntityKind, sourceIDs []string) error
}

// ClusterStore reads clusters and drives their status machine.
type ClusterStore interface {
	GetByID(ctx context.Context, id string) (*models.Cluster, error)
	TransitionStatus(ctx context.Context, id string, from, to models.ClusterStatus) error
}

// HistoryStore persists the append-only merge record.
type HistoryStore interface {
	Create(ctx context.Context, h *models.MergeHistory) (*models.MergeHistory, error)
	GetByID(ctx context.Context, id string) (*models.MergeHistory, error)
	HasActiveMerge(ctx context.Context, targetEntityID string, sourceEntityIDs []string) (bool, error)
	MarkUnmerged(ctx context.Context, id, reason string) error
}

// DetectionStore retires and reopens duplicate detections as merges come and
// go.
type DetectionStore interface {
	RetireForEntities(ctx context.Context, kind models.EntityKind, entityIDs []string) error
	ReopenForEntities(ctx context.Context, kind models.EntityKind, entityIDs []string) error
}

// AliasStore repoints vendor aliases when vendors collapse and learns the
// retired names as aliases of the survivor.
type AliasStore interface {
	RewireVendor(ctx context.Context, sourceVendorIDs []string, targetVendorID string) error
	Upsert(ctx context.Context, vendorID, alias string, confidence float64) (*models.VendorAlias, error)
}

// Emitter publishes merge lifecycle events. Optional; a nil emitter disables
// publishing.
type Emitter interface {
	EmitEntityMerged(ctx context.Context, h *models.MergeHistory)
	EmitEntityUnmerged(ctx context.Context, h *models.MergeHistory)
}

// Engine executes cluster merges and unmerges.
type Engine struct {
	logger      ectologger.Logger
	db          TxBeginner
	entities    EntityStore
	clusters    ClusterStore
	history     HistoryStore
	detections  DetectionStore
	aliases     AliasStore
	emitter     Emitter
	fieldMerger *FieldMerger
}

// NewEngine creates a merge engine. aliases and emitter may be nil.
func NewEngine(
	logger ectologger.Logger,
	db TxBeginner,
	entities EntityStore,
	clusters ClusterStore,
	history HistoryStore,
	detections DetectionStore,
	aliases AliasStore,
	emitter Emitter,
) *Engine {
	return &Engine{
		logger:      logger,
		db:          db,
		entities:    entities,
		clusters:    clusters,
		history:     history,
		detections:  detections,
		aliases:     aliases,
		emitter:     emitter,
		fieldMerger: NewFieldMerger(),
	}
}

// MergeCluster collapses a pending cluster onto a master record. When
// targetEntityID is empty the master is chosen by the merge strategy;
// otherwise it must be a member of the cluster. The cluster moves
// pending -> merging -> merged; any failure inside the transaction rolls the
// data back and returns the cluster to pending.
func (e *Engine) MergeCluster(ctx context.Context, clusterID, targetEntityID string, opts models.MergeOptions) (*models.MergeOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.MergeCluster")
	defer span.End()

	if err := validate.Struct(opts); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid merge options: %s", err)
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"cluster_id":     clusterID,
		"merge_strategy": string(opts.MergeStrategy),
		"merged_by":      opts.MergedBy,
	})

	cluster, err := e.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "cluster %s not found", clusterID)
	}
	if cluster.Status == models.ClusterStatusMerged {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "cluster %s is already merged", clusterID)
	}

	members, err := e.entities.GetEntitiesByIDs(ctx, cluster.EntityKind, cluster.EntityIDs)
	if err != nil {
		return nil, err
	}
	if len(members) < 2 {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "cluster %s has fewer than two members", clusterID)
	}

	target, err := e.resolveTarget(members, targetEntityID, opts.MergeStrategy)
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m.ID() != target.ID() {
			sourceIDs = append(sourceIDs, m.ID())
		}
	}

	active, err := e.history.HasActiveMerge(ctx, target.ID(), sourceIDs)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "entities are already part of an active merge into %s", target.ID())
	}

	// The guarded transition is the critical section: a concurrent merge of
	// the same cluster loses here with a conflict.
	if err := e.clusters.TransitionStatus(ctx, clusterID, models.ClusterStatusPending, models.ClusterStatusMerging); err != nil {
		return nil, err
	}

	history, err := e.mergeInTx(ctx, cluster, target.ID(), sourceIDs, opts)
	if err != nil {
		if revertErr := e.clusters.TransitionStatus(ctx, clusterID, models.ClusterStatusMerging, models.ClusterStatusPending); revertErr != nil {
			log.WithError(revertErr).Error("Failed to return cluster to pending after merge failure")
		}
		return nil, err
	}

	log.WithFields(map[string]any{
		"target_entity_id": history.TargetEntityID,
		"source_count":     len(history.SourceEntityIDs),
		"merge_history_id": history.ID,
	}).Info("Merged cluster")

	if e.emitter != nil {
		e.emitter.EmitEntityMerged(ctx, history)
	}

	return &models.MergeOutcome{
		Success:         true,
		MergedEntityID:  history.TargetEntityID,
		SourceEntityIDs: history.SourceEntityIDs,
		MergeHistoryID:  history.ID,
	}, nil
}

// mergeInTx runs the data mutation of a merge inside one transaction. The
// members are re-selected under the transaction so the resolved fields
// reflect committed state, not the pre-transition read.
func (e *Engine) mergeInTx(ctx context.Context, cluster *models.Cluster, targetID string, sourceIDs []string, opts models.MergeOptions) (*models.MergeHistory, error) {
	ctxTx, tx, err := e.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	members, err := e.entities.GetEntitiesByIDs(ctxTx, cluster.EntityKind, cluster.EntityIDs)
	if err != nil {
		return nil, err
	}

	var target *models.Entity
	sources := make([]models.Entity, 0, len(members)-1)
	for i := range members {
		if members[i].ID() == targetID {
			target = &members[i]
		} else {
			sources = append(sources, members[i])
		}
	}
	if target == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "target entity %s disappeared from cluster %s", targetID, cluster.ID)
	}

	resolved, err := e.fieldMerger.Resolve(*target, sources, opts.ConflictResolution)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to resolve fields: %s", err)
	}

	if err := e.entities.UpdateEntity(ctxTx, resolved); err != nil {
		return nil, err
	}

	history, err := e.history.Create(ctxTx, &models.MergeHistory{
		ClusterID:          cluster.ID,
		EntityKind:         cluster.EntityKind,
		MergeStrategy:      opts.MergeStrategy,
		ConflictResolution: opts.ConflictResolution,
		TargetEntityID:     targetID,
		SourceEntityIDs:    sourceIDs,
		MergedBy:           opts.MergedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := e.entities.MarkMerged(ctxTx, cluster.EntityKind, sourceIDs, targetID); err != nil {
		return nil, err
	}

	if cluster.EntityKind == models.EntityKindVendor && e.aliases != nil {
		if err := e.aliases.RewireVendor(ctxTx, sourceIDs, targetID); err != nil {
			return nil, err
		}
		if err := e.learnAliases(ctxTx, *target, sources); err != nil {
			return nil, err
		}
	}

	if err := e.detections.RetireForEntities(ctxTx, cluster.EntityKind, cluster.EntityIDs); err != nil {
		return nil, err
	}

	if err := e.clusters.TransitionStatus(ctxTx, cluster.ID, models.ClusterStatusMerging, models.ClusterStatusMerged); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	return history, nil
}

// learnedAliasConfidence is the stored confidence for aliases learned from
// retired vendor names.
const learnedAliasConfidence = 0.95

// learnAliases records each retired vendor's name as an alias of the
// survivor, so the alias strategy recognizes the old names in future
// detections.
func (e *Engine) learnAliases(ctx context.Context, target models.Entity, sources []models.Entity) error {
	targetName := normalizers.NormalizeCompanyName(target.Name())

	seen := map[string]bool{}
	for _, source := range sources {
		name := source.Name()
		normalized := normalizers.NormalizeCompanyName(name)
		if normalized == "" || normalized == targetName || seen[normalized] {
			continue
		}
		seen[normalized] = true

		if _, err := e.aliases.Upsert(ctx, target.ID(), name, learnedAliasConfidence); err != nil {
			return err
		}
	}
	return nil
}

// UnmergeCluster reverses a recorded merge: the history row is flagged, the
// source entities come back, their detections reopen, and the cluster
// returns to pending so it can be merged again.
func (e *Engine) UnmergeCluster(ctx context.Context, historyID, reason string) (*models.UnmergeOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.UnmergeCluster")
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("merge_history_id", historyID)

	history, err := e.history.GetByID(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "merge history %s not found", historyID)
	}

	ctxTx, tx, err := e.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// MarkUnmerged is guarded on unmerged = false, so a double unmerge
	// conflicts here rather than restoring twice.
	if err := e.history.MarkUnmerged(ctxTx, historyID, reason); err != nil {
		return nil, err
	}

	if err := e.entities.RestoreMerged(ctxTx, history.EntityKind, history.SourceEntityIDs); err != nil {
		return nil, err
	}

	allIDs := append([]string{history.TargetEntityID}, history.SourceEntityIDs...)
	if err := e.detections.ReopenForEntities(ctxTx, history.EntityKind, allIDs); err != nil {
		return nil, err
	}

	if err := e.clusters.TransitionStatus(ctxTx, history.ClusterID, models.ClusterStatusMerged, models.ClusterStatusPending); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"restored_count": len(history.SourceEntityIDs),
		"cluster_id":     history.ClusterID,
	}).Info("Unmerged cluster")

	if e.emitter != nil {
		e.emitter.EmitEntityUnmerged(ctx, history)
	}

	return &models.UnmergeOutcome{
		Success:           true,
		MergeHistoryID:    historyID,
		RestoredEntityIDs: history.SourceEntityIDs,
	}, nil
}

// resolveTarget validates an explicit target or picks one via the strategy.
func (e *Engine) resolveTarget(members []models.Entity, targetEntityID string, strategy models.MergeStrategyType) (models.Entity, error) {
	if targetEntityID == "" {
		target, err := ChooseMaster(members, strategy)
		if err != nil {
			return models.Entity{}, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s", err)
		}
		return target, nil
	}

	for _, m := range members {
		if m.ID() == targetEntityID {
			return m, nil
		}
	}
	return models.Entity{}, httperror.NewHTTPErrorf(http.StatusBadRequest, "target entity %s is not a member of the cluster", targetEntityID)
}
