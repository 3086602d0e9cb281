package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Projector mirrors canonical registry records into the graph database.
// Projection is a read-model concern: it runs after the relational commit and
// failures never unwind a merge.
type Projector struct {
	client *Client
	logger ectologger.Logger
}

// NewProjector creates a graph projector.
func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{
		client: client,
		logger: logger,
	}
}

// ProjectEntity upserts a canonical entity node, along with its vendor edge
// for deals and contacts.
func (p *Projector) ProjectEntity(ctx context.Context, e models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectEntity")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   e.ID(),
		"entity_kind": string(e.Kind),
	})

	props, vendorID := entityProps(e)

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := fmt.Sprintf(`
			MERGE (e:%s {id: $id})
			SET e = $props
		`, labelFor(e.Kind))
		if _, err := tx.Run(ctx, cypher, map[string]any{"id": e.ID(), "props": props}); err != nil {
			return nil, err
		}

		if vendorID != "" {
			edge := fmt.Sprintf(`
				MATCH (e:%s {id: $id})
				MERGE (v:Vendor {id: $vendor_id})
				MERGE (e)-[:%s]->(v)
			`, labelFor(e.Kind), vendorEdgeFor(e.Kind))
			if _, err := tx.Run(ctx, edge, map[string]any{"id": e.ID(), "vendor_id": vendorID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		log.WithError(err).Error("Failed to project entity into graph")
		return fmt.Errorf("failed to project entity into graph: %w", err)
	}

	log.Debug("Projected entity into graph")
	return nil
}

// ProjectMerge marks source nodes merged and links them to the surviving
// node.
func (p *Projector) ProjectMerge(ctx context.Context, h *models.MergeHistory) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectMerge")
	defer span.End()

	label := labelFor(h.EntityKind)
	cypher := fmt.Sprintf(`
		MATCH (t:%s {id: $target_id})
		UNWIND $source_ids AS sourceId
		MERGE (s:%s {id: sourceId})
		SET s.merged = true, s.merged_into = $target_id
		MERGE (s)-[:MERGED_INTO {history_id: $history_id}]->(t)
	`, label, label)

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, map[string]any{
			"target_id":  h.TargetEntityID,
			"source_ids": []string(h.SourceEntityIDs),
			"history_id": h.ID,
		})
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", h.ID).Error("Failed to project merge into graph")
		return fmt.Errorf("failed to project merge into graph: %w", err)
	}
	return nil
}

// ProjectUnmerge removes the merge edges and restores the source nodes.
func (p *Projector) ProjectUnmerge(ctx context.Context, h *models.MergeHistory) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectUnmerge")
	defer span.End()

	label := labelFor(h.EntityKind)
	cypher := fmt.Sprintf(`
		UNWIND $source_ids AS sourceId
		MATCH (s:%s {id: sourceId})
		SET s.merged = false, s.merged_into = null
		WITH s
		OPTIONAL MATCH (s)-[r:MERGED_INTO {history_id: $history_id}]->()
		DELETE r
	`, label)

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, map[string]any{
			"source_ids": []string(h.SourceEntityIDs),
			"history_id": h.ID,
		})
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("merge_history_id", h.ID).Error("Failed to project unmerge into graph")
		return fmt.Errorf("failed to project unmerge into graph: %w", err)
	}
	return nil
}

func labelFor(kind models.EntityKind) string {
	switch kind {
	case models.EntityKindVendor:
		return "Vendor"
	case models.EntityKindDeal:
		return "Deal"
	case models.EntityKindContact:
		return "Contact"
	}
	return "Entity"
}

func vendorEdgeFor(kind models.EntityKind) string {
	if kind == models.EntityKindContact {
		return "WORKS_FOR"
	}
	return "WITH_VENDOR"
}

// entityProps flattens an entity into node properties plus the vendor edge
// target, if any.
func entityProps(e models.Entity) (map[string]any, string) {
	props := map[string]any{
		"id":          e.ID(),
		"entity_kind": string(e.Kind),
		"name":        e.Name(),
		"confidence":  e.Confidence(),
		"updated_at":  e.UpdatedAt().UTC().Format("2006-01-02T15:04:05Z"),
	}

	vendorID := ""
	switch e.Kind {
	case models.EntityKindVendor:
		props["domains"] = []string(e.Vendor.Domains)
		props["merged"] = e.Vendor.Merged
	case models.EntityKindDeal:
		props["customer"] = e.Deal.Customer
		props["merged"] = e.Deal.Merged
		if e.Deal.Value != nil {
			props["value"] = *e.Deal.Value
		}
		if e.Deal.VendorID != nil {
			vendorID = *e.Deal.VendorID
		}
	case models.EntityKindContact:
		props["email"] = e.Contact.Email
		props["merged"] = e.Contact.Merged
		if e.Contact.VendorID != nil {
			vendorID = *e.Contact.VendorID
		}
	}

	return props, vendorID
}
