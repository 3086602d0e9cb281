package models

import "time"

// FieldProvenance is one extraction-log row: where a field's value came from
// and how confident the extractor was. The log is append-only; merges never
// rewrite a source entity's provenance.
type FieldProvenance struct {
	ID               string     `json:"id" db:"id"`
	EntityID         string     `json:"entity_id" db:"entity_id"`
	EntityKind       EntityKind `json:"entity_kind" db:"entity_kind"`
	FieldName        string     `json:"field_name" db:"field_name"`
	RawValue         string     `json:"raw_value" db:"raw_value"`
	SourceFileID     string     `json:"source_file_id" db:"source_file_id"`
	ExtractionMethod string     `json:"extraction_method" db:"extraction_method"`
	Confidence       float64    `json:"confidence" db:"confidence"`
	ExtractedAt      time.Time  `json:"extracted_at" db:"extracted_at"`
}

// RelatedEntities is the one-hop neighborhood of a primary entity.
type RelatedEntities struct {
	Entity       Entity       `json:"entity"`
	Vendor       *Vendor      `json:"vendor,omitempty"`
	Contacts     []Contact    `json:"contacts,omitempty"`
	SiblingDeals []Deal       `json:"sibling_deals,omitempty"`
	SourceFiles  []SourceFile `json:"source_files,omitempty"`
}

// DealCorrelationMap aggregates everything the registry knows about a deal's
// lineage: related vendor and contacts, contributing files, and per-field
// provenance history.
type DealCorrelationMap struct {
	Deal            Deal                         `json:"deal"`
	Vendor          *Vendor                      `json:"vendor,omitempty"`
	Contacts        []Contact                    `json:"contacts,omitempty"`
	SourceFiles     []SourceFile                 `json:"source_files,omitempty"`
	FieldProvenance map[string][]FieldProvenance `json:"field_provenance"`
}

// CorrelationKeyReport summarizes a bulk correlation-key backfill.
type CorrelationKeyReport struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// CrossSourceGroup is a set of entities sharing a correlation key whose
// source files intersect the queried file set.
type CrossSourceGroup struct {
	CorrelationKey string     `json:"correlation_key"`
	EntityKind     EntityKind `json:"entity_kind"`
	EntityIDs      []string   `json:"entity_ids"`
}
