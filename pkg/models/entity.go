package models

import (
	"time"

	"github.com/lib/pq"
)

// EntityKind identifies which variant of the registry an entity belongs to.
type EntityKind string

const (
	EntityKindVendor  EntityKind = "vendor"
	EntityKindDeal    EntityKind = "deal"
	EntityKindContact EntityKind = "contact"
)

// Valid reports whether the kind is one of the registry's closed set.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindVendor, EntityKindDeal, EntityKindContact:
		return true
	}
	return false
}

// Vendor is a supplier/partner record assembled from one or more sources.
type Vendor struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Aliases        pq.StringArray `json:"aliases" db:"aliases"`
	Domains        pq.StringArray `json:"domains" db:"domains"`
	Keywords       pq.StringArray `json:"keywords" db:"keywords"`
	ContactEmails  pq.StringArray `json:"contact_emails" db:"contact_emails"`
	CorrelationKey *string        `json:"correlation_key,omitempty" db:"correlation_key"`
	SourceFileIDs  pq.StringArray `json:"source_file_ids" db:"source_file_ids"`
	Confidence     float64        `json:"confidence" db:"confidence"`
	Merged         bool           `json:"merged" db:"merged"`
	MergedInto     *string        `json:"merged_into,omitempty" db:"merged_into"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Deal is an opportunity/engagement record tied to a vendor and a customer.
type Deal struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Customer        string         `json:"customer" db:"customer"`
	VendorID        *string        `json:"vendor_id,omitempty" db:"vendor_id"`
	Value           *float64       `json:"value,omitempty" db:"value"`
	ProductMentions pq.StringArray `json:"product_mentions" db:"product_mentions"`
	CorrelationKey  *string        `json:"correlation_key,omitempty" db:"correlation_key"`
	SourceFileIDs   pq.StringArray `json:"source_file_ids" db:"source_file_ids"`
	Confidence      float64        `json:"confidence" db:"confidence"`
	Merged          bool           `json:"merged" db:"merged"`
	MergedInto      *string        `json:"merged_into,omitempty" db:"merged_into"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Contact is a person record associated with a vendor.
type Contact struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Email          string         `json:"email" db:"email"`
	Title          *string        `json:"title,omitempty" db:"title"`
	VendorID       *string        `json:"vendor_id,omitempty" db:"vendor_id"`
	CorrelationKey *string        `json:"correlation_key,omitempty" db:"correlation_key"`
	SourceFileIDs  pq.StringArray `json:"source_file_ids" db:"source_file_ids"`
	Confidence     float64        `json:"confidence" db:"confidence"`
	Merged         bool           `json:"merged" db:"merged"`
	MergedInto     *string        `json:"merged_into,omitempty" db:"merged_into"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Entity is the closed tagged variant over the three record kinds. Exactly one
// of Vendor, Deal, Contact is non-nil and must agree with Kind.
type Entity struct {
	Kind    EntityKind `json:"kind"`
	Vendor  *Vendor    `json:"vendor,omitempty"`
	Deal    *Deal      `json:"deal,omitempty"`
	Contact *Contact   `json:"contact,omitempty"`
}

// NewVendorEntity wraps a vendor in the tagged variant.
func NewVendorEntity(v *Vendor) Entity { return Entity{Kind: EntityKindVendor, Vendor: v} }

// NewDealEntity wraps a deal in the tagged variant.
func NewDealEntity(d *Deal) Entity { return Entity{Kind: EntityKindDeal, Deal: d} }

// NewContactEntity wraps a contact in the tagged variant.
func NewContactEntity(c *Contact) Entity { return Entity{Kind: EntityKindContact, Contact: c} }

// ID returns the identifier of the underlying record.
func (e Entity) ID() string {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.ID
	case EntityKindDeal:
		return e.Deal.ID
	case EntityKindContact:
		return e.Contact.ID
	}
	return ""
}

// Name returns the display name of the underlying record.
func (e Entity) Name() string {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.Name
	case EntityKindDeal:
		return e.Deal.Name
	case EntityKindContact:
		return e.Contact.Name
	}
	return ""
}

// Customer returns the customer name for deals, empty otherwise.
func (e Entity) Customer() string {
	if e.Kind == EntityKindDeal {
		return e.Deal.Customer
	}
	return ""
}

// Emails returns every email address carried by the record.
func (e Entity) Emails() []string {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.ContactEmails
	case EntityKindContact:
		if e.Contact.Email == "" {
			return nil
		}
		return []string{e.Contact.Email}
	}
	return nil
}

// Domains returns the known email domains for vendors, empty otherwise.
func (e Entity) Domains() []string {
	if e.Kind == EntityKindVendor {
		return e.Vendor.Domains
	}
	return nil
}

// Products returns deal product mentions, empty otherwise.
func (e Entity) Products() []string {
	if e.Kind == EntityKindDeal {
		return e.Deal.ProductMentions
	}
	return nil
}

// Keywords returns vendor keywords, empty otherwise.
func (e Entity) Keywords() []string {
	if e.Kind == EntityKindVendor {
		return e.Vendor.Keywords
	}
	return nil
}

// Confidence returns the extraction confidence of the underlying record.
func (e Entity) Confidence() float64 {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.Confidence
	case EntityKindDeal:
		return e.Deal.Confidence
	case EntityKindContact:
		return e.Contact.Confidence
	}
	return 0
}

// SourceFileIDs returns the provenance file references of the record.
func (e Entity) SourceFileIDs() []string {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.SourceFileIDs
	case EntityKindDeal:
		return e.Deal.SourceFileIDs
	case EntityKindContact:
		return e.Contact.SourceFileIDs
	}
	return nil
}

// CorrelationKey returns the derived correlation key, nil until computed.
func (e Entity) CorrelationKey() *string {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.CorrelationKey
	case EntityKindDeal:
		return e.Deal.CorrelationKey
	case EntityKindContact:
		return e.Contact.CorrelationKey
	}
	return nil
}

// UpdatedAt returns the record's last update timestamp.
func (e Entity) UpdatedAt() time.Time {
	switch e.Kind {
	case EntityKindVendor:
		return e.Vendor.UpdatedAt
	case EntityKindDeal:
		return e.Deal.UpdatedAt
	case EntityKindContact:
		return e.Contact.UpdatedAt
	}
	return time.Time{}
}

// Completeness scores how many of the record's scorable fields are populated,
// in [0, 1]. Used by the merge engine's quality heuristic.
func (e Entity) Completeness() float64 {
	var filled, total float64

	count := func(populated bool) {
		total++
		if populated {
			filled++
		}
	}

	switch e.Kind {
	case EntityKindVendor:
		v := e.Vendor
		count(v.Name != "")
		count(len(v.Aliases) > 0)
		count(len(v.Domains) > 0)
		count(len(v.Keywords) > 0)
		count(len(v.ContactEmails) > 0)
		count(len(v.SourceFileIDs) > 0)
	case EntityKindDeal:
		d := e.Deal
		count(d.Name != "")
		count(d.Customer != "")
		count(d.VendorID != nil)
		count(d.Value != nil)
		count(len(d.ProductMentions) > 0)
		count(len(d.SourceFileIDs) > 0)
	case EntityKindContact:
		c := e.Contact
		count(c.Name != "")
		count(c.Email != "")
		count(c.Title != nil)
		count(c.VendorID != nil)
		count(len(c.SourceFileIDs) > 0)
	default:
		return 0
	}

	return filled / total
}

// SourceFile is an ingested artifact (mbox archive, spreadsheet, transcript)
// that entity records trace back to.
type SourceFile struct {
	ID         string    `json:"id" db:"id"`
	FileName   string    `json:"file_name" db:"file_name"`
	FileType   string    `json:"file_type" db:"file_type"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// VendorAlias is a persisted normalized alias pointing at a vendor.
type VendorAlias struct {
	ID         string    `json:"id" db:"id"`
	VendorID   string    `json:"vendor_id" db:"vendor_id"`
	Alias      string    `json:"alias" db:"alias"`
	Confidence float64   `json:"confidence" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
