package merging

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/models"
)

// FieldMerger collapses a cluster's field values onto the master record
// according to the requested conflict resolution policy.
type FieldMerger struct{}

// NewFieldMerger creates a new FieldMerger.
func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// scalar is a candidate value for one field along with the confidence of the
// record it came from.
type scalar struct {
	value      string
	confidence float64
}

// Resolve returns a copy of the target with source field values folded in.
// The target record itself is never mutated. All entities must share the
// target's kind.
func (m *FieldMerger) Resolve(target models.Entity, sources []models.Entity, policy models.ConflictResolutionType) (models.Entity, error) {
	for _, s := range sources {
		if s.Kind != target.Kind {
			return models.Entity{}, fmt.Errorf("cannot merge %s into %s", s.Kind, target.Kind)
		}
	}

	switch target.Kind {
	case models.EntityKindVendor:
		return m.resolveVendor(target, sources, policy), nil
	case models.EntityKindDeal:
		return m.resolveDeal(target, sources, policy), nil
	case models.EntityKindContact:
		return m.resolveContact(target, sources, policy), nil
	}
	return models.Entity{}, fmt.Errorf("unknown entity kind %q", target.Kind)
}

func (m *FieldMerger) resolveVendor(target models.Entity, sources []models.Entity, policy models.ConflictResolutionType) models.Entity {
	v := *target.Vendor

	names := make([]scalar, 0, len(sources))
	aliases := make([][]string, 0, len(sources))
	domains := make([][]string, 0, len(sources))
	keywords := make([][]string, 0, len(sources))
	emails := make([][]string, 0, len(sources))
	files := make([][]string, 0, len(sources))
	for _, s := range sources {
		sv := s.Vendor
		names = append(names, scalar{sv.Name, sv.Confidence})
		aliases = append(aliases, sv.Aliases)
		domains = append(domains, sv.Domains)
		keywords = append(keywords, sv.Keywords)
		emails = append(emails, sv.ContactEmails)
		files = append(files, sv.SourceFileIDs)
	}

	v.Name = mergeScalar(policy, scalar{v.Name, v.Confidence}, names)
	v.Aliases = mergeArray(policy, v.Aliases, aliases)
	v.Domains = mergeArray(policy, v.Domains, domains)
	v.Keywords = mergeArray(policy, v.Keywords, keywords)
	v.ContactEmails = mergeArray(policy, v.ContactEmails, emails)
	v.SourceFileIDs = mergeArray(policy, v.SourceFileIDs, files)

	return models.NewVendorEntity(&v)
}

func (m *FieldMerger) resolveDeal(target models.Entity, sources []models.Entity, policy models.ConflictResolutionType) models.Entity {
	d := *target.Deal

	names := make([]scalar, 0, len(sources))
	customers := make([]scalar, 0, len(sources))
	vendorIDs := make([]scalar, 0, len(sources))
	products := make([][]string, 0, len(sources))
	files := make([][]string, 0, len(sources))
	var values []valueScalar
	for _, s := range sources {
		sd := s.Deal
		names = append(names, scalar{sd.Name, sd.Confidence})
		customers = append(customers, scalar{sd.Customer, sd.Confidence})
		vendorIDs = append(vendorIDs, scalar{strOrEmpty(sd.VendorID), sd.Confidence})
		products = append(products, sd.ProductMentions)
		files = append(files, sd.SourceFileIDs)
		values = append(values, valueScalar{sd.Value, sd.Confidence})
	}

	d.Name = mergeScalar(policy, scalar{d.Name, d.Confidence}, names)
	d.Customer = mergeScalar(policy, scalar{d.Customer, d.Confidence}, customers)
	d.VendorID = strOrNil(mergeScalar(policy, scalar{strOrEmpty(d.VendorID), d.Confidence}, vendorIDs))
	d.Value = mergeValue(policy, valueScalar{d.Value, d.Confidence}, values)
	d.ProductMentions = mergeArray(policy, d.ProductMentions, products)
	d.SourceFileIDs = mergeArray(policy, d.SourceFileIDs, files)

	return models.NewDealEntity(&d)
}

func (m *FieldMerger) resolveContact(target models.Entity, sources []models.Entity, policy models.ConflictResolutionType) models.Entity {
	c := *target.Contact

	names := make([]scalar, 0, len(sources))
	emails := make([]scalar, 0, len(sources))
	titles := make([]scalar, 0, len(sources))
	vendorIDs := make([]scalar, 0, len(sources))
	files := make([][]string, 0, len(sources))
	for _, s := range sources {
		sc := s.Contact
		names = append(names, scalar{sc.Name, sc.Confidence})
		emails = append(emails, scalar{sc.Email, sc.Confidence})
		titles = append(titles, scalar{strOrEmpty(sc.Title), sc.Confidence})
		vendorIDs = append(vendorIDs, scalar{strOrEmpty(sc.VendorID), sc.Confidence})
		files = append(files, sc.SourceFileIDs)
	}

	c.Name = mergeScalar(policy, scalar{c.Name, c.Confidence}, names)
	c.Email = mergeScalar(policy, scalar{c.Email, c.Confidence}, emails)
	c.Title = strOrNil(mergeScalar(policy, scalar{strOrEmpty(c.Title), c.Confidence}, titles))
	c.VendorID = strOrNil(mergeScalar(policy, scalar{strOrEmpty(c.VendorID), c.Confidence}, vendorIDs))
	c.SourceFileIDs = mergeArray(policy, c.SourceFileIDs, files)

	return models.NewContactEntity(&c)
}

// mergeScalar resolves one scalar field. MERGE_ARRAYS and PREFER_TARGET keep
// the target's value, filling from the first populated source only when the
// target is empty. PREFER_HIGHEST_CONFIDENCE takes the populated value from
// the highest-confidence record, ties going to the target.
func mergeScalar(policy models.ConflictResolutionType, target scalar, sources []scalar) string {
	if policy == models.ConflictResolutionPreferHighestConfidence {
		best := target
		for _, s := range sources {
			if s.value == "" {
				continue
			}
			if best.value == "" || s.confidence > best.confidence {
				best = s
			}
		}
		return best.value
	}

	if target.value != "" {
		return target.value
	}
	for _, s := range sources {
		if s.value != "" {
			return s.value
		}
	}
	return ""
}

type valueScalar struct {
	value      *float64
	confidence float64
}

func mergeValue(policy models.ConflictResolutionType, target valueScalar, sources []valueScalar) *float64 {
	if policy == models.ConflictResolutionPreferHighestConfidence {
		best := target
		for _, s := range sources {
			if s.value == nil {
				continue
			}
			if best.value == nil || s.confidence > best.confidence {
				best = s
			}
		}
		return best.value
	}

	if target.value != nil {
		return target.value
	}
	for _, s := range sources {
		if s.value != nil {
			return s.value
		}
	}
	return nil
}

// mergeArray resolves one array field. MERGE_ARRAYS unions every member's
// values, target order first, deduplicated. The other policies keep the
// target's array, falling back to the first non-empty source when the target
// has none.
func mergeArray(policy models.ConflictResolutionType, target []string, sources [][]string) pq.StringArray {
	if policy == models.ConflictResolutionMergeArrays {
		seen := make(map[string]bool, len(target))
		out := make(pq.StringArray, 0, len(target))
		for _, v := range target {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
		for _, src := range sources {
			for _, v := range src {
				if v == "" || seen[v] {
					continue
				}
				seen[v] = true
				out = append(out, v)
			}
		}
		return out
	}

	if len(target) > 0 {
		return pq.StringArray(target)
	}
	for _, src := range sources {
		if len(src) > 0 {
			return pq.StringArray(src)
		}
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
