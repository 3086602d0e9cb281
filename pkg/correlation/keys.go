// Package correlation derives correlation keys and answers lineage queries
// across the registry.
package correlation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// DeriveCorrelationKey computes the deterministic correlation key for an
// entity. The key ties together records describing the same real-world
// engagement regardless of which source file produced them.
//
// Shapes:
//
//	vendor:  vendor:<normalized name>
//	deal:    deal:<normalized customer>:<lowest normalized product>
//	contact: contact:<normalized email>
//
// A deal with no product mentions keys on the customer alone; missing key
// material is an error so batch passes can count it.
func DeriveCorrelationKey(e models.Entity) (string, error) {
	switch e.Kind {
	case models.EntityKindVendor:
		name := normalizers.NormalizeCompanyName(e.Vendor.Name)
		if name == "" {
			return "", fmt.Errorf("vendor %s has no usable name", e.Vendor.ID)
		}
		return "vendor:" + name, nil

	case models.EntityKindDeal:
		customer := normalizers.NormalizeCompanyName(e.Deal.Customer)
		if customer == "" {
			return "", fmt.Errorf("deal %s has no usable customer", e.Deal.ID)
		}
		product := lowestProduct(e.Deal.ProductMentions)
		if product == "" {
			return "deal:" + customer, nil
		}
		return "deal:" + customer + ":" + product, nil

	case models.EntityKindContact:
		email := normalizers.NormalizeEmail(e.Contact.Email)
		if email == "" || !strings.Contains(email, "@") {
			return "", fmt.Errorf("contact %s has no usable email", e.Contact.ID)
		}
		return "contact:" + email, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", e.Kind)
}

// lowestProduct returns the lexicographically smallest normalized product
// mention, so the derived key is independent of mention order.
func lowestProduct(mentions []string) string {
	normalized := make([]string, 0, len(mentions))
	for _, m := range mentions {
		if n := normalizers.NormalizeProduct(m); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return ""
	}
	sort.Strings(normalized)
	return normalized[0]
}
