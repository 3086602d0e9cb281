package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func vendorEntity(id, name string, mutate func(*models.Vendor)) models.Entity {
	v := &models.Vendor{ID: id, Name: name}
	if mutate != nil {
		mutate(v)
	}
	return models.NewVendorEntity(v)
}

func dealEntity(id, name, customer string, mutate func(*models.Deal)) models.Entity {
	d := &models.Deal{ID: id, Name: name, Customer: customer}
	if mutate != nil {
		mutate(d)
	}
	return models.NewDealEntity(d)
}

func TestExactNameStrategy(t *testing.T) {
	strategy := NewExactNameStrategy()

	t.Run("identical normalized names score 1.0", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme, Inc.", nil)
		pool := []models.Entity{
			vendorEntity("v-2", "ACME Corporation", nil),
			vendorEntity("v-3", "Globex LLC", nil),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, "v-2", results[0].MatchedID)
		assert.Equal(t, 1.0, results[0].Confidence)
		assert.Equal(t, StrategyExactName, results[0].Strategy)
	})

	t.Run("candidate never matches itself", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme", nil)
		results := strategy.Match(candidate, []models.Entity{candidate})
		assert.Empty(t, results)
	})

	t.Run("empty name yields no matches", func(t *testing.T) {
		candidate := vendorEntity("v-1", "", nil)
		pool := []models.Entity{vendorEntity("v-2", "Acme", nil)}
		assert.Empty(t, strategy.Match(candidate, pool))
	})
}

func TestAliasStrategy(t *testing.T) {
	aliases := []models.VendorAlias{
		{ID: "a-1", VendorID: "v-2", Alias: "Big Blue", Confidence: 0.97},
		{ID: "a-2", VendorID: "v-3", Alias: "MSFT"},
	}
	strategy := NewAliasStrategy(aliases)

	pool := []models.Entity{
		vendorEntity("v-2", "IBM", nil),
		vendorEntity("v-3", "Microsoft", nil),
	}

	t.Run("uses stored confidence", func(t *testing.T) {
		candidate := vendorEntity("v-9", "big blue", nil)
		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, "v-2", results[0].MatchedID)
		assert.Equal(t, 0.97, results[0].Confidence)
	})

	t.Run("defaults confidence when alias row has none", func(t *testing.T) {
		candidate := vendorEntity("v-9", "msft", nil)
		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, "v-3", results[0].MatchedID)
		assert.Equal(t, DefaultAliasConfidence, results[0].Confidence)
	})

	t.Run("unknown alias yields nothing", func(t *testing.T) {
		candidate := vendorEntity("v-9", "Initech", nil)
		assert.Empty(t, strategy.Match(candidate, pool))
	})
}

func TestDomainStrategy(t *testing.T) {
	strategy := NewDomainStrategy()

	t.Run("shared vendor domain", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme Sales", func(v *models.Vendor) {
			v.ContactEmails = []string{"jane@acme.com"}
		})
		pool := []models.Entity{
			vendorEntity("v-2", "Acme", func(v *models.Vendor) {
				v.Domains = []string{"acme.com"}
			}),
			vendorEntity("v-3", "Globex", func(v *models.Vendor) {
				v.Domains = []string{"globex.io"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, "v-2", results[0].MatchedID)
		assert.Equal(t, 0.90, results[0].Confidence)
		assert.Equal(t, "acme.com", results[0].Details["domain"])
	})

	t.Run("contact email against vendor domains", func(t *testing.T) {
		contact := models.NewContactEntity(&models.Contact{ID: "c-1", Name: "Jane Doe", Email: "JANE@Acme.COM"})
		pool := []models.Entity{
			vendorEntity("v-2", "Acme", func(v *models.Vendor) {
				v.Domains = []string{"acme.com"}
			}),
		}

		results := strategy.Match(contact, pool)
		require.Len(t, results, 1)
		assert.Equal(t, 0.90, results[0].Confidence)
	})

	t.Run("no domains yields nothing", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme", nil)
		pool := []models.Entity{vendorEntity("v-2", "Acme", func(v *models.Vendor) {
			v.Domains = []string{"acme.com"}
		})}
		assert.Empty(t, strategy.Match(candidate, pool))
	})
}

func TestFuzzyNameStrategy(t *testing.T) {
	strategy := NewFuzzyNameStrategy()

	t.Run("reordered tokens land in the top band", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme Cloud Services", nil)
		pool := []models.Entity{vendorEntity("v-2", "Cloud Services Acme", nil)}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, 0.98, results[0].Confidence)
	})

	t.Run("unrelated names are below the floor", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Quantum Fabrication Works", nil)
		pool := []models.Entity{vendorEntity("v-2", "Globex", nil)}
		assert.Empty(t, strategy.Match(candidate, pool))
	})

	t.Run("band mapping", func(t *testing.T) {
		assert.Equal(t, 0.98, fuzzyBand(95))
		assert.Equal(t, 0.85, fuzzyBand(90))
		assert.Equal(t, 0.70, fuzzyBand(75))
		assert.Equal(t, 0.50, fuzzyBand(50))
		assert.Equal(t, 0.0, fuzzyBand(49.9))
	})
}

func TestProductOverlapStrategy(t *testing.T) {
	strategy := NewProductOverlapStrategy()

	t.Run("full overlap is capped at 0.85", func(t *testing.T) {
		candidate := dealEntity("d-1", "Acme Renewal", "Acme", func(d *models.Deal) {
			d.ProductMentions = []string{"Azure", "Office 365"}
		})
		pool := []models.Entity{
			vendorEntity("v-1", "Microsoft", func(v *models.Vendor) {
				v.Keywords = []string{"azure", "office 365", "teams"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, 0.85, results[0].Confidence)
		assert.Equal(t, 2, results[0].Details["match_count"])
	})

	t.Run("partial overlap scales with mention fraction", func(t *testing.T) {
		candidate := dealEntity("d-1", "Acme Renewal", "Acme", func(d *models.Deal) {
			d.ProductMentions = []string{"Azure", "Salesforce CRM"}
		})
		pool := []models.Entity{
			vendorEntity("v-1", "Microsoft", func(v *models.Vendor) {
				v.Keywords = []string{"azure"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		// 0.5 + (1/2)*0.35
		assert.InDelta(t, 0.675, results[0].Confidence, 0.001)
	})

	t.Run("substring containment counts as a match", func(t *testing.T) {
		candidate := dealEntity("d-1", "Migration", "Acme", func(d *models.Deal) {
			d.ProductMentions = []string{"Azure Cloud Migration"}
		})
		pool := []models.Entity{
			vendorEntity("v-1", "Microsoft", func(v *models.Vendor) {
				v.Keywords = []string{"azure cloud"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, 0.85, results[0].Confidence)
	})

	t.Run("no mentions yields nothing", func(t *testing.T) {
		candidate := dealEntity("d-1", "Renewal", "Acme", nil)
		pool := []models.Entity{vendorEntity("v-1", "Microsoft", func(v *models.Vendor) {
			v.Keywords = []string{"azure"}
		})}
		assert.Empty(t, strategy.Match(candidate, pool))
	})
}

func TestMultiFactorStrategy(t *testing.T) {
	strategy := NewMultiFactorStrategy(DefaultMultiFactorWeights())

	t.Run("vendor factors are normalized by available weight", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme Incorporated", func(v *models.Vendor) {
			v.Domains = []string{"acme.com"}
			v.Keywords = []string{"manufacturing", "logistics"}
		})
		pool := []models.Entity{
			vendorEntity("v-2", "Acme", func(v *models.Vendor) {
				v.Domains = []string{"acme.com"}
				v.Keywords = []string{"manufacturing"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		// Name 1.0, domain 1.0, keywords 0.5 over weights .40/.25/.10
		expected := (1.0*0.40 + 1.0*0.25 + 0.5*0.10) / 0.75
		assert.InDelta(t, expected, results[0].Confidence, 0.001)
	})

	t.Run("result capped at 0.95", func(t *testing.T) {
		candidate := vendorEntity("v-1", "Acme", func(v *models.Vendor) {
			v.Domains = []string{"acme.com"}
		})
		pool := []models.Entity{
			vendorEntity("v-2", "Acme Inc", func(v *models.Vendor) {
				v.Domains = []string{"acme.com"}
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.Equal(t, 0.95, results[0].Confidence)
	})

	t.Run("deal pair uses customer and vendor signals", func(t *testing.T) {
		vendorID := "vendor-ms"
		candidate := dealEntity("d-1", "Azure Migration for Acme", "Acme Corporation", func(d *models.Deal) {
			d.VendorID = &vendorID
		})
		pool := []models.Entity{
			dealEntity("d-2", "Microsoft Azure Cloud Migration", "Acme Corp", func(d *models.Deal) {
				d.VendorID = &vendorID
			}),
		}

		results := strategy.Match(candidate, pool)
		require.Len(t, results, 1)
		assert.GreaterOrEqual(t, results[0].Confidence, 0.8)
		assert.Equal(t, 1.0, results[0].Details["customer_similarity"])
		assert.Equal(t, 1.0, results[0].Details["vendor_match"])
	})

	t.Run("no shared factors yields nothing", func(t *testing.T) {
		candidate := vendorEntity("v-1", "", nil)
		pool := []models.Entity{vendorEntity("v-2", "", nil)}
		assert.Empty(t, strategy.Match(candidate, pool))
	})
}

func TestStrategiesByName(t *testing.T) {
	t.Run("resolves requested order", func(t *testing.T) {
		strategies, err := StrategiesByName([]string{StrategyFuzzyName, StrategyExactName}, nil)
		require.NoError(t, err)
		require.Len(t, strategies, 2)
		assert.Equal(t, StrategyFuzzyName, strategies[0].Name())
		assert.Equal(t, StrategyExactName, strategies[1].Name())
	})

	t.Run("unknown strategy errors", func(t *testing.T) {
		_, err := StrategiesByName([]string{"soundex"}, nil)
		assert.Error(t, err)
	})
}
