// Package matching implements the duplicate-matching strategy library and
// detector. Strategies are pure: they score a candidate against an in-memory
// pool and never touch storage.
package matching

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

const (
	// MinMatchThreshold filters every strategy's output before ranking.
	MinMatchThreshold = 0.3
	// DuplicateThreshold is the confidence at which the detector calls a
	// candidate a duplicate.
	DuplicateThreshold = 0.8
	// DefaultAliasConfidence is used when a persisted alias carries no
	// confidence of its own.
	DefaultAliasConfidence = 0.95
)

// Strategy names. Reliability ordering for tie-breaks is defined by
// StrategyReliability.
const (
	StrategyExactName      = "exact_name"
	StrategyAlias          = "alias"
	StrategyDomain         = "domain"
	StrategyFuzzyName      = "fuzzy_name"
	StrategyProductOverlap = "product_overlap"
	StrategyMultiFactor    = "multi_factor"
)

// StrategyReliability ranks strategies for tie-breaking equal confidences.
// Lower is more reliable.
func StrategyReliability(name string) int {
	switch name {
	case StrategyExactName:
		return 0
	case StrategyAlias:
		return 1
	case StrategyDomain:
		return 2
	case StrategyFuzzyName:
		return 3
	case StrategyProductOverlap:
		return 4
	case StrategyMultiFactor:
		return 5
	}
	return 6
}

// Strategy scores one candidate entity against a pool of existing entities.
// Implementations must be side-effect-free and must not panic past Match; the
// detector still recovers as a backstop.
type Strategy interface {
	Name() string
	Match(candidate models.Entity, pool []models.Entity) []models.MatchResult
}

// ExactNameStrategy matches on normalized name equality.
type ExactNameStrategy struct{}

// NewExactNameStrategy creates the exact-name strategy.
func NewExactNameStrategy() *ExactNameStrategy {
	return &ExactNameStrategy{}
}

// Name implements Strategy.
func (s *ExactNameStrategy) Name() string { return StrategyExactName }

// Match implements Strategy. Confidence is 1.0 on normalized equality.
func (s *ExactNameStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	candName := normalizers.NormalizeCompanyName(candidate.Name())
	if candName == "" {
		return nil
	}

	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() {
			continue
		}
		otherName := normalizers.NormalizeCompanyName(other.Name())
		if otherName == "" || otherName != candName {
			continue
		}
		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  1.0,
			Strategy:    s.Name(),
			Details: map[string]any{
				"normalized_name": candName,
			},
		})
	}
	return results
}

// AliasStrategy matches a candidate's normalized name against a persisted
// alias table. The alias rows are loaded up front by the caller so the
// strategy itself stays free of I/O.
type AliasStrategy struct {
	// aliases maps normalized alias -> the alias row.
	aliases map[string]models.VendorAlias
}

// NewAliasStrategy builds the strategy from persisted alias rows.
func NewAliasStrategy(aliases []models.VendorAlias) *AliasStrategy {
	idx := make(map[string]models.VendorAlias, len(aliases))
	for _, a := range aliases {
		idx[normalizers.NormalizeCompanyName(a.Alias)] = a
	}
	return &AliasStrategy{aliases: idx}
}

// Name implements Strategy.
func (s *AliasStrategy) Name() string { return StrategyAlias }

// Match implements Strategy. Confidence is the alias's stored confidence,
// defaulting to 0.95 when the row carries none.
func (s *AliasStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	candName := normalizers.NormalizeCompanyName(candidate.Name())
	if candName == "" {
		return nil
	}

	alias, ok := s.aliases[candName]
	if !ok {
		return nil
	}

	confidence := alias.Confidence
	if confidence <= 0 {
		confidence = DefaultAliasConfidence
	}

	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() || other.ID() != alias.VendorID {
			continue
		}
		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  confidence,
			Strategy:    s.Name(),
			Details: map[string]any{
				"alias":    alias.Alias,
				"alias_id": alias.ID,
			},
		})
	}
	return results
}

// DomainStrategy matches a candidate's email domains against each pool
// member's known domain set.
type DomainStrategy struct{}

// NewDomainStrategy creates the email-domain strategy.
func NewDomainStrategy() *DomainStrategy { return &DomainStrategy{} }

// Name implements Strategy.
func (s *DomainStrategy) Name() string { return StrategyDomain }

// Match implements Strategy. Confidence is 0.90 on domain membership.
func (s *DomainStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	candDomains := entityDomains(candidate)
	if len(candDomains) == 0 {
		return nil
	}

	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() {
			continue
		}
		otherDomains := entityDomains(other)
		shared := firstSharedDomain(candDomains, otherDomains)
		if shared == "" {
			continue
		}
		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  0.90,
			Strategy:    s.Name(),
			Details: map[string]any{
				"domain": shared,
			},
		})
	}
	return results
}

// FuzzyNameStrategy matches on approximate name similarity. A token-sort
// fuzzy ratio and a string-similarity coefficient are averaged on a 0-100
// scale, then mapped into confidence bands.
type FuzzyNameStrategy struct {
	scorer *Scorer
}

// NewFuzzyNameStrategy creates the fuzzy-name strategy.
func NewFuzzyNameStrategy() *FuzzyNameStrategy {
	return &FuzzyNameStrategy{scorer: NewScorer()}
}

// Name implements Strategy.
func (s *FuzzyNameStrategy) Name() string { return StrategyFuzzyName }

// Match implements Strategy.
func (s *FuzzyNameStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	candName := normalizers.NormalizeCompanyName(candidate.Name())
	if candName == "" {
		return nil
	}

	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() {
			continue
		}
		otherName := normalizers.NormalizeCompanyName(other.Name())
		if otherName == "" {
			continue
		}

		combined := s.CombinedRatio(candName, otherName)
		confidence := fuzzyBand(combined)
		if confidence == 0 {
			continue
		}

		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  confidence,
			Strategy:    s.Name(),
			Details: map[string]any{
				"combined_ratio": combined,
			},
		})
	}
	return results
}

// CombinedRatio averages the token-set fuzzy ratio and the similarity
// coefficient on a common 0-100 scale.
func (s *FuzzyNameStrategy) CombinedRatio(a, b string) float64 {
	tokenRatio := s.scorer.TokenSetRatio(a, b)
	coefficient := s.scorer.SimilarityCoefficient(a, b) * 100
	return (tokenRatio + coefficient) / 2
}

// fuzzyBand maps a 0-100 combined ratio into confidence bands. Below 50 is
// not a match.
func fuzzyBand(ratio float64) float64 {
	switch {
	case ratio >= 95:
		return 0.98
	case ratio >= 85:
		return 0.85
	case ratio >= 70:
		return 0.70
	case ratio >= 50:
		return 0.50
	}
	return 0
}

// ProductOverlapStrategy matches a deal's product mentions against another
// entity's product mentions or keyword list.
type ProductOverlapStrategy struct {
	scorer *Scorer
}

// NewProductOverlapStrategy creates the product/keyword-overlap strategy.
func NewProductOverlapStrategy() *ProductOverlapStrategy {
	return &ProductOverlapStrategy{scorer: NewScorer()}
}

// Name implements Strategy.
func (s *ProductOverlapStrategy) Name() string { return StrategyProductOverlap }

// Match implements Strategy. Confidence scales with the fraction of the
// candidate's mentions that overlap, capped at 0.85.
func (s *ProductOverlapStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	mentions := normalizeAll(candidate.Products())
	if len(mentions) == 0 {
		return nil
	}

	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() {
			continue
		}

		targets := normalizeAll(other.Products())
		targets = append(targets, normalizeAll(other.Keywords())...)
		if len(targets) == 0 {
			continue
		}

		matchCount := 0
		for _, mention := range mentions {
			if s.mentionMatches(mention, targets) {
				matchCount++
			}
		}
		if matchCount == 0 {
			continue
		}

		confidence := 0.5 + float64(matchCount)/float64(len(mentions))*0.35
		if confidence > 0.85 {
			confidence = 0.85
		}

		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  confidence,
			Strategy:    s.Name(),
			Details: map[string]any{
				"match_count":   matchCount,
				"mention_count": len(mentions),
			},
		})
	}
	return results
}

// mentionMatches reports whether a normalized mention overlaps any target by
// substring containment either way, or by fuzzy ratio >= 85 as a fallback.
func (s *ProductOverlapStrategy) mentionMatches(mention string, targets []string) bool {
	for _, target := range targets {
		if containsEither(mention, target) {
			return true
		}
		if s.scorer.TokenSortRatio(mention, target) >= 85 {
			return true
		}
	}
	return false
}

// MultiFactorWeights are the factor weights used by the multi-factor combiner.
type MultiFactorWeights struct {
	Name         float64
	Domain       float64
	Product      float64
	Keyword      float64
	ContactEmail float64
}

// DefaultMultiFactorWeights returns the standard factor weighting.
func DefaultMultiFactorWeights() MultiFactorWeights {
	return MultiFactorWeights{
		Name:         0.40,
		Domain:       0.25,
		Product:      0.20,
		Keyword:      0.10,
		ContactEmail: 0.05,
	}
}

// Deal-to-deal comparisons have no domain, keyword or contact-email signal,
// so the combiner swaps in customer and vendor factors for that pair shape.
const (
	dealNameWeight     = 0.35
	dealCustomerWeight = 0.30
	dealVendorWeight   = 0.25
	dealProductWeight  = 0.10
)

// MultiFactorStrategy combines name, domain, product, keyword and
// contact-email signals into one weighted confidence. Only factors with data
// on both sides contribute; the weighted sum is normalized by the available
// weight and capped at 0.95.
type MultiFactorStrategy struct {
	scorer  *Scorer
	weights MultiFactorWeights
}

// NewMultiFactorStrategy creates the multi-factor combiner with the given
// weights. Zero-value weights fall back to the defaults.
func NewMultiFactorStrategy(weights MultiFactorWeights) *MultiFactorStrategy {
	if weights == (MultiFactorWeights{}) {
		weights = DefaultMultiFactorWeights()
	}
	return &MultiFactorStrategy{scorer: NewScorer(), weights: weights}
}

// Name implements Strategy.
func (s *MultiFactorStrategy) Name() string { return StrategyMultiFactor }

// Match implements Strategy.
func (s *MultiFactorStrategy) Match(candidate models.Entity, pool []models.Entity) []models.MatchResult {
	var results []models.MatchResult
	for _, other := range pool {
		if other.ID() == candidate.ID() {
			continue
		}
		confidence, factors := s.score(candidate, other)
		if confidence == 0 {
			continue
		}
		results = append(results, models.MatchResult{
			CandidateID: candidate.ID(),
			MatchedID:   other.ID(),
			Confidence:  confidence,
			Strategy:    s.Name(),
			Details:     factors,
		})
	}
	return results
}

func (s *MultiFactorStrategy) score(candidate, other models.Entity) (float64, map[string]any) {
	if candidate.Kind == models.EntityKindDeal && other.Kind == models.EntityKindDeal {
		return s.scoreDealPair(candidate.Deal, other.Deal)
	}

	var weightedSum, availableWeight float64
	factors := make(map[string]any)

	candName := normalizers.NormalizeCompanyName(candidate.Name())
	otherName := normalizers.NormalizeCompanyName(other.Name())
	if candName != "" && otherName != "" {
		sim := s.nameSimilarity(candName, otherName)
		weightedSum += sim * s.weights.Name
		availableWeight += s.weights.Name
		factors["name_similarity"] = sim
	}

	candDomains := entityDomains(candidate)
	otherDomains := entityDomains(other)
	if len(candDomains) > 0 && len(otherDomains) > 0 {
		score := 0.0
		if firstSharedDomain(candDomains, otherDomains) != "" {
			score = 1.0
		}
		weightedSum += score * s.weights.Domain
		availableWeight += s.weights.Domain
		factors["domain_match"] = score
	}

	candProducts := normalizeAll(candidate.Products())
	otherProducts := normalizeAll(other.Products())
	if len(candProducts) > 0 && len(otherProducts) > 0 {
		score := overlapFraction(candProducts, otherProducts)
		weightedSum += score * s.weights.Product
		availableWeight += s.weights.Product
		factors["product_overlap"] = score
	}

	candKeywords := normalizeAll(candidate.Keywords())
	otherKeywords := normalizeAll(other.Keywords())
	if len(candKeywords) > 0 && len(otherKeywords) > 0 {
		score := overlapFraction(candKeywords, otherKeywords)
		weightedSum += score * s.weights.Keyword
		availableWeight += s.weights.Keyword
		factors["keyword_overlap"] = score
	}

	candEmails := normalizeEmails(candidate.Emails())
	otherEmails := normalizeEmails(other.Emails())
	if len(candEmails) > 0 && len(otherEmails) > 0 {
		score := overlapFraction(candEmails, otherEmails)
		weightedSum += score * s.weights.ContactEmail
		availableWeight += s.weights.ContactEmail
		factors["contact_email_overlap"] = score
	}

	if availableWeight == 0 {
		return 0, nil
	}

	confidence := weightedSum / availableWeight
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence, factors
}

// scoreDealPair combines the signals two deal records actually carry: fuzzy
// name similarity, normalized customer similarity, vendor identity, and
// product-mention overlap.
func (s *MultiFactorStrategy) scoreDealPair(candidate, other *models.Deal) (float64, map[string]any) {
	var weightedSum, availableWeight float64
	factors := make(map[string]any)

	candName := normalizers.NormalizeCompanyName(candidate.Name)
	otherName := normalizers.NormalizeCompanyName(other.Name)
	if candName != "" && otherName != "" {
		sim := s.nameSimilarity(candName, otherName)
		weightedSum += sim * dealNameWeight
		availableWeight += dealNameWeight
		factors["name_similarity"] = sim
	}

	candCustomer := normalizers.NormalizeCompanyName(candidate.Customer)
	otherCustomer := normalizers.NormalizeCompanyName(other.Customer)
	if candCustomer != "" && otherCustomer != "" {
		sim := 0.0
		if candCustomer == otherCustomer {
			sim = 1.0
		} else {
			sim = s.nameSimilarity(candCustomer, otherCustomer)
		}
		weightedSum += sim * dealCustomerWeight
		availableWeight += dealCustomerWeight
		factors["customer_similarity"] = sim
	}

	if candidate.VendorID != nil && other.VendorID != nil {
		score := 0.0
		if *candidate.VendorID == *other.VendorID {
			score = 1.0
		}
		weightedSum += score * dealVendorWeight
		availableWeight += dealVendorWeight
		factors["vendor_match"] = score
	}

	candProducts := normalizeAll(candidate.ProductMentions)
	otherProducts := normalizeAll(other.ProductMentions)
	if len(candProducts) > 0 && len(otherProducts) > 0 {
		score := overlapFraction(candProducts, otherProducts)
		weightedSum += score * dealProductWeight
		availableWeight += dealProductWeight
		factors["product_overlap"] = score
	}

	if availableWeight == 0 {
		return 0, nil
	}

	confidence := weightedSum / availableWeight
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence, factors
}

// nameSimilarity is a 0-1 name comparison robust to word reordering and
// partial token overlap.
func (s *MultiFactorStrategy) nameSimilarity(a, b string) float64 {
	coefficient := s.scorer.SimilarityCoefficient(a, b)
	tokenRatio := s.scorer.TokenSetRatio(a, b) / 100
	if tokenRatio > coefficient {
		return tokenRatio
	}
	return coefficient
}

// DefaultStrategies returns the standard ordered strategy set, from most to
// least reliable. Alias rows are injected so the library stays I/O-free.
func DefaultStrategies(aliases []models.VendorAlias) []Strategy {
	return []Strategy{
		NewExactNameStrategy(),
		NewAliasStrategy(aliases),
		NewDomainStrategy(),
		NewFuzzyNameStrategy(),
		NewProductOverlapStrategy(),
		NewMultiFactorStrategy(DefaultMultiFactorWeights()),
	}
}

// StrategiesByName resolves the requested subset of DefaultStrategies,
// preserving the requested order. Unknown names produce an error.
func StrategiesByName(names []string, aliases []models.VendorAlias) ([]Strategy, error) {
	available := make(map[string]Strategy)
	for _, s := range DefaultStrategies(aliases) {
		available[s.Name()] = s
	}

	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown matching strategy %q", name)
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

// entityDomains collects the known domains of an entity: a vendor's stored
// domain set plus domains extracted from any carried email addresses.
func entityDomains(e models.Entity) []string {
	seen := make(map[string]struct{})
	var domains []string

	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}

	for _, d := range e.Domains() {
		add(normalizers.NormalizeEmail(d))
	}
	for _, email := range e.Emails() {
		add(normalizers.ExtractDomain(email))
	}
	return domains
}

func firstSharedDomain(a, b []string) string {
	set := make(map[string]struct{}, len(b))
	for _, d := range b {
		set[d] = struct{}{}
	}
	for _, d := range a {
		if _, ok := set[d]; ok {
			return d
		}
	}
	return ""
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := normalizers.NormalizeProduct(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeEmails(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := normalizers.NormalizeEmail(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// overlapFraction returns the fraction of a's values present in b.
func overlapFraction(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	matched := 0
	for _, v := range a {
		if _, ok := set[v]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
