// Package normalizers provides field normalization functions for matching and
// correlation-key derivation
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("ncompany", NormalizeCompanyName)
	Register("nemail", NormalizeEmail)
	Register("nproduct", NormalizeProduct)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// legalSuffixes are stripped from the end of company names before comparison.
// Longer forms first so "corporation" is removed before "corp" can match.
var legalSuffixes = []string{
	"incorporated", "corporation", "company", "corp", "inc", "llc", "ltd", "co",
}

var domainRe = regexp.MustCompile(`@([a-z0-9.-]+\.[a-z]{2,})$`)

var spaceRe = regexp.MustCompile(`\s+`)

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeCompanyName normalizes a vendor/customer name for matching:
// casefold, strip punctuation, collapse whitespace, strip trailing legal
// suffixes (Inc, LLC, Ltd, Corp, Corporation, Company, Co).
func NormalizeCompanyName(s string) string {
	s = strings.ToLower(s)
	s = RemovePunctuation(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	for changed := true; changed; {
		changed = false
		for _, suffix := range legalSuffixes {
			if s == suffix {
				continue
			}
			if strings.HasSuffix(s, " "+suffix) {
				s = strings.TrimSpace(s[:len(s)-len(suffix)])
				changed = true
			}
		}
	}

	return s
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExtractDomain returns the domain part of an email address, or "" when the
// address does not carry a usable domain.
func ExtractDomain(email string) string {
	m := domainRe.FindStringSubmatch(NormalizeEmail(email))
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// NormalizeProduct normalizes a product mention or keyword for overlap
// comparison: casefold, strip punctuation, collapse whitespace.
func NormalizeProduct(s string) string {
	s = strings.ToLower(s)
	s = RemovePunctuation(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation replaces punctuation and symbol characters with spaces so
// "Acme,Inc." and "Acme Inc" normalize identically.
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Tokens splits a normalized string into its whitespace-separated tokens.
func Tokens(s string) []string {
	return strings.Fields(s)
}
