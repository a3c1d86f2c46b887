package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// legal suffixes carry no identity and only inflate edit distance.
var legalSuffixes = map[string]bool{
	"ltd":     true,
	"limited": true,
	"plc":     true,
	"llp":     true,
	"inc":     true,
	"co":      true,
	"company": true,
}

// NormalizeSupplier lowercases a supplier name, strips punctuation and legal
// suffixes, and collapses whitespace. "R.S.E. Limited" -> "rse".
func NormalizeSupplier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, t := range tokens {
		if !legalSuffixes[t] {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// AliasTable collapses known supplier name variants to a canonical form
// before similarity comparison. Keys and values are stored normalized.
type AliasTable struct {
	aliases map[string]string
}

// NewAliasTable builds a table from raw variant -> canonical entries.
func NewAliasTable(raw map[string]string) *AliasTable {
	t := &AliasTable{aliases: make(map[string]string, len(raw))}
	for variant, canonical := range raw {
		t.aliases[NormalizeSupplier(variant)] = NormalizeSupplier(canonical)
	}
	return t
}

// Canonical returns the canonical normalized form of a supplier name.
func (t *AliasTable) Canonical(name string) string {
	norm := NormalizeSupplier(name)
	if t == nil {
		return norm
	}
	if canonical, ok := t.aliases[norm]; ok {
		return canonical
	}
	return norm
}

// SupplierSimilarity returns a [0,1] similarity ratio between two
// alias-canonicalized supplier names.
func (t *AliasTable) SupplierSimilarity(a, b string) float64 {
	ca, cb := t.Canonical(a), t.Canonical(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	// Containment covers "Wild Horse" vs "Wildhorse RSE" style truncations
	// that pure edit distance punishes.
	compactA := strings.ReplaceAll(ca, " ", "")
	compactB := strings.ReplaceAll(cb, " ", "")
	if strings.Contains(compactA, compactB) || strings.Contains(compactB, compactA) {
		return 0.9
	}
	dist := levenshtein.ComputeDistance(ca, cb)
	longest := len(ca)
	if len(cb) > longest {
		longest = len(cb)
	}
	if longest == 0 {
		return 0
	}
	sim := 1 - float64(dist)/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}
