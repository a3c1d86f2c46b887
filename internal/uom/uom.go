// Package uom parses unit-of-measure strings from scanned trade documents
// and converts quantities to litre equivalents for comparison.
package uom

import (
	"regexp"
	"strconv"
	"strings"
)

// UOM is a normalized unit of measure.
type UOM struct {
	// Kind is "each", "case", "litre", "kg" or "unknown".
	Kind string
	// PackCount is the units per case (1 when not a multipack).
	PackCount int
	// UnitLitres is the litre content of one unit, 0 when not volumetric.
	UnitLitres float64
}

var (
	multipackRe = regexp.MustCompile(`^(\d+)\s*x\s*(\d+(?:\.\d+)?)\s*(ml|cl|l|ltr|litre|litres)$`)
	volumeRe    = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(ml|cl|l|ltr|litre|litres)$`)
	weightRe    = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(g|kg)$`)
)

// Parse normalizes a raw UOM string. The second return is false when the
// string could not be understood; callers treat that as "unknown" rather
// than an error, since OCR noise in this column is routine.
func Parse(s string) (UOM, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "")

	switch norm {
	case "", "each", "ea", "unit", "units", "item":
		return UOM{Kind: "each", PackCount: 1}, norm != ""
	case "case", "cs", "box", "crate":
		return UOM{Kind: "case", PackCount: 1}, true
	case "litre", "litres", "l", "ltr":
		return UOM{Kind: "litre", PackCount: 1, UnitLitres: 1}, true
	case "kg", "kilo", "kilogram":
		return UOM{Kind: "kg", PackCount: 1}, true
	}

	if m := multipackRe.FindStringSubmatch(norm); m != nil {
		count, _ := strconv.Atoi(m[1])
		size, _ := strconv.ParseFloat(m[2], 64)
		return UOM{Kind: "case", PackCount: count, UnitLitres: toLitres(size, m[3])}, true
	}
	if m := volumeRe.FindStringSubmatch(norm); m != nil {
		size, _ := strconv.ParseFloat(m[1], 64)
		return UOM{Kind: "litre", PackCount: 1, UnitLitres: toLitres(size, m[2])}, true
	}
	if m := weightRe.FindStringSubmatch(norm); m != nil {
		return UOM{Kind: "kg", PackCount: 1}, true
	}

	return UOM{Kind: "unknown", PackCount: 1}, false
}

func toLitres(size float64, unit string) float64 {
	switch unit {
	case "ml":
		return size / 1000
	case "cl":
		return size / 100
	default:
		return size
	}
}

// LitreEquivalent converts a line quantity to litres. Returns 0 when the
// unit carries no volume information, so comparisons degrade to "no signal"
// instead of failing.
func LitreEquivalent(qty float64, u UOM) float64 {
	if qty <= 0 || u.UnitLitres <= 0 {
		return 0
	}
	packs := u.PackCount
	if packs < 1 {
		packs = 1
	}
	return qty * float64(packs) * u.UnitLitres
}

// Litres is a convenience over Parse + LitreEquivalent for raw strings.
func Litres(qty float64, raw string) float64 {
	u, _ := Parse(raw)
	return LitreEquivalent(qty, u)
}
