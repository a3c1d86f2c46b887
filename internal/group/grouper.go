// Package group clusters raw OCR pages into logical document boundaries
// using a supplier/reference/VAT-number fingerprint.
package group

import (
	"regexp"
	"strings"

	"github.com/fenwick-systems/docket/internal/model"
)

// Signature is the normalized fingerprint of one page. Pages sharing an
// identical non-empty signature belong to the same logical document.
type Signature struct {
	Supplier  string
	Reference string
	VATNumber string
}

// Empty reports whether no component of the signature could be derived.
func (s Signature) Empty() bool {
	return s.Supplier == "" && s.Reference == "" && s.VATNumber == ""
}

var (
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
	// Invoice references as they appear in scanned page bodies:
	// "INV-00123", "Invoice No: 4471", "inv # A99-17".
	referenceRe = regexp.MustCompile(`(?i)\binv(?:oice)?\s*(?:no\.?|number|#)?\s*[-:#]?\s*([a-z0-9][a-z0-9/-]{3,})`)
	// UK-style VAT registration numbers, with or without the GB prefix.
	vatRe = regexp.MustCompile(`(?i)\b(?:vat\s*(?:no\.?|reg(?:istration)?\.?|number)?\s*:?\s*)?(gb\s?\d{3}\s?\d{4}\s?\d{2}|\d{3}\s?\d{4}\s?\d{2})\b`)
	vatCueRe = regexp.MustCompile(`(?i)\bvat|\bgb\s?\d`)
)

// normalize lowercases and strips everything but alphanumerics.
func normalize(s string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(s), "")
}

// Fingerprint derives the signature for one page. Structured fields win;
// the page body is scanned only for components the parser left empty.
func Fingerprint(p model.Page) Signature {
	sig := Signature{
		Supplier:  normalize(p.Supplier),
		Reference: normalize(p.Reference),
		VATNumber: normalize(p.VATNumber),
	}

	if sig.Reference == "" {
		if m := referenceRe.FindStringSubmatch(p.Body); m != nil {
			sig.Reference = normalize(m[1])
		}
	}
	if sig.VATNumber == "" {
		// Bare nine-digit runs are too common on a page to trust without
		// a VAT cue nearby.
		if m := vatRe.FindStringSubmatch(p.Body); m != nil && vatCueRe.MatchString(m[0]) {
			sig.VATNumber = normalize(m[1])
		}
	}
	return sig
}

// Group partitions page indices into logical documents. Pages with an
// identical non-empty signature are grouped together regardless of position;
// a page with an entirely empty signature is never merged with any other
// page. Groups appear in first-seen order. Pure function of its input.
func Group(pages []model.Page) [][]int {
	var groups [][]int
	bySig := make(map[Signature]int)

	for i, p := range pages {
		sig := Fingerprint(p)
		if sig.Empty() {
			groups = append(groups, []int{i})
			continue
		}
		if gi, ok := bySig[sig]; ok {
			groups[gi] = append(groups[gi], i)
			continue
		}
		bySig[sig] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}
