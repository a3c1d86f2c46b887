package match

import (
	"math"
	"sort"
	"strings"

	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/uom"
)

// litreEpsilon is the tolerance on litre-equivalent quantity comparison.
const litreEpsilon = 1e-3

// LineScore is the kernel's verdict on one invoice line against one
// delivery note line. Every component is in [0,1].
type LineScore struct {
	Desc  float64
	Qty   float64
	Price float64
	UOM   float64
	Total float64
}

// Assignment is one entry of the one-to-one line assignment. DNIdx is nil
// for an invoice line with no accepted counterpart; InvIdx is nil for a
// delivery note line absent from the invoice.
type Assignment struct {
	InvIdx *int
	DNIdx  *int
	Score  LineScore
	Status model.LineLinkStatus
}

// Ratio is the symmetric similarity min(a,b)/max(a,b): 1 when equal,
// shrinking as the values diverge, 0 when either side is non-positive.
func Ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return math.Min(a, b) / math.Max(a, b)
}

// descScore compares normalized descriptions: exact match 1.0, substring
// containment either way 0.8, else whitespace-token overlap ratio.
func descScore(a, b string) float64 {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	set := func(s string) map[string]bool {
		m := make(map[string]bool)
		for _, tok := range strings.Fields(s) {
			m[tok] = true
		}
		return m
	}
	sa, sb := set(na), set(nb)
	intersection := 0
	for tok := range sa {
		if sb[tok] {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// uomScore gives full credit when litre-equivalent quantities agree within
// a tight epsilon, and partial credit otherwise: a UOM disagreement on a
// scan is usually OCR noise, not a real mismatch. Two non-volumetric lines
// both sit at zero litres and agree.
func uomScore(inv, dn model.LineItem) float64 {
	invLitres := uom.Litres(inv.Quantity, inv.UOM)
	dnLitres := uom.Litres(dn.Quantity, dn.UOM)
	if math.Abs(invLitres-dnLitres) < litreEpsilon {
		return 1
	}
	return 0.5
}

// ScoreLine runs the full kernel on one line pair.
func ScoreLine(inv, dn model.LineItem) LineScore {
	s := LineScore{
		Desc:  descScore(inv.Description, dn.Description),
		Qty:   Ratio(inv.Quantity, dn.Quantity),
		Price: Ratio(float64(inv.UnitPricePennies), float64(dn.UnitPricePennies)),
		UOM:   uomScore(inv, dn),
	}
	s.Total = kernelTotal(s)
	return s
}

func kernelTotal(s LineScore) float64 {
	return 0.45*s.Desc + 0.25*s.Qty + 0.25*s.Price + 0.05*s.UOM
}

// ScoreLine applies the kernel under the scorer's config: a token-overlap
// description score below the fuzzy threshold is no evidence at all and is
// zeroed before blending.
func (s *Scorer) ScoreLine(inv, dn model.LineItem) LineScore {
	sc := ScoreLine(inv, dn)
	if sc.Desc < s.cfg.FuzzyDescThreshold {
		sc.Desc = 0
		sc.Total = kernelTotal(sc)
	}
	return sc
}

type scoredPair struct {
	score LineScore
	inv   int
	dn    int
}

// AssignLines computes the full score matrix and greedily assigns pairs in
// descending score order, skipping pairs whose either side is already taken
// and accepting only pairs at or above the threshold. Invoice lines left
// over come back as missing_on_dn, delivery note lines as missing_on_inv.
// The assignment is one-to-one: no row index appears twice.
func AssignLines(invLines, dnLines []model.LineItem, threshold float64) []Assignment {
	return assignLines(invLines, dnLines, threshold, ScoreLine)
}

// AssignLines is the config-aware assignment: the scorer's fuzzy description
// threshold and accept threshold both apply.
func (s *Scorer) AssignLines(invLines, dnLines []model.LineItem) []Assignment {
	return assignLines(invLines, dnLines, s.cfg.AcceptThreshold, s.ScoreLine)
}

func assignLines(invLines, dnLines []model.LineItem, threshold float64, score func(inv, dn model.LineItem) LineScore) []Assignment {
	pairs := make([]scoredPair, 0, len(invLines)*len(dnLines))
	for i, il := range invLines {
		for j, dl := range dnLines {
			pairs = append(pairs, scoredPair{inv: i, dn: j, score: score(il, dl)})
		}
	}

	// Descending by score; row order breaks exact ties so the result is a
	// pure function of the input.
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].score.Total != pairs[b].score.Total {
			return pairs[a].score.Total > pairs[b].score.Total
		}
		if pairs[a].inv != pairs[b].inv {
			return pairs[a].inv < pairs[b].inv
		}
		return pairs[a].dn < pairs[b].dn
	})

	invTaken := make(map[int]bool, len(invLines))
	dnTaken := make(map[int]bool, len(dnLines))
	var out []Assignment

	for _, p := range pairs {
		if p.score.Total < threshold {
			break
		}
		if invTaken[p.inv] || dnTaken[p.dn] {
			continue
		}
		invTaken[p.inv] = true
		dnTaken[p.dn] = true
		inv := invLines[p.inv].RowIndex
		dn := dnLines[p.dn].RowIndex
		out = append(out, Assignment{
			InvIdx: &inv,
			DNIdx:  &dn,
			Score:  p.score,
			Status: model.LineOK,
		})
	}

	for i, il := range invLines {
		if !invTaken[i] {
			inv := il.RowIndex
			out = append(out, Assignment{
				InvIdx: &inv,
				Status: model.LineMissingOnDN,
			})
		}
	}
	for j, dl := range dnLines {
		if !dnTaken[j] {
			dn := dl.RowIndex
			out = append(out, Assignment{
				DNIdx:  &dn,
				Status: model.LineMissingOnInv,
			})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Status != out[b].Status {
			return statusRank(out[a].Status) < statusRank(out[b].Status)
		}
		return rowOf(out[a]) < rowOf(out[b])
	})
	return out
}

func rowOf(a Assignment) int {
	if a.InvIdx != nil {
		return *a.InvIdx
	}
	if a.DNIdx != nil {
		return *a.DNIdx
	}
	return 0
}

func statusRank(s model.LineLinkStatus) int {
	switch s {
	case model.LineOK:
		return 0
	case model.LineMissingOnDN:
		return 1
	default:
		return 2
	}
}
