package match

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fenwick-systems/docket/internal/model"
)

const maxRankedCandidates = 3

// Candidate bundles a delivery note with its lines for scoring.
type Candidate struct {
	Document model.Document
	Lines    []model.LineItem
}

// RankedCandidate is one scored entry in the ranked suggestion list.
type RankedCandidate struct {
	Document model.Document
	Reasons  []string
	Score    float64
}

// Scorer scores invoices against delivery note candidates. Safe for
// concurrent use; it holds only immutable configuration.
type Scorer struct {
	cfg     Config
	aliases *AliasTable
}

// NewScorer validates the config and builds a scorer.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, aliases: NewAliasTable(cfg.Aliases)}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// supplierScore is the similarity ratio on alias-normalized supplier names.
func (s *Scorer) supplierScore(inv, dn model.Document) float64 {
	return s.aliases.SupplierSimilarity(inv.SupplierName, dn.SupplierName)
}

// itemOverlap is the Jaccard similarity of the two documents' lowercase
// description sets.
func itemOverlap(invLines, dnLines []model.LineItem) float64 {
	invSet := descSet(invLines)
	dnSet := descSet(dnLines)
	if len(invSet) == 0 || len(dnSet) == 0 {
		return 0
	}
	intersection := 0
	for d := range invSet {
		if dnSet[d] {
			intersection++
		}
	}
	union := len(invSet) + len(dnSet) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func descSet(lines []model.LineItem) map[string]bool {
	set := make(map[string]bool, len(lines))
	for _, l := range lines {
		d := strings.ToLower(strings.TrimSpace(l.Description))
		if d != "" {
			set[d] = true
		}
	}
	return set
}

// valueScore compares header totals: max(0, 1 - |a-b|/avg(a,b)), 0 when
// either total is missing or zero.
func valueScore(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	fa, fb := float64(a), float64(b)
	avg := (fa + fb) / 2
	score := 1 - math.Abs(fa-fb)/avg
	if score < 0 {
		return 0
	}
	return score
}

// dateScore gives full credit inside the configured day window and nothing
// outside it. A missing date on either side scores 0, never errors.
func (s *Scorer) dateScore(inv, dn model.Document) float64 {
	if inv.Date.IsZero() || dn.Date.IsZero() {
		return 0
	}
	gap := math.Abs(inv.Date.Sub(dn.Date).Hours()) / 24
	if gap <= float64(s.cfg.DateWindowDays) {
		return 1
	}
	return 0
}

// amountProximity is the coarse pre-filter's step function on header totals.
func (s *Scorer) amountProximity(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	fa, fb := float64(a), float64(b)
	larger := math.Max(fa, fb)
	if math.Abs(fa-fb)/larger*100 <= s.cfg.AmountProximityPct {
		return 1
	}
	return 0
}

// Prefilter is the coarse document score used to cut the candidate pool
// before line-level work: supplier 0.6, date 0.2, amount 0.2.
func (s *Scorer) Prefilter(inv, dn model.Document) float64 {
	return 0.6*s.supplierScore(inv, dn) +
		0.2*s.dateScore(inv, dn) +
		0.2*s.amountProximity(inv.TotalPennies, dn.TotalPennies)
}

// Score is the fine-grained document score blending supplier, item overlap,
// header value and date sub-scores under the configured weights.
func (s *Scorer) Score(inv model.Document, invLines []model.LineItem, cand Candidate) (float64, []string) {
	supplier := s.supplierScore(inv, cand.Document)
	items := itemOverlap(invLines, cand.Lines)
	value := valueScore(inv.TotalPennies, cand.Document.TotalPennies)
	date := s.dateScore(inv, cand.Document)

	w := s.cfg.Weights
	total := w.Supplier*supplier + w.Items*items + w.Value*value + w.Date*date

	reasons := []string{
		fmt.Sprintf("supplier=%.2f", supplier),
		fmt.Sprintf("items=%.2f", items),
		fmt.Sprintf("value=%.2f", value),
		fmt.Sprintf("date=%.2f", date),
	}
	return total, reasons
}

// RankCandidates scores every candidate in the pool and returns the top
// entries, capped at three. Equal scores order by lexicographically smaller
// document id so ranking never depends on pool order. An empty pool yields
// an empty result.
func (s *Scorer) RankCandidates(inv model.Document, invLines []model.LineItem, pool []Candidate) []RankedCandidate {
	ranked := make([]RankedCandidate, 0, len(pool))
	for _, cand := range pool {
		score, reasons := s.Score(inv, invLines, cand)
		ranked = append(ranked, RankedCandidate{
			Document: cand.Document,
			Score:    score,
			Reasons:  reasons,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Document.ID < ranked[j].Document.ID
	})

	if len(ranked) > maxRankedCandidates {
		ranked = ranked[:maxRankedCandidates]
	}
	return ranked
}
