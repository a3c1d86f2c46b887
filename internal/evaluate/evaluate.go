// Package evaluate recomputes discrepancy flags for persisted line pairings.
//
// Evaluation is deterministic and total: missing joins are treated as a zero
// baseline, header totals that failed to parse fall back to the computed
// line sum, and flags always replace the previous set rather than
// accumulating.
package evaluate

import (
	"fmt"
	"math"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/match"
	"github.com/fenwick-systems/docket/internal/model"
)

// Config holds the evaluator's tolerances.
type Config struct {
	// QtyTolRel / QtyTolAbs: a quantity difference below both is not
	// drift. Defaults are zero: any observable difference counts.
	QtyTolRel float64
	QtyTolAbs float64

	// PriceTolRel is the relative unit price tolerance before PRICE_DRIFT.
	PriceTolRel float64

	// TotalTolPct drives the document check: the header total and the
	// line sum may differ by max(1 penny, TotalTolPct% of the header).
	TotalTolPct float64
}

// DefaultConfig returns the evaluator defaults.
func DefaultConfig() Config {
	return Config{
		QtyTolRel:   0,
		QtyTolAbs:   0,
		PriceTolRel: 0.05,
		TotalTolPct: 3,
	}
}

// Validate fails fast on out-of-range tolerances.
func (c Config) Validate() error {
	if c.QtyTolRel < 0 || c.QtyTolAbs < 0 {
		return fmt.Errorf("%w: quantity tolerances must be >= 0", common.ErrInvalidConfig)
	}
	if c.PriceTolRel < 0 || c.PriceTolRel > 1 {
		return fmt.Errorf("%w: price_tol_rel must be in [0,1], got %v", common.ErrInvalidConfig, c.PriceTolRel)
	}
	if c.TotalTolPct < 0 || c.TotalTolPct > 100 {
		return fmt.Errorf("%w: total tolerance must be in [0,100] percent, got %v", common.ErrInvalidConfig, c.TotalTolPct)
	}
	return nil
}

// Evaluator recomputes verdicts for one MatchLink and its documents.
type Evaluator struct {
	cfg Config
}

// NewEvaluator validates the config and builds an evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

// Result is one full evaluation pass: per-document flag sets plus the line
// links with freshly computed deltas, statuses and flags.
type Result struct {
	InvoiceFlags model.FlagSet
	DNFlags      model.FlagSet
	Lines        []model.LineLink
}

// Evaluate recomputes every check for a pairing. It never errors: a link
// pointing at a deleted line is evaluated against a zero baseline.
func (e *Evaluator) Evaluate(inv model.Document, invLines []model.LineItem, dn model.Document, dnLines []model.LineItem, links []model.LineLink) Result {
	invByRow := byRow(invLines)
	dnByRow := byRow(dnLines)

	out := Result{
		InvoiceFlags: e.DocumentFlags(inv, invLines),
		DNFlags:      e.DocumentFlags(dn, dnLines),
		Lines:        make([]model.LineLink, 0, len(links)),
	}

	for _, link := range links {
		out.Lines = append(out.Lines, e.evaluateLine(link, invByRow, dnByRow))
	}
	return out
}

func byRow(lines []model.LineItem) map[int]model.LineItem {
	m := make(map[int]model.LineItem, len(lines))
	for _, l := range lines {
		m[l.RowIndex] = l
	}
	return m
}

// evaluateLine recomputes one link's deltas, status and flags.
func (e *Evaluator) evaluateLine(link model.LineLink, invByRow, dnByRow map[int]model.LineItem) model.LineLink {
	var invLine, dnLine model.LineItem
	if link.InvoiceLineIdx != nil {
		invLine = invByRow[*link.InvoiceLineIdx]
	}
	if link.DNLineIdx != nil {
		dnLine = dnByRow[*link.DNLineIdx]
	}

	link.QtyDelta = invLine.Quantity - dnLine.Quantity
	link.PriceDeltaPennies = invLine.UnitPricePennies - dnLine.UnitPricePennies
	link.Flags = model.FlagSet{}

	if link.InvoiceLineIdx == nil {
		link.Status = model.LineMissingOnInv
		link.Flags.Add(model.FlagMissingOnInv)
		return link
	}
	if link.DNLineIdx == nil {
		link.Status = model.LineMissingOnDN
		link.Flags.Add(model.FlagMissingOnDN)
		return link
	}

	qtyDrift := e.qtyDrift(invLine.Quantity, dnLine.Quantity)
	priceDrift := e.priceDrift(invLine.UnitPricePennies, dnLine.UnitPricePennies)

	if qtyDrift {
		link.Flags.Add(model.FlagQtyDrift)
	}
	if priceDrift {
		link.Flags.Add(model.FlagPriceDrift)
	}

	switch {
	case qtyDrift:
		link.Status = model.LineQtyMismatch
	case priceDrift:
		link.Status = model.LinePriceMismatch
	default:
		link.Status = model.LineOK
	}
	return link
}

// qtyDrift reports whether the quantity gap exceeds both tolerances.
func (e *Evaluator) qtyDrift(invQty, dnQty float64) bool {
	diff := math.Abs(invQty - dnQty)
	if diff <= e.cfg.QtyTolAbs {
		return false
	}
	base := math.Max(math.Abs(invQty), math.Abs(dnQty))
	if base > 0 && diff/base <= e.cfg.QtyTolRel {
		return false
	}
	return diff > 0
}

// priceDrift reports whether the relative unit price gap exceeds tolerance.
// The relative difference is the inverted min/max ratio, so it is symmetric.
func (e *Evaluator) priceDrift(invPrice, dnPrice int64) bool {
	if invPrice == dnPrice {
		return false
	}
	r := match.Ratio(float64(invPrice), float64(dnPrice))
	if r == 0 {
		// One side unreadable; a drift verdict on garbage helps nobody.
		return false
	}
	return 1-r > e.cfg.PriceTolRel
}

// DocumentFlags recomputes the header check for one document: the line sum
// must sit within max(1 penny, TotalTolPct%) of the header total. A missing
// header total yields SUBTOTAL_FALLBACK rather than an error, and the line
// sum becomes the canonical subtotal.
func (e *Evaluator) DocumentFlags(doc model.Document, lines []model.LineItem) model.FlagSet {
	var sum int64
	for _, l := range lines {
		sum += l.TotalPennies
	}

	var fs model.FlagSet
	if doc.TotalPennies <= 0 {
		fs.Add(model.FlagSubtotalFallback)
		return fs
	}

	tolerance := int64(float64(doc.TotalPennies) * e.cfg.TotalTolPct / 100)
	if tolerance < 1 {
		tolerance = 1
	}
	diff := doc.TotalPennies - sum
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		fs.Add(model.FlagTotalMismatch)
	}
	return fs
}
