package model

// DiscountKind names one hypothesis in the solver's closed search space.
type DiscountKind string

// Discount kind constants.
const (
	DiscountPercent  DiscountKind = "percent"
	DiscountPerCase  DiscountKind = "per_case"
	DiscountPerLitre DiscountKind = "per_litre"
)

// Valid reports whether the kind is part of the closed set.
func (k DiscountKind) Valid() bool {
	switch k {
	case DiscountPercent, DiscountPerCase, DiscountPerLitre:
		return true
	}
	return false
}

// DiscountRecord explains why a line's observed value sits below the naive
// qty x unit price expectation. A record exists only when the solver accepted
// a hypothesis; absence means "no explainable discount".
type DiscountRecord struct {
	ID          int64
	MatchLinkID string
	Kind        DiscountKind
	// LineIdx is the invoice row index the discount applies to.
	LineIdx int
	// Value is percent points for percent, pennies per case/litre otherwise.
	Value           float64
	ResidualPennies int64
	Confidence      float64
}
