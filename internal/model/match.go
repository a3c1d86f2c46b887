package model

import "time"

// MatchStatus indicates the lifecycle state of an invoice/delivery-note pair.
type MatchStatus string

// Match status constants.
const (
	MatchPending   MatchStatus = "pending"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// Valid reports whether the status is part of the closed set.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchConfirmed, MatchRejected:
		return true
	}
	return false
}

// MatchLink pairs one invoice with one delivery note candidate.
// At most one confirmed link exists per invoice at any time; multiple
// pending links coexist as ranked suggestions.
type MatchLink struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ID             string
	InvoiceID      string
	DeliveryNoteID string
	Status         MatchStatus
	Reasons        []string
	Score          float64
}

// LineLinkStatus classifies one line-to-line correspondence.
type LineLinkStatus string

// Line link status constants.
const (
	LineOK            LineLinkStatus = "ok"
	LineQtyMismatch   LineLinkStatus = "qty_mismatch"
	LinePriceMismatch LineLinkStatus = "price_mismatch"
	LineMissingOnDN   LineLinkStatus = "missing_on_dn"
	LineMissingOnInv  LineLinkStatus = "missing_on_inv"
)

// Valid reports whether the status is part of the closed set.
func (s LineLinkStatus) Valid() bool {
	switch s {
	case LineOK, LineQtyMismatch, LinePriceMismatch, LineMissingOnDN, LineMissingOnInv:
		return true
	}
	return false
}

// LineLink records one line-to-line correspondence inside a MatchLink.
// Within one MatchLink each invoice row index appears in at most one link.
// A nil DNLineIdx encodes "no counterpart found on the delivery note"; a
// nil InvoiceLineIdx marks a delivery note line absent from the invoice.
type LineLink struct {
	ID             int64
	MatchLinkID    string
	InvoiceLineIdx *int
	DNLineIdx      *int
	QtyDelta       float64
	// PriceDeltaPennies is invoice unit price minus delivery note unit
	// price, in minor currency units.
	PriceDeltaPennies int64
	Confidence        float64
	Status            LineLinkStatus
	Flags             FlagSet
}
