package model

import "time"

// AuditAction names a user-visible mutation recorded in the audit trail.
type AuditAction string

// Audit action constants.
const (
	ActionAcceptMatch   AuditAction = "accept_match"
	ActionRejectMatch   AuditAction = "reject_match"
	ActionOverrideMatch AuditAction = "override_match"
	ActionResolveLine   AuditAction = "resolve_line"
)

// LineResolution is a user decision applied to a mismatched line.
type LineResolution string

// Line resolution constants.
const (
	ResolveAcceptQty   LineResolution = "accept_qty"
	ResolveAcceptPrice LineResolution = "accept_price"
	ResolveSplit       LineResolution = "split"
	ResolveWriteOff    LineResolution = "write_off"
)

// Valid reports whether the resolution is part of the closed set.
func (r LineResolution) Valid() bool {
	switch r {
	case ResolveAcceptQty, ResolveAcceptPrice, ResolveSplit, ResolveWriteOff:
		return true
	}
	return false
}

// AuditEntry is an append-only snapshot recorded whenever a MatchLink or
// LineLink status changes by user action. Entries are never mutated or
// deleted.
type AuditEntry struct {
	CreatedAt time.Time
	ID        string
	Actor     string
	Action    AuditAction
	// MatchLinkID ties the entry to the pair it touched.
	MatchLinkID string
	Before      string
	After       string
}
