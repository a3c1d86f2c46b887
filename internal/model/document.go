// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// DocumentKind distinguishes the two sides of a reconciliation.
type DocumentKind string

// Document kind constants.
const (
	KindInvoice      DocumentKind = "invoice"
	KindDeliveryNote DocumentKind = "delivery_note"
)

// Valid reports whether the kind is part of the closed set.
func (k DocumentKind) Valid() bool {
	return k == KindInvoice || k == KindDeliveryNote
}

// Document is a parsed supplier document as delivered by the upstream
// OCR/parsing collaborator. Immutable once matching begins; a re-parse
// produces a new ID.
type Document struct {
	Date         time.Time
	ID           string
	Kind         DocumentKind
	SupplierName string
	Reference    string
	Currency     string
	// TotalPennies is the header total in minor currency units.
	// Zero means the total was not readable on the page.
	TotalPennies int64
}

// GenerateHash creates a unique hash for duplicate detection on ingest.
func (d *Document) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%d:%s",
		d.Kind,
		d.SupplierName,
		d.Date.Format("2006-01-02"),
		d.TotalPennies,
		d.Reference)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// LineItem is one row of a document. RowIndex is stable and unique within
// its document and is the addressable unit for line pairing.
type LineItem struct {
	DocumentID  string
	Description string
	UOM         string
	RowIndex    int
	Quantity    float64
	// UnitPricePennies and TotalPennies are minor currency units.
	UnitPricePennies int64
	TotalPennies     int64
	VATRate          float64
}

// NaivePennies is the expected line value before any discount: qty x unit
// price, rounded to the nearest penny.
func (l *LineItem) NaivePennies() int64 {
	if l.Quantity <= 0 || l.UnitPricePennies <= 0 {
		return 0
	}
	v := l.Quantity * float64(l.UnitPricePennies)
	return int64(v + 0.5)
}
