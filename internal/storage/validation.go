// Package storage provides the data persistence layer for the docket engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fenwick-systems/docket/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidMatch    = errors.New("invalid match link")
	ErrInvalidLineLink = errors.New("invalid line link")
	ErrInvalidDiscount = errors.New("invalid discount record")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDocument validates a document and its lines before ingest.
func validateDocument(doc *model.Document, lines []model.LineItem) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	if !doc.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, doc.Kind)
	}
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if l.DocumentID != "" && l.DocumentID != doc.ID {
			return fmt.Errorf("%w: line owned by %q", ErrInvalidDocument, l.DocumentID)
		}
		if seen[l.RowIndex] {
			return fmt.Errorf("%w: duplicate row index %d", ErrInvalidDocument, l.RowIndex)
		}
		seen[l.RowIndex] = true
	}
	return nil
}

// validateMatchLink validates a match link before persisting.
func validateMatchLink(link *model.MatchLink) error {
	if link == nil {
		return fmt.Errorf("%w: match link", ErrNilParameter)
	}
	if link.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidMatch)
	}
	if link.InvoiceID == "" || link.DeliveryNoteID == "" {
		return fmt.Errorf("%w: missing document reference", ErrInvalidMatch)
	}
	if !link.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMatch, link.Status)
	}
	if link.Score < 0 || link.Score > 1 {
		return fmt.Errorf("%w: score %v out of [0,1]", ErrInvalidMatch, link.Score)
	}
	return nil
}

// validateLineLink validates one line link before persisting. Within one
// MatchLink an invoice row may appear at most once; that uniqueness is
// checked at the batch level by validateLineLinks.
func validateLineLink(link *model.LineLink) error {
	if link == nil {
		return fmt.Errorf("%w: line link", ErrNilParameter)
	}
	if !link.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidLineLink, link.Status)
	}
	if link.InvoiceLineIdx == nil && link.DNLineIdx == nil {
		return fmt.Errorf("%w: link references no line on either side", ErrInvalidLineLink)
	}
	if link.Confidence < 0 || link.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidLineLink, link.Confidence)
	}
	return nil
}

// validateLineLinks validates a batch and enforces one-to-one assignment.
func validateLineLinks(links []model.LineLink) error {
	invSeen := make(map[int]bool)
	dnSeen := make(map[int]bool)
	for i := range links {
		if err := validateLineLink(&links[i]); err != nil {
			return fmt.Errorf("line link at index %d: %w", i, err)
		}
		if idx := links[i].InvoiceLineIdx; idx != nil {
			if invSeen[*idx] {
				return fmt.Errorf("%w: invoice row %d linked twice", ErrInvalidLineLink, *idx)
			}
			invSeen[*idx] = true
		}
		if idx := links[i].DNLineIdx; idx != nil {
			if dnSeen[*idx] {
				return fmt.Errorf("%w: delivery note row %d linked twice", ErrInvalidLineLink, *idx)
			}
			dnSeen[*idx] = true
		}
	}
	return nil
}

// validateDiscount validates a discount record before persisting.
func validateDiscount(rec *model.DiscountRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: discount record", ErrNilParameter)
	}
	if !rec.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, rec.Kind)
	}
	if rec.ResidualPennies < 0 {
		return fmt.Errorf("%w: negative residual", ErrInvalidDiscount)
	}
	return nil
}
