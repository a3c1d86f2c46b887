package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenwick-systems/docket/internal/group"
	"github.com/fenwick-systems/docket/internal/model"
)

// ingestDocument is the JSON shape the parsing collaborator hands over.
type ingestDocument struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	SupplierName string       `json:"supplier_name"`
	Reference    string       `json:"reference"`
	Date         string       `json:"date"`
	Currency     string       `json:"currency"`
	TotalPennies int64        `json:"total_pennies"`
	Lines        []ingestLine `json:"lines"`
}

type ingestLine struct {
	RowIndex         int     `json:"row_index"`
	Description      string  `json:"description"`
	Quantity         float64 `json:"quantity"`
	UnitPricePennies int64   `json:"unit_price_pennies"`
	TotalPennies     int64   `json:"total_pennies"`
	UOM              string  `json:"uom"`
	VATRate          float64 `json:"vat_rate"`
}

type ingestBatch struct {
	Documents []ingestDocument `json:"documents"`
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Ingest parsed documents from the OCR collaborator",
		Long: `Reads a JSON batch of already-parsed documents and line items and stores
them as immutable snapshots ready for reconciliation. Re-ingesting an
identical document is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}

	var batch ingestBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse batch file: %w", err)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	saved := 0
	for _, in := range batch.Documents {
		doc, lines, convErr := convertDocument(in)
		if convErr != nil {
			return convErr
		}
		if err := store.SaveDocument(ctx, doc, lines); err != nil {
			return fmt.Errorf("document %s: %w", in.ID, err)
		}
		saved++
	}

	slog.Info("Ingest complete", "documents", saved)
	return nil
}

func convertDocument(in ingestDocument) (*model.Document, []model.LineItem, error) {
	doc := &model.Document{
		ID:           in.ID,
		Kind:         model.DocumentKind(in.Kind),
		SupplierName: in.SupplierName,
		Reference:    in.Reference,
		Currency:     in.Currency,
		TotalPennies: in.TotalPennies,
	}
	if in.Date != "" {
		// An unparseable date is degraded to "no date", which the scorer
		// treats as zero date credit rather than an ingest failure.
		if d, err := time.Parse("2006-01-02", in.Date); err == nil {
			doc.Date = d
		} else {
			slog.Warn("Ignoring unparseable document date",
				"document_id", in.ID, "date", in.Date)
		}
	}

	lines := make([]model.LineItem, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, model.LineItem{
			DocumentID:       in.ID,
			RowIndex:         l.RowIndex,
			Description:      l.Description,
			Quantity:         l.Quantity,
			UnitPricePennies: l.UnitPricePennies,
			TotalPennies:     l.TotalPennies,
			UOM:              l.UOM,
			VATRate:          l.VATRate,
		})
	}
	return doc, lines, nil
}

func groupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group <pages.json>",
		Short: "Partition raw OCR pages into logical documents",
		Long: `Reads a JSON array of raw pages and prints the partition of page indices
into logical document groups, for uploads where several documents arrived
interleaved. The groups are fed back to the parser to be re-parsed one
document at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: runGroup,
	}
}

func runGroup(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read pages file: %w", err)
	}

	var pages []model.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return fmt.Errorf("failed to parse pages file: %w", err)
	}

	groups := group.Group(pages)
	out, err := json.MarshalIndent(map[string]any{"groups": groups}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode groups: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
