package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fenwick-systems/docket/internal/service"
)

// RebuildOptions controls a batch reprocessing run.
type RebuildOptions struct {
	// OnUnit, when set, is called after each completed unit of work.
	OnUnit func()
	// Days limits the run to invoices dated within the last N days;
	// zero means everything.
	Days int
	// Limit caps how many invoices are submitted; zero means no cap.
	Limit int
	// Workers bounds the concurrent units of work.
	Workers int
}

// Rebuild reprocesses invoices as independent units of work over a bounded
// worker pool. Units have no data dependency on each other; each commits
// its own transaction, so already-committed invoices keep their new results
// even if a later unit fails or the run is stopped early. Per-invoice
// failures are recorded and the batch continues.
func (e *ReconcileEngine) Rebuild(ctx context.Context, opts RebuildOptions) (*service.RebuildStats, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	started := time.Now()

	invoices, err := e.storage.GetInvoicesSince(ctx, sinceCutoff(opts.Days, started), opts.Limit)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting rebuild",
		"invoices", len(invoices),
		"days", opts.Days,
		"workers", opts.Workers)

	stats := &service.RebuildStats{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, inv := range invoices {
		invoiceID := inv.ID
		g.Go(func() error {
			// A canceled run stops submitting further units; committed
			// ones stand.
			if gctx.Err() != nil {
				return gctx.Err()
			}

			result, unitErr := e.Reconcile(gctx, invoiceID)

			mu.Lock()
			stats.Processed++
			switch {
			case unitErr != nil:
				stats.Failures = append(stats.Failures, service.RebuildFailure{
					InvoiceID: invoiceID,
					Err:       unitErr,
				})
			case result.Matched:
				stats.Matched++
			default:
				stats.Unmatched++
			}
			mu.Unlock()

			if unitErr != nil {
				slog.Warn("Invoice failed during rebuild",
					"invoice_id", invoiceID,
					"error", unitErr)
			}
			if opts.OnUnit != nil {
				opts.OnUnit()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(started)
	slog.Info("Rebuild complete",
		"processed", stats.Processed,
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"failures", len(stats.Failures),
		"duration", stats.Duration)
	return stats, nil
}
