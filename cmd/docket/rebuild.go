package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fenwick-systems/docket/internal/engine"
)

func rebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reprocess invoices against their delivery note candidates",
		Long: `Re-runs the full matching pipeline for recent invoices. Each invoice is an
independent unit of work committed in its own transaction, so stopping a
rebuild early keeps the results already committed.`,
		RunE: runRebuild,
	}

	cmd.Flags().IntP("days", "d", 30, "Reprocess invoices from the last N days (0 = all)")
	cmd.Flags().IntP("limit", "n", 0, "Stop after N invoices (0 = no limit)")
	cmd.Flags().IntP("workers", "w", 4, "Concurrent units of work")

	_ = viper.BindPFlag("rebuild.days", cmd.Flags().Lookup("days"))
	_ = viper.BindPFlag("rebuild.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("rebuild.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	eng, err := newEngine(store)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Reconciling"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)

	stats, err := eng.Rebuild(ctx, engine.RebuildOptions{
		Days:    viper.GetInt("rebuild.days"),
		Limit:   viper.GetInt("rebuild.limit"),
		Workers: viper.GetInt("rebuild.workers"),
		OnUnit:  func() { _ = bar.Add(1) },
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d invoices in %s: %d matched, %d unmatched, %d failed\n",
		stats.Processed, stats.Duration.Round(10*time.Millisecond), stats.Matched, stats.Unmatched, len(stats.Failures))
	for _, f := range stats.Failures {
		fmt.Printf("  FAILED %s: %v\n", f.InvoiceID, f.Err)
	}
	return nil
}
