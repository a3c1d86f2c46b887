package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fenwick-systems/docket/internal/service"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarize reconciliation state by status",
		RunE:  runReport,
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pairs, err := store.ListPairs(cmd.Context(), service.PairFilter{})
	if err != nil {
		return err
	}

	counts := map[service.PairStatus]int{}
	for _, p := range pairs {
		counts[p.Status]++
	}

	fmt.Printf("Invoices: %d\n", len(pairs))
	for _, status := range []service.PairStatus{
		service.PairMatched, service.PairPartial, service.PairConflict, service.PairUnmatched,
	} {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}
	return nil
}

func pairsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "List invoice/delivery-note pairs",
		RunE:  runPairs,
	}

	cmd.Flags().StringP("status", "s", "", "Filter by status (matched, partial, conflict, unmatched)")
	cmd.Flags().Int("limit", 50, "Page size")
	cmd.Flags().Int("offset", 0, "Page offset")

	_ = viper.BindPFlag("pairs.status", cmd.Flags().Lookup("status"))
	_ = viper.BindPFlag("pairs.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("pairs.offset", cmd.Flags().Lookup("offset"))

	return cmd
}

func runPairs(cmd *cobra.Command, _ []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pairs, err := store.ListPairs(cmd.Context(), service.PairFilter{
		Status: service.PairStatus(viper.GetString("pairs.status")),
		Limit:  viper.GetInt("pairs.limit"),
		Offset: viper.GetInt("pairs.offset"),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tINVOICE\tDELIVERY NOTE\tSUPPLIER\tSCORE\tLINES OK\tFLAGGED\tLINK")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\t%d\t%s\n",
			p.Status, p.InvoiceID, dash(p.DeliveryNoteID), p.Supplier,
			p.Score, p.LinesOK, p.LinesFlagged, dash(p.MatchLinkID))
	}
	return w.Flush()
}

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <match-link-id>",
		Short: "Show full detail for one pair",
		Args:  cobra.ExactArgs(1),
		RunE:  runPair,
	}
}

func runPair(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	detail, err := store.GetPairDetail(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Pair %s  score=%.2f  status=%s\n", detail.Link.ID, detail.Link.Score, detail.Link.Status)
	fmt.Printf("  Invoice:       %s  %s  %s\n", detail.Invoice.ID, detail.Invoice.SupplierName, penniesToGBP(detail.Invoice.TotalPennies))
	if detail.Delivery != nil {
		fmt.Printf("  Delivery note: %s  %s  %s\n", detail.Delivery.ID, detail.Delivery.SupplierName, penniesToGBP(detail.Delivery.TotalPennies))
	} else {
		fmt.Printf("  Delivery note: %s (no longer present)\n", detail.Link.DeliveryNoteID)
	}
	if len(detail.Link.Reasons) > 0 {
		fmt.Printf("  Reasons: %s\n", strings.Join(detail.Link.Reasons, ", "))
	}
	if detail.InvoiceFlags.Len() > 0 {
		fmt.Printf("  Invoice flags: %v\n", detail.InvoiceFlags.Flags())
	}
	if detail.DNFlags.Len() > 0 {
		fmt.Printf("  Delivery flags: %v\n", detail.DNFlags.Flags())
	}

	if len(detail.Lines) > 0 {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  LINK\tINV ROW\tDN ROW\tSTATUS\tQTY DELTA\tPRICE DELTA\tCONF\tFLAGS")
		for _, l := range detail.Lines {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%.2f\t%s\t%.2f\t%v\n",
				l.ID, idxOrDash(l.InvoiceLineIdx), idxOrDash(l.DNLineIdx),
				l.Status, l.QtyDelta, penniesToGBP(l.PriceDeltaPennies),
				l.Confidence, l.Flags.Flags())
		}
		_ = w.Flush()
	}

	for _, d := range detail.Discounts {
		fmt.Printf("  Discount on row %d: %s %.1f (residual %dp, confidence %.2f)\n",
			d.LineIdx, d.Kind, d.Value, d.ResidualPennies, d.Confidence)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func idxOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func penniesToGBP(p int64) string {
	sign := ""
	if p < 0 {
		sign = "-"
		p = -p
	}
	return fmt.Sprintf("%s£%d.%02d", sign, p/100, p%100)
}
