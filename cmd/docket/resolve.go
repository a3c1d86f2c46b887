package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fenwick-systems/docket/internal/model"
)

func acceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <match-link-id>",
		Short: "Confirm an invoice/delivery-note pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return withStore(cmd, func(store storeHandle) error {
				if err := store.AcceptMatch(cmd.Context(), args[0], actor); err != nil {
					return err
				}
				fmt.Printf("Accepted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("actor", "cli", "Actor recorded in the audit trail")
	return cmd
}

func overrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <match-link-id> <delivery-note-id>",
		Short: "Point a pair at a different delivery note",
		Long: `Replaces a pair's delivery note with the given one and confirms it. Line
pairings computed against the old note are dropped and recomputed on the
next rebuild.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return withStore(cmd, func(store storeHandle) error {
				if err := store.OverrideMatch(cmd.Context(), args[0], args[1], actor); err != nil {
					return err
				}
				fmt.Printf("Overrode %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
	cmd.Flags().String("actor", "cli", "Actor recorded in the audit trail")
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <line-link-id> <accept_qty|accept_price|split|write_off>",
		Short: "Resolve a line-level mismatch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid line link id %q: %w", args[0], err)
			}
			actor, _ := cmd.Flags().GetString("actor")
			return withStore(cmd, func(store storeHandle) error {
				if err := store.ResolveLine(cmd.Context(), lineID, model.LineResolution(args[1]), actor); err != nil {
					return err
				}
				fmt.Printf("Resolved line %d as %s\n", lineID, args[1])
				return nil
			})
		},
	}
	cmd.Flags().String("actor", "cli", "Actor recorded in the audit trail")
	return cmd
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <match-link-id>",
		Short: "Show a pair's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store storeHandle) error {
				entries, err := store.GetAuditTrail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No audit entries.")
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%s  %s  by %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
					fmt.Printf("  before: %s\n", e.Before)
					fmt.Printf("  after:  %s\n", e.After)
				}
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store storeHandle) error {
				if err := store.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Database is up to date.")
				return nil
			})
		},
	}
}
