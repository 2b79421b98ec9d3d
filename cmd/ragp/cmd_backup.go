package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Export the effective graph to a checksummed snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			header, err := eng.ExportBackup(args[0])
			if err != nil {
				return err
			}
			return emit(cmd, header, func() {
				fmt.Printf("wrote %s: %d nodes, %d edges\n", args[0], header.NodeCount, header.EdgeCount)
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Merge a snapshot's edges into the graph (registry stays authoritative)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			applied, skipped, err := eng.ImportBackup(args[0])
			if err != nil {
				return err
			}
			return emit(cmd, map[string]int{"applied": applied, "skipped": skipped}, func() {
				fmt.Printf("applied=%d skipped=%d\n", applied, skipped)
			})
		},
	}
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent engine operations from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := eng.AuditRecent(context.Background(), limit)
			if err != nil {
				return err
			}
			return emit(cmd, entries, func() {
				for _, e := range entries {
					fmt.Printf("%s  %-20s  %s  %dms", e.Timestamp.Format("2006-01-02T15:04:05Z"), e.Op, e.Status, e.DurationMs)
					if e.Error != "" {
						fmt.Printf("  err=%s", e.Error)
					}
					fmt.Println()
				}
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	return cmd
}
