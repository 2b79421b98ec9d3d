package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ragp/internal/model"
)

// newInitCmd seeds or migrates the innate registry. Node IDs come from
// explicit arguments or a contiguous 1..n pool via --nodes.
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [node-id...]",
		Short: "Initialize storage and seed the innate registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			var ids []model.NodeID
			if n, _ := cmd.Flags().GetUint64("nodes"); n > 0 {
				if n > cfg.Registry.NodeMax {
					return fmt.Errorf("node count %d exceeds configured node_max %d", n, cfg.Registry.NodeMax)
				}
				for id := uint64(1); id <= n; id++ {
					ids = append(ids, model.NodeID(id))
				}
			}
			for _, arg := range args {
				id, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid node ID %q: %w", arg, err)
				}
				ids = append(ids, model.NodeID(id))
			}
			if len(ids) == 0 {
				return fmt.Errorf("no node IDs given: pass IDs as arguments or use --nodes")
			}

			res, err := eng.EnsureInnateRegistry(ids)
			if err != nil {
				return err
			}
			return emit(cmd, res, func() {
				fmt.Printf("migrated=%t registry_version=%d added_nodes=%d removed_nodes=%d\n",
					res.Migrated, res.RegistryVersion, res.AddedNodes, res.RemovedNodes)
			})
		},
	}
	cmd.Flags().Uint64("nodes", 0, "Seed a contiguous node pool 1..n")
	return cmd
}
