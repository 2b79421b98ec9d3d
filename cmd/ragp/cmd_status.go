package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			st := eng.Status()
			return emit(cmd, st, func() {
				fmt.Printf("Nodes=%d | Chunks=%d | Delta records=%d (%d bytes) | Active=%d | Tick=%d | reg_ver=%d\n",
					st.Nodes, st.Chunks, st.DeltaRecords, st.DeltaBytes, st.ActiveNodes, st.Tick, st.RegistryVersion)
				fmt.Printf("Cache: pinned_nodes=%d lru_nodes=%d budget_mb=%.1f bytes_est_mb=%.1f\n",
					st.Cache.PinnedNodes, st.Cache.LRUNodes, st.Cache.BudgetMB, st.Cache.BytesEstMB)
				fmt.Printf("Runtime: async_on=%t shards=%d queue=%d guard=%s processed=%d dropped=%d coalesced=%d hops=%d\n",
					st.Runtime.AsyncOn, st.Runtime.Shards, st.Runtime.GlobalQueueLen, st.Runtime.GuardMode,
					st.Runtime.ProcessedTotal, st.Runtime.DroppedTotal, st.Runtime.CoalescedTotal, st.Runtime.HopTotal)
				if st.Degraded {
					fmt.Println("WARNING: engine is degraded (storage errors seen)")
				}
			})
		},
	}
}
