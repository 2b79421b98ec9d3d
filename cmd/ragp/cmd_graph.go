package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ragp/internal/model"
)

func parseNodeID(arg string) (model.NodeID, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node ID %q: %w", arg, err)
	}
	return model.NodeID(id), nil
}

func newConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections <sender>",
		Short: "List the effective outgoing synapses of a sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			conns, err := eng.GetConnections(sender)
			if err != nil {
				return err
			}
			return emit(cmd, conns, func() {
				for _, c := range conns {
					fmt.Printf("%d -> %d  w=%.4f  tick=%d\n", sender, c.Receiver, c.Weight, c.Tick)
				}
				fmt.Printf("%d connection(s)\n", len(conns))
			})
		},
	}
}

func newUpdateWeightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-weight <sender> <receiver> <weight>",
		Short: "Set the weight of a directed synapse (0 removes it)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			receiver, err := parseNodeID(args[1])
			if err != nil {
				return err
			}
			weight, err := strconv.ParseFloat(args[2], 32)
			if err != nil {
				return fmt.Errorf("invalid weight %q: %w", args[2], err)
			}

			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.UpdateWeight(sender, receiver, float32(weight)); err != nil {
				return err
			}
			return emit(cmd, map[string]any{"ok": true}, func() {
				fmt.Printf("updated %d -> %d to %.4f\n", sender, receiver, weight)
			})
		},
	}
}

func newComputeCDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute-cd <stimulus> [context...]",
		Short: "Score candidate actions for a stimulus within a context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stimulus, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			var context []model.NodeID
			for _, arg := range args[1:] {
				id, err := parseNodeID(arg)
				if err != nil {
					return err
				}
				context = append(context, id)
			}

			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			scores, err := eng.ComputeCD(stimulus, context)
			if err != nil {
				return err
			}
			if topK, _ := cmd.Flags().GetInt("top"); topK > 0 && len(scores) > topK {
				scores = scores[:topK]
			}
			return emit(cmd, scores, func() {
				for i, s := range scores {
					fmt.Printf("%2d. action=%d cd=%.6f\n", i+1, s.Action, s.Score)
				}
			})
		},
	}
	cmd.Flags().Int("top", 0, "Limit output to the top K actions")
	return cmd
}

func newConsolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge the delta log into the chunked base and truncate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.Consolidate()
			if err != nil {
				return err
			}
			return emit(cmd, res, func() {
				fmt.Printf("merged=%d pruned=%d\n", res.Merged, res.Pruned)
			})
		},
	}
}
