package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ragp/internal/model"
)

// newStimulateCmd submits stimuli. Each argument is node:strength or
// node:strength:source; without --sync the async runtime is booted for
// the call.
func newStimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stimulate <node:strength[:source]>...",
		Short: "Submit stimuli and spread activation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch := make([]model.Stimulus, 0, len(args))
			for _, arg := range args {
				st, err := parseStimulus(arg)
				if err != nil {
					return err
				}
				batch = append(batch, st)
			}

			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if sync, _ := cmd.Flags().GetBool("sync"); sync {
				for _, st := range batch {
					if err := eng.SpreadActivation(st.Node, st.Strength); err != nil {
						return err
					}
				}
				active := eng.GetActivation()
				return emit(cmd, active, func() {
					for _, a := range active {
						fmt.Printf("node=%d activation=%.4f\n", a.Node, a.Activation)
					}
				})
			}

			if _, err := eng.StartAsyncRuntime(nil); err != nil {
				return err
			}
			res, err := eng.SubmitStimuli(batch)
			if err != nil {
				return err
			}
			eng.StopAsyncRuntime()
			return emit(cmd, res, func() {
				fmt.Printf("accepted=%d rejected=%d coalesced=%d\n", res.Accepted, res.Rejected, res.Coalesced)
			})
		},
	}
	cmd.Flags().Bool("sync", false, "Use the synchronous spread path instead of the async runtime")
	return cmd
}

func parseStimulus(arg string) (model.Stimulus, error) {
	parts := strings.Split(arg, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return model.Stimulus{}, fmt.Errorf("invalid stimulus %q: want node:strength[:source]", arg)
	}
	node, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return model.Stimulus{}, fmt.Errorf("invalid node in %q: %w", arg, err)
	}
	strength, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return model.Stimulus{}, fmt.Errorf("invalid strength in %q: %w", arg, err)
	}
	source := "cli"
	if len(parts) == 3 {
		source = parts[2]
	}
	return model.Stimulus{
		Node:     model.NodeID(node),
		Strength: float32(strength),
		Source:   source,
	}, nil
}
