package kernel

import "github.com/nvandessel/ragp/internal/model"

// EdgeProposal is one Hebbian update produced from the temporal window.
// New is set when no effective edge exists yet; the engine then creates
// the edge at the baseline weight instead of reinforcing.
type EdgeProposal struct {
	Sender   model.NodeID
	Receiver model.NodeID
	DeltaW   float32
	New      bool
}

// Proposals derives Hebbian edge updates from the temporal window: every
// ordered pair of distinct nodes co-present in the window with activations
// at or above the firing threshold proposes
//
//	dW = eta * act_i * act_j * reward
//
// hasEdge reports whether an effective edge already exists; pairs without
// one are proposed as new edges at the baseline weight. Nodes appearing
// several times in the window contribute once, at their strongest
// recorded activation.
func (k *Kernel) Proposals(reward float64, hasEdge func(sender, receiver model.NodeID) bool) []EdgeProposal {
	if reward == 0 || len(k.window) < 2 {
		return nil
	}

	strongest := make(map[model.NodeID]float32, len(k.window))
	order := make([]model.NodeID, 0, len(k.window))
	for _, e := range k.window {
		if e.Activation < k.cfg.Threshold {
			continue
		}
		if prev, seen := strongest[e.Node]; !seen {
			strongest[e.Node] = e.Activation
			order = append(order, e.Node)
		} else if e.Activation > prev {
			strongest[e.Node] = e.Activation
		}
	}
	if len(order) < 2 {
		return nil
	}

	eta := k.cfg.LearningRate
	out := make([]EdgeProposal, 0, len(order)*(len(order)-1))
	for _, sender := range order {
		for _, receiver := range order {
			if sender == receiver {
				continue
			}
			dw := float32(eta * float64(strongest[sender]) * float64(strongest[receiver]) * reward)
			if dw == 0 {
				continue
			}
			out = append(out, EdgeProposal{
				Sender:   sender,
				Receiver: receiver,
				DeltaW:   dw,
				New:      !hasEdge(sender, receiver),
			})
		}
	}
	return out
}

// BaselineWeight returns the initial weight for newly formed synapses.
func (k *Kernel) BaselineWeight() float32 {
	return float32(k.cfg.InitialWeight)
}
