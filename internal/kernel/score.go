package kernel

import (
	"sort"

	"github.com/nvandessel/ragp/internal/model"
)

// ScoreContext carries everything a scoring function may consult. The
// Outgoing accessor reads the live graph view; Activation reads the
// caller's activation state.
type ScoreContext struct {
	// Stimulus is the triggering node; the ratio scorer walks its
	// outgoing edges to find candidate actions.
	Stimulus model.NodeID

	// Context is the set of context nodes framing the decision.
	Context []model.NodeID

	// Actions is the registry's action node set (used by the net scorer).
	Actions []model.NodeID

	Activation func(model.NodeID) float32
	Outgoing   func(model.NodeID) ([]model.Connection, error)
}

// ScoreFunc computes ranked action scores. Results are sorted by score
// descending with ties broken by smaller node ID.
type ScoreFunc func(sc *ScoreContext) ([]model.ActionScore, error)

// ScorerByName resolves a configured scoring function name.
func ScorerByName(name string) ScoreFunc {
	if name == "net" {
		return NetScore
	}
	return RatioScore
}

// RatioScore reproduces the original engine's cost/opportunity decision
// rule. Candidate actions are the stimulus node's direct receivers; for
// each candidate:
//
//	cost        = mean weight of the action's outgoing edges (1.0 if none)
//	opportunity = mean weight of context→action edges (0.5 if none)
//	cd          = (edge weight * opportunity) / cost
func RatioScore(sc *ScoreContext) ([]model.ActionScore, error) {
	candidates, err := sc.Outgoing(sc.Stimulus)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	out := make([]model.ActionScore, 0, len(candidates))
	for _, cand := range candidates {
		actionConns, err := sc.Outgoing(cand.Receiver)
		if err != nil {
			return nil, err
		}
		cost := 1.0
		if len(actionConns) > 0 {
			var total float64
			for _, c := range actionConns {
				total += float64(c.Weight)
			}
			cost = total / float64(len(actionConns))
		}

		var oppSum float64
		oppN := 0
		for _, ctx := range sc.Context {
			ctxConns, err := sc.Outgoing(ctx)
			if err != nil {
				return nil, err
			}
			for _, c := range ctxConns {
				if c.Receiver == cand.Receiver {
					oppSum += float64(c.Weight)
					oppN++
				}
			}
		}
		opportunity := 0.5
		if oppN > 0 {
			opportunity = oppSum / float64(oppN)
		}

		score := 0.0
		if cost != 0 {
			score = float64(cand.Weight) * opportunity / cost
		}
		out = append(out, model.ActionScore{Action: cand.Receiver, Score: score})
	}

	sortScores(out)
	return out, nil
}

// NetScore implements the additive rule: for each action node,
//
//	cd = sum over active sources of activation[src] * weight(src, action)
//	   - cost(action)
//
// with cost as in RatioScore. Context nodes are treated as fully active
// sources even when their decayed activation has dropped out.
func NetScore(sc *ScoreContext) ([]model.ActionScore, error) {
	sources := make(map[model.NodeID]float32, len(sc.Context))
	for _, ctx := range sc.Context {
		act := sc.Activation(ctx)
		if act <= 0 {
			act = 1.0
		}
		sources[ctx] = act
	}
	if sc.Stimulus != 0 {
		if _, ok := sources[sc.Stimulus]; !ok {
			act := sc.Activation(sc.Stimulus)
			if act <= 0 {
				act = 1.0
			}
			sources[sc.Stimulus] = act
		}
	}

	incoming := make(map[model.NodeID]float64, len(sc.Actions))
	for src, act := range sources {
		conns, err := sc.Outgoing(src)
		if err != nil {
			return nil, err
		}
		for _, c := range conns {
			incoming[c.Receiver] += float64(act) * float64(c.Weight)
		}
	}

	out := make([]model.ActionScore, 0, len(sc.Actions))
	for _, action := range sc.Actions {
		in, ok := incoming[action]
		if !ok {
			continue
		}
		actionConns, err := sc.Outgoing(action)
		if err != nil {
			return nil, err
		}
		cost := 1.0
		if len(actionConns) > 0 {
			var total float64
			for _, c := range actionConns {
				total += float64(c.Weight)
			}
			cost = total / float64(len(actionConns))
		}
		out = append(out, model.ActionScore{Action: action, Score: in - cost})
	}

	sortScores(out)
	return out, nil
}

func sortScores(scores []model.ActionScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Action < scores[j].Action
	})
}
