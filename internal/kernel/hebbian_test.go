package kernel

import (
	"testing"

	"github.com/nvandessel/ragp/internal/model"
)

func noEdges(_, _ model.NodeID) bool { return false }

func TestProposals_CoActivationPairs(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 0.8, 1)
	k.Inject(2, 0.6, 1)

	props := k.Proposals(1.0, noEdges)
	// Both orderings of the pair are proposed.
	if len(props) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(props))
	}
	for _, p := range props {
		if !p.New {
			t.Errorf("expected new edge proposal, got %+v", p)
		}
		want := float32(0.05 * 0.8 * 0.6)
		if diff := p.DeltaW - want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("expected dW %v, got %v", want, p.DeltaW)
		}
	}
}

func TestProposals_ThresholdFiltersWeakEntries(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 0.8, 1)
	k.Inject(2, 0.05, 1) // below firing threshold

	if props := k.Proposals(1.0, noEdges); props != nil {
		t.Errorf("single strong node should produce no pairs, got %v", props)
	}
}

func TestProposals_ExistingEdgeReinforced(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 0.5, 1)
	k.Inject(2, 0.5, 1)

	props := k.Proposals(1.0, func(s, r model.NodeID) bool {
		return s == 1 && r == 2
	})
	var found bool
	for _, p := range props {
		if p.Sender == 1 && p.Receiver == 2 {
			found = true
			if p.New {
				t.Error("edge (1,2) exists: proposal must be a reinforcement")
			}
		}
		if p.Sender == 2 && p.Receiver == 1 && !p.New {
			t.Error("edge (2,1) does not exist: proposal must be new")
		}
	}
	if !found {
		t.Fatal("missing proposal for (1,2)")
	}
}

func TestProposals_ZeroRewardIsNoOp(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 0.8, 1)
	k.Inject(2, 0.8, 1)

	if props := k.Proposals(0, noEdges); props != nil {
		t.Errorf("zero reward should produce nothing, got %v", props)
	}
}

func TestProposals_NegativeRewardWeakens(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 0.8, 1)
	k.Inject(2, 0.8, 1)

	props := k.Proposals(-1.0, func(_, _ model.NodeID) bool { return true })
	if len(props) == 0 {
		t.Fatal("expected proposals with negative reward")
	}
	for _, p := range props {
		if p.DeltaW >= 0 {
			t.Errorf("negative reward should weaken: %+v", p)
		}
	}
}

func TestProposals_DuplicateWindowEntriesCollapse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 5
	k := New(cfg)

	// Node 1 appears twice; the strongest activation is used once.
	k.Inject(1, 0.4, 1)
	k.Inject(1, 0.2, 2) // accumulates to 0.6
	k.Inject(2, 0.5, 3)

	props := k.Proposals(1.0, noEdges)
	if len(props) != 2 {
		t.Fatalf("expected 2 proposals (one pair), got %d", len(props))
	}
}
