package kernel

import (
	"testing"

	"github.com/nvandessel/ragp/internal/model"
)

func TestInject_AccumulatesAndClamps(t *testing.T) {
	k := New(DefaultConfig())

	k.Inject(1, 0.4, 1)
	k.Inject(1, 0.4, 2)
	if got := k.Activation(1); got != 0.8 {
		t.Errorf("expected accumulated activation 0.8, got %v", got)
	}

	// Out-of-range strength clamps at the boundary.
	k.Inject(2, 5.0, 3)
	if got := k.Activation(2); got != 1.0 {
		t.Errorf("expected clamped injection 1.0, got %v", got)
	}
}

func TestDecay_DropsBelowEpsilon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayGamma = 0.5
	cfg.MinActivation = 0.1
	k := New(cfg)

	k.Inject(1, 1.0, 1)
	k.Inject(2, 0.15, 1)

	k.Decay()
	if got := k.Activation(1); got != 0.5 {
		t.Errorf("expected 0.5 after decay, got %v", got)
	}
	// 0.15 * 0.5 = 0.075 < 0.1 epsilon: removed entirely.
	if k.Activation(2) != 0 {
		t.Errorf("expected node 2 dropped, got %v", k.Activation(2))
	}
	if k.ActiveCount() != 1 {
		t.Errorf("expected 1 active node, got %d", k.ActiveCount())
	}
}

func TestSpreadFrom_ThresholdGate(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(1, 1.0, 1)

	outgoing := []model.Synapse{
		{Receiver: 2, Weight: 0.5},
		{Receiver: 3, Weight: 0.1}, // 1.0*0.1 < threshold 0.2: gated
	}
	contribs := k.SpreadFrom(1, outgoing)
	if len(contribs) != 1 {
		t.Fatalf("expected 1 contribution, got %d", len(contribs))
	}
	if contribs[0].Receiver != 2 || contribs[0].Delta != 0.5 {
		t.Errorf("unexpected contribution: %+v", contribs[0])
	}
}

func TestSpreadFrom_InactiveSender(t *testing.T) {
	k := New(DefaultConfig())
	if got := k.SpreadFrom(9, []model.Synapse{{Receiver: 2, Weight: 1.0}}); got != nil {
		t.Errorf("inactive sender should not spread, got %v", got)
	}
}

func TestApply_FiringThreshold(t *testing.T) {
	k := New(DefaultConfig())

	if fired := k.Apply(1, 0.1, 1); fired {
		t.Error("contribution below threshold should not fire")
	}
	if fired := k.Apply(1, 0.3, 2); !fired {
		t.Error("contribution above threshold should fire")
	}
	if got := k.Activation(1); got != 0.4 {
		t.Errorf("contributions should accumulate: got %v", got)
	}
}

func TestWindow_OverflowDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	k := New(cfg)

	for i := uint32(1); i <= 5; i++ {
		k.Inject(model.NodeID(i), 0.5, i)
	}

	w := k.Window()
	if len(w) != 3 {
		t.Fatalf("expected window of 3, got %d", len(w))
	}
	if w[0].Node != 3 || w[2].Node != 5 {
		t.Errorf("expected oldest entries dropped, window: %+v", w)
	}
}

func TestActiveNodes_SortedWithTieBreak(t *testing.T) {
	k := New(DefaultConfig())
	k.Inject(5, 0.5, 1)
	k.Inject(2, 0.9, 2)
	k.Inject(3, 0.5, 3)

	nodes := k.ActiveNodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 active nodes, got %d", len(nodes))
	}
	if nodes[0].Node != 2 {
		t.Errorf("expected node 2 first, got %d", nodes[0].Node)
	}
	// Equal activations tie-break by smaller node ID.
	if nodes[1].Node != 3 || nodes[2].Node != 5 {
		t.Errorf("tie break wrong: %+v", nodes)
	}
}
