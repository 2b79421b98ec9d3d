package runtime

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvandessel/ragp/internal/kernel"
	"github.com/nvandessel/ragp/internal/model"
)

type recordedUpdate struct {
	sender   model.NodeID
	receiver model.NodeID
	weight   float32
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []recordedUpdate
	tick    atomic.Uint32
}

func (r *updateRecorder) apply(sender, receiver model.NodeID, weight float32) (float32, uint32, error) {
	r.mu.Lock()
	r.updates = append(r.updates, recordedUpdate{sender, receiver, weight})
	r.mu.Unlock()
	return weight, r.tick.Add(1), nil
}

func (r *updateRecorder) all() []recordedUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedUpdate(nil), r.updates...)
}

func testRuntime(t *testing.T, shards int, adjacency map[model.NodeID][]model.Synapse) (*Runtime, *updateRecorder) {
	t.Helper()
	rec := &updateRecorder{}
	var tick atomic.Uint32
	rt := Start(Config{
		Shards:      shards,
		HopTTL:      4,
		HighWater:   10000,
		LowWater:    2500,
		DropWater:   20000,
		Coalesce:    "max",
		Kernel:      kernel.DefaultConfig(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tick:        &tick,
		ApplyUpdate: rec.apply,
	}, adjacency)
	t.Cleanup(rt.Stop)
	return rt, rec
}

// drain flushes repeatedly so cascading hops and learning updates settle.
func drain(rt *Runtime) {
	for i := 0; i < 6; i++ {
		rt.Flush()
	}
}

func TestOwnership_SameShardProcessesAll(t *testing.T) {
	rt, _ := testRuntime(t, 4, nil)

	// 1, 5, 9 are all owned by shard 1 (mod 4).
	for _, node := range []model.NodeID{1, 5, 9} {
		ok, err := rt.SubmitStimulus(node, 1.0, "test")
		if err != nil || !ok {
			t.Fatalf("SubmitStimulus(%d) failed: ok=%t err=%v", node, ok, err)
		}
	}
	drain(rt)

	m := rt.MetricsSnapshot()
	if m.PerShardProcessed[1] != 3 {
		t.Errorf("expected shard 1 to process 3 stimuli, got %d", m.PerShardProcessed[1])
	}
	for _, idx := range []int{0, 2, 3} {
		if m.PerShardProcessed[idx] != 0 {
			t.Errorf("shard %d should be idle, processed %d", idx, m.PerShardProcessed[idx])
		}
	}
}

func TestSubmitBatch_CoalescesDuplicates(t *testing.T) {
	rt, _ := testRuntime(t, 4, nil)

	batch := []model.Stimulus{
		{Node: 7, Strength: 0.2, Source: "mic"},
		{Node: 7, Strength: 0.2, Source: "mic"},
		{Node: 7, Strength: 0.2, Source: "mic"},
	}
	res, err := rt.SubmitBatch(batch)
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if res.Accepted != 1 || res.Coalesced != 2 || res.Rejected != 0 {
		t.Errorf("expected accepted=1 coalesced=2, got %+v", res)
	}

	m := rt.MetricsSnapshot()
	if m.CoalescedTotal != 2 {
		t.Errorf("coalesced_total should be 2, got %d", m.CoalescedTotal)
	}
}

func TestSubmitBatch_DistinctSourcesNotCoalesced(t *testing.T) {
	rt, _ := testRuntime(t, 4, nil)

	res, err := rt.SubmitBatch([]model.Stimulus{
		{Node: 7, Strength: 0.2, Source: "mic"},
		{Node: 7, Strength: 0.3, Source: "env"},
	})
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if res.Accepted != 2 || res.Coalesced != 0 {
		t.Errorf("distinct sources must both land: %+v", res)
	}
}

func TestHop_CrossShardPropagation(t *testing.T) {
	// Node 1 (shard 1 of 2) feeds node 2 (shard 0) with weight 0.9.
	adjacency := map[model.NodeID][]model.Synapse{
		1: {{Receiver: 2, Weight: 0.9, Tick: 1}},
	}
	rt, _ := testRuntime(t, 2, adjacency)

	ok, err := rt.SubmitStimulus(1, 1.0, "test")
	if err != nil || !ok {
		t.Fatalf("SubmitStimulus failed: ok=%t err=%v", ok, err)
	}
	drain(rt)

	snap := rt.ActivationSnapshot()
	if act := snap[2]; math.Abs(float64(act)-0.9) > 1e-6 {
		t.Errorf("expected activation 0.9 on hopped node, got %v", act)
	}
	if m := rt.MetricsSnapshot(); m.HopTotal == 0 {
		t.Error("expected at least one hop")
	}
}

func TestUpdateEdge_SerializedThroughOwner(t *testing.T) {
	rt, rec := testRuntime(t, 4, nil)

	if err := rt.UpdateEdge(1, 2, 0.5); err != nil {
		t.Fatalf("UpdateEdge failed: %v", err)
	}
	if err := rt.UpdateEdge(1, 2, 0.7); err != nil {
		t.Fatalf("UpdateEdge failed: %v", err)
	}

	updates := rec.all()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	// Enqueue order is commit order for a single sender (P6).
	if updates[0].weight != 0.5 || updates[1].weight != 0.7 {
		t.Errorf("updates out of order: %+v", updates)
	}
}

func TestHebbian_FormsEdgesFromCoActivation(t *testing.T) {
	rt, rec := testRuntime(t, 2, nil)

	// Two strong stimuli on nodes sharing shard 0 (2 and 4 mod 2 == 0).
	rt.SubmitStimulus(2, 1.0, "test")
	rt.SubmitStimulus(4, 1.0, "test")
	drain(rt)

	updates := rec.all()
	if len(updates) == 0 {
		t.Fatal("expected Hebbian edge formation between co-activated nodes")
	}
	// New edges form at the kernel baseline weight.
	found := false
	for _, u := range updates {
		if u.sender == 2 && u.receiver == 4 && u.weight == 0.01 {
			found = true
		}
	}
	if !found {
		t.Errorf("missing baseline edge 2->4 in %+v", updates)
	}
}

func TestFlush_Barrier(t *testing.T) {
	rt, _ := testRuntime(t, 4, nil)

	for i := 0; i < 100; i++ {
		rt.SubmitStimulus(model.NodeID(i%8), 0.5, "load")
	}
	drain(rt)

	if m := rt.MetricsSnapshot(); m.GlobalQueueLen != 0 {
		t.Errorf("queue should be empty after flush, got %d", m.GlobalQueueLen)
	}
}

func TestStop_FailsFast(t *testing.T) {
	rt, _ := testRuntime(t, 2, nil)
	rt.Stop()

	if _, err := rt.SubmitStimulus(1, 0.5, "test"); !errors.Is(err, model.ErrRuntimeStopped) {
		t.Errorf("expected ErrRuntimeStopped, got %v", err)
	}
	if err := rt.UpdateEdge(1, 2, 0.5); !errors.Is(err, model.ErrRuntimeStopped) {
		t.Errorf("expected ErrRuntimeStopped, got %v", err)
	}
}

func TestGuardMode_HystereticTransitions(t *testing.T) {
	rt, _ := testRuntime(t, 2, nil)

	set := func(q int64) {
		cur := rt.counters.queueLen.Load()
		rt.counters.queueLen.Add(q - cur)
	}

	if got := GuardModeName(rt.refreshGuard()); got != "normal" {
		t.Fatalf("expected normal at start, got %s", got)
	}

	set(10000)
	if got := GuardModeName(rt.refreshGuard()); got != "coalesce" {
		t.Errorf("expected coalesce at high water, got %s", got)
	}

	// Dropping below high water but above low water must hold coalesce.
	set(5000)
	if got := GuardModeName(rt.refreshGuard()); got != "coalesce" {
		t.Errorf("hysteresis broken: expected coalesce at 5000, got %s", got)
	}

	set(20000)
	if got := GuardModeName(rt.refreshGuard()); got != "drop" {
		t.Errorf("expected drop at drop water, got %s", got)
	}

	set(5000)
	if got := GuardModeName(rt.refreshGuard()); got != "coalesce" {
		t.Errorf("drop should relax to coalesce below high water, got %s", got)
	}

	set(1000)
	if got := GuardModeName(rt.refreshGuard()); got != "normal" {
		t.Errorf("expected normal below low water, got %s", got)
	}
	set(0)
}

func TestGuardDrop_RefusesStimuli(t *testing.T) {
	rt, _ := testRuntime(t, 2, nil)

	rt.counters.queueLen.Add(25000) // force drop mode
	ok, err := rt.SubmitStimulus(1, 0.5, "test")
	if ok || !errors.Is(err, model.ErrQueueFull) {
		t.Errorf("expected ErrQueueFull in drop mode, got ok=%t err=%v", ok, err)
	}
	if m := rt.MetricsSnapshot(); m.DroppedTotal != 1 {
		t.Errorf("dropped_total should be 1, got %d", m.DroppedTotal)
	}
	rt.counters.queueLen.Add(-25000)
}

func TestPauseIngress_SuspendsUntilResume(t *testing.T) {
	rt, _ := testRuntime(t, 2, nil)

	rt.PauseIngress()
	done := make(chan struct{})
	go func() {
		rt.SubmitStimulus(1, 0.5, "test")
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("submission completed while ingress paused")
	default:
	}

	rt.ResumeIngress()
	<-done
	drain(rt)
	if snap := rt.ActivationSnapshot(); snap[1] == 0 {
		t.Error("post-resume stimulus lost")
	}
}

func TestInstallSnapshot_SwapsAdjacency(t *testing.T) {
	rt, _ := testRuntime(t, 2, nil)

	rt.InstallSnapshot(map[model.NodeID][]model.Synapse{
		1: {{Receiver: 3, Weight: 0.9, Tick: 1}},
	}, true)

	rt.SubmitStimulus(1, 1.0, "test")
	drain(rt)
	snap := rt.ActivationSnapshot()
	// 1 and 3 share shard 1 (mod 2); spread happens locally.
	if snap[3] == 0 {
		t.Error("installed adjacency not used for spreading")
	}
}
