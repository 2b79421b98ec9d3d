package cache

import (
	"testing"

	"github.com/nvandessel/ragp/internal/model"
)

func testConfig() Config {
	return Config{
		Policy:      "pinned_lru",
		RAMFraction: 0.25,
		RAMMinMB:    1,
		RAMMaxMB:    4,
		PinFraction: 0.35,
	}
}

func withRAM(t *testing.T, bytes uint64) {
	t.Helper()
	orig := availableRAM
	availableRAM = func() uint64 { return bytes }
	t.Cleanup(func() { availableRAM = orig })
}

func TestBudget_ClampedToBounds(t *testing.T) {
	withRAM(t, 64*1024*1024*1024) // 64GB available
	h := New(testConfig())

	st := h.Stats()
	if st.BudgetMB != 4 {
		t.Errorf("budget should clamp at ram_max_mb=4, got %.1f", st.BudgetMB)
	}

	withRAM(t, 0)
	h.RefreshBudget()
	if st := h.Stats(); st.BudgetMB != 1 {
		t.Errorf("budget should clamp at ram_min_mb=1, got %.1f", st.BudgetMB)
	}
}

func TestGetPut_RoundTrip(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	h := New(testConfig())

	syns := []model.Synapse{{Receiver: 2, Weight: 0.5, Tick: 1}}
	if _, ok := h.Get(1); ok {
		t.Error("expected miss on empty cache")
	}
	h.Put(1, syns)
	got, ok := h.Get(1)
	if !ok || len(got) != 1 || got[0].Receiver != 2 {
		t.Errorf("expected cached list back, got %v ok=%t", got, ok)
	}
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	h := New(testConfig())

	h.Put(1, []model.Synapse{{Receiver: 2, Weight: 0.5}})
	h.Invalidate(1)
	if _, ok := h.Get(1); ok {
		t.Error("invalidated entry still cached")
	}
}

func TestPurge_ClearsEverything(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	h := New(testConfig())

	h.Put(1, []model.Synapse{{Receiver: 2, Weight: 0.5}})
	h.Put(3, []model.Synapse{{Receiver: 4, Weight: 0.5}})
	h.Purge()

	st := h.Stats()
	if st.PinnedNodes != 0 || st.LRUNodes != 0 {
		t.Errorf("purge left entries: %+v", st)
	}
}

func TestRecomputePinned_PromotesHotSenders(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	h := New(testConfig())

	ids := []model.NodeID{1, 2, 3}
	load := func(id model.NodeID) ([]model.Synapse, error) {
		return []model.Synapse{{Receiver: id + 100, Weight: 0.9}}, nil
	}

	// Node 2 is by far the hottest.
	for i := 0; i < 50; i++ {
		h.RecordAccess(2)
	}
	h.RecomputePinned(ids, load, true)

	if !h.Pinned(2) {
		t.Error("hot sender 2 should be pinned")
	}
	if st := h.Stats(); st.PinnedNodes == 0 {
		t.Errorf("eager warm should populate the pinned tier: %+v", st)
	}
}

func TestRecordAccess_SignalsRecompute(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	h := New(testConfig())

	recompute := false
	for i := 0; i < recomputeAccessInterval; i++ {
		if h.RecordAccess(1) {
			recompute = true
		}
	}
	if !recompute {
		t.Errorf("expected a recompute signal within %d accesses", recomputeAccessInterval)
	}
}

func TestLRUPolicy_NoPinnedTier(t *testing.T) {
	withRAM(t, 1024*1024*1024)
	cfg := testConfig()
	cfg.Policy = "lru"
	h := New(cfg)

	h.RecomputePinned([]model.NodeID{1}, func(model.NodeID) ([]model.Synapse, error) {
		return []model.Synapse{{Receiver: 2, Weight: 0.9}}, nil
	}, true)
	if h.Pinned(1) {
		t.Error("plain lru policy must not pin")
	}
}
