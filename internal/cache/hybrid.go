// Package cache implements the hybrid synapse cache: a pinned tier of hot
// senders plus an LRU tier of recently read ones, both bounded by a RAM
// budget derived from available system memory. The cache is strictly a
// performance layer; the graph view returns identical results with the
// cache bypassed.
package cache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/nvandessel/ragp/internal/model"
)

const (
	// lruCapacity bounds the LRU tier entry count; the byte budget
	// usually bites first.
	lruCapacity = 1000

	// recomputeAccessInterval is how many recorded accesses pass between
	// pinned-set recomputations.
	recomputeAccessInterval = 500

	// entryOverheadBytes is the fixed per-entry cost added to the
	// synapse list estimate.
	entryOverheadBytes = 64

	synapseBytes = 16
)

// availableRAM reports available system memory in bytes. Swappable for
// tests.
var availableRAM = func() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

// Config mirrors the cache section of the engine configuration.
type Config struct {
	Policy      string  // "pinned_lru" or "lru"
	RAMFraction float64 // fraction of available RAM
	RAMMinMB    uint64
	RAMMaxMB    uint64
	PinFraction float64
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	PinnedNodes  int     `json:"pinned_nodes"`
	LRUNodes     int     `json:"lru_nodes"`
	BudgetMB     float64 `json:"cache_budget_mb"`
	BytesEstMB   float64 `json:"cache_bytes_est_mb"`
	PinnedBudget uint64  `json:"-"`
}

// Hybrid is the two-tier cache. All methods are safe for concurrent use;
// in practice reads come from the ingress path and invalidations from
// owner shards.
type Hybrid struct {
	mu  sync.Mutex
	cfg Config

	lruTier   *lru.Cache[model.NodeID, []model.Synapse]
	pinned    map[model.NodeID][]model.Synapse
	pinnedSet map[model.NodeID]bool

	access         map[model.NodeID]uint32
	sinceRecompute uint32

	budgetBytes  uint64
	pinnedBudget uint64
	lruBudget    uint64
	pinnedBytes  uint64
	lruBytes     uint64
}

// New creates a hybrid cache and computes its initial budget.
func New(cfg Config) *Hybrid {
	l, _ := lru.New[model.NodeID, []model.Synapse](lruCapacity)
	h := &Hybrid{
		cfg:       cfg,
		lruTier:   l,
		pinned:    make(map[model.NodeID][]model.Synapse),
		pinnedSet: make(map[model.NodeID]bool),
		access:    make(map[model.NodeID]uint32),
	}
	h.RefreshBudget()
	return h
}

// entryBytes estimates the resident cost of one cached synapse list.
func entryBytes(n int) uint64 {
	return uint64(n)*synapseBytes + entryOverheadBytes
}

// RefreshBudget recomputes the byte budget as
// clamp(available_ram * ram_fraction, ram_min, ram_max) and re-enforces it.
func (h *Hybrid) RefreshBudget() {
	avail := availableRAM()

	fraction := h.cfg.RAMFraction
	if fraction < 0.01 {
		fraction = 0.01
	}
	if fraction > 0.9 {
		fraction = 0.9
	}
	minBytes := h.cfg.RAMMinMB * 1024 * 1024
	maxBytes := h.cfg.RAMMaxMB * 1024 * 1024
	if maxBytes < minBytes {
		maxBytes = minBytes
	}

	target := uint64(float64(avail) * fraction)
	if target < minBytes {
		target = minBytes
	}
	if target > maxBytes {
		target = maxBytes
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.budgetBytes = target
	if h.cfg.Policy == "pinned_lru" {
		pf := h.cfg.PinFraction
		if pf < 0.05 {
			pf = 0.05
		}
		if pf > 0.9 {
			pf = 0.9
		}
		h.pinnedBudget = uint64(float64(target) * pf)
		h.lruBudget = target - h.pinnedBudget
	} else {
		h.pinnedBudget = 0
		h.lruBudget = target
	}
	h.enforceLocked()
}

// Get returns the cached synapse list for sender, consulting the pinned
// tier first.
func (h *Hybrid) Get(sender model.NodeID) ([]model.Synapse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.pinned[sender]; ok {
		return v, true
	}
	return h.lruTier.Get(sender)
}

// Put stores a freshly loaded synapse list, routing pinned senders to the
// pinned tier.
func (h *Hybrid) Put(sender model.NodeID, syns []model.Synapse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.Policy == "pinned_lru" && h.pinnedSet[sender] {
		h.pinned[sender] = syns
	} else {
		h.lruTier.Add(sender, syns)
	}
	h.enforceLocked()
}

// Invalidate drops the entry for sender from both tiers. Called on every
// write to that sender.
func (h *Hybrid) Invalidate(sender model.NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pinned, sender)
	h.lruTier.Remove(sender)
	h.recountLocked()
}

// Purge drops every entry; the pinned set survives so a re-warm can
// reload it.
func (h *Hybrid) Purge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinned = make(map[model.NodeID][]model.Synapse)
	h.lruTier.Purge()
	h.recountLocked()
}

// RecordAccess bumps the access count for sender and reports whether the
// caller should recompute the pinned set (every recomputeAccessInterval
// accesses).
func (h *Hybrid) RecordAccess(sender model.NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access[sender]++
	h.sinceRecompute++
	if h.sinceRecompute >= recomputeAccessInterval {
		h.sinceRecompute = 0
		return true
	}
	return false
}

// Pinned reports whether sender is in the pinned set.
func (h *Hybrid) Pinned(sender model.NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pinnedSet[sender]
}

// Stats returns current occupancy.
func (h *Hybrid) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		PinnedNodes:  len(h.pinned),
		LRUNodes:     h.lruTier.Len(),
		BudgetMB:     float64(h.budgetBytes) / (1024 * 1024),
		BytesEstMB:   float64(h.pinnedBytes+h.lruBytes) / (1024 * 1024),
		PinnedBudget: h.pinnedBudget,
	}
}

// score ranks a sender for pinning: weight toward its strongest synapse,
// with a recency-free access component normalized by the hottest node.
func score(syns []model.Synapse, access uint32, maxAccess float64) float64 {
	var maxW float32
	for _, s := range syns {
		if s.Weight > maxW {
			maxW = s.Weight
		}
	}
	accessNorm := 0.0
	if maxAccess > 0 {
		accessNorm = float64(access) / maxAccess
	}
	return 0.6*float64(maxW) + 0.4*accessNorm
}

// RecomputePinned rebuilds the pinned set from scores over all ids. load
// resolves a sender's synapse list (cache miss falls through to storage).
// When eagerWarm is set, newly pinned senders are loaded immediately;
// otherwise they warm on first access.
func (h *Hybrid) RecomputePinned(ids []model.NodeID, load func(model.NodeID) ([]model.Synapse, error), eagerWarm bool) {
	if h.cfg.Policy != "pinned_lru" {
		h.mu.Lock()
		h.pinnedSet = make(map[model.NodeID]bool)
		h.pinned = make(map[model.NodeID][]model.Synapse)
		h.enforceLocked()
		h.mu.Unlock()
		return
	}

	type scored struct {
		id    model.NodeID
		score float64
		est   uint64
		syns  []model.Synapse
	}

	h.mu.Lock()
	var maxAccess float64
	for _, c := range h.access {
		if float64(c) > maxAccess {
			maxAccess = float64(c)
		}
	}
	if maxAccess == 0 {
		maxAccess = 1
	}
	pinnedBudget := h.pinnedBudget
	h.mu.Unlock()

	all := make([]scored, 0, len(ids))
	for _, id := range ids {
		syns, ok := h.Get(id)
		if !ok {
			var err error
			syns, err = load(id)
			if err != nil {
				continue
			}
		}
		h.mu.Lock()
		acc := h.access[id]
		h.mu.Unlock()
		all = append(all, scored{id: id, score: score(syns, acc, maxAccess), est: entryBytes(len(syns)), syns: syns})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})

	newSet := make(map[model.NodeID]bool)
	var used uint64
	for _, s := range all {
		if len(newSet) > 0 && used+s.est > pinnedBudget {
			continue
		}
		newSet[s.id] = true
		used += s.est
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinnedSet = newSet

	// Demote entries that lost pinned status into the LRU tier.
	for id, syns := range h.pinned {
		if !newSet[id] {
			delete(h.pinned, id)
			h.lruTier.Add(id, syns)
		}
	}
	// Promote newly pinned entries out of the LRU tier.
	for _, s := range all {
		if !newSet[s.id] {
			continue
		}
		if _, ok := h.pinned[s.id]; ok {
			continue
		}
		if v, ok := h.lruTier.Peek(s.id); ok {
			h.lruTier.Remove(s.id)
			h.pinned[s.id] = v
			continue
		}
		if eagerWarm {
			h.pinned[s.id] = s.syns
		}
	}
	h.enforceLocked()
}

// recountLocked recomputes the byte estimates of both tiers.
func (h *Hybrid) recountLocked() {
	var pb uint64
	for _, v := range h.pinned {
		pb += entryBytes(len(v))
	}
	var lb uint64
	for _, k := range h.lruTier.Keys() {
		if v, ok := h.lruTier.Peek(k); ok {
			lb += entryBytes(len(v))
		}
	}
	h.pinnedBytes = pb
	h.lruBytes = lb
}

// enforceLocked evicts until both tiers fit their budgets: LRU entries
// first, then the lowest-scored pinned entries.
func (h *Hybrid) enforceLocked() {
	h.recountLocked()

	for h.lruBytes > h.lruBudget {
		if _, _, ok := h.lruTier.RemoveOldest(); !ok {
			break
		}
		h.recountLocked()
	}

	for h.pinnedBytes > h.pinnedBudget && len(h.pinned) > 0 {
		victim, found := h.lowestScoredPinnedLocked()
		if !found {
			break
		}
		delete(h.pinned, victim)
		delete(h.pinnedSet, victim)
		h.recountLocked()
	}

	for h.pinnedBytes+h.lruBytes > h.budgetBytes {
		if _, _, ok := h.lruTier.RemoveOldest(); ok {
			h.recountLocked()
			continue
		}
		victim, found := h.lowestScoredPinnedLocked()
		if !found {
			break
		}
		delete(h.pinned, victim)
		delete(h.pinnedSet, victim)
		h.recountLocked()
	}
}

func (h *Hybrid) lowestScoredPinnedLocked() (model.NodeID, bool) {
	var maxAccess float64
	for _, c := range h.access {
		if float64(c) > maxAccess {
			maxAccess = float64(c)
		}
	}
	if maxAccess == 0 {
		maxAccess = 1
	}
	var worst model.NodeID
	worstScore := -1.0
	found := false
	for id, syns := range h.pinned {
		s := score(syns, h.access[id], maxAccess)
		if !found || s < worstScore {
			worst, worstScore, found = id, s, true
		}
	}
	return worst, found
}
