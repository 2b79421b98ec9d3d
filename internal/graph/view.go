// Package graph provides the read path of the engine: the effective
// outgoing view of a sender, computed as the chunked base (through the
// hybrid cache) with the delta index overlaid last-write-wins by tick.
package graph

import (
	"sort"
	"sync"

	"github.com/nvandessel/ragp/internal/cache"
	"github.com/nvandessel/ragp/internal/model"
	"github.com/nvandessel/ragp/internal/registry"
	"github.com/nvandessel/ragp/internal/storage"
)

// View merges base, cache, and delta into one read surface. A weight of
// exactly 0 in the delta acts as a tombstone: the edge is hidden from
// reads and dropped from base at the next consolidation.
type View struct {
	mu    sync.Mutex
	reg   *registry.Registry
	base  *storage.BaseStore
	cache *cache.Hybrid
	delta storage.DeltaIndex
}

// NewView builds a view over the given components. delta may be the
// index produced by replay, or empty.
func NewView(reg *registry.Registry, base *storage.BaseStore, c *cache.Hybrid, delta storage.DeltaIndex) *View {
	if delta == nil {
		delta = make(storage.DeltaIndex)
	}
	return &View{reg: reg, base: base, cache: c, delta: delta}
}

// SwapRegistry replaces the registry after a migration.
func (v *View) SwapRegistry(reg *registry.Registry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reg = reg
}

func (v *View) registry() *registry.Registry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg
}

// Delta returns the live delta index. Callers must treat it as read-only
// outside the consolidation barrier.
func (v *View) Delta() storage.DeltaIndex {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.delta
}

// DeltaRecords returns the current delta entry count.
func (v *View) DeltaRecords() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.delta.Records()
}

// ResetDelta installs a fresh empty delta index (post-consolidation).
func (v *View) ResetDelta() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delta = make(storage.DeltaIndex)
}

// ApplyUpdate records an edge mutation in the delta index and invalidates
// the sender's cache entry. The caller has already appended the record to
// the delta log.
func (v *View) ApplyUpdate(sender, receiver model.NodeID, weight float32, tick uint32) {
	v.mu.Lock()
	v.delta.Put(sender, receiver, weight, tick)
	v.mu.Unlock()
	v.cache.Invalidate(sender)
}

// HasEdge reports whether sender currently has an effective edge to
// receiver (base or delta, tombstones excluded).
func (v *View) HasEdge(sender, receiver model.NodeID) (bool, error) {
	conns, err := v.Outgoing(sender)
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if c.Receiver == receiver {
			return true, nil
		}
	}
	return false, nil
}

// Outgoing returns the effective outgoing connections of sender, sorted
// by receiver. Fails with UnknownNode for unregistered senders. The
// result is a fresh slice: callers may hold it across ticks.
func (v *View) Outgoing(sender model.NodeID) ([]model.Connection, error) {
	if err := v.registry().Check(sender, "outgoing(sender)"); err != nil {
		return nil, err
	}
	return v.outgoingUnchecked(sender)
}

func (v *View) outgoingUnchecked(sender model.NodeID) ([]model.Connection, error) {
	if v.cache.RecordAccess(sender) {
		v.cache.RefreshBudget()
		v.cache.RecomputePinned(v.registry().IDs(), v.base.ReadOutgoing, false)
	}

	base, err := v.loadBase(sender)
	if err != nil {
		return nil, err
	}

	merged := make(map[model.NodeID]model.Connection, len(base))
	for _, s := range base {
		merged[s.Receiver] = model.Connection{Receiver: s.Receiver, Weight: s.Weight, Tick: s.Tick}
	}

	v.mu.Lock()
	for receiver, wt := range v.delta[sender] {
		if prev, ok := merged[receiver]; ok && prev.Tick > wt.Tick {
			continue
		}
		merged[receiver] = model.Connection{Receiver: receiver, Weight: wt.Weight, Tick: wt.Tick}
	}
	v.mu.Unlock()

	out := make([]model.Connection, 0, len(merged))
	for _, c := range merged {
		if c.Weight == 0 {
			continue // tombstone
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Receiver < out[j].Receiver })
	return out, nil
}

// loadBase resolves the base synapse list through the cache.
func (v *View) loadBase(sender model.NodeID) ([]model.Synapse, error) {
	if syns, ok := v.cache.Get(sender); ok {
		return syns, nil
	}
	syns, err := v.base.ReadOutgoing(sender)
	if err != nil {
		return nil, err
	}
	v.cache.Put(sender, syns)
	return syns, nil
}

// Snapshot materializes the effective adjacency of every registered node,
// giving shard actors a stable per-barrier view. Tombstoned edges are
// excluded.
func (v *View) Snapshot() (map[model.NodeID][]model.Synapse, error) {
	reg := v.registry()
	out := make(map[model.NodeID][]model.Synapse, reg.Len())
	for _, id := range reg.IDs() {
		conns, err := v.outgoingUnchecked(id)
		if err != nil {
			return nil, err
		}
		syns := make([]model.Synapse, len(conns))
		for i, c := range conns {
			syns[i] = model.Synapse{Receiver: c.Receiver, Weight: c.Weight, Tick: c.Tick}
		}
		out[id] = syns
	}
	return out, nil
}
