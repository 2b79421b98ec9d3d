package engine

import (
	"sort"
	"time"

	"github.com/nvandessel/ragp/internal/model"
	"github.com/nvandessel/ragp/internal/registry"
)

// MigrationResult reports what EnsureInnateRegistry did.
type MigrationResult struct {
	Migrated        bool   `json:"migrated"`
	RegistryVersion uint16 `json:"registry_version"`
	AddedNodes      int    `json:"added_nodes"`
	RemovedNodes    int    `json:"removed_nodes"`
}

// EnsureInnateRegistry reconciles the stored graph with the given node
// set at the configured registry version. When the version or the ID set
// differs from what the base embeds, the engine migrates: edges whose
// endpoints survive are preserved (delta included), everything else is
// pruned, the base is rewritten atomically, and the delta is truncated.
// A migration that would drop a critical node aborts with
// ErrMigrationConflict and leaves the old state intact.
func (e *Engine) EnsureInnateRegistry(ids []model.NodeID) (MigrationResult, error) {
	sorted := append([]model.NodeID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = dedupe(sorted)

	res := MigrationResult{RegistryVersion: e.cfg.Registry.Version}
	if len(sorted) == 0 {
		return res, nil
	}

	cur := e.Registry()
	stored := e.base.NodeIDs()
	if e.base.NodeCount() > 0 &&
		e.base.RegistryVersion() == e.cfg.Registry.Version &&
		sameIDs(stored, sorted) {
		return res, nil
	}

	next := registry.New(e.cfg.Registry.Version, sorted)
	for _, id := range sorted {
		if cur.Contains(id) {
			next.SetKind(id, cur.Kind(id))
		}
	}
	applyRegistryConfig(next, e.cfg)

	plan, err := next.PlanMigration(stored)
	if err != nil {
		return res, err
	}

	start := time.Now()
	rt := e.runtime()
	if rt != nil {
		rt.PauseIngress()
		defer rt.ResumeIngress()
		e.quiesce()
	}

	// Merge base+delta per surviving sender, then prune receivers that
	// fell out of the registry. e.mu is held across the merge window so
	// synchronous writers cannot race the truncation.
	e.mu.Lock()
	defer e.mu.Unlock()
	deltaIndex := e.view.Delta()
	data := make(map[model.NodeID][]model.Synapse, len(sorted))
	kinds := make(map[model.NodeID]model.Kind, len(sorted))
	for _, sender := range sorted {
		kinds[sender] = next.Kind(sender)

		var merged []model.Synapse
		if e.base.Contains(sender) {
			merged, err = e.base.ReadOutgoing(sender)
			if err != nil {
				e.recordAudit("registry_migration", start, err, nil)
				return res, err
			}
		}
		byReceiver := make(map[model.NodeID]model.Synapse, len(merged))
		for _, syn := range merged {
			byReceiver[syn.Receiver] = syn
		}
		for receiver, wt := range deltaIndex[sender] {
			if prev, ok := byReceiver[receiver]; ok && prev.Tick > wt.Tick {
				continue
			}
			byReceiver[receiver] = model.Synapse{Receiver: receiver, Weight: wt.Weight, Tick: wt.Tick}
		}

		kept := make([]model.Synapse, 0, len(byReceiver))
		for receiver, syn := range byReceiver {
			if syn.Weight == 0 || !plan.Valid[receiver] {
				continue
			}
			kept = append(kept, syn)
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].Receiver < kept[j].Receiver })
		data[sender] = kept
	}

	if err := e.base.RewriteAll(data, kinds, next.Version()); err != nil {
		e.recordAudit("registry_migration", start, err, nil)
		return res, err
	}
	if err := e.delta.Truncate(); err != nil {
		return res, err
	}
	e.view.ResetDelta()

	e.reg = next
	e.kern.Clear()
	e.view.SwapRegistry(next)

	e.cache.Purge()
	e.cache.RefreshBudget()
	e.cache.RecomputePinned(next.IDs(), e.base.ReadOutgoing, true)

	if rt != nil {
		snapshot, serr := e.view.Snapshot()
		if serr != nil {
			return res, serr
		}
		rt.InstallSnapshot(snapshot, true)
	}

	res.Migrated = true
	res.AddedNodes = plan.Added
	res.RemovedNodes = plan.Removed
	e.recordAudit("registry_migration", start, nil, map[string]any{
		"version": next.Version(), "added": plan.Added, "removed": plan.Removed,
	})
	e.logger.Info("registry migrated",
		"version", next.Version(), "added", plan.Added, "removed", plan.Removed)
	return res, nil
}

func dedupe(sorted []model.NodeID) []model.NodeID {
	out := sorted[:0]
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func sameIDs(a, b []model.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
