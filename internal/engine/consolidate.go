package engine

import (
	"sort"
	"time"

	"github.com/nvandessel/ragp/internal/model"
)

// ConsolidateResult reports what a consolidation run did.
type ConsolidateResult struct {
	Merged int `json:"merged"`
	Pruned int `json:"pruned"`
}

// Consolidate merges the delta log into the chunked base and truncates
// the log. The procedure is the engine's only global synchronization
// point:
//
//  1. pause ingress (submissions suspend at the front-end)
//  2. flush every shard until all in-flight hops drain
//  3. snapshot the delta index
//  4. merge each delta-touched sender, last-write-wins by tick;
//     tombstones remove edges; weights below the prune threshold are
//     dropped; untouched senders carry over unchanged
//  5. rewrite affected chunks and the manifest atomically
//  6. truncate delta.bin
//  7. rebuild per-shard adjacency snapshots
//  8. purge and re-warm the cache
//  9. resume ingress
//
// A crash before step 6 leaves the old base or the new base with the
// un-truncated delta; either way the next startup replays to the same
// logical graph. Concurrent calls fail with ErrConsolidateBusy.
func (e *Engine) Consolidate() (ConsolidateResult, error) {
	if !e.consolidating.CompareAndSwap(false, true) {
		return ConsolidateResult{}, model.ErrConsolidateBusy
	}
	defer e.consolidating.Store(false)

	start := time.Now()
	rt := e.runtime()
	if rt != nil {
		rt.PauseIngress()
		defer rt.ResumeIngress()
		e.quiesce()
	}

	res, err := e.mergeDeltaIntoBase()
	e.recordAudit("consolidate", start, err, map[string]any{
		"merged": res.Merged, "pruned": res.Pruned,
	})
	if err != nil {
		e.degraded.Store(true)
		return res, err
	}

	if rt != nil {
		snapshot, serr := e.view.Snapshot()
		if serr != nil {
			return res, serr
		}
		rt.InstallSnapshot(snapshot, true)
	}

	e.events.Log(map[string]any{
		"event": "consolidate", "merged": res.Merged, "pruned": res.Pruned,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	e.logger.Info("consolidated", "merged", res.Merged, "pruned", res.Pruned)
	return res, nil
}

// quiesce drains the shard fleet: with ingress paused, each flush round
// drains everything enqueued so far, and in-flight hops can cascade at
// most HopTTL more rounds. Learning updates emitted by the final stimulus
// round are caught by the extra pass.
func (e *Engine) quiesce() {
	rt := e.runtime()
	if rt == nil {
		return
	}
	rounds := e.cfg.Async.HopTTL + 2
	for i := 0; i < rounds; i++ {
		rt.Flush()
	}
}

// mergeDeltaIntoBase performs steps 3-6 and the cache rebuild (step 8).
// It holds e.mu for the whole merge window so a synchronous writer cannot
// append a record between the delta snapshot and the truncation.
func (e *Engine) mergeDeltaIntoBase() (ConsolidateResult, error) {
	var res ConsolidateResult

	if err := e.delta.Sync(); err != nil {
		return res, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	reg := e.reg
	deltaIndex := e.view.Delta()

	data := make(map[model.NodeID][]model.Synapse, reg.Len())
	kinds := make(map[model.NodeID]model.Kind, reg.Len())
	for _, sender := range reg.IDs() {
		kinds[sender] = reg.Kind(sender)

		merged, err := e.base.ReadOutgoing(sender)
		if err != nil {
			return res, err
		}

		// Only senders touched by the delta are merged and re-pruned.
		// Untouched senders pass through verbatim: the prune threshold is
		// relative to the sender's mean weight, so reapplying it on every
		// run would keep eating edges and break idempotence.
		overlay, touched := deltaIndex[sender]
		if !touched {
			data[sender] = merged
			continue
		}

		byReceiver := make(map[model.NodeID]model.Synapse, len(merged))
		for _, syn := range merged {
			byReceiver[syn.Receiver] = syn
		}
		for receiver, wt := range overlay {
			if prev, ok := byReceiver[receiver]; ok && prev.Tick > wt.Tick {
				continue
			}
			byReceiver[receiver] = model.Synapse{Receiver: receiver, Weight: wt.Weight, Tick: wt.Tick}
			res.Merged++
		}
		merged = merged[:0]
		for _, syn := range byReceiver {
			merged = append(merged, syn)
		}

		// Drop tombstones, then prune the weakest edges relative to the
		// sender's mean weight.
		live := merged[:0]
		for _, syn := range merged {
			if syn.Weight == 0 {
				res.Pruned++
				continue
			}
			live = append(live, syn)
		}
		if len(live) > 0 {
			var sum float64
			for _, syn := range live {
				sum += float64(syn.Weight)
			}
			threshold := float32(sum / float64(len(live)) * pruneRatio)
			kept := live[:0]
			for _, syn := range live {
				if syn.Weight < threshold {
					res.Pruned++
					continue
				}
				kept = append(kept, syn)
			}
			live = kept
		}

		sort.Slice(live, func(i, j int) bool { return live[i].Receiver < live[j].Receiver })
		data[sender] = append([]model.Synapse(nil), live...)
	}

	if err := e.base.RewriteAll(data, kinds, reg.Version()); err != nil {
		return res, err
	}
	if err := e.delta.Truncate(); err != nil {
		return res, err
	}
	e.view.ResetDelta()

	// The synchronous kernel's window and activations describe the
	// pre-consolidation epoch; start the new one clean.
	e.kern.Clear()

	e.cache.Purge()
	e.cache.RefreshBudget()
	e.cache.RecomputePinned(reg.IDs(), e.base.ReadOutgoing, true)

	return res, nil
}
