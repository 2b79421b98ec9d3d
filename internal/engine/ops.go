package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nvandessel/ragp/internal/audit"
	"github.com/nvandessel/ragp/internal/config"
	"github.com/nvandessel/ragp/internal/kernel"
	"github.com/nvandessel/ragp/internal/model"
	"github.com/nvandessel/ragp/internal/runtime"
)

// GetConnections returns the effective outgoing view of sender: base
// overlaid with delta, last-write-wins by tick, tombstones hidden.
func (e *Engine) GetConnections(sender model.NodeID) ([]model.Connection, error) {
	if err := e.Registry().Check(sender, "get_connections(sender)"); err != nil {
		return nil, err
	}
	return e.view.Outgoing(sender)
}

// UpdateWeight sets the weight of (sender, receiver). Both endpoints must
// be registered; NaN and infinite weights are rejected; finite values are
// clamped to [0,1]. A weight of 0 tombstones the edge. With the async
// runtime on, the write is serialized through sender's owner shard.
func (e *Engine) UpdateWeight(sender, receiver model.NodeID, weight float32) error {
	reg := e.Registry()
	if err := reg.Check(sender, "update_weight(sender)"); err != nil {
		return err
	}
	if err := reg.Check(receiver, "update_weight(receiver)"); err != nil {
		return err
	}
	if !model.ValidStrength(weight) {
		return fmt.Errorf("update_weight: weight must be finite, got %v", weight)
	}

	start := time.Now()
	var err error
	if rt := e.runtime(); rt != nil {
		err = rt.UpdateEdge(sender, receiver, weight)
	} else {
		e.mu.Lock()
		_, _, err = e.applyUpdate(sender, receiver, weight)
		e.mu.Unlock()
	}
	e.recordAudit("update_weight", start, err, map[string]any{
		"sender": uint64(sender), "receiver": uint64(receiver), "weight": weight,
	})
	return err
}

// SpreadActivation is the synchronous fallback spread path: it seeds the
// engine-owned kernel, propagates breadth-first over the live view up to
// the hop TTL, forms Hebbian synapses from the temporal window, and
// decays. With the async runtime on, prefer SubmitStimulus.
func (e *Engine) SpreadActivation(node model.NodeID, strength float32) error {
	if err := e.Registry().Check(node, "spread_activation(node)"); err != nil {
		return err
	}
	if !model.ValidStrength(strength) {
		return fmt.Errorf("spread_activation: strength must be finite, got %v", strength)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tick := e.tick.Add(1)
	e.kern.Inject(node, strength, tick)

	type frame struct {
		node model.NodeID
		ttl  int
	}
	queue := []frame{{node: node, ttl: e.cfg.Async.HopTTL}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.ttl <= 0 {
			continue
		}
		conns, err := e.view.Outgoing(f.node)
		if err != nil {
			return err
		}
		syns := make([]model.Synapse, len(conns))
		for i, c := range conns {
			syns[i] = model.Synapse{Receiver: c.Receiver, Weight: c.Weight, Tick: c.Tick}
		}
		for _, contrib := range e.kern.SpreadFrom(f.node, syns) {
			if e.kern.Apply(contrib.Receiver, contrib.Delta, tick) {
				queue = append(queue, frame{node: contrib.Receiver, ttl: f.ttl - 1})
			}
		}
	}

	if _, err := e.formSynapsesLocked(1.0); err != nil {
		return err
	}
	e.kern.Decay()
	return nil
}

// FormSynapses runs Hebbian formation over the current synchronous
// temporal window with the given reward signal and returns the number of
// edges created or reinforced.
func (e *Engine) FormSynapses(reward float64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.formSynapsesLocked(reward)
}

func (e *Engine) formSynapsesLocked(reward float64) (int, error) {
	proposals := e.kern.Proposals(reward, func(sender, receiver model.NodeID) bool {
		ok, err := e.view.HasEdge(sender, receiver)
		return err == nil && ok
	})

	formed := 0
	for _, p := range proposals {
		var target float32
		if p.New {
			target = e.kern.BaselineWeight()
		} else {
			cur, err := e.currentWeight(p.Sender, p.Receiver)
			if err != nil {
				return formed, err
			}
			target = cur + p.DeltaW
		}
		if _, _, err := e.applyUpdate(p.Sender, p.Receiver, target); err != nil {
			return formed, err
		}
		formed++
	}
	return formed, nil
}

func (e *Engine) currentWeight(sender, receiver model.NodeID) (float32, error) {
	conns, err := e.view.Outgoing(sender)
	if err != nil {
		return 0, err
	}
	for _, c := range conns {
		if c.Receiver == receiver {
			return c.Weight, nil
		}
	}
	return 0, nil
}

// ComputeCD ranks candidate actions for a stimulus within a context using
// the configured scoring function. Results are sorted by score descending,
// ties broken by smaller node ID.
func (e *Engine) ComputeCD(stimulus model.NodeID, context []model.NodeID) ([]model.ActionScore, error) {
	reg := e.Registry()
	if err := reg.Check(stimulus, "compute_cd(stimulus)"); err != nil {
		return nil, err
	}
	for _, ctx := range context {
		if err := reg.Check(ctx, "compute_cd(context)"); err != nil {
			return nil, err
		}
	}

	activation := e.activationLookup()
	sc := &kernel.ScoreContext{
		Stimulus:   stimulus,
		Context:    context,
		Actions:    reg.ActionIDs(),
		Activation: activation,
		Outgoing:   e.view.Outgoing,
	}
	return e.scorer(sc)
}

// activationLookup returns an accessor over the current activation state,
// merging shard state when the runtime is on.
func (e *Engine) activationLookup() func(model.NodeID) float32 {
	if rt := e.runtime(); rt != nil {
		snap := rt.ActivationSnapshot()
		return func(n model.NodeID) float32 { return snap[n] }
	}
	e.mu.Lock()
	snap := e.kern.Snapshot()
	e.mu.Unlock()
	return func(n model.NodeID) float32 { return snap[n] }
}

// GetActivation returns the active-node snapshot sorted by activation
// descending.
func (e *Engine) GetActivation() []model.ActiveNode {
	if rt := e.runtime(); rt != nil {
		snap := rt.ActivationSnapshot()
		k := kernel.New(kernelConfig(e.cfg))
		k.Merge(snap)
		return k.ActiveNodes()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kern.ActiveNodes()
}

// SubmitStimulus enqueues one stimulus into the async runtime and waits
// for the owner shard's ingest ack.
func (e *Engine) SubmitStimulus(node model.NodeID, strength float32, source string, ts int64) (bool, error) {
	if err := e.Registry().Check(node, "submit_stimulus(node)"); err != nil {
		return false, err
	}
	if !model.ValidStrength(strength) {
		return false, fmt.Errorf("submit_stimulus: strength must be finite, got %v", strength)
	}
	rt := e.runtime()
	if rt == nil {
		return false, model.ErrRuntimeNotStarted
	}
	return rt.SubmitStimulus(node, strength, source)
}

// SubmitStimuli enqueues a batch, coalescing duplicate (node, source)
// entries per the configured strategy before routing.
func (e *Engine) SubmitStimuli(batch []model.Stimulus) (runtime.BatchResult, error) {
	reg := e.Registry()
	for _, st := range batch {
		if err := reg.Check(st.Node, "submit_stimuli(node)"); err != nil {
			return runtime.BatchResult{}, err
		}
		if !model.ValidStrength(st.Strength) {
			return runtime.BatchResult{}, fmt.Errorf("submit_stimuli: strength must be finite, got %v", st.Strength)
		}
	}
	rt := e.runtime()
	if rt == nil {
		return runtime.BatchResult{}, model.ErrRuntimeNotStarted
	}

	start := time.Now()
	res, err := rt.SubmitBatch(batch)
	e.recordAudit("submit_stimuli", start, err, map[string]any{
		"batch": len(batch), "accepted": res.Accepted,
		"rejected": res.Rejected, "coalesced": res.Coalesced,
	})
	return res, err
}

// StartAsyncRuntime boots the shard actors over a fresh adjacency
// snapshot. A nil override uses the engine configuration. Calling it with
// the runtime already on returns the current metrics unchanged.
func (e *Engine) StartAsyncRuntime(override *config.AsyncConfig) (runtime.Metrics, error) {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.rt != nil {
		return e.rt.MetricsSnapshot(), nil
	}

	acfg := e.cfg.Async
	if override != nil {
		acfg = *override
	}

	snapshot, err := e.view.Snapshot()
	if err != nil {
		return runtime.Metrics{}, err
	}

	e.rt = runtime.Start(runtime.Config{
		Shards:      acfg.Shards,
		HopTTL:      acfg.HopTTL,
		HighWater:   acfg.HighWater,
		LowWater:    acfg.LowWater,
		DropWater:   acfg.DropWater,
		Coalesce:    acfg.Coalesce,
		Kernel:      kernelConfig(e.cfg),
		Logger:      e.logger,
		Tick:        &e.tick,
		ApplyUpdate: e.applyUpdate,
	}, snapshot)

	e.events.Log(map[string]any{"event": "async_start", "shards": e.rt.Shards()})
	return e.rt.MetricsSnapshot(), nil
}

// StopAsyncRuntime drains and stops the shard actors. Subsequent async
// submissions fail with RuntimeNotStarted.
func (e *Engine) StopAsyncRuntime() {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.rt == nil {
		return
	}
	e.rt.Stop()
	e.rt = nil
	e.events.Log(map[string]any{"event": "async_stop"})
}

// SetAsyncPolicy updates the ingress watermarks and shard count. When the
// runtime is on, the method stops it (each shard drains its inbox) and
// starts a new fleet with the new settings; ingress is not paused or
// flushed around the restart.
func (e *Engine) SetAsyncPolicy(shards, highWater, lowWater int) error {
	if shards > 0 {
		e.cfg.Async.Shards = shards
	}
	if highWater > 0 {
		e.cfg.Async.HighWater = highWater
		e.cfg.Async.DropWater = 2 * highWater
	}
	if lowWater > 0 {
		e.cfg.Async.LowWater = lowWater
	}
	if e.cfg.Async.LowWater >= e.cfg.Async.HighWater {
		return fmt.Errorf("set_async_policy: low_water %d must be below high_water %d",
			e.cfg.Async.LowWater, e.cfg.Async.HighWater)
	}

	if e.runtime() == nil {
		return nil
	}
	e.StopAsyncRuntime()
	_, err := e.StartAsyncRuntime(nil)
	return err
}

// AsyncMetrics returns the runtime metrics surface. With the runtime off,
// a zero snapshot with AsyncOn=false is returned.
func (e *Engine) AsyncMetrics() runtime.Metrics {
	if rt := e.runtime(); rt != nil {
		return rt.MetricsSnapshot()
	}
	return runtime.Metrics{GuardMode: "normal"}
}

func (e *Engine) runtime() *runtime.Runtime {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	return e.rt
}

// AuditRecent returns the most recent audit entries, newest first. An
// unavailable audit log yields an empty slice.
func (e *Engine) AuditRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return e.audit.Recent(ctx, limit)
}

func (e *Engine) recordAudit(op string, start time.Time, err error, detail map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(op, start, err, detail)
}
