package runtime

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nvandessel/ragp/internal/kernel"
	"github.com/nvandessel/ragp/internal/model"
)

// Guard modes. Transitions are hysteretic: the queue must fall back below
// LowWater before coalesce reverts to normal, and below HighWater before
// drop relaxes to coalesce, so a queue oscillating around a threshold
// does not flap modes.
const (
	GuardNormal int32 = iota
	GuardCoalesce
	GuardDrop
)

// GuardModeName maps a guard mode to its status string.
func GuardModeName(m int32) string {
	switch m {
	case GuardCoalesce:
		return "coalesce"
	case GuardDrop:
		return "drop"
	default:
		return "normal"
	}
}

// ApplyUpdateFunc persists one clamped edge write on behalf of an owner
// shard: append to the delta log, overlay the graph view, invalidate the
// cache. It returns the committed weight and the tick assigned to it.
type ApplyUpdateFunc func(sender, receiver model.NodeID, weight float32) (float32, uint32, error)

// Config configures the runtime.
type Config struct {
	Shards    int
	HopTTL    int
	HighWater int
	LowWater  int
	DropWater int
	Coalesce  string // max | sum | last
	Kernel    kernel.Config
	Logger    *slog.Logger

	// Tick is the engine's shared monotonic tick counter.
	Tick *atomic.Uint32

	// ApplyUpdate is the engine's write callback.
	ApplyUpdate ApplyUpdateFunc
}

// BatchResult reports what happened to one submitted batch.
type BatchResult struct {
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Coalesced int `json:"coalesced"`
}

// Runtime is the running shard fleet plus the ingress front-end.
type Runtime struct {
	cfg      Config
	shards   []*shard
	counters counters
	guard    atomic.Int32
	stopped  atomic.Bool
	paused   atomic.Bool
	gate     ingressGate
	tick     *atomic.Uint32
	logger   *slog.Logger
	wg       sync.WaitGroup

	applyUpdate ApplyUpdateFunc
}

// DefaultShardCount is half the CPUs, minimum 2.
func DefaultShardCount() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

// Start boots the shard actors with the given adjacency snapshot.
func Start(cfg Config, adjacency map[model.NodeID][]model.Synapse) *Runtime {
	if cfg.Shards < 2 {
		cfg.Shards = DefaultShardCount()
	}
	if cfg.HopTTL < 1 {
		cfg.HopTTL = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rt := &Runtime{
		cfg:         cfg,
		tick:        cfg.Tick,
		logger:      cfg.Logger,
		applyUpdate: cfg.ApplyUpdate,
	}
	rt.gate.open()

	rt.shards = make([]*shard, cfg.Shards)
	for i := range rt.shards {
		rt.shards[i] = newShard(i, rt, cfg.Kernel)
	}
	// Partition the snapshot before the actors run; no lock needed yet.
	for node, syns := range adjacency {
		rt.shards[rt.owner(node)].adjacency[node] = syns
	}

	rt.wg.Add(cfg.Shards)
	for _, s := range rt.shards {
		go s.loop()
	}

	rt.logger.Info("async runtime started", "shards", cfg.Shards, "hop_ttl", cfg.HopTTL)
	return rt
}

// Stop drains and terminates every shard. Submissions after Stop fail
// fast with ErrRuntimeStopped.
func (rt *Runtime) Stop() {
	if rt.stopped.Swap(true) {
		return
	}
	rt.gate.openIfClosed()
	for _, s := range rt.shards {
		rt.send(s.id, stopMsg{})
	}
	rt.wg.Wait()
	rt.logger.Info("async runtime stopped")
}

// Shards returns the shard count.
func (rt *Runtime) Shards() int { return len(rt.shards) }

func (rt *Runtime) owner(node model.NodeID) int {
	return int(uint64(node) % uint64(len(rt.shards)))
}

func (rt *Runtime) nextTick() uint32 {
	return rt.tick.Add(1)
}

// send enqueues a message on a shard inbox and maintains queue gauges.
func (rt *Runtime) send(shardID int, m message) {
	rt.shards[shardID].in.push(m)
	rt.counters.queueDelta(1)
}

func (rt *Runtime) dispatchHop(h hopMsg) {
	if h.ttl <= 0 {
		return
	}
	rt.counters.addHop()
	rt.send(rt.owner(h.to), h)
}

func (rt *Runtime) routeUpdate(m updateEdgeMsg) {
	rt.send(rt.owner(m.sender), m)
}

// refreshGuard recomputes the hysteretic guard mode from the global
// queue length and returns it.
func (rt *Runtime) refreshGuard() int32 {
	q := rt.counters.queueLen.Load()
	cur := rt.guard.Load()
	next := cur

	switch cur {
	case GuardNormal:
		if q >= int64(rt.cfg.DropWater) {
			next = GuardDrop
		} else if q >= int64(rt.cfg.HighWater) {
			next = GuardCoalesce
		}
	case GuardCoalesce:
		if q >= int64(rt.cfg.DropWater) {
			next = GuardDrop
		} else if q <= int64(rt.cfg.LowWater) {
			next = GuardNormal
		}
	case GuardDrop:
		if q <= int64(rt.cfg.LowWater) {
			next = GuardNormal
		} else if q < int64(rt.cfg.HighWater) {
			next = GuardCoalesce
		}
	}

	if next != cur && rt.guard.CompareAndSwap(cur, next) {
		rt.logger.Debug("guard mode transition",
			"from", GuardModeName(cur), "to", GuardModeName(next), "queue_len", q)
	}
	return rt.guard.Load()
}

// GuardMode returns the current guard mode name.
func (rt *Runtime) GuardMode() string {
	return GuardModeName(rt.refreshGuard())
}

// SubmitStimulus routes one stimulus to its owner shard and waits for the
// ingest ack. During a consolidation barrier the call suspends at the
// front-end until ingress resumes; in drop guard mode it fails with
// ErrQueueFull.
func (rt *Runtime) SubmitStimulus(node model.NodeID, strength float32, source string) (bool, error) {
	if rt.stopped.Load() {
		return false, model.ErrRuntimeStopped
	}
	rt.gate.wait()
	if rt.stopped.Load() {
		return false, model.ErrRuntimeStopped
	}

	if rt.refreshGuard() == GuardDrop {
		rt.counters.addDropped()
		return false, model.ErrQueueFull
	}

	reply := make(chan bool, 1)
	rt.send(rt.owner(node), stimulusMsg{
		node:     node,
		strength: strength,
		source:   source,
		ttl:      rt.cfg.HopTTL,
		reply:    reply,
	})
	return <-reply, nil
}

// SubmitBatch coalesces duplicate (node, source) stimuli per the
// configured strategy, then routes the survivors. Rejections under drop
// mode count individually; the batch as a whole fails only with
// ErrRuntimeStopped after Stop.
func (rt *Runtime) SubmitBatch(batch []model.Stimulus) (BatchResult, error) {
	if rt.stopped.Load() {
		return BatchResult{}, model.ErrRuntimeStopped
	}

	type key struct {
		node   model.NodeID
		source string
	}
	grouped := make(map[key]float32, len(batch))
	order := make([]key, 0, len(batch))
	var res BatchResult

	for _, st := range batch {
		k := key{node: st.Node, source: st.Source}
		prev, seen := grouped[k]
		if !seen {
			grouped[k] = st.Strength
			order = append(order, k)
			continue
		}
		res.Coalesced++
		switch rt.cfg.Coalesce {
		case "sum":
			grouped[k] = prev + st.Strength
		case "last":
			grouped[k] = st.Strength
		default: // max
			if st.Strength > prev {
				grouped[k] = st.Strength
			}
		}
	}
	rt.counters.addCoalesced(uint64(res.Coalesced))

	for _, k := range order {
		ok, err := rt.SubmitStimulus(k.node, grouped[k], k.source)
		if err != nil || !ok {
			res.Rejected++
			continue
		}
		res.Accepted++
	}
	return res, nil
}

// UpdateEdge routes a serialized absolute weight write to the sender's
// owner shard and waits for the commit result.
func (rt *Runtime) UpdateEdge(sender, receiver model.NodeID, weight float32) error {
	if rt.stopped.Load() {
		return model.ErrRuntimeStopped
	}
	reply := make(chan error, 1)
	rt.routeUpdate(updateEdgeMsg{
		sender:   sender,
		receiver: receiver,
		weight:   weight,
		reply:    reply,
	})
	return <-reply
}

// PauseIngress makes new submissions queue at the front-end.
func (rt *Runtime) PauseIngress() {
	rt.paused.Store(true)
	rt.gate.close()
}

// ResumeIngress releases callers suspended at the front-end.
func (rt *Runtime) ResumeIngress() {
	rt.paused.Store(false)
	rt.gate.openIfClosed()
}

// Flush is the barrier: it sends Flush to every shard and waits for all
// acks. Once it returns, everything enqueued before the call has been
// processed (FIFO per shard).
func (rt *Runtime) Flush() {
	acks := make([]chan struct{}, len(rt.shards))
	for i, s := range rt.shards {
		acks[i] = make(chan struct{})
		rt.send(s.id, flushMsg{ack: acks[i]})
	}
	for _, ack := range acks {
		<-ack
	}
}

// InstallSnapshot replaces every shard's adjacency with a fresh partition
// of the given snapshot, optionally clearing activation state. Call only
// inside the barrier (paused + flushed).
func (rt *Runtime) InstallSnapshot(adjacency map[model.NodeID][]model.Synapse, clear bool) {
	parts := make([]map[model.NodeID][]model.Synapse, len(rt.shards))
	for i := range parts {
		parts[i] = make(map[model.NodeID][]model.Synapse)
	}
	for node, syns := range adjacency {
		parts[rt.owner(node)][node] = syns
	}

	acks := make([]chan struct{}, len(rt.shards))
	for i, s := range rt.shards {
		acks[i] = make(chan struct{})
		rt.send(s.id, installMsg{adjacency: parts[i], clear: clear, ack: acks[i]})
	}
	for _, ack := range acks {
		<-ack
	}
}

// ActivationSnapshot merges every shard's activation map.
func (rt *Runtime) ActivationSnapshot() map[model.NodeID]float32 {
	replies := make([]chan map[model.NodeID]float32, len(rt.shards))
	for i, s := range rt.shards {
		replies[i] = make(chan map[model.NodeID]float32, 1)
		rt.send(s.id, stateMsg{reply: replies[i]})
	}
	merged := make(map[model.NodeID]float32)
	for _, ch := range replies {
		for node, act := range <-ch {
			merged[node] += act
		}
	}
	return merged
}

// MetricsSnapshot assembles the runtime metrics surface.
func (rt *Runtime) MetricsSnapshot() Metrics {
	m := Metrics{
		AsyncOn:           !rt.stopped.Load(),
		IngressPaused:     rt.paused.Load(),
		Shards:            len(rt.shards),
		GlobalQueueLen:    rt.counters.queueLen.Load(),
		PerShardQueueLen:  make([]int64, len(rt.shards)),
		ProcessedTotal:    rt.counters.processed.Load(),
		ProcessedPerSec:   rt.counters.processedPerSec(),
		PerShardProcessed: make([]uint64, len(rt.shards)),
		GuardMode:         GuardModeName(rt.guard.Load()),
		DroppedTotal:      rt.counters.dropped.Load(),
		CoalescedTotal:    rt.counters.coalesced.Load(),
		HopTotal:          rt.counters.hops.Load(),
	}
	for i, s := range rt.shards {
		m.PerShardQueueLen[i] = int64(s.in.len())
		m.PerShardProcessed[i] = s.processed.Load()
	}
	return m
}

// ingressGate suspends submitters while ingress is paused. The gate is a
// swappable channel: open means closed channel (receives complete),
// paused means live channel (receives block until reopened).
type ingressGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *ingressGate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	close(ch)
	g.ch = ch
}

func (g *ingressGate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = make(chan struct{})
}

func (g *ingressGate) openIfClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// already open
	default:
		close(g.ch)
	}
}

func (g *ingressGate) wait() {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	<-ch
}
