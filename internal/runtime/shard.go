package runtime

import (
	"sync/atomic"

	"github.com/nvandessel/ragp/internal/kernel"
	"github.com/nvandessel/ragp/internal/model"
)

// shard is one single-consumer actor. It owns the activation state and
// adjacency snapshot for every node with node mod shardCount == id. No
// other goroutine touches those fields; the inbox mutex provides the
// happens-before edge for snapshot installs.
type shard struct {
	id        int
	rt        *Runtime
	in        *inbox
	kernel    *kernel.Kernel
	adjacency map[model.NodeID][]model.Synapse
	processed atomic.Uint64
}

func newShard(id int, rt *Runtime, kcfg kernel.Config) *shard {
	return &shard{
		id:        id,
		rt:        rt,
		in:        newInbox(),
		kernel:    kernel.New(kcfg),
		adjacency: make(map[model.NodeID][]model.Synapse),
	}
}

// loop runs the actor until a stopMsg arrives. Work between messages runs
// to completion; the inbox receive is the only suspension point.
func (s *shard) loop() {
	defer s.rt.wg.Done()
	for {
		msg := s.in.recv()
		s.rt.counters.queueDelta(-1)

		switch m := msg.(type) {
		case stimulusMsg:
			s.handleStimulus(m)
		case hopMsg:
			s.handleHop(m)
		case updateEdgeMsg:
			s.handleUpdateEdge(m)
		case flushMsg:
			close(m.ack)
		case installMsg:
			s.adjacency = m.adjacency
			if m.clear {
				s.kernel.Clear()
			}
			close(m.ack)
		case stateMsg:
			m.reply <- s.kernel.Snapshot()
		case stopMsg:
			return
		}
	}
}

// handleStimulus runs one full ingest cycle for an owned node:
// ingest -> spread -> learn -> decay. Scoring is a read-side operation
// and happens on the engine's thread against the graph view.
func (s *shard) handleStimulus(m stimulusMsg) {
	tick := s.rt.nextTick()
	s.kernel.Inject(m.node, m.strength, tick)
	s.spreadFrom(m.node, m.ttl, tick)
	s.learn()
	s.kernel.Decay()

	s.processed.Add(1)
	s.rt.counters.addProcessed()
	if m.reply != nil {
		m.reply <- true
	}
}

// handleHop applies a cross-shard contribution to an owned node and
// re-spreads while the hop's ttl allows.
func (s *shard) handleHop(m hopMsg) {
	tick := s.rt.tick.Load()
	fired := s.kernel.Apply(m.to, m.contribution, tick)
	if fired && m.ttl > 0 {
		s.spreadFrom(m.to, m.ttl, tick)
	}
	s.processed.Add(1)
	s.rt.counters.addProcessed()
}

// spreadFrom walks owned nodes breadth-first, dispatching hops to peer
// shards for receivers it does not own. ttl bounds total depth, so the
// cyclic graph cannot recirculate activation forever.
func (s *shard) spreadFrom(node model.NodeID, ttl int, tick uint32) {
	type frame struct {
		node model.NodeID
		ttl  int
	}
	queue := []frame{{node: node, ttl: ttl}}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.ttl <= 0 {
			continue
		}

		for _, c := range s.kernel.SpreadFrom(f.node, s.adjacency[f.node]) {
			if s.rt.owner(c.Receiver) == s.id {
				fired := s.kernel.Apply(c.Receiver, c.Delta, tick)
				if fired {
					queue = append(queue, frame{node: c.Receiver, ttl: f.ttl - 1})
				}
				continue
			}
			s.rt.dispatchHop(hopMsg{
				from:         f.node,
				to:           c.Receiver,
				contribution: c.Delta,
				ttl:          f.ttl - 1,
			})
		}
	}
}

// learn derives Hebbian proposals from this shard's temporal window and
// routes each to the proposal sender's owner as a fire-and-forget edge
// update. Edge existence is judged by the owner against its own
// adjacency, so the relative form travels.
func (s *shard) learn() {
	proposals := s.kernel.Proposals(1.0, func(sender, receiver model.NodeID) bool {
		// Best-effort local check; the owner re-judges on arrival.
		for _, syn := range s.adjacency[sender] {
			if syn.Receiver == receiver {
				return true
			}
		}
		return false
	})
	for _, p := range proposals {
		s.rt.routeUpdate(updateEdgeMsg{
			sender:   p.Sender,
			receiver: p.Receiver,
			weight:   p.DeltaW,
			relative: true,
		})
	}
}

// handleUpdateEdge is the serialized write path for an owned sender. The
// engine callback persists the change (delta append + view overlay); the
// shard then patches its local adjacency so subsequent spreads in this
// barrier window see the new weight.
func (s *shard) handleUpdateEdge(m updateEdgeMsg) {
	cur, exists := s.lookup(m.sender, m.receiver)

	var target float32
	switch {
	case !m.relative:
		target = m.weight
	case exists:
		target = cur + m.weight
	default:
		target = s.kernel.BaselineWeight()
	}
	target = model.ClampWeight(target)

	newW, tick, err := s.rt.applyUpdate(m.sender, m.receiver, target)
	if err == nil {
		s.patchAdjacency(m.sender, m.receiver, newW, tick)
	}

	if m.reply != nil {
		m.reply <- err
	}
}

func (s *shard) lookup(sender, receiver model.NodeID) (float32, bool) {
	for _, syn := range s.adjacency[sender] {
		if syn.Receiver == receiver {
			return syn.Weight, true
		}
	}
	return 0, false
}

// patchAdjacency applies a committed weight to the local snapshot. A zero
// weight is a tombstone and removes the edge.
func (s *shard) patchAdjacency(sender, receiver model.NodeID, weight float32, tick uint32) {
	list := s.adjacency[sender]
	for i, syn := range list {
		if syn.Receiver != receiver {
			continue
		}
		if weight == 0 {
			s.adjacency[sender] = append(list[:i], list[i+1:]...)
			return
		}
		list[i].Weight = weight
		list[i].Tick = tick
		return
	}
	if weight == 0 {
		return
	}
	s.adjacency[sender] = append(list, model.Synapse{Receiver: receiver, Weight: weight, Tick: tick})
}
