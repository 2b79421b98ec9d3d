// Package runtime implements the sharded asynchronous activation runtime:
// N single-consumer shard actors own disjoint partitions of the node ID
// space (owner = node mod shard count). Every write and every spread from
// a sender executes on the sender's owner shard, which serializes writes
// without a global lock; cross-shard propagation travels as Hop messages.
package runtime

import "github.com/nvandessel/ragp/internal/model"

// message is the closed set of shard inbox messages. Shards run each
// message to completion; the only suspension point is the inbox receive.
type message interface{ isMessage() }

// stimulusMsg is external ingress routed to the node's owner shard.
type stimulusMsg struct {
	node     model.NodeID
	strength float32
	source   string
	ttl      int
	reply    chan bool
}

// hopMsg is cross-shard activation propagation. The owner of to applies
// the contribution and may re-spread while ttl remains.
type hopMsg struct {
	from         model.NodeID
	to           model.NodeID
	contribution float32
	ttl          int
}

// updateEdgeMsg is the serialized write path for one sender. With
// relative set, weight is a Hebbian delta applied on top of the owner's
// current view (absent edges form at the baseline weight); otherwise it
// is the absolute target weight. reply may be nil for fire-and-forget
// learning updates.
type updateEdgeMsg struct {
	sender   model.NodeID
	receiver model.NodeID
	weight   float32
	relative bool
	reply    chan error
}

// flushMsg is the barrier: the shard has drained everything enqueued
// before it when the ack fires.
type flushMsg struct {
	ack chan struct{}
}

// installMsg replaces the shard's adjacency snapshot (and optionally its
// activation state) after a consolidation rebuild.
type installMsg struct {
	adjacency map[model.NodeID][]model.Synapse
	clear     bool
	ack       chan struct{}
}

// stateMsg requests a copy of the shard's activation map.
type stateMsg struct {
	reply chan map[model.NodeID]float32
}

// stopMsg shuts the shard down after the inbox drains to it.
type stopMsg struct{}

func (stimulusMsg) isMessage()   {}
func (hopMsg) isMessage()        {}
func (updateEdgeMsg) isMessage() {}
func (flushMsg) isMessage()      {}
func (installMsg) isMessage()    {}
func (stateMsg) isMessage()      {}
func (stopMsg) isMessage()       {}
