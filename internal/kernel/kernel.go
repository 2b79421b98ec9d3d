// Package kernel implements the single-threaded activation kernel: the
// activation map, multiplicative decay, the temporal co-activation window,
// spreading contributions, Hebbian edge proposals, and action scoring.
// A kernel instance has no locking of its own: it is used by exactly one
// shard actor, or in synchronous mode by the engine under its mutex.
package kernel

import (
	"sort"

	"github.com/nvandessel/ragp/internal/model"
)

// DefaultThreshold is the firing threshold. SpreadFrom drops every
// contribution below it, so a receiver gains no activation from weaker
// contributions; Apply reports a re-spread only for contributions at or
// above it.
const DefaultThreshold = 0.2

// Config tunes the kernel. Zero values are replaced by defaults in New.
type Config struct {
	DecayGamma    float64 // multiplicative per-tick decay, in (0,1)
	MinActivation float64 // epsilon: activations below are dropped
	WindowSize    int     // temporal window capacity
	LearningRate  float64 // eta for Hebbian reinforcement
	InitialWeight float64 // baseline weight of newly formed synapses
	Threshold     float32 // firing threshold for re-spread
}

// DefaultConfig returns the default kernel tuning.
func DefaultConfig() Config {
	return Config{
		DecayGamma:    0.9,
		MinActivation: 0.01,
		WindowSize:    5,
		LearningRate:  0.05,
		InitialWeight: 0.01,
		Threshold:     DefaultThreshold,
	}
}

// WindowEntry is one temporal-window slot.
type WindowEntry struct {
	Node       model.NodeID
	Activation float32
	Tick       uint32
}

// Contribution is the spread output for one receiver.
type Contribution struct {
	Receiver model.NodeID
	Delta    float32
}

// Kernel holds the mutable activation state of one owner.
type Kernel struct {
	cfg        Config
	activation map[model.NodeID]float32
	window     []WindowEntry
}

// New creates a kernel with the given config; zero fields take defaults.
func New(cfg Config) *Kernel {
	def := DefaultConfig()
	if cfg.DecayGamma <= 0 || cfg.DecayGamma >= 1 {
		cfg.DecayGamma = def.DecayGamma
	}
	if cfg.MinActivation <= 0 {
		cfg.MinActivation = def.MinActivation
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.InitialWeight <= 0 {
		cfg.InitialWeight = def.InitialWeight
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Kernel{
		cfg:        cfg,
		activation: make(map[model.NodeID]float32),
	}
}

// Inject adds strength to node's activation and records it in the
// temporal window. Strength is clamped to [0,1] at this boundary.
func (k *Kernel) Inject(node model.NodeID, strength float32, tick uint32) {
	strength = model.ClampWeight(strength)
	k.activation[node] += strength
	k.pushWindow(node, k.activation[node], tick)
}

// Apply adds a propagated contribution to node and reports whether the
// node fired (contribution at or above threshold), meaning the owner
// should re-spread from it.
func (k *Kernel) Apply(node model.NodeID, contribution float32, tick uint32) bool {
	if contribution <= 0 {
		return false
	}
	k.activation[node] += contribution
	k.pushWindow(node, k.activation[node], tick)
	return contribution >= k.cfg.Threshold
}

// SpreadFrom computes per-receiver contributions from sender over its
// outgoing synapses: delta = activation[sender] * weight. Receivers whose
// contribution falls below the threshold are gated out.
func (k *Kernel) SpreadFrom(sender model.NodeID, outgoing []model.Synapse) []Contribution {
	act := k.activation[sender]
	if act <= 0 {
		return nil
	}
	out := make([]Contribution, 0, len(outgoing))
	for _, syn := range outgoing {
		delta := act * syn.Weight
		if delta < k.cfg.Threshold {
			continue
		}
		out = append(out, Contribution{Receiver: syn.Receiver, Delta: delta})
	}
	return out
}

// Decay multiplies every activation by gamma and drops entries below the
// epsilon floor.
func (k *Kernel) Decay() {
	gamma := float32(k.cfg.DecayGamma)
	eps := float32(k.cfg.MinActivation)
	for node, act := range k.activation {
		act *= gamma
		if act < eps {
			delete(k.activation, node)
			continue
		}
		k.activation[node] = act
	}
}

// Activation returns the current activation of node (0 when inactive).
func (k *Kernel) Activation(node model.NodeID) float32 {
	return k.activation[node]
}

// ActiveCount returns the number of active nodes.
func (k *Kernel) ActiveCount() int { return len(k.activation) }

// ActiveNodes returns the activation snapshot sorted by activation
// descending, ties by smaller node ID.
func (k *Kernel) ActiveNodes() []model.ActiveNode {
	out := make([]model.ActiveNode, 0, len(k.activation))
	for node, act := range k.activation {
		out = append(out, model.ActiveNode{Node: node, Activation: act})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Activation != out[j].Activation {
			return out[i].Activation > out[j].Activation
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// Window returns the current temporal window, oldest first.
func (k *Kernel) Window() []WindowEntry {
	return append([]WindowEntry(nil), k.window...)
}

// Clear resets activation state and the temporal window.
func (k *Kernel) Clear() {
	k.activation = make(map[model.NodeID]float32)
	k.window = k.window[:0]
}

// Merge folds another kernel's activation into this one (used when
// collecting per-shard state for status reads).
func (k *Kernel) Merge(other map[model.NodeID]float32) {
	for node, act := range other {
		k.activation[node] += act
	}
}

// Snapshot copies the activation map.
func (k *Kernel) Snapshot() map[model.NodeID]float32 {
	out := make(map[model.NodeID]float32, len(k.activation))
	for node, act := range k.activation {
		out[node] = act
	}
	return out
}

// pushWindow appends to the temporal window, dropping the oldest entry
// past capacity. Overflow never blocks.
func (k *Kernel) pushWindow(node model.NodeID, act float32, tick uint32) {
	if len(k.window) >= k.cfg.WindowSize {
		copy(k.window, k.window[1:])
		k.window = k.window[:len(k.window)-1]
	}
	k.window = append(k.window, WindowEntry{Node: node, Activation: act, Tick: tick})
}
