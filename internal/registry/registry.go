// Package registry implements the innate node registry: the versioned,
// authoritative set of valid node IDs and their kinds. Nodes exist only
// through the registry; runtime ingress never creates them.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/ragp/internal/model"
)

// Entry describes one registered node.
type Entry struct {
	Kind  model.Kind
	Label string
}

// Registry holds the current innate node set. The set of IDs is fixed at
// construction; kinds, labels and critical flags are set afterwards via
// SetKind, ApplyLabelFile and MarkCritical. A version change builds a new
// Registry and triggers a storage migration.
type Registry struct {
	version  uint16
	nodes    map[model.NodeID]Entry
	critical map[model.NodeID]bool
}

// New creates a registry at the given version containing ids. All nodes
// default to KindInternal until labels are applied.
func New(version uint16, ids []model.NodeID) *Registry {
	nodes := make(map[model.NodeID]Entry, len(ids))
	for _, id := range ids {
		nodes[id] = Entry{Kind: model.KindInternal}
	}
	return &Registry{
		version:  version,
		nodes:    nodes,
		critical: make(map[model.NodeID]bool),
	}
}

// Version returns the registry version.
func (r *Registry) Version() uint16 { return r.version }

// Len returns the number of registered nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// Contains reports whether id is a registered node.
func (r *Registry) Contains(id model.NodeID) bool {
	_, ok := r.nodes[id]
	return ok
}

// Check validates id against the registry, returning an UnknownNodeError
// naming the API role on failure. Every public engine operation calls this
// before touching storage.
func (r *Registry) Check(id model.NodeID, role string) error {
	if r.Contains(id) {
		return nil
	}
	return model.NewUnknownNode(id, role)
}

// Kind returns the kind of id, or KindInternal if unregistered.
func (r *Registry) Kind(id model.NodeID) model.Kind {
	if e, ok := r.nodes[id]; ok {
		return e.Kind
	}
	return model.KindInternal
}

// Label returns the semantic label of id, or "" if none.
func (r *Registry) Label(id model.NodeID) string {
	return r.nodes[id].Label
}

// IDs returns all registered node IDs in ascending order.
func (r *Registry) IDs() []model.NodeID {
	out := make([]model.NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActionIDs returns all nodes of kind action, ascending.
func (r *Registry) ActionIDs() []model.NodeID {
	out := make([]model.NodeID, 0)
	for id, e := range r.nodes {
		if e.Kind == model.KindAction {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarkCritical flags nodes that must survive any migration.
func (r *Registry) MarkCritical(ids []model.NodeID) {
	for _, id := range ids {
		r.critical[id] = true
	}
}

// SetKind overrides the kind for a registered node. Unregistered IDs are
// ignored.
func (r *Registry) SetKind(id model.NodeID, kind model.Kind) {
	if e, ok := r.nodes[id]; ok {
		e.Kind = kind
		r.nodes[id] = e
	}
}

// MigrationPlan describes how a stored graph maps onto the current registry.
type MigrationPlan struct {
	// Valid is the intersection of stored and current IDs: senders and
	// receivers outside this set are pruned.
	Valid map[model.NodeID]bool

	// Added and Removed count the node-set difference.
	Added   int
	Removed int
}

// PlanMigration computes the migration from storedIDs onto this registry.
// It fails with ErrMigrationConflict if a critical node would be dropped:
// the caller must keep the old state intact in that case.
func (r *Registry) PlanMigration(storedIDs []model.NodeID) (*MigrationPlan, error) {
	stored := make(map[model.NodeID]bool, len(storedIDs))
	for _, id := range storedIDs {
		stored[id] = true
	}

	for id := range r.critical {
		if !r.Contains(id) {
			return nil, fmt.Errorf("%w: critical node %d absent from registry version %d",
				model.ErrMigrationConflict, id, r.version)
		}
	}

	plan := &MigrationPlan{Valid: make(map[model.NodeID]bool, len(r.nodes))}
	for id := range r.nodes {
		plan.Valid[id] = true
		if !stored[id] {
			plan.Added++
		}
	}
	for id := range stored {
		if !r.Contains(id) {
			plan.Removed++
		}
	}
	return plan, nil
}

// labelFile is the YAML shape of a registry label file:
//
//	nodes:
//	  - id: 7
//	    kind: sensor
//	    label: mic_onset
type labelFile struct {
	Nodes []struct {
		ID    uint64 `yaml:"id"`
		Kind  string `yaml:"kind"`
		Label string `yaml:"label"`
	} `yaml:"nodes"`
}

// ApplyLabelFile loads kinds and semantic labels from a YAML file and
// applies them to registered nodes. IDs not in the registry are ignored;
// the registry never grows from a label file.
func (r *Registry) ApplyLabelFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading label file: %w", err)
	}

	var lf labelFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return fmt.Errorf("parsing label file: %w", err)
	}

	for _, n := range lf.Nodes {
		id := model.NodeID(n.ID)
		e, ok := r.nodes[id]
		if !ok {
			continue
		}
		if n.Kind != "" {
			e.Kind = model.ParseKind(n.Kind)
		}
		e.Label = n.Label
		r.nodes[id] = e
	}
	return nil
}
