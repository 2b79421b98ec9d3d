package engine

import (
	"time"

	"github.com/nvandessel/ragp/internal/backup"
	"github.com/nvandessel/ragp/internal/model"
)

// ExportBackup writes the effective graph (base with delta overlaid) to a
// checksummed snapshot file.
func (e *Engine) ExportBackup(path string) (*backup.Header, error) {
	reg := e.Registry()
	snap := &backup.Snapshot{
		CreatedAt:       time.Now().UTC(),
		RegistryVersion: reg.Version(),
		Tick:            e.tick.Load(),
	}

	for _, id := range reg.IDs() {
		snap.Nodes = append(snap.Nodes, backup.Node{
			ID:    uint64(id),
			Kind:  reg.Kind(id).String(),
			Label: reg.Label(id),
		})
		conns, err := e.view.Outgoing(id)
		if err != nil {
			return nil, err
		}
		for _, c := range conns {
			snap.Edges = append(snap.Edges, backup.Edge{
				Sender:   uint64(id),
				Receiver: uint64(c.Receiver),
				Weight:   c.Weight,
				Tick:     c.Tick,
			})
		}
	}

	if err := backup.WriteFile(path, snap); err != nil {
		return nil, err
	}
	header := &backup.Header{
		Version:         backup.FormatVersion,
		CreatedAt:       snap.CreatedAt,
		RegistryVersion: snap.RegistryVersion,
		NodeCount:       len(snap.Nodes),
		EdgeCount:       len(snap.Edges),
	}
	e.events.Log(map[string]any{"event": "backup_export", "path": path,
		"nodes": header.NodeCount, "edges": header.EdgeCount})
	return header, nil
}

// ImportBackup merges a snapshot's edges into the live graph through the
// normal write path. Edges with unregistered endpoints are skipped and
// counted; nodes never enter through a backup (the innate registry stays
// authoritative). Returns (applied, skipped).
func (e *Engine) ImportBackup(path string) (int, int, error) {
	snap, _, err := backup.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}

	reg := e.Registry()
	applied, skipped := 0, 0
	for _, edge := range snap.Edges {
		sender := model.NodeID(edge.Sender)
		receiver := model.NodeID(edge.Receiver)
		if !reg.Contains(sender) || !reg.Contains(receiver) {
			skipped++
			continue
		}
		if err := e.UpdateWeight(sender, receiver, edge.Weight); err != nil {
			return applied, skipped, err
		}
		applied++
	}
	e.events.Log(map[string]any{"event": "backup_import", "path": path,
		"applied": applied, "skipped": skipped})
	return applied, skipped, nil
}
