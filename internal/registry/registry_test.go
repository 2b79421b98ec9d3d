package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/ragp/internal/model"
)

func TestCheck_UnknownNode(t *testing.T) {
	r := New(1, []model.NodeID{1, 2, 3})

	if err := r.Check(2, "test"); err != nil {
		t.Errorf("registered node rejected: %v", err)
	}

	err := r.Check(9, "get_connections(sender)")
	if !errors.Is(err, model.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	var une *model.UnknownNodeError
	if !errors.As(err, &une) || une.Node != 9 || une.Role != "get_connections(sender)" {
		t.Errorf("error missing detail: %v", err)
	}
}

func TestIDs_Sorted(t *testing.T) {
	r := New(1, []model.NodeID{5, 1, 3})
	ids := r.IDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 5 {
		t.Errorf("IDs not ascending: %v", ids)
	}
}

func TestPlanMigration_AddedRemoved(t *testing.T) {
	r := New(2, []model.NodeID{1, 2, 4})
	plan, err := r.PlanMigration([]model.NodeID{1, 2, 3})
	if err != nil {
		t.Fatalf("PlanMigration failed: %v", err)
	}
	if plan.Added != 1 {
		t.Errorf("expected 1 added (node 4), got %d", plan.Added)
	}
	if plan.Removed != 1 {
		t.Errorf("expected 1 removed (node 3), got %d", plan.Removed)
	}
	if !plan.Valid[1] || !plan.Valid[4] || plan.Valid[3] {
		t.Errorf("valid set wrong: %v", plan.Valid)
	}
}

func TestPlanMigration_CriticalConflict(t *testing.T) {
	r := New(2, []model.NodeID{1, 2})
	r.MarkCritical([]model.NodeID{7}) // not in the new registry

	_, err := r.PlanMigration([]model.NodeID{1, 2, 7})
	if !errors.Is(err, model.ErrMigrationConflict) {
		t.Errorf("expected ErrMigrationConflict, got %v", err)
	}
}

func TestActionIDs(t *testing.T) {
	r := New(1, []model.NodeID{1, 2, 3})
	r.SetKind(2, model.KindAction)
	r.SetKind(3, model.KindAction)

	actions := r.ActionIDs()
	if len(actions) != 2 || actions[0] != 2 || actions[1] != 3 {
		t.Errorf("unexpected action set: %v", actions)
	}
}

func TestApplyLabelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.yaml")
	content := `nodes:
  - id: 1
    kind: sensor
    label: mic_onset
  - id: 2
    kind: action
    label: speak
  - id: 99
    kind: sensor
    label: ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r := New(1, []model.NodeID{1, 2})
	if err := r.ApplyLabelFile(path); err != nil {
		t.Fatalf("ApplyLabelFile failed: %v", err)
	}

	if r.Kind(1) != model.KindSensor || r.Label(1) != "mic_onset" {
		t.Errorf("node 1 labels wrong: kind=%v label=%q", r.Kind(1), r.Label(1))
	}
	if r.Kind(2) != model.KindAction {
		t.Errorf("node 2 kind wrong: %v", r.Kind(2))
	}
	// A label file never grows the registry.
	if r.Contains(99) {
		t.Error("label file must not register new nodes")
	}
}
