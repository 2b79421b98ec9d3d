package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/ragp/internal/config"
	"github.com/nvandessel/ragp/internal/engine"
	"github.com/nvandessel/ragp/internal/model"
)

// runCmd executes the CLI with args against a storage directory, the way
// a user invocation would.
func runCmd(t *testing.T, storage string, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(append(args, "--storage", storage))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.Execute()
}

// inspectEngine opens the storage directory directly to verify command
// side effects, then closes it so the next command can take the lock.
func inspectEngine(t *testing.T, storage string, fn func(*engine.Engine)) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = storage
	cfg.Cache.RAMMinMB = 16
	cfg.Cache.RAMMaxMB = 64
	eng, err := engine.Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("inspect open failed: %v", err)
	}
	defer eng.Close()
	fn(eng)
}

func TestExitCode_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrCorruptRecord, 2},
		{fmt.Errorf("wrapped: %w", model.ErrCorruptRecord), 2},
		{model.ErrMigrationConflict, 3},
		{fmt.Errorf("wrapped: %w", model.ErrMigrationConflict), 3},
		{errors.New("anything else"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseStimulus(t *testing.T) {
	st, err := parseStimulus("7:0.5:mic")
	if err != nil {
		t.Fatalf("parseStimulus failed: %v", err)
	}
	if st.Node != 7 || st.Strength != 0.5 || st.Source != "mic" {
		t.Errorf("unexpected stimulus: %+v", st)
	}

	st, err = parseStimulus("3:0.2")
	if err != nil {
		t.Fatalf("parseStimulus failed: %v", err)
	}
	if st.Source != "cli" {
		t.Errorf("expected default source cli, got %q", st.Source)
	}

	for _, bad := range []string{"", "7", "x:0.5", "7:y", "7:0.5:mic:extra"} {
		if _, err := parseStimulus(bad); err == nil {
			t.Errorf("parseStimulus(%q) should fail", bad)
		}
	}
}

func TestInitCmd_SeedsRegistry(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")

	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	inspectEngine(t, storage, func(eng *engine.Engine) {
		st := eng.Status()
		if st.Nodes != 3 {
			t.Errorf("expected 3 nodes, got %d", st.Nodes)
		}
		if st.RegistryVersion != 1 {
			t.Errorf("expected registry version 1, got %d", st.RegistryVersion)
		}
	})
}

func TestInitCmd_RejectsNoIDs(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init"); err == nil {
		t.Error("init without node IDs must fail")
	}
}

func TestUpdateWeightCmd_ThenConnections(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if err := runCmd(t, storage, "update-weight", "1", "2", "0.5"); err != nil {
		t.Fatalf("update-weight failed: %v", err)
	}
	if err := runCmd(t, storage, "connections", "1"); err != nil {
		t.Fatalf("connections failed: %v", err)
	}
	// Unknown sender surfaces as an error.
	if err := runCmd(t, storage, "connections", "99"); err == nil {
		t.Error("connections on unregistered node must fail")
	}

	inspectEngine(t, storage, func(eng *engine.Engine) {
		conns, err := eng.GetConnections(1)
		if err != nil {
			t.Fatalf("GetConnections failed: %v", err)
		}
		if len(conns) != 1 || conns[0].Receiver != 2 || conns[0].Weight != 0.5 {
			t.Errorf("write did not persist across invocations: %+v", conns)
		}
	})
}

func TestConsolidateCmd_EmptiesDelta(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCmd(t, storage, "update-weight", "1", "2", "0.5"); err != nil {
		t.Fatalf("update-weight failed: %v", err)
	}

	if err := runCmd(t, storage, "consolidate"); err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(storage, "delta.bin"))
	if err != nil {
		t.Fatalf("delta.bin missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("delta.bin should be 0 bytes after consolidate, got %d", info.Size())
	}
}

func TestBackupAndRestoreCmds(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCmd(t, storage, "update-weight", "1", "2", "0.5"); err != nil {
		t.Fatalf("update-weight failed: %v", err)
	}

	snap := filepath.Join(t.TempDir(), "snap.ragp")
	if err := runCmd(t, storage, "backup", snap); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if _, err := os.Stat(snap); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	// Restore into a second store with the same registry.
	storage2 := filepath.Join(t.TempDir(), "store2")
	if err := runCmd(t, storage2, "init", "--nodes", "3"); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if err := runCmd(t, storage2, "restore", snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	inspectEngine(t, storage2, func(eng *engine.Engine) {
		conns, err := eng.GetConnections(1)
		if err != nil {
			t.Fatalf("GetConnections failed: %v", err)
		}
		if len(conns) != 1 || conns[0].Weight != 0.5 {
			t.Errorf("restored edge wrong: %+v", conns)
		}
	})
}

func TestStimulateCmd_SyncPath(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCmd(t, storage, "update-weight", "1", "2", "0.9"); err != nil {
		t.Fatalf("update-weight failed: %v", err)
	}

	if err := runCmd(t, storage, "stimulate", "--sync", "1:1.0"); err != nil {
		t.Fatalf("stimulate --sync failed: %v", err)
	}
	// Bad stimulus syntax fails before touching the engine.
	if err := runCmd(t, storage, "stimulate", "notastimulus"); err == nil {
		t.Error("malformed stimulus must fail")
	}
}

func TestStatusCmd_Runs(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "store")
	if err := runCmd(t, storage, "init", "--nodes", "3"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCmd(t, storage, "status", "--json"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if err := runCmd(t, storage, "audit", "--limit", "5"); err != nil {
		t.Fatalf("audit failed: %v", err)
	}
}
