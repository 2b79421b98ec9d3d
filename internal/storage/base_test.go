package storage

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/ragp/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenBase_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenBase failed: %v", err)
	}
	if s.NodeCount() != 0 {
		t.Errorf("expected 0 nodes, got %d", s.NodeCount())
	}
	if s.ChunkCount() != 0 {
		t.Errorf("expected 0 chunks, got %d", s.ChunkCount())
	}
	if s.RegistryVersion() != 0 {
		t.Errorf("expected registry version 0 for fresh store, got %d", s.RegistryVersion())
	}
}

func TestRewriteAll_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenBase failed: %v", err)
	}

	data := map[model.NodeID][]model.Synapse{
		1: {{Receiver: 2, Weight: 0.5, Tick: 3}, {Receiver: 7, Weight: 0.25, Tick: 1}},
		2: {{Receiver: 1, Weight: 0.9, Tick: 4}},
		3: nil,
	}
	kinds := map[model.NodeID]model.Kind{1: model.KindSensor, 2: model.KindContext, 3: model.KindAction}
	if err := s.RewriteAll(data, kinds, 1); err != nil {
		t.Fatalf("RewriteAll failed: %v", err)
	}

	// Reopen cold and verify the same state reads back.
	s2, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if s2.NodeCount() != 3 {
		t.Errorf("expected 3 nodes after reopen, got %d", s2.NodeCount())
	}
	if s2.RegistryVersion() != 1 {
		t.Errorf("expected registry version 1, got %d", s2.RegistryVersion())
	}

	syns, err := s2.ReadOutgoing(1)
	if err != nil {
		t.Fatalf("ReadOutgoing failed: %v", err)
	}
	if len(syns) != 2 {
		t.Fatalf("expected 2 synapses for node 1, got %d", len(syns))
	}
	// Records are stored sorted by receiver.
	if syns[0].Receiver != 2 || syns[0].Weight != 0.5 || syns[0].Tick != 3 {
		t.Errorf("unexpected first synapse: %+v", syns[0])
	}
	if syns[1].Receiver != 7 {
		t.Errorf("expected receiver 7 second, got %d", syns[1].Receiver)
	}

	empty, err := s2.ReadOutgoing(3)
	if err != nil {
		t.Fatalf("ReadOutgoing(3) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no synapses for node 3, got %d", len(empty))
	}

	if meta, ok := s2.Meta(2); !ok || meta.Kind != model.KindContext {
		t.Errorf("kind not preserved for node 2: %+v", meta)
	}
}

func TestRewriteAll_ByteIdentical(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenBase failed: %v", err)
	}

	data := map[model.NodeID][]model.Synapse{
		1:   {{Receiver: 2, Weight: 0.5, Tick: 1}},
		2:   {{Receiver: 1, Weight: 0.3, Tick: 2}},
		150: {{Receiver: 1, Weight: 0.8, Tick: 5}},
	}
	kinds := map[model.NodeID]model.Kind{}
	if err := s.RewriteAll(data, kinds, 1); err != nil {
		t.Fatalf("first rewrite failed: %v", err)
	}
	first := readAllFiles(t, dir)

	if err := s.RewriteAll(data, kinds, 1); err != nil {
		t.Fatalf("second rewrite failed: %v", err)
	}
	second := readAllFiles(t, dir)

	if len(first) != len(second) {
		t.Fatalf("file sets differ: %d vs %d", len(first), len(second))
	}
	for name, content := range first {
		if !bytes.Equal(content, second[name]) {
			t.Errorf("file %s differs between identical rewrites", name)
		}
	}
}

func TestRewriteAll_ChunkPlacement(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenBase failed: %v", err)
	}

	// Senders 1 and 150 land in different chunk files with span 100.
	data := map[model.NodeID][]model.Synapse{
		1:   {{Receiver: 2, Weight: 0.1, Tick: 1}},
		150: {{Receiver: 2, Weight: 0.2, Tick: 1}},
	}
	if err := s.RewriteAll(data, map[model.NodeID]model.Kind{}, 1); err != nil {
		t.Fatalf("RewriteAll failed: %v", err)
	}

	if s.ChunkCount() != 2 {
		t.Errorf("expected 2 chunk files, got %d", s.ChunkCount())
	}
	if _, err := os.Stat(filepath.Join(dir, "base_000000_000099.bin")); err != nil {
		t.Errorf("missing chunk for range 0-99: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "base_000100_000199.bin")); err != nil {
		t.Errorf("missing chunk for range 100-199: %v", err)
	}
}

func TestRewriteAll_DropsStaleChunks(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBase(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenBase failed: %v", err)
	}

	if err := s.RewriteAll(map[model.NodeID][]model.Synapse{
		150: {{Receiver: 1, Weight: 0.2, Tick: 1}},
	}, map[model.NodeID]model.Kind{}, 1); err != nil {
		t.Fatalf("RewriteAll failed: %v", err)
	}
	if s.ChunkCount() != 1 {
		t.Fatalf("expected 1 chunk, got %d", s.ChunkCount())
	}

	// Rewrite with node 150 gone; its chunk file must disappear.
	if err := s.RewriteAll(map[model.NodeID][]model.Synapse{
		1: {{Receiver: 2, Weight: 0.3, Tick: 2}},
	}, map[model.NodeID]model.Kind{}, 1); err != nil {
		t.Fatalf("second RewriteAll failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "base_000100_000199.bin")); !os.IsNotExist(err) {
		t.Errorf("stale chunk file survived rewrite")
	}
}

func readAllFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	out := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile %s failed: %v", e.Name(), err)
		}
		out[e.Name()] = data
	}
	return out
}
