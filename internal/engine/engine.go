// Package engine assembles the RAGP core: chunked base store, delta log,
// innate registry, hybrid cache, graph view, activation kernel, and the
// optional sharded async runtime, behind one explicit handle. Engines are
// independent per storage directory; tests construct as many as they need.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nvandessel/ragp/internal/audit"
	"github.com/nvandessel/ragp/internal/cache"
	"github.com/nvandessel/ragp/internal/config"
	"github.com/nvandessel/ragp/internal/graph"
	"github.com/nvandessel/ragp/internal/kernel"
	"github.com/nvandessel/ragp/internal/logging"
	"github.com/nvandessel/ragp/internal/model"
	"github.com/nvandessel/ragp/internal/registry"
	"github.com/nvandessel/ragp/internal/runtime"
	"github.com/nvandessel/ragp/internal/storage"
)

// pruneRatio sets the consolidation prune threshold at this fraction of a
// sender's mean outgoing weight.
const pruneRatio = 0.3

// Engine is the long-lived engine handle. All exported methods are safe
// for concurrent use.
type Engine struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger
	events *logging.EventLogger

	lock  *storage.DirLock
	base  *storage.BaseStore
	delta *storage.DeltaLog
	reg   *registry.Registry
	cache *cache.Hybrid
	view  *graph.View
	audit *audit.Log

	// mu guards the synchronous kernel and registry swaps. The write
	// path (applyUpdate) relies on the delta log's and view's own locks,
	// keeping the critical section short.
	mu     sync.Mutex
	kern   *kernel.Kernel
	scorer kernel.ScoreFunc

	tick atomic.Uint32

	rtMu sync.Mutex
	rt   *runtime.Runtime

	consolidating atomic.Bool
	degraded      atomic.Bool
	closed        atomic.Bool
}

// Open boots an engine on cfg's storage directory: acquires the directory
// lock, loads (and if needed legacy-migrates) the base, replays the delta
// log with CRC truncation, and wires the cache and view. The async
// runtime starts when cfg.Async.Enabled is set.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.Logging.Level, os.Stderr)
	}

	dir := cfg.Storage.Dir
	if cfg.Storage.Reset {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("%w: resetting storage: %v", model.ErrStorageIO, err)
		}
		logger.Info("storage reset", "dir", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating storage dir: %v", model.ErrStorageIO, err)
	}

	lock, err := storage.AcquireLock(dir)
	if err != nil {
		return nil, err
	}

	base, err := storage.OpenBase(dir, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	delta, err := storage.OpenDelta(dir, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	deltaIndex, nextTick, err := delta.Replay()
	if err != nil {
		delta.Close()
		lock.Release()
		return nil, err
	}

	// The registry boots at the stored node set and version; the caller's
	// EnsureInnateRegistry reconciles it against the configured version.
	reg := registry.New(base.RegistryVersion(), base.NodeIDs())
	for _, id := range base.NodeIDs() {
		if meta, ok := base.Meta(id); ok {
			reg.SetKind(id, meta.Kind)
		}
	}
	applyRegistryConfig(reg, cfg)

	hc := cache.New(cache.Config{
		Policy:      cfg.Cache.Policy,
		RAMFraction: cfg.Cache.RAMFraction,
		RAMMinMB:    cfg.Cache.RAMMinMB,
		RAMMaxMB:    cfg.Cache.RAMMaxMB,
		PinFraction: cfg.Cache.PinFraction,
	})

	view := graph.NewView(reg, base, hc, deltaIndex)

	auditLog, err := audit.Open(dir, logger)
	if err != nil {
		// The audit trail is an observability surface, not the engine's
		// source of truth; boot degraded rather than refuse.
		logger.Warn("audit log unavailable", "err", err)
		auditLog = nil
	}

	e := &Engine{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: logger,
		events: logging.NewEventLogger(dir, cfg.Logging.Level),
		lock:   lock,
		base:   base,
		delta:  delta,
		reg:    reg,
		cache:  hc,
		view:   view,
		audit:  auditLog,
		kern:   kernel.New(kernelConfig(cfg)),
		scorer: kernel.ScorerByName(cfg.Kernel.Scoring),
	}
	e.tick.Store(nextTick)

	hc.RecomputePinned(reg.IDs(), base.ReadOutgoing, true)

	if cfg.Async.Enabled {
		if _, err := e.StartAsyncRuntime(nil); err != nil {
			e.Close()
			return nil, err
		}
	}

	logger.Info("engine opened",
		"dir", dir, "nodes", base.NodeCount(), "chunks", base.ChunkCount(),
		"delta_records", delta.Records(), "registry_version", reg.Version())
	return e, nil
}

// Close stops the runtime, flushes the delta log, and releases the
// directory lock. Safe to call more than once.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.rtMu.Lock()
	if e.rt != nil {
		e.rt.Stop()
		e.rt = nil
	}
	e.rtMu.Unlock()

	var firstErr error
	if err := e.delta.Sync(); err != nil {
		firstErr = err
	}
	if err := e.delta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.audit != nil {
		if err := e.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.events.Close()
	if err := e.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ID returns the engine instance identifier.
func (e *Engine) ID() string { return e.id }

// Registry returns the live registry.
func (e *Engine) Registry() *registry.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg
}

func kernelConfig(cfg *config.Config) kernel.Config {
	return kernel.Config{
		DecayGamma:    cfg.Kernel.DecayGamma,
		MinActivation: cfg.Kernel.MinActivation,
		WindowSize:    cfg.Kernel.WindowSize,
		LearningRate:  cfg.Kernel.LearningRate,
		InitialWeight: cfg.Kernel.InitialWeight,
	}
}

func applyRegistryConfig(reg *registry.Registry, cfg *config.Config) {
	if cfg.Registry.LabelFile != "" {
		if err := reg.ApplyLabelFile(cfg.Registry.LabelFile); err != nil {
			slog.Default().Warn("registry label file not applied", "err", err)
		}
	}
	if len(cfg.Registry.CriticalNodes) > 0 {
		ids := make([]model.NodeID, len(cfg.Registry.CriticalNodes))
		for i, id := range cfg.Registry.CriticalNodes {
			ids[i] = model.NodeID(id)
		}
		reg.MarkCritical(ids)
	}
}

// applyUpdate is the single write commit point: assign a tick, append to
// the delta log, overlay the view, invalidate the cache. Owner shards
// call it through the runtime; the synchronous paths call it under e.mu.
func (e *Engine) applyUpdate(sender, receiver model.NodeID, weight float32) (float32, uint32, error) {
	weight = model.ClampWeight(weight)
	tick := e.tick.Add(1)
	if err := e.delta.Append(sender, receiver, weight, tick); err != nil {
		e.degraded.Store(true)
		return 0, 0, err
	}
	e.view.ApplyUpdate(sender, receiver, weight, tick)
	return weight, tick, nil
}
