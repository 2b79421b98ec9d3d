package engine

import (
	"github.com/nvandessel/ragp/internal/cache"
	"github.com/nvandessel/ragp/internal/runtime"
)

// Status is the read-only aggregation of storage, cache, kernel, and
// runtime counters.
type Status struct {
	EngineID        string          `json:"engine_id"`
	Nodes           int             `json:"nodes"`
	Chunks          int             `json:"chunks"`
	DeltaRecords    int             `json:"delta_records"`
	DeltaBytes      int64           `json:"delta_bytes"`
	ActiveNodes     int             `json:"active_nodes"`
	Tick            uint32          `json:"tick"`
	RegistryVersion uint16          `json:"registry_version"`
	Degraded        bool            `json:"degraded"`
	Cache           cache.Stats     `json:"cache"`
	Runtime         runtime.Metrics `json:"runtime"`
}

// Status assembles the current engine status.
func (e *Engine) Status() Status {
	st := Status{
		EngineID:        e.id,
		Nodes:           e.base.NodeCount(),
		Chunks:          e.base.ChunkCount(),
		DeltaRecords:    e.view.DeltaRecords(),
		DeltaBytes:      e.delta.Size(),
		Tick:            e.tick.Load(),
		RegistryVersion: e.Registry().Version(),
		Degraded:        e.degraded.Load(),
		Cache:           e.cache.Stats(),
		Runtime:         e.AsyncMetrics(),
	}

	if rt := e.runtime(); rt != nil {
		st.ActiveNodes = len(rt.ActivationSnapshot())
	} else {
		e.mu.Lock()
		st.ActiveNodes = e.kern.ActiveCount()
		e.mu.Unlock()
	}
	return st
}
