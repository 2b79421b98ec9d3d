package runtime

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors of the runtime counters. The atomic fields on
// counters below stay authoritative for the status surface; these gauges
// exist for scraping.
var (
	promProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragp_runtime_processed_total",
		Help: "Total messages processed across all shards",
	})

	promDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragp_runtime_dropped_total",
		Help: "Stimuli refused by drop guard mode",
	})

	promCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragp_runtime_coalesced_total",
		Help: "Stimuli merged by batch coalescing",
	})

	promHopTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragp_runtime_hop_total",
		Help: "Cross-shard activation hops dispatched",
	})

	promQueueLen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ragp_runtime_global_queue_len",
		Help: "Messages currently queued across all shard inboxes",
	})
)

// counters holds the runtime's authoritative metric state.
type counters struct {
	processed atomic.Uint64
	dropped   atomic.Uint64
	coalesced atomic.Uint64
	hops      atomic.Uint64
	queueLen  atomic.Int64

	// rate sampling state (processed/sec over >=200ms windows)
	rateTS        atomic.Int64 // unix nanos of last sample
	rateProcessed atomic.Uint64
	rateValue     atomic.Uint64 // math.Float64bits
}

func (c *counters) addProcessed() {
	c.processed.Add(1)
	promProcessedTotal.Inc()
}

func (c *counters) addDropped() {
	c.dropped.Add(1)
	promDroppedTotal.Inc()
}

func (c *counters) addCoalesced(n uint64) {
	if n == 0 {
		return
	}
	c.coalesced.Add(n)
	promCoalescedTotal.Add(float64(n))
}

func (c *counters) addHop() {
	c.hops.Add(1)
	promHopTotal.Inc()
}

func (c *counters) queueDelta(d int64) {
	v := c.queueLen.Add(d)
	promQueueLen.Set(float64(v))
}

// processedPerSec samples the processing rate, refreshing at most every
// 200ms so bursty reads do not zero the window.
func (c *counters) processedPerSec() float64 {
	now := time.Now().UnixNano()
	last := c.rateTS.Load()
	if last == 0 {
		c.rateTS.CompareAndSwap(0, now)
		c.rateProcessed.Store(c.processed.Load())
		return 0
	}
	dt := time.Duration(now - last)
	if dt < 200*time.Millisecond {
		return float64FromBits(c.rateValue.Load())
	}
	if !c.rateTS.CompareAndSwap(last, now) {
		return float64FromBits(c.rateValue.Load())
	}
	cur := c.processed.Load()
	prev := c.rateProcessed.Swap(cur)
	rate := float64(cur-prev) / dt.Seconds()
	c.rateValue.Store(float64ToBits(rate))
	return rate
}

func float64ToBits(f float64) uint64   { return math.Float64bits(f) }
func float64FromBits(b uint64) float64 { return math.Float64frombits(b) }

// Metrics is the externally visible runtime metrics snapshot.
type Metrics struct {
	AsyncOn           bool     `json:"async_on"`
	IngressPaused     bool     `json:"ingress_paused"`
	Shards            int      `json:"shards"`
	GlobalQueueLen    int64    `json:"global_queue_len"`
	PerShardQueueLen  []int64  `json:"per_shard_queue_len"`
	ProcessedTotal    uint64   `json:"processed_total"`
	ProcessedPerSec   float64  `json:"processed_per_sec"`
	PerShardProcessed []uint64 `json:"per_shard_processed"`
	GuardMode         string   `json:"guard_mode"`
	DroppedTotal      uint64   `json:"dropped_total"`
	CoalescedTotal    uint64   `json:"coalesced_total"`
	HopTotal          uint64   `json:"hop_total"`
}
