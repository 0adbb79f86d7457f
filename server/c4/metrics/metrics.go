// Package metrics exposes the router's runtime counters as Prometheus
// collectors. The original implementation only had a single c4_log call
// per routed tuple; this package gives the router and transport real
// observability instead.
package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/process"
)

// Registry holds one Client's counters. Callers register it with their own
// *prometheus.Registry (tests use a fresh one so collectors don't collide
// across parallel Clients in the same process).
type Registry struct {
	TuplesRouted  prometheus.Counter
	TuplesDeleted prometheus.Counter
	Fixpoints     prometheus.Counter
	QueueDepth    prometheus.Gauge
	TableRows     *prometheus.GaugeVec
	NetBytesSent  prometheus.Counter
	NetBytesRecv  prometheus.Counter

	ProcessRSS    prometheus.Gauge
	ProcessCPUPct prometheus.Gauge
	proc          *process.Process
}

// New builds a Registry and registers every collector with reg.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TuplesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "c4_tuples_routed_total",
			Help: "Tuples shifted out of the router's route_buf and dispatched to op chains.",
		}),
		TuplesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "c4_tuples_deleted_total",
			Help: "Tuples routed as retractions (negated-join or explicit delete propagation).",
		}),
		Fixpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "c4_fixpoints_total",
			Help: "Fixpoint passes run by the router, one per drained work item.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "c4_work_queue_depth",
			Help: "Work items currently queued for the router goroutine.",
		}),
		TableRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "c4_table_rows",
			Help: "Current row count of each defined table.",
		}, []string{"table"}),
		NetBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "c4_net_bytes_sent_total",
			Help: "Bytes written to peer connections.",
		}),
		NetBytesRecv: factory.NewCounter(prometheus.CounterOpts{
			Name: "c4_net_bytes_received_total",
			Help: "Bytes read from peer connections.",
		}),
		ProcessRSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "c4_process_rss_bytes",
			Help: "Resident set size of this client's OS process.",
		}),
		ProcessCPUPct: factory.NewGauge(prometheus.GaugeOpts{
			Name: "c4_process_cpu_percent",
			Help: "CPU percentage of this client's OS process, averaged since the process started; refreshed on each sampler tick.",
		}),
	}
}

// StartProcessSampler launches a background goroutine that refreshes
// ProcessRSS/ProcessCPUPct every interval until stop is closed. A sampling
// failure (process handle gone, permission denied) just skips that tick —
// host-level stats are best-effort, never load-bearing for routing.
func (r *Registry) StartProcessSampler(interval time.Duration, stop <-chan struct{}) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	r.proc = proc
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if mem, err := proc.MemoryInfo(); err == nil {
					r.ProcessRSS.Set(float64(mem.RSS))
				}
				if pct, err := proc.CPUPercent(); err == nil {
					r.ProcessCPUPct.Set(pct)
				}
			case <-stop:
				return
			}
		}
	}()
}
