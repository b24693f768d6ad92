package main

import "github.com/prometheus/client_golang/prometheus"

// simMetrics exposes the handful of gauges/counters an operator would
// actually want to watch while this allocator runs under load.
type simMetrics struct {
	heapUsedBytes  prometheus.Gauge
	heapTotalBytes prometheus.Gauge
	liveBlocks     prometheus.Gauge
	framesActive   prometheus.Gauge
	allocTotal     prometheus.Counter
	allocFailTotal prometheus.Counter
	freeTotal      prometheus.Counter
}

func newSimMetrics(reg prometheus.Registerer) *simMetrics {
	m := &simMetrics{
		heapUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "allocsim_heap_used_bytes",
			Help: "Bytes currently outstanding across the simulated heap.",
		}),
		heapTotalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "allocsim_heap_total_bytes",
			Help: "Total size of the reserved heap.",
		}),
		liveBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "allocsim_live_blocks",
			Help: "Number of allocations currently outstanding.",
		}),
		framesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "allocsim_slub_frames_active",
			Help: "Number of buddy-backed frames currently held by the slub layer.",
		}),
		allocTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocsim_alloc_total",
			Help: "Total successful Alloc calls.",
		}),
		allocFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocsim_alloc_fail_total",
			Help: "Total Alloc calls that returned an out-of-memory error.",
		}),
		freeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocsim_free_total",
			Help: "Total successful Dealloc calls made by the workload loop.",
		}),
	}
	reg.MustRegister(m.heapUsedBytes, m.heapTotalBytes, m.liveBlocks, m.framesActive, m.allocTotal, m.allocFailTotal, m.freeTotal)
	return m
}
