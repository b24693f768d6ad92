// Command allocsim is a userspace harness for exercising the allocator
// outside a trap-context kernel: it drives random alloc/free traffic
// against one kalloc.Allocator, logs through zap (optionally rotated by
// lumberjack), and serves Prometheus metrics so the run can be watched
// live.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rvkernel/kalloc/src/kalloc"
)

type liveBlock struct {
	ptr  unsafe.Pointer
	size uint64
}

func main() {
	configPath := flag.String("config", "", "path to a YAML scenario file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metrics := newSimMetrics(reg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
	}

	a := kalloc.New()
	a.SetTrace(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})

	if err := a.InitHeap(cfg.HeapSizeBytes); err != nil {
		logger.Fatal("heap init failed", zap.Error(err))
	}
	defer a.Close()

	metrics.heapTotalBytes.Set(float64(a.TotalBytes()))
	logger.Info("heap initialized",
		zap.Uint64("size_bytes", cfg.HeapSizeBytes),
		zap.Int("iterations", cfg.Iterations),
	)

	runWorkload(a, cfg, logger, metrics)

	logger.Info("run complete", zap.Uint64("used_bytes", a.UsedBytes()))
}

func runWorkload(a *kalloc.Allocator, cfg Config, logger *zap.Logger, metrics *simMetrics) {
	var live []liveBlock
	start := time.Now()

	for i := 0; i < cfg.Iterations; i++ {
		if len(live) > 0 && (len(live) >= cfg.MaxLiveBlocks || rand.Float64() < cfg.FreeRatio) {
			idx := rand.Intn(len(live))
			blk := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]

			if err := a.Dealloc(blk.ptr, blk.size, 1); err != nil {
				logger.Error("dealloc failed", zap.Uintptr("addr", uintptr(blk.ptr)), zap.Error(err))
				continue
			}
			metrics.freeTotal.Inc()
			metrics.liveBlocks.Set(float64(len(live)))
			continue
		}

		size := randomSize(cfg.MinAllocSize, cfg.MaxAllocSize)
		ptr, err := a.Alloc(size, 1)
		if err != nil {
			metrics.allocFailTotal.Inc()
			continue
		}
		metrics.allocTotal.Inc()
		metrics.heapUsedBytes.Set(float64(a.UsedBytes()))
		metrics.framesActive.Set(float64(a.FrameCount()))
		live = append(live, liveBlock{ptr: ptr, size: size})
		metrics.liveBlocks.Set(float64(len(live)))

		if i%2000 == 0 {
			logger.Info("progress",
				zap.Int("iteration", i),
				zap.Uint64("used_bytes", a.UsedBytes()),
				zap.Int("live_blocks", len(live)),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}

	for _, blk := range live {
		_ = a.Dealloc(blk.ptr, blk.size, 1)
	}
}

func randomSize(min, max uint64) uint64 {
	if max <= min {
		return min
	}
	return min + uint64(rand.Int63n(int64(max-min)))
}
