package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type perfGauges struct {
	cpu        metric.Float64Gauge
	rss        metric.Int64Gauge
	heap       metric.Int64Gauge
	goroutines metric.Int64Gauge
}

// PerfSample is one reading of the process' own resource usage.
type PerfSample struct {
	CpuPercent float64
	RssBytes   uint64
	HeapBytes  uint64
	Goroutines int
}

// SamplePerf reads the current process' usage. Cpu is the usage since the
// previous call on the same process handle, the first call reports 0.
func SamplePerf(ctx context.Context, proc *process.Process) (PerfSample, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sample := PerfSample{
		HeapBytes:  memStats.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}

	cpu, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		return sample, err
	}
	sample.CpuPercent = cpu
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return sample, err
	}
	sample.RssBytes = mem.RSS
	return sample, nil
}

// InstrumentPerfStats records process gauges every `interval` until ctx is
// done. It is meant for the long running scheduler, a one shot run exits
// before the first tick.
func InstrumentPerfStats(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.Warn("perf stats disabled", "err", err)
		return
	}

	meter := otel.Meter("discuz-signin/perf_stats")
	var gauges perfGauges
	gauges.cpu, _ = meter.Float64Gauge("process.cpu_percent")
	gauges.rss, _ = meter.Int64Gauge("process.rss_bytes")
	gauges.heap, _ = meter.Int64Gauge("go.heap_bytes")
	gauges.goroutines, _ = meter.Int64Gauge("go.goroutines")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			sample, err := SamplePerf(ctx, proc)
			if err != nil {
				logger.Debug("partial perf sample", "err", err)
			}
			gauges.cpu.Record(ctx, sample.CpuPercent)
			gauges.rss.Record(ctx, int64(sample.RssBytes))
			gauges.heap.Record(ctx, int64(sample.HeapBytes))
			gauges.goroutines.Record(ctx, int64(sample.Goroutines))
		}
	}()
}
