// Package profiler tracks inference timings and outcomes in rolling windows.
package profiler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"
)

// TimeTracker tracks operation timing statistics over the last maxSamples
// durations. Count, min and max cover every recorded duration.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats is a snapshot of one TimeTracker, in seconds.
type OperationStats struct {
	Count int64   `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	Min   float64 `json:"min_seconds"`
	Max   float64 `json:"max_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// MemoryStats is the subset of runtime.MemStats worth reporting.
type MemoryStats struct {
	Alloc       uint64 `json:"alloc"`
	Sys         uint64 `json:"sys"`
	HeapObjects uint64 `json:"heap_objects"`
	GCCycles    uint32 `json:"gc_cycles"`
}

// Snapshot is the current profiling state.
type Snapshot struct {
	UptimeSeconds float64                   `json:"uptime_seconds"`
	Goroutines    int                       `json:"goroutines"`
	Memory        MemoryStats               `json:"memory"`
	Operations    map[string]OperationStats `json:"operations"`
	Counters      map[string]int64          `json:"counters"`
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a status report. Zero disables
	// the periodic report.
	ReportInterval time.Duration
	// MaxSamples specifies the window size per operation (default: 1000).
	MaxSamples int
	// Logger receives the periodic reports (default: slog.Default()).
	Logger *slog.Logger
}

// RuntimeProfiler records operation timings and outcome counters. It is safe
// for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	logger         *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	operations map[string]*TimeTracker
	counters   map[string]int64
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		operations:     make(map[string]*TimeTracker),
		counters:       make(map[string]int64),
	}
}

// Start begins the periodic status report. It is a no-op when the report
// interval is zero or the profiler is already running.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running || rp.reportInterval <= 0 {
		return
	}
	rp.running = true

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()

		ticker := time.NewTicker(rp.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.emitStatusReport()
			}
		}
	}()
}

// Stop stops the periodic report and waits for it to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration adds one duration to the named operation.
func (rp *RuntimeProfiler) RecordDuration(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operations[name]
	if !exists {
		tracker = &TimeTracker{
			durations: make([]time.Duration, 0, rp.maxSamples),
			minTime:   duration,
			maxTime:   duration,
		}
		rp.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > rp.maxSamples {
		// Remove oldest sample
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Increment adds one to the named counter.
func (rp *RuntimeProfiler) Increment(name string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.counters[name]++
}

// Snapshot returns the current statistics.
func (rp *RuntimeProfiler) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	s := Snapshot{
		UptimeSeconds: time.Since(rp.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:       mem.Alloc,
			Sys:         mem.Sys,
			HeapObjects: mem.HeapObjects,
			GCCycles:    mem.NumGC,
		},
		Operations: make(map[string]OperationStats, len(rp.operations)),
		Counters:   make(map[string]int64, len(rp.counters)),
	}
	for name, tracker := range rp.operations {
		s.Operations[name] = tracker.stats()
	}
	for name, n := range rp.counters {
		s.Counters[name] = n
	}
	return s
}

func (t *TimeTracker) stats() OperationStats {
	if len(t.durations) == 0 {
		return OperationStats{}
	}

	sorted := make([]time.Duration, len(t.durations))
	copy(sorted, t.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return OperationStats{
		Count: t.count,
		Avg:   (t.totalTime / time.Duration(len(t.durations))).Seconds(),
		Min:   t.minTime.Seconds(),
		Max:   t.maxTime.Seconds(),
		P50:   percentile(sorted, 0.50).Seconds(),
		P95:   percentile(sorted, 0.95).Seconds(),
	}
}

// percentile uses the nearest-rank method on sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(q*float64(len(sorted)) + 0.999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// emitStatusReport logs the current statistics.
func (rp *RuntimeProfiler) emitStatusReport() {
	s := rp.Snapshot()

	rp.logger.Info("runtime profiler status report",
		"uptime", time.Duration(s.UptimeSeconds*float64(time.Second)).Truncate(time.Second),
		"goroutines", s.Goroutines,
		"alloc", formatBytes(s.Memory.Alloc),
		"sys", formatBytes(s.Memory.Sys),
		"gc_cycles", s.Memory.GCCycles,
	)
	for name, op := range s.Operations {
		rp.logger.Info("operation timings",
			"operation", name,
			"count", op.Count,
			"avg", time.Duration(op.Avg*float64(time.Second)).Truncate(time.Microsecond),
			"p95", time.Duration(op.P95*float64(time.Second)).Truncate(time.Microsecond),
		)
	}
	if len(s.Counters) > 0 {
		args := make([]any, 0, 2*len(s.Counters))
		for name, n := range s.Counters {
			args = append(args, name, n)
		}
		rp.logger.Info("outcome counters", args...)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
