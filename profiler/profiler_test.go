package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDuration(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	for i := 1; i <= 100; i++ {
		rp.RecordDuration("infer", time.Duration(i)*time.Millisecond)
	}

	op, ok := rp.Snapshot().Operations["infer"]
	require.True(t, ok)
	assert.Equal(t, int64(100), op.Count)
	assert.InDelta(t, 0.001, op.Min, 1e-9)
	assert.InDelta(t, 0.100, op.Max, 1e-9)
	assert.InDelta(t, 0.0505, op.Avg, 1e-6)
	assert.InDelta(t, 0.050, op.P50, 1e-9)
	assert.InDelta(t, 0.095, op.P95, 1e-9)
}

func TestRecordDurationWindow(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 2})
	rp.RecordDuration("infer", 10*time.Second)
	rp.RecordDuration("infer", 1*time.Second)
	rp.RecordDuration("infer", 3*time.Second)

	op := rp.Snapshot().Operations["infer"]
	assert.Equal(t, int64(3), op.Count, "the count covers every sample")
	assert.InDelta(t, 2.0, op.Avg, 1e-9, "the average covers the window only")
	assert.InDelta(t, 10.0, op.Max, 1e-9)
}

func TestCountersAreConcurrent(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rp.Increment("label.Stroke")
				rp.StartOperation("infer")()
			}
		}()
	}
	wg.Wait()

	s := rp.Snapshot()
	assert.Equal(t, int64(800), s.Counters["label.Stroke"])
	assert.Equal(t, int64(800), s.Operations["infer"].Count)
}

func TestStartStop(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{ReportInterval: time.Millisecond})
	rp.RecordDuration("infer", time.Millisecond)
	rp.Increment("label.Normal")
	rp.Start()
	rp.Start()
	time.Sleep(5 * time.Millisecond)
	rp.Stop()
	rp.Stop()

	disabled := NewRuntimeProfiler(ProfilingOptions{})
	disabled.Start()
	disabled.Stop()
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "10.0 MB", formatBytes(10<<20))
}
