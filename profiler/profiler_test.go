package profiler

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/submission"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProfiler(t *testing.T, interval time.Duration) (*Profiler, driver.Driver, resource.Manager, submission.Tracker) {
	t.Helper()
	drv := driver.NewNull()
	mgr := resource.NewManager(drv)
	cache := pipeline.NewCache(drv, mgr, 0)
	mgr.SetInvalidator(cache)
	tr := submission.NewTracker(drv, mgr, 0)
	mgr.SetTracker(tr)
	t.Cleanup(func() {
		tr.Release()
		cache.Release()
		mgr.Release()
		drv.Release()
	})
	return NewProfiler(drv, cache, mgr, tr, interval), drv, mgr, tr
}

func TestProfilerTicksOnInterval(t *testing.T) {
	p, _, _, _ := newTestProfiler(t, time.Minute)

	assert.False(t, p.Tick(), "first tick inside the window stays quiet")
	assert.False(t, p.Tick())

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Zero(t, stats.FPS, "no window has completed yet")
}

func TestProfilerLogsAfterInterval(t *testing.T) {
	p, _, _, _ := newTestProfiler(t, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, p.Tick(), "an elapsed interval closes the window")

	stats := p.Stats()
	assert.Positive(t, stats.FPS)
	assert.Positive(t, stats.FrameMillis)

	assert.False(t, p.Tick(), "the window restarts after logging")
}

func TestProfilerStatsAggregateComponents(t *testing.T) {
	p, drv, mgr, tr := newTestProfiler(t, time.Minute)

	_, err := mgr.CreateBuffer("verts", 64, driver.MemoryDevice, wgpu.BufferUsageVertex)
	require.NoError(t, err)

	tk := tr.Open("frame")
	require.NoError(t, tr.MarkRecorded(tk))
	cb, err := drv.NewCmdBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Finish())
	_, err = tr.Submit(tk, cb, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Flush())

	stats := p.Stats()
	assert.Equal(t, 1, stats.Resources.Buffers)
	assert.Equal(t, uint64(1), stats.Driver.Submissions)
	assert.Equal(t, uint64(1), stats.Submissions.Submitted)
	assert.Positive(t, stats.HeapMB)
	assert.Positive(t, stats.SysMB)
}
