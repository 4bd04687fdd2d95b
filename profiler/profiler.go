// Package profiler reports frame pacing alongside the device's work
// counters. One Tick per presented frame, one summary log line per
// interval.
package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/submission"
	"github.com/Carmen-Shannon/gfx-go/logging"
)

// Stats is a point-in-time snapshot of frame pacing, device activity and
// process memory.
type Stats struct {
	// FPS is the frame rate over the last completed logging window, 0 until
	// the first window closes.
	FPS float64

	// FrameMillis is the average frame time over the last completed logging
	// window.
	FrameMillis float64

	// Frames is the total number of ticks since the profiler was created.
	Frames uint64

	// Driver is the device's cumulative work counters.
	Driver driver.Counters

	// Pipelines is the pipeline and bind group cache activity.
	Pipelines pipeline.Stats

	// Resources is the resource manager's holdings, including the staging
	// pool.
	Resources resource.Stats

	// Submissions is the command buffer tracker's activity.
	Submissions submission.Stats

	// HeapMB is the live heap in mebibytes.
	HeapMB float64

	// SysMB is the memory obtained from the OS in mebibytes.
	SysMB float64

	// GCCount is the number of completed GC cycles.
	GCCount uint32
}

// Profiler tracks frame rate, memory and device counters and logs a
// summary when the update interval has elapsed. Safe for concurrent use.
type Profiler struct {
	mu    *sync.Mutex
	drv   driver.Driver
	cache pipeline.Cache
	mgr   resource.Manager
	tr    submission.Tracker

	interval     time.Duration
	frames       uint64
	windowFrames int
	windowStart  time.Time

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	lastCounters   driver.Counters

	lastFPS         float64
	lastFrameMillis float64
}

// NewProfiler creates a profiler over the given components.
//
// Parameters:
//   - drv: the driver whose counters are reported
//   - cache: the pipeline cache whose hit rates are reported
//   - mgr: the resource manager whose holdings are reported
//   - tr: the tracker whose submission stats are reported
//   - interval: time between summary log lines, 1s when zero or negative
//
// Returns:
//   - *Profiler: the profiler, ready for per-frame Tick calls
func NewProfiler(drv driver.Driver, cache pipeline.Cache, mgr resource.Manager, tr submission.Tracker, interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		mu:          &sync.Mutex{},
		drv:         drv,
		cache:       cache,
		mgr:         mgr,
		tr:          tr,
		interval:    interval,
		windowStart: time.Now(),
	}
}

// Tick records one frame and logs the summary line when the interval has
// elapsed. The line carries frame pacing, heap and GC figures, and the
// device work done during the window.
//
// Returns:
//   - bool: true if the summary was logged this tick
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frames++
	p.windowFrames++
	elapsed := time.Since(p.windowStart)
	if elapsed < p.interval {
		return false
	}

	fps := float64(p.windowFrames) / elapsed.Seconds()
	frameMillis := elapsed.Seconds() * 1000 / float64(p.windowFrames)

	runtime.ReadMemStats(&p.memStats)
	heapMB := float64(p.memStats.Alloc) / (1 << 20)
	allocRateMB := float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / (1 << 20) / elapsed.Seconds()
	gcCount := p.memStats.NumGC
	lastPauseUs, maxPauseUs := p.pauseWindow(gcCount)

	counters := p.drv.Counters()
	cacheStats := p.cache.Stats()
	pool := p.mgr.Stats().Pool

	logging.Infof("fps %.1f, frame %.2f ms, heap %.1f MB, alloc %.1f MB/s, gc %d (last %d us, max %d us), submits %d, draws %d, copies %d, barriers %d, bind hits %d, pool reuses %d",
		fps, frameMillis, heapMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs,
		counters.Submissions-p.lastCounters.Submissions,
		counters.Draws-p.lastCounters.Draws,
		counters.BufferCopies-p.lastCounters.BufferCopies,
		counters.Barriers-p.lastCounters.Barriers,
		cacheStats.BindGroupHits, pool.Reuses)

	p.lastFPS = fps
	p.lastFrameMillis = frameMillis
	p.windowFrames = 0
	p.windowStart = time.Now()
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.lastCounters = counters
	return true
}

// pauseWindow reads the last GC pause and the longest pause since the
// previous log line out of the runtime's 256-entry pause ring. Caller
// holds the lock with memStats freshly read.
func (p *Profiler) pauseWindow(gcCount uint32) (lastUs, maxUs uint64) {
	if gcCount == 0 {
		return 0, 0
	}
	lastUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

	start := p.lastGCCount
	if gcCount-start > 256 {
		start = gcCount - 256
	}
	for i := start; i < gcCount; i++ {
		if pause := p.memStats.PauseNs[i%256] / 1000; pause > maxUs {
			maxUs = pause
		}
	}
	return lastUs, maxUs
}

// Stats returns a snapshot of the current figures. FPS and FrameMillis
// come from the last completed logging window, the component stats are
// read live.
//
// Returns:
//   - Stats: the snapshot
func (p *Profiler) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.ReadMemStats(&p.memStats)
	return Stats{
		FPS:         p.lastFPS,
		FrameMillis: p.lastFrameMillis,
		Frames:      p.frames,
		Driver:      p.drv.Counters(),
		Pipelines:   p.cache.Stats(),
		Resources:   p.mgr.Stats(),
		Submissions: p.tr.Stats(),
		HeapMB:      float64(p.memStats.Alloc) / (1 << 20),
		SysMB:       float64(p.memStats.Sys) / (1 << 20),
		GCCount:     p.memStats.NumGC,
	}
}
