// Package gfx ties the driver, resource manager, pipeline cache, command
// encoder and submission tracker together behind a single Context. A Context
// owns one device; independent Contexts coexist without shared state. The
// backend is chosen at creation and never changes afterward.
package gfx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/encoder"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/submission"
	"github.com/Carmen-Shannon/gfx-go/logging"
	"github.com/Carmen-Shannon/gfx-go/profiler"
	"github.com/cogentcore/webgpu/wgpu"
)

// context implements the Context interface.
type context struct {
	mu *sync.Mutex

	drv   driver.Driver
	mgr   resource.Manager
	cache pipeline.Cache
	tr    submission.Tracker
	prof  *profiler.Profiler

	// frame is the currently acquired frame, nil between frames.
	frame *Frame

	surfaceDescriptor    *wgpu.SurfaceDescriptor
	backend              driver.BackendType
	power                wgpu.PowerPreference
	forceFallbackAdapter bool
	presentMode          driver.PresentMode
	sampleCount          driver.MSAASampleCount
	framesInFlight       int
	bindGroupCapacity    int
	profileInterval      time.Duration
	initialWidth         uint32
	initialHeight        uint32

	shutdownOnce sync.Once
}

var _ Context = &context{}

// Context is the entry point for GPU work. It hands out the resource manager
// and pipeline cache, opens command buffers, and owns the presentation
// surface and device lifetime.
type Context interface {
	// Backend returns the backend type selected at creation.
	//
	// Returns:
	//   - driver.BackendType: the immutable backend type
	Backend() driver.BackendType

	// Caps returns the device capabilities discovered at creation.
	//
	// Returns:
	//   - driver.Caps: limits and feature support of the device
	Caps() driver.Caps

	// Resources returns the resource manager owning buffers, textures, views
	// and samplers created against this context's device.
	//
	// Returns:
	//   - resource.Manager: the resource manager
	Resources() resource.Manager

	// Pipelines returns the pipeline and bind group cache.
	//
	// Returns:
	//   - pipeline.Cache: the pipeline cache
	Pipelines() pipeline.Cache

	// Begin opens a command buffer for recording passes and copies.
	//
	// Parameters:
	//   - name: command buffer label for captures and error messages
	//
	// Returns:
	//   - encoder.CommandBuffer: the recording command buffer
	//   - error: an error if the device is lost
	Begin(name string) (encoder.CommandBuffer, error)

	// SyncBuffer stages the current bytes of a shared buffer for upload. The
	// upload is copied and fenced ahead of the next pass that binds the
	// buffer; buffers no pass binds cost nothing.
	//
	// Parameters:
	//   - b: a shared buffer handle
	//
	// Returns:
	//   - error: an error if the handle is stale or the buffer is device local
	SyncBuffer(b resource.Buffer) error

	// AcquireFrame blocks until the next surface frame is available and
	// registers its views with the resource manager. Only one frame may be
	// held at a time.
	//
	// Returns:
	//   - *Frame: the acquired frame
	//   - error: ErrSurfaceLost or ErrOutOfDate when the surface needs
	//     reconfiguration, ErrDeviceLost when the device is gone
	AcquireFrame() (*Frame, error)

	// Present shows the frame and destroys its view handles. Handles kept
	// past Present fail with ErrUseAfterDestroy. Presenting fails while a
	// recording or recorded command buffer still references the frame.
	//
	// Parameters:
	//   - f: the frame returned by the matching AcquireFrame
	//
	// Returns:
	//   - error: an error if f is not the held frame or is still referenced
	Present(f *Frame) error

	// Resize reconfigures the surface to the new size. Surface-sized
	// resources created by the caller are not touched; destroy and recreate
	// them after a resize. A held frame's views are invalidated and the next
	// AcquireFrame reports the new extent.
	//
	// Parameters:
	//   - width: new surface width in pixels, must be > 0
	//   - height: new surface height in pixels, must be > 0
	//
	// Returns:
	//   - error: an error if the context has no surface or the size is invalid
	Resize(width, height uint32) error

	// Stats returns a snapshot of frame timing, GPU work counters, cache and
	// resource statistics.
	//
	// Returns:
	//   - profiler.Stats: the aggregated snapshot
	Stats() profiler.Stats

	// Shutdown waits for in-flight work, drains deferred destroys and
	// releases the caches, the resource manager and the device. Safe to call
	// more than once; the context is unusable afterwards.
	Shutdown()
}

// New creates a Context with the provided options. Without options the
// context targets the WebGPU backend headless with VSync presentation and
// 4x MSAA; pass WithSurface and WithInitialSize to present to a window.
//
// Parameters:
//   - options: functional options for backend, surface and tuning configuration
//
// Returns:
//   - Context: the newly created context
//   - error: an error if no device is available or the initial surface
//     configuration fails
func New(options ...ContextBuilderOption) (Context, error) {
	c := &context{
		mu:          &sync.Mutex{},
		backend:     driver.BackendWebGPU,
		presentMode: driver.PresentModeVSync,
		sampleCount: driver.MSAA4x,
	}
	for _, opt := range options {
		opt(c)
	}

	var err error
	switch c.backend {
	case driver.BackendNull:
		c.drv = driver.NewNull()
	default:
		c.drv, err = driver.NewWGPU(c.surfaceDescriptor, c.forceFallbackAdapter, c.power)
		if err != nil {
			return nil, fmt.Errorf("failed to create wgpu driver: %w", err)
		}
	}

	c.mgr = resource.NewManager(c.drv)
	c.cache = pipeline.NewCache(c.drv, c.mgr, c.bindGroupCapacity)
	c.mgr.SetInvalidator(c.cache)
	c.tr = submission.NewTracker(c.drv, c.mgr, c.framesInFlight)
	c.mgr.SetTracker(c.tr)
	c.prof = profiler.NewProfiler(c.drv, c.cache, c.mgr, c.tr, c.profileInterval)

	if c.initialWidth > 0 && c.initialHeight > 0 {
		if err := c.configureSurface(c.initialWidth, c.initialHeight); err != nil {
			c.tr.Release()
			c.cache.Release()
			c.mgr.Release()
			c.drv.Release()
			return nil, fmt.Errorf("failed to configure initial surface: %w", err)
		}
	}

	logging.Debugf("context ready, backend %d", c.backend)
	return c, nil
}

func (c *context) Backend() driver.BackendType {
	return c.drv.Backend()
}

func (c *context) Caps() driver.Caps {
	return c.drv.Caps()
}

func (c *context) Resources() resource.Manager {
	return c.mgr
}

func (c *context) Pipelines() pipeline.Cache {
	return c.cache
}

func (c *context) Begin(name string) (encoder.CommandBuffer, error) {
	return encoder.NewCommandBuffer(name, c.drv, c.mgr, c.cache, c.tr)
}

func (c *context) SyncBuffer(b resource.Buffer) error {
	return c.mgr.SyncBuffer(b)
}

func (c *context) AcquireFrame() (*Frame, error) {
	if err := c.tr.WaitFrameSlot(); err != nil {
		return nil, fmt.Errorf("failed to wait for a frame slot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil {
		return nil, errors.New("previous frame not yet presented")
	}

	st, err := c.drv.Surface()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire frame: %w", err)
	}
	df, err := c.drv.AcquireFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire frame: %w", err)
	}

	f, err := c.importFrameViews(df, st)
	if err != nil {
		_ = c.drv.Present()
		return nil, fmt.Errorf("failed to register frame views: %w", err)
	}
	c.frame = f
	return f, nil
}

// importFrameViews wraps the frame's driver views in manager handles so
// passes can bind them like any other view. The handles live until Present.
func (c *context) importFrameViews(df driver.Frame, st driver.SurfaceState) (*Frame, error) {
	width, height := df.Size()
	f := &Frame{width: width, height: height, samples: st.Samples}

	var err error
	if f.View, err = c.mgr.ImportView("Frame Color View", df.View()); err != nil {
		return nil, err
	}
	if st.MSAAView != nil {
		if f.MSAAView, err = c.mgr.ImportView("Frame MSAA View", st.MSAAView); err != nil {
			_ = c.releaseFrameLocked(f)
			return nil, err
		}
	}
	if st.DepthView != nil {
		if f.DepthView, err = c.mgr.ImportView("Frame Depth View", st.DepthView); err != nil {
			_ = c.releaseFrameLocked(f)
			return nil, err
		}
	}
	return f, nil
}

// releaseFrameLocked destroys the frame's imported view handles, marking
// each as it goes so a retry after a failure skips the ones already gone.
func (c *context) releaseFrameLocked(f *Frame) error {
	views := [...]resource.View{f.View, f.MSAAView, f.DepthView}
	for i, v := range views {
		if f.released[i] || v.IsZero() {
			continue
		}
		if err := c.mgr.DestroyView(v); err != nil {
			return err
		}
		f.released[i] = true
	}
	return nil
}

func (c *context) Present(f *Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", driver.ErrInvalidDescriptor)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame == nil {
		return errors.New("no frame acquired to present")
	}
	if c.frame != f {
		return fmt.Errorf("%w: frame is not the currently acquired frame", driver.ErrInvalidDescriptor)
	}

	// Retire the frame's view handles first. A recording or recorded command
	// buffer that still references them blocks the present instead of
	// racing the swapchain.
	if err := c.releaseFrameLocked(f); err != nil {
		return fmt.Errorf("frame is still referenced: %w", err)
	}

	if err := c.drv.Present(); err != nil {
		c.frame = nil
		return fmt.Errorf("failed to present frame: %w", err)
	}
	c.frame = nil
	c.tr.MarkFrame()
	c.prof.Tick()
	return nil
}

func (c *context) Resize(width, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil {
		if err := c.releaseFrameLocked(c.frame); err != nil {
			return fmt.Errorf("frame is still referenced: %w", err)
		}
		c.frame = nil
	}
	if err := c.configureSurface(width, height); err != nil {
		return fmt.Errorf("failed to resize surface to %dx%d: %w", width, height, err)
	}
	return nil
}

// configureSurface sizes the surface and refreshes the cache's default
// target formats from the resulting configuration.
func (c *context) configureSurface(width, height uint32) error {
	if err := c.drv.ConfigureSurface(width, height, c.presentMode, c.sampleCount); err != nil {
		return err
	}
	st, err := c.drv.Surface()
	if err != nil {
		return err
	}
	c.cache.SetTargets(pipeline.Targets{
		ColorFormats: []wgpu.TextureFormat{st.Format},
		DepthFormat:  st.DepthFormat,
		Samples:      st.Samples,
	})
	return nil
}

func (c *context) Stats() profiler.Stats {
	return c.prof.Stats()
}

func (c *context) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		if c.frame != nil {
			// Best effort; anything still referencing the frame is about to
			// be flushed and released anyway.
			_ = c.releaseFrameLocked(c.frame)
			c.frame = nil
		}
		c.mu.Unlock()

		if err := c.tr.Flush(); err != nil {
			logging.Warnf("flush during shutdown: %v", err)
		}
		c.tr.Release()
		c.cache.Release()
		c.mgr.Release()
		c.drv.Release()
		logging.Debug("context shut down")
	})
}
