package gfx

import (
	"time"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/cogentcore/webgpu/wgpu"
)

// ContextBuilderOption is a functional option applied to a context during construction via New.
type ContextBuilderOption func(*context)

// WithBackend selects the backend the context is created against. The
// backend is immutable once the context exists. Defaults to BackendWebGPU.
//
// Parameters:
//   - backend: the driver.BackendType to use (BackendWebGPU or BackendNull)
//
// Returns:
//   - ContextBuilderOption: a function that applies the backend option to a context
func WithBackend(backend driver.BackendType) ContextBuilderOption {
	return func(c *context) {
		c.backend = backend
	}
}

// WithSurface sets the platform surface the context presents into. Without
// it the context is headless and AcquireFrame fails with ErrSurfaceLost.
//
// Parameters:
//   - sd: the surface descriptor, typically from SurfaceFromGLFW
//
// Returns:
//   - ContextBuilderOption: a function that applies the surface option to a context
func WithSurface(sd *wgpu.SurfaceDescriptor) ContextBuilderOption {
	return func(c *context) {
		c.surfaceDescriptor = sd
	}
}

// WithInitialSize configures the surface to the given size during New, so
// the first AcquireFrame needs no prior Resize.
//
// Parameters:
//   - width: initial surface width in pixels
//   - height: initial surface height in pixels
//
// Returns:
//   - ContextBuilderOption: a function that applies the initial size option to a context
func WithInitialSize(width, height uint32) ContextBuilderOption {
	return func(c *context) {
		c.initialWidth = width
		c.initialHeight = height
	}
}

// WithPresentMode sets the surface present mode which controls how frames
// are delivered to the display. Defaults to PresentModeVSync.
//
// Parameters:
//   - mode: the driver.PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - ContextBuilderOption: a function that applies the present mode option to a context
func WithPresentMode(mode driver.PresentMode) ContextBuilderOption {
	return func(c *context) {
		c.presentMode = mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count for the surface.
// When not specified, the default is MSAA4x. Use MSAAOff to disable MSAA
// entirely. Higher values (MSAA8x, MSAA16x) are adapter-dependent and may
// not be supported by all hardware.
//
// Parameters:
//   - count: the driver.MSAASampleCount to use (MSAAOff, MSAA4x, MSAA8x, or MSAA16x)
//
// Returns:
//   - ContextBuilderOption: a function that applies the MSAA option to a context
func WithMSAA(count driver.MSAASampleCount) ContextBuilderOption {
	return func(c *context) {
		c.sampleCount = count
	}
}

// WithFramesInFlight caps how many presented frames may be outstanding on
// the device before AcquireFrame blocks. Defaults to 2.
//
// Parameters:
//   - n: the frame pipelining depth, <= 0 for the default
//
// Returns:
//   - ContextBuilderOption: a function that applies the frames in flight option to a context
func WithFramesInFlight(n int) ContextBuilderOption {
	return func(c *context) {
		c.framesInFlight = n
	}
}

// WithForceFallbackAdapter forces WGPU to use a CPU/software fallback
// adapter instead of hardware GPU acceleration. This requires a software
// Vulkan ICD to be installed on the system (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - ContextBuilderOption: a function that applies the fallback adapter option to a context
func WithForceFallbackAdapter(force bool) ContextBuilderOption {
	return func(c *context) {
		c.forceFallbackAdapter = force
	}
}

// WithPowerPreference asks the platform for a low power or high performance
// adapter. The zero value lets the platform decide.
//
// Parameters:
//   - p: the wgpu.PowerPreference to request
//
// Returns:
//   - ContextBuilderOption: a function that applies the power preference option to a context
func WithPowerPreference(p wgpu.PowerPreference) ContextBuilderOption {
	return func(c *context) {
		c.power = p
	}
}

// WithBindGroupCapacity sets the bind group LRU cache capacity. Defaults
// to 256.
//
// Parameters:
//   - n: the maximum number of cached bind groups, <= 0 for the default
//
// Returns:
//   - ContextBuilderOption: a function that applies the bind group capacity option to a context
func WithBindGroupCapacity(n int) ContextBuilderOption {
	return func(c *context) {
		c.bindGroupCapacity = n
	}
}

// WithProfileInterval sets how often the profiler writes its frame timing
// summary to the log. Defaults to one second.
//
// Parameters:
//   - interval: time between profiler log lines, <= 0 for the default
//
// Returns:
//   - ContextBuilderOption: a function that applies the profile interval option to a context
func WithProfileInterval(interval time.Duration) ContextBuilderOption {
	return func(c *context) {
		c.profileInterval = interval
	}
}
