package gfx

import "github.com/Carmen-Shannon/gfx-go/gfx/driver"

// Sentinel errors re-exported from the driver package so callers can match
// with errors.Is without importing backend internals. Every error returned
// by a Context or its subsystems wraps one of these.
var (
	// ErrInvalidDescriptor reports a malformed creation descriptor.
	ErrInvalidDescriptor = driver.ErrInvalidDescriptor

	// ErrOutOfMemory reports that the device could not allocate a resource.
	ErrOutOfMemory = driver.ErrOutOfMemory

	// ErrShaderLink reports that pipeline stages could not be linked.
	ErrShaderLink = driver.ErrShaderLink

	// ErrUnsupportedFeature reports a request the selected backend cannot do.
	ErrUnsupportedFeature = driver.ErrUnsupportedFeature

	// ErrSurfaceLost reports that the presentation surface is gone and must
	// be recreated. Recoverable.
	ErrSurfaceLost = driver.ErrSurfaceLost

	// ErrOutOfDate reports that the surface no longer matches the window and
	// needs a Resize. Recoverable.
	ErrOutOfDate = driver.ErrOutOfDate

	// ErrDeviceLost reports that the device itself is gone. Fatal to the
	// Context; shut it down and create a new one.
	ErrDeviceLost = driver.ErrDeviceLost

	// ErrUseAfterDestroy reports an operation against a destroyed resource,
	// or destroying a resource a recording command buffer still references.
	ErrUseAfterDestroy = driver.ErrUseAfterDestroy
)
