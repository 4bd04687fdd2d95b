package driver

import "errors"

// Sentinel errors shared across backends. Wrapped errors returned by any
// layer above the driver satisfy errors.Is against these.
var (
	// ErrInvalidDescriptor reports a malformed creation descriptor, such as a
	// zero-sized buffer or a texture larger than the backend supports.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrOutOfMemory reports that the device could not allocate a resource.
	ErrOutOfMemory = errors.New("out of device memory")

	// ErrShaderLink reports that pipeline stages could not be linked, such as
	// vertex outputs not matching fragment inputs.
	ErrShaderLink = errors.New("shader link failed")

	// ErrUnsupportedFeature reports a descriptor asking for something the
	// selected backend cannot do, such as an MSAA sample count the adapter
	// does not offer.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrSurfaceLost reports that the presentation surface is gone and must
	// be recreated by the caller. Recoverable.
	ErrSurfaceLost = errors.New("surface lost")

	// ErrOutOfDate reports that the surface no longer matches the window and
	// must be reconfigured, typically after a resize. Recoverable.
	ErrOutOfDate = errors.New("surface out of date")

	// ErrDeviceLost reports that the device itself is gone. Fatal; the only
	// safe response is to shut down and create a new context.
	ErrDeviceLost = errors.New("device lost")

	// ErrUseAfterDestroy reports an operation against a handle whose resource
	// was destroyed, or a destroy of a resource a still-recording command
	// buffer references.
	ErrUseAfterDestroy = errors.New("use after destroy")
)
