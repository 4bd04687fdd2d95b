package gfx

import (
	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/encoder"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/cogentcore/webgpu/wgpu"
)

// Frame is one acquired surface frame. Its view handles are registered with
// the context's resource manager for the lifetime of the frame; Present
// destroys them, so handles kept past Present fail with ErrUseAfterDestroy
// and bind groups referencing them are evicted from the cache.
type Frame struct {
	// View is the surface color view. Render into it directly when MSAA is
	// off; with MSAA on it is the resolve target.
	View resource.View

	// MSAAView is the multisampled color view when the surface was
	// configured with MSAA, zero otherwise.
	MSAAView resource.View

	// DepthView is the depth attachment view sized to the surface.
	DepthView resource.View

	width   uint32
	height  uint32
	samples uint32

	// released marks which of View, MSAAView and DepthView were already
	// destroyed, so a Present retried after a failure skips them.
	released [3]bool
}

// Size returns the frame dimensions in pixels.
//
// Returns:
//   - width: frame width in pixels
//   - height: frame height in pixels
func (f *Frame) Size() (width, height uint32) {
	return f.width, f.height
}

// ColorAttachment builds the color attachment for a pass rendering to this
// frame. With MSAA on, the pass draws into the multisampled view and
// resolves into the surface view.
//
// Parameters:
//   - load: whether the attachment is cleared or preserved at pass start
//   - store: whether results are kept or discarded at pass end
//   - clear: the clear color used when load is LoadOpClear
//
// Returns:
//   - encoder.ColorAttachment: the attachment referencing the frame's views
func (f *Frame) ColorAttachment(load driver.LoadOp, store driver.StoreOp, clear wgpu.Color) encoder.ColorAttachment {
	if f.samples > 1 {
		return encoder.ColorAttachment{
			View:    f.MSAAView,
			Resolve: f.View,
			Load:    load,
			Store:   store,
			Clear:   clear,
		}
	}
	return encoder.ColorAttachment{
		View:  f.View,
		Load:  load,
		Store: store,
		Clear: clear,
	}
}

// DepthAttachment builds the depth attachment for a pass rendering to this
// frame.
//
// Parameters:
//   - load: whether depth is cleared or preserved at pass start
//   - store: whether depth results are kept or discarded at pass end
//   - clearDepth: the clear value used when load is LoadOpClear
//
// Returns:
//   - encoder.DepthAttachment: the attachment referencing the frame's depth view
func (f *Frame) DepthAttachment(load driver.LoadOp, store driver.StoreOp, clearDepth float32) *encoder.DepthAttachment {
	return &encoder.DepthAttachment{
		View:       f.DepthView,
		Load:       load,
		Store:      store,
		ClearDepth: clearDepth,
	}
}
