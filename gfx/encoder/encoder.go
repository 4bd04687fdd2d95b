// Package encoder records render and compute passes against resource
// handles. Pass bodies are recorded first and encoded at End, which is when
// the encoder knows every buffer the pass binds: staged shared-buffer
// updates for exactly those buffers are copied and fenced ahead of the pass,
// so resources a pass never touches cost nothing.
package encoder

import (
	"fmt"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/submission"
	"github.com/cogentcore/webgpu/wgpu"
)

// ColorAttachment is one color target of a render pass.
type ColorAttachment struct {
	// View is the texture view rendered into.
	View resource.View

	// Resolve is the single-sampled view MSAA results resolve into, zero
	// when View is single-sampled.
	Resolve resource.View

	// Load selects whether the attachment is cleared or preserved at pass
	// start.
	Load driver.LoadOp

	// Store selects whether results are kept or discarded at pass end.
	Store driver.StoreOp

	// Clear is the clear color used when Load is LoadOpClear.
	Clear wgpu.Color
}

// DepthAttachment is the depth target of a render pass.
type DepthAttachment struct {
	// View is the depth texture view.
	View resource.View

	// Load selects whether depth is cleared or preserved at pass start.
	Load driver.LoadOp

	// Store selects whether depth results are kept or discarded at pass end.
	Store driver.StoreOp

	// ClearDepth is the clear value used when Load is LoadOpClear.
	ClearDepth float32
}

// RenderDesc names a render pass and lists its attachments.
type RenderDesc struct {
	// Label names the pass in captures and error messages.
	Label string

	// Colors are the color attachments, at least one.
	Colors []ColorAttachment

	// Depth is the optional depth attachment.
	Depth *DepthAttachment
}

// CommandBuffer records passes and copies in the order they will execute.
// Recording is not safe for concurrent use; one goroutine records one
// command buffer. Destroying a resource a recorded pass references fails
// until the command buffer is submitted or discarded.
type CommandBuffer interface {
	// Label returns the command buffer name.
	Label() string

	// State returns the command buffer's lifecycle state.
	State() submission.State

	// BeginRender opens a render pass over the given attachments. The
	// previous pass must be ended first.
	//
	// Parameters:
	//   - desc: pass name and attachments
	//
	// Returns:
	//   - RenderPass: the open pass recorder
	//   - error: if a pass is open, an attachment view is destroyed, or the
	//     descriptor has no color attachments
	BeginRender(desc RenderDesc) (RenderPass, error)

	// BeginCompute opens a compute pass. The previous pass must be ended
	// first.
	//
	// Parameters:
	//   - label: pass name for captures and error messages
	//
	// Returns:
	//   - ComputePass: the open pass recorder
	//   - error: if a pass is already open
	BeginCompute(label string) (ComputePass, error)

	// CopyBufferToBuffer records a copy between buffers, outside any pass.
	//
	// Parameters:
	//   - src: source buffer
	//   - srcOffset: byte offset into src
	//   - dst: destination buffer
	//   - dstOffset: byte offset into dst
	//   - size: bytes to copy
	//
	// Returns:
	//   - error: if a pass is open, a handle is destroyed, or a range is
	//     out of bounds
	CopyBufferToBuffer(src resource.Buffer, srcOffset uint64, dst resource.Buffer, dstOffset, size uint64) error

	// Finish ends recording. No further passes or copies may be recorded.
	//
	// Returns:
	//   - error: if a pass is still open or recording already failed
	Finish() error

	// Submit hands the finished command buffer to the GPU queue.
	//
	// Returns:
	//   - uint64: the submission serial
	//   - error: if the command buffer is not finished or the queue rejects it
	Submit() (uint64, error)

	// Discard drops the command buffer without submitting it, releasing its
	// resource references.
	Discard()
}

type commandBuffer struct {
	label string
	drv   driver.Driver
	mgr   resource.Manager
	cache pipeline.Cache
	tr    submission.Tracker

	tk   *submission.Ticket
	dcb  driver.CmdBuffer
	caps driver.Caps

	// written holds buffers stored to by earlier passes in this command
	// buffer, pending a barrier before the next pass that binds them.
	written map[resource.Buffer]driver.Buffer
	spent   []driver.Buffer

	passOpen bool
	err      error
}

var _ CommandBuffer = &commandBuffer{}

// NewCommandBuffer opens a command buffer for recording.
//
// Parameters:
//   - label: the command buffer name, used in errors and logs
//   - drv: the driver work is recorded against
//   - mgr: the manager pass resources resolve through
//   - cache: the pipeline and bind group cache passes draw with
//   - tr: the tracker that owns the command buffer's lifecycle
//
// Returns:
//   - CommandBuffer: the recording command buffer
//   - error: if the device is lost
func NewCommandBuffer(label string, drv driver.Driver, mgr resource.Manager, cache pipeline.Cache, tr submission.Tracker) (CommandBuffer, error) {
	dcb, err := drv.NewCmdBuffer(label)
	if err != nil {
		return nil, fmt.Errorf("failed to open command buffer %q: %w", label, err)
	}
	return &commandBuffer{
		label:   label,
		drv:     drv,
		mgr:     mgr,
		cache:   cache,
		tr:      tr,
		tk:      tr.Open(label),
		dcb:     dcb,
		caps:    drv.Caps(),
		written: make(map[resource.Buffer]driver.Buffer),
	}, nil
}

func (c *commandBuffer) Label() string {
	return c.label
}

func (c *commandBuffer) State() submission.State {
	return c.tk.State()
}

func (c *commandBuffer) BeginRender(desc RenderDesc) (RenderPass, error) {
	if err := c.recordable(); err != nil {
		return nil, err
	}
	if len(desc.Colors) == 0 {
		return nil, fmt.Errorf("%w: render pass %q has no color attachments", driver.ErrInvalidDescriptor, desc.Label)
	}

	d := driver.RenderPassDesc{Label: desc.Label}
	for i, att := range desc.Colors {
		c.tr.Use(c.tk, att.View.Handle())
		view, err := c.mgr.ResolveView(att.View)
		if err != nil {
			return nil, fmt.Errorf("render pass %q color attachment %d: %w", desc.Label, i, err)
		}
		target := driver.ColorTarget{
			View:  view,
			Load:  att.Load,
			Store: att.Store,
			Clear: att.Clear,
		}
		if !att.Resolve.IsZero() {
			c.tr.Use(c.tk, att.Resolve.Handle())
			rv, err := c.mgr.ResolveView(att.Resolve)
			if err != nil {
				return nil, fmt.Errorf("render pass %q resolve attachment %d: %w", desc.Label, i, err)
			}
			target.Resolve = rv
		}
		d.Targets = append(d.Targets, target)
	}
	if desc.Depth != nil {
		c.tr.Use(c.tk, desc.Depth.View.Handle())
		dv, err := c.mgr.ResolveView(desc.Depth.View)
		if err != nil {
			return nil, fmt.Errorf("render pass %q depth attachment: %w", desc.Label, err)
		}
		d.Depth = &driver.DepthTarget{
			View:       dv,
			Load:       desc.Depth.Load,
			Store:      desc.Depth.Store,
			ClearDepth: desc.Depth.ClearDepth,
		}
	}

	c.passOpen = true
	return &renderPass{
		cb:    c,
		desc:  d,
		bound: make(map[resource.Buffer]struct{}),
	}, nil
}

func (c *commandBuffer) BeginCompute(label string) (ComputePass, error) {
	if err := c.recordable(); err != nil {
		return nil, err
	}

	c.passOpen = true
	return &computePass{
		cb:    c,
		label: label,
		bound: make(map[resource.Buffer]struct{}),
	}, nil
}

func (c *commandBuffer) CopyBufferToBuffer(src resource.Buffer, srcOffset uint64, dst resource.Buffer, dstOffset, size uint64) error {
	if err := c.recordable(); err != nil {
		return err
	}

	c.tr.Use(c.tk, src.Handle(), dst.Handle())
	srcGPU, err := c.mgr.ResolveBuffer(src)
	if err != nil {
		return err
	}
	dstGPU, err := c.mgr.ResolveBuffer(dst)
	if err != nil {
		return err
	}
	if err := c.dcb.CopyBufferToBuffer(srcGPU, srcOffset, dstGPU, dstOffset, size); err != nil {
		return err
	}
	c.written[dst] = dstGPU
	return nil
}

func (c *commandBuffer) Finish() error {
	if c.err != nil {
		return c.err
	}
	if c.passOpen {
		return fmt.Errorf("%w: command buffer %q has an open pass, end it before finishing", driver.ErrInvalidDescriptor, c.label)
	}
	if err := c.dcb.Finish(); err != nil {
		return c.fail(err)
	}
	return c.tr.MarkRecorded(c.tk)
}

func (c *commandBuffer) Submit() (uint64, error) {
	if c.err != nil {
		return 0, c.err
	}
	serial, err := c.tr.Submit(c.tk, c.dcb, c.spent)
	if err != nil {
		return 0, err
	}
	c.spent = nil
	c.dcb.Release()
	return serial, nil
}

func (c *commandBuffer) Discard() {
	c.tr.Discard(c.tk, c.spent)
	c.spent = nil
	c.dcb.Release()
}

// recordable rejects recording once a pass is open, recording failed, or
// the command buffer left the recording state.
func (c *commandBuffer) recordable() error {
	if c.err != nil {
		return c.err
	}
	if c.passOpen {
		return fmt.Errorf("%w: command buffer %q already has an open pass", driver.ErrInvalidDescriptor, c.label)
	}
	if s := c.tk.State(); s != submission.StateRecording {
		return fmt.Errorf("%w: command buffer %q is %s", driver.ErrInvalidDescriptor, c.label, s)
	}
	return nil
}

// fail latches the first unrecoverable recording error. The command buffer
// refuses further work and can only be discarded.
func (c *commandBuffer) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	c.passOpen = false
	return err
}

// flushSyncsFor copies staged shared-buffer updates whose targets the next
// pass binds, with a barrier per buffer, ahead of the pass itself. Updates
// for unbound buffers stay pending.
func (c *commandBuffer) flushSyncsFor(bound map[resource.Buffer]struct{}) error {
	syncs := c.mgr.TakeSyncs(func(b resource.Buffer) bool {
		_, ok := bound[b]
		return ok
	})
	for i, s := range syncs {
		if err := c.dcb.CopyBufferToBuffer(s.Staging, 0, s.Dst, 0, s.Size); err != nil {
			unrecorded := make([]driver.Buffer, 0, len(syncs)-i)
			for _, rest := range syncs[i:] {
				unrecorded = append(unrecorded, rest.Staging)
			}
			c.mgr.RecycleStaging(unrecorded)
			return err
		}
		c.dcb.Barrier(s.Dst)
		c.spent = append(c.spent, s.Staging)
	}
	return nil
}

// barrierHazardsFor fences buffers written by earlier passes in this
// command buffer that the next pass binds.
func (c *commandBuffer) barrierHazardsFor(bound map[resource.Buffer]struct{}) {
	for b := range bound {
		if gpu, ok := c.written[b]; ok {
			c.dcb.Barrier(gpu)
			delete(c.written, b)
		}
	}
}

// noteWrites records the buffers a finished pass stored to, resolving them
// while the ticket still pins their handles.
func (c *commandBuffer) noteWrites(writes []resource.Buffer) error {
	for _, b := range writes {
		gpu, err := c.mgr.ResolveBuffer(b)
		if err != nil {
			return err
		}
		c.written[b] = gpu
	}
	return nil
}
