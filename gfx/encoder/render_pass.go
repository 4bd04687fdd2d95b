package encoder

import (
	"fmt"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/cogentcore/webgpu/wgpu"
)

// RenderPass records draws against an open render pass. Every call
// validates its handles when made, the driver pass itself is encoded at
// End.
type RenderPass interface {
	// SetPipeline selects the render pipeline for subsequent draws,
	// compiling it on first use.
	//
	// Parameters:
	//   - p: the render pipeline
	//
	// Returns:
	//   - error: if the pipeline is a compute pipeline or fails to compile
	SetPipeline(p pipeline.Pipeline) error

	// SetBindGroup binds resources for one group index of the current
	// pipeline. The group is served from the bind group cache when the same
	// bindings were seen before.
	//
	// Parameters:
	//   - group: the bind group index
	//   - bindings: the resources for each binding index
	//   - dynamicOffsets: offsets for dynamic buffer bindings, in binding
	//     order
	//
	// Returns:
	//   - error: if no pipeline is set, a handle is destroyed, or the
	//     bindings do not match the pipeline's layout
	SetBindGroup(group uint32, bindings []pipeline.Binding, dynamicOffsets ...uint32) error

	// SetVertexBuffer binds a vertex buffer range to a slot.
	//
	// Parameters:
	//   - slot: the vertex buffer slot
	//   - b: the buffer to bind
	//   - offset: byte offset into the buffer
	//   - size: bytes bound, 0 for the rest of the buffer
	//
	// Returns:
	//   - error: if the handle is destroyed
	SetVertexBuffer(slot uint32, b resource.Buffer, offset, size uint64) error

	// SetIndexBuffer binds the index buffer.
	//
	// Parameters:
	//   - b: the buffer to bind
	//   - format: the index element format
	//   - offset: byte offset into the buffer
	//   - size: bytes bound, 0 for the rest of the buffer
	//
	// Returns:
	//   - error: if the handle is destroyed
	SetIndexBuffer(b resource.Buffer, format wgpu.IndexFormat, offset, size uint64) error

	// Draw records a non-indexed draw.
	//
	// Parameters:
	//   - vertexCount: vertices per instance
	//   - instanceCount: instances to draw
	//   - firstVertex: index of the first vertex
	//   - firstInstance: index of the first instance
	//
	// Returns:
	//   - error: if no pipeline is set
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error

	// DrawIndexed records an indexed draw using the bound index buffer.
	//
	// Parameters:
	//   - indexCount: indices per instance
	//   - instanceCount: instances to draw
	//   - firstIndex: index of the first index
	//   - baseVertex: value added to each index
	//   - firstInstance: index of the first instance
	//
	// Returns:
	//   - error: if no pipeline is set or no index buffer is bound
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error

	// DrawIndirect records a draw whose arguments the device reads from a
	// buffer.
	//
	// Parameters:
	//   - b: the buffer holding the draw arguments
	//   - offset: byte offset of the arguments
	//
	// Returns:
	//   - error: if the device lacks indirect draw support, no pipeline is
	//     set, or the handle is destroyed
	DrawIndirect(b resource.Buffer, offset uint64) error

	// End encodes the pass: pending shared-buffer syncs for bound buffers
	// are copied and fenced first, then the recorded calls replay in order.
	//
	// Returns:
	//   - error: if the pass already ended or encoding fails
	End() error
}

type renderPass struct {
	cb   *commandBuffer
	desc driver.RenderPassDesc

	ops    []func(driver.RenderPass)
	bound  map[resource.Buffer]struct{}
	writes []resource.Buffer

	current  pipeline.Pipeline
	hasIndex bool
	ended    bool
}

var _ RenderPass = &renderPass{}

func (r *renderPass) SetPipeline(p pipeline.Pipeline) error {
	if err := r.open(); err != nil {
		return err
	}
	if p.Type() != pipeline.PipelineTypeRender {
		return fmt.Errorf("%w: pipeline %q is not a render pipeline", driver.ErrInvalidDescriptor, p.Key())
	}
	compiled, err := r.cb.cache.Resolve(p)
	if err != nil {
		return err
	}
	r.current = p
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.SetPipeline(compiled)
	})
	return nil
}

func (r *renderPass) SetBindGroup(group uint32, bindings []pipeline.Binding, dynamicOffsets ...uint32) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.current == nil {
		return fmt.Errorf("%w: set a pipeline before bind groups", driver.ErrInvalidDescriptor)
	}
	bg, err := r.cb.cache.Bind(r.current, group, bindings)
	if err != nil {
		return err
	}
	r.cb.tr.Use(r.cb.tk, bg.Handles...)
	for _, b := range bg.ReadBuffers {
		r.bound[b] = struct{}{}
	}
	for _, b := range bg.WriteBuffers {
		r.bound[b] = struct{}{}
		r.writes = append(r.writes, b)
	}
	offsets := append([]uint32(nil), dynamicOffsets...)
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.SetBindGroup(group, bg.Group, offsets)
	})
	return nil
}

func (r *renderPass) SetVertexBuffer(slot uint32, b resource.Buffer, offset, size uint64) error {
	if err := r.open(); err != nil {
		return err
	}
	r.cb.tr.Use(r.cb.tk, b.Handle())
	gpu, err := r.cb.mgr.ResolveBuffer(b)
	if err != nil {
		return err
	}
	r.bound[b] = struct{}{}
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.SetVertexBuffer(slot, gpu, offset, size)
	})
	return nil
}

func (r *renderPass) SetIndexBuffer(b resource.Buffer, format wgpu.IndexFormat, offset, size uint64) error {
	if err := r.open(); err != nil {
		return err
	}
	r.cb.tr.Use(r.cb.tk, b.Handle())
	gpu, err := r.cb.mgr.ResolveBuffer(b)
	if err != nil {
		return err
	}
	r.bound[b] = struct{}{}
	r.hasIndex = true
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.SetIndexBuffer(gpu, format, offset, size)
	})
	return nil
}

func (r *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.current == nil {
		return fmt.Errorf("%w: set a pipeline before drawing", driver.ErrInvalidDescriptor)
	}
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	})
	return nil
}

func (r *renderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.current == nil {
		return fmt.Errorf("%w: set a pipeline before drawing", driver.ErrInvalidDescriptor)
	}
	if !r.hasIndex {
		return fmt.Errorf("%w: bind an index buffer before indexed draws", driver.ErrInvalidDescriptor)
	}
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	})
	return nil
}

func (r *renderPass) DrawIndirect(b resource.Buffer, offset uint64) error {
	if err := r.open(); err != nil {
		return err
	}
	if !r.cb.caps.IndirectDraw {
		return fmt.Errorf("%w: device has no indirect draw support", driver.ErrUnsupportedFeature)
	}
	if r.current == nil {
		return fmt.Errorf("%w: set a pipeline before drawing", driver.ErrInvalidDescriptor)
	}
	r.cb.tr.Use(r.cb.tk, b.Handle())
	gpu, err := r.cb.mgr.ResolveBuffer(b)
	if err != nil {
		return err
	}
	r.bound[b] = struct{}{}
	r.ops = append(r.ops, func(rp driver.RenderPass) {
		rp.DrawIndirect(gpu, offset)
	})
	return nil
}

func (r *renderPass) End() error {
	if r.ended {
		return fmt.Errorf("%w: render pass %q already ended", driver.ErrInvalidDescriptor, r.desc.Label)
	}
	r.ended = true
	if r.cb.err != nil {
		return r.cb.err
	}

	if err := r.cb.flushSyncsFor(r.bound); err != nil {
		return r.cb.fail(err)
	}
	r.cb.barrierHazardsFor(r.bound)

	rp, err := r.cb.dcb.BeginRenderPass(r.desc)
	if err != nil {
		return r.cb.fail(err)
	}
	for _, op := range r.ops {
		op(rp)
	}
	if err := rp.End(); err != nil {
		return r.cb.fail(err)
	}
	if err := r.cb.noteWrites(r.writes); err != nil {
		return r.cb.fail(err)
	}
	r.cb.passOpen = false
	return nil
}

func (r *renderPass) open() error {
	if r.ended {
		return fmt.Errorf("%w: render pass %q already ended", driver.ErrInvalidDescriptor, r.desc.Label)
	}
	return r.cb.err
}
