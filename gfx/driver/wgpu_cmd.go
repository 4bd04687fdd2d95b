package driver

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuCmdBuffer struct {
	drv      *wgpuDriverImpl
	label    string
	encoder  *wgpu.CommandEncoder
	finished *wgpu.CommandBuffer
	passOpen bool
}

var _ CmdBuffer = &wgpuCmdBuffer{}

func (c *wgpuCmdBuffer) Label() string {
	return c.label
}

func (c *wgpuCmdBuffer) BeginRenderPass(desc RenderPassDesc) (RenderPass, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished != nil {
		return nil, fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return nil, fmt.Errorf("command buffer %q already has an open pass", c.label)
	}
	if len(desc.Targets) == 0 {
		return nil, fmt.Errorf("%w: render pass %q has no color targets", ErrInvalidDescriptor, desc.Label)
	}

	attachments := make([]wgpu.RenderPassColorAttachment, len(desc.Targets))
	for i, t := range desc.Targets {
		view, ok := t.View.(*wgpuTextureView)
		if !ok || view == nil {
			return nil, fmt.Errorf("%w: render pass %q target %d has no view", ErrInvalidDescriptor, desc.Label, i)
		}
		attachment := wgpu.RenderPassColorAttachment{
			View:       view.view,
			LoadOp:     toWGPULoadOp(t.Load),
			StoreOp:    toWGPUStoreOp(t.Store),
			ClearValue: t.Clear,
		}
		if t.Resolve != nil {
			resolve, ok := t.Resolve.(*wgpuTextureView)
			if !ok {
				return nil, fmt.Errorf("%w: render pass %q target %d resolve belongs to another backend", ErrInvalidDescriptor, desc.Label, i)
			}
			attachment.ResolveTarget = resolve.view
		}
		attachments[i] = attachment
	}

	rpDesc := &wgpu.RenderPassDescriptor{
		Label:            desc.Label,
		ColorAttachments: attachments,
	}
	if desc.Depth != nil {
		depthView, ok := desc.Depth.View.(*wgpuTextureView)
		if !ok || depthView == nil {
			return nil, fmt.Errorf("%w: render pass %q has no depth view", ErrInvalidDescriptor, desc.Label)
		}
		rpDesc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            depthView.view,
			DepthLoadOp:     toWGPULoadOp(desc.Depth.Load),
			DepthStoreOp:    toWGPUStoreOp(desc.Depth.Store),
			DepthClearValue: desc.Depth.ClearDepth,
		}
	}

	pass := c.encoder.BeginRenderPass(rpDesc)
	c.passOpen = true

	return &wgpuRenderPass{cb: c, pass: pass}, nil
}

func (c *wgpuCmdBuffer) BeginComputePass(label string) (ComputePass, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished != nil {
		return nil, fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return nil, fmt.Errorf("command buffer %q already has an open pass", c.label)
	}

	var pass *wgpu.ComputePassEncoder
	if label == "" {
		pass = c.encoder.BeginComputePass(nil)
	} else {
		pass = c.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	}
	c.passOpen = true

	return &wgpuComputePass{cb: c, pass: pass}, nil
}

func (c *wgpuCmdBuffer) CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished != nil {
		return fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return fmt.Errorf("command buffer %q has an open pass, copies must be recorded outside passes", c.label)
	}

	sb, ok := src.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("%w: source buffer belongs to another backend", ErrInvalidDescriptor)
	}
	db, ok := dst.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("%w: destination buffer belongs to another backend", ErrInvalidDescriptor)
	}
	if srcOffset+size > sb.size {
		return fmt.Errorf("%w: copy of %d bytes at offset %d exceeds source size %d", ErrInvalidDescriptor, size, srcOffset, sb.size)
	}
	if dstOffset+size > db.size {
		return fmt.Errorf("%w: copy of %d bytes at offset %d exceeds destination size %d", ErrInvalidDescriptor, size, dstOffset, db.size)
	}

	c.encoder.CopyBufferToBuffer(sb.buf, srcOffset, db.buf, dstOffset, size)
	c.drv.counters.BufferCopies++

	return nil
}

func (c *wgpuCmdBuffer) Barrier(b Buffer) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	// WebGPU synchronizes queue work implicitly, so the barrier only needs
	// to be counted.
	c.drv.counters.Barriers++
}

func (c *wgpuCmdBuffer) Finish() error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished != nil {
		return fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return fmt.Errorf("command buffer %q has an open pass, end it before finishing", c.label)
	}

	commandBuffer, err := c.encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish command buffer %q: %w", c.label, err)
	}
	c.finished = commandBuffer

	return nil
}

func (c *wgpuCmdBuffer) Release() {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished != nil {
		c.finished.Release()
		c.finished = nil
	}
	if c.encoder != nil {
		c.encoder.Release()
		c.encoder = nil
	}
}

type wgpuRenderPass struct {
	cb   *wgpuCmdBuffer
	pass *wgpu.RenderPassEncoder
}

var _ RenderPass = &wgpuRenderPass{}

func (p *wgpuRenderPass) SetPipeline(pl Pipeline) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wp, ok := pl.(*wgpuPipeline); ok && wp.render != nil {
		p.pass.SetPipeline(wp.render)
	}
}

func (p *wgpuRenderPass) SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wg, ok := bg.(*wgpuBindGroup); ok {
		p.pass.SetBindGroup(index, wg.bg, dynamicOffsets)
	}
}

func (p *wgpuRenderPass) SetVertexBuffer(slot uint32, b Buffer, offset, size uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wb, ok := b.(*wgpuBuffer); ok {
		if size == 0 {
			size = wgpu.WholeSize
		}
		p.pass.SetVertexBuffer(slot, wb.buf, offset, size)
	}
}

func (p *wgpuRenderPass) SetIndexBuffer(b Buffer, format wgpu.IndexFormat, offset, size uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wb, ok := b.(*wgpuBuffer); ok {
		if size == 0 {
			size = wgpu.WholeSize
		}
		p.pass.SetIndexBuffer(wb.buf, format, offset, size)
	}
}

func (p *wgpuRenderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	p.cb.drv.counters.Draws++
	p.cb.drv.counters.VertexInvocations += uint64(vertexCount) * uint64(instanceCount)
}

func (p *wgpuRenderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	p.cb.drv.counters.Draws++
	p.cb.drv.counters.VertexInvocations += uint64(indexCount) * uint64(instanceCount)
}

func (p *wgpuRenderPass) DrawIndirect(b Buffer, offset uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wb, ok := b.(*wgpuBuffer); ok {
		p.pass.DrawIndirect(wb.buf, offset)
		p.cb.drv.counters.Draws++
	}
}

func (p *wgpuRenderPass) End() error {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if !p.cb.passOpen {
		return fmt.Errorf("render pass on %q already ended", p.cb.label)
	}
	p.pass.End()
	p.pass.Release()
	p.cb.passOpen = false

	return nil
}

type wgpuComputePass struct {
	cb   *wgpuCmdBuffer
	pass *wgpu.ComputePassEncoder
}

var _ ComputePass = &wgpuComputePass{}

func (p *wgpuComputePass) SetPipeline(pl Pipeline) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wp, ok := pl.(*wgpuPipeline); ok && wp.compute != nil {
		p.pass.SetPipeline(wp.compute)
	}
}

func (p *wgpuComputePass) SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wg, ok := bg.(*wgpuBindGroup); ok {
		p.pass.SetBindGroup(index, wg.bg, dynamicOffsets)
	}
}

func (p *wgpuComputePass) Dispatch(x, y, z uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.pass.DispatchWorkgroups(x, y, z)
	p.cb.drv.counters.Dispatches++
	p.cb.drv.counters.WorkgroupInvocations += uint64(x) * uint64(y) * uint64(z)
}

func (p *wgpuComputePass) DispatchIndirect(b Buffer, offset uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if wb, ok := b.(*wgpuBuffer); ok {
		p.pass.DispatchWorkgroupsIndirect(wb.buf, offset)
		p.cb.drv.counters.Dispatches++
	}
}

func (p *wgpuComputePass) End() error {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if !p.cb.passOpen {
		return fmt.Errorf("compute pass on %q already ended", p.cb.label)
	}
	p.pass.End()
	p.pass.Release()
	p.cb.passOpen = false

	return nil
}

func toWGPULoadOp(op LoadOp) wgpu.LoadOp {
	if op == LoadOpLoad {
		return wgpu.LoadOpLoad
	}
	return wgpu.LoadOpClear
}

func toWGPUStoreOp(op StoreOp) wgpu.StoreOp {
	if op == StoreOpDiscard {
		return wgpu.StoreOpDiscard
	}
	return wgpu.StoreOpStore
}
