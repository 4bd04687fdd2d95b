package driver

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

type nullCmdBuffer struct {
	drv      *nullDriverImpl
	label    string
	ops      []func()
	passOpen bool
	finished bool
}

var _ CmdBuffer = &nullCmdBuffer{}

func (c *nullCmdBuffer) Label() string {
	return c.label
}

func (c *nullCmdBuffer) BeginRenderPass(desc RenderPassDesc) (RenderPass, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished {
		return nil, fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return nil, fmt.Errorf("command buffer %q already has an open pass", c.label)
	}
	if len(desc.Targets) == 0 {
		return nil, fmt.Errorf("%w: render pass %q has no color targets", ErrInvalidDescriptor, desc.Label)
	}
	for i, t := range desc.Targets {
		if t.View == nil {
			return nil, fmt.Errorf("%w: render pass %q target %d has no view", ErrInvalidDescriptor, desc.Label, i)
		}
	}
	c.passOpen = true
	return &nullRenderPass{cb: c}, nil
}

func (c *nullCmdBuffer) BeginComputePass(label string) (ComputePass, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished {
		return nil, fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return nil, fmt.Errorf("command buffer %q already has an open pass", c.label)
	}
	c.passOpen = true
	return &nullComputePass{cb: c}, nil
}

func (c *nullCmdBuffer) CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished {
		return fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return fmt.Errorf("command buffer %q has an open pass, copies must be recorded outside passes", c.label)
	}

	sb, ok := src.(*nullBuffer)
	if !ok {
		return fmt.Errorf("%w: source buffer belongs to another backend", ErrInvalidDescriptor)
	}
	db, ok := dst.(*nullBuffer)
	if !ok {
		return fmt.Errorf("%w: destination buffer belongs to another backend", ErrInvalidDescriptor)
	}
	if srcOffset+size > uint64(len(sb.data)) {
		return fmt.Errorf("%w: copy of %d bytes at offset %d exceeds source size %d", ErrInvalidDescriptor, size, srcOffset, len(sb.data))
	}
	if dstOffset+size > uint64(len(db.data)) {
		return fmt.Errorf("%w: copy of %d bytes at offset %d exceeds destination size %d", ErrInvalidDescriptor, size, dstOffset, len(db.data))
	}

	c.ops = append(c.ops, func() {
		copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
	})
	c.drv.counters.BufferCopies++

	return nil
}

func (c *nullCmdBuffer) Barrier(b Buffer) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	c.drv.counters.Barriers++
}

func (c *nullCmdBuffer) Finish() error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	if c.finished {
		return fmt.Errorf("command buffer %q already finished", c.label)
	}
	if c.passOpen {
		return fmt.Errorf("command buffer %q has an open pass, end it before finishing", c.label)
	}
	c.finished = true
	return nil
}

func (c *nullCmdBuffer) Release() {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	c.ops = nil
}

type nullRenderPass struct {
	cb *nullCmdBuffer
}

var _ RenderPass = &nullRenderPass{}

func (p *nullRenderPass) SetPipeline(pl Pipeline) {}

func (p *nullRenderPass) SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32) {}

func (p *nullRenderPass) SetVertexBuffer(slot uint32, b Buffer, offset, size uint64) {}

func (p *nullRenderPass) SetIndexBuffer(b Buffer, format wgpu.IndexFormat, offset, size uint64) {}

func (p *nullRenderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.cb.drv.counters.Draws++
	p.cb.drv.counters.VertexInvocations += uint64(vertexCount) * uint64(instanceCount)
}

func (p *nullRenderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.cb.drv.counters.Draws++
	p.cb.drv.counters.VertexInvocations += uint64(indexCount) * uint64(instanceCount)
}

func (p *nullRenderPass) DrawIndirect(b Buffer, offset uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.cb.drv.counters.Draws++
}

func (p *nullRenderPass) End() error {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if !p.cb.passOpen {
		return fmt.Errorf("render pass on %q already ended", p.cb.label)
	}
	p.cb.passOpen = false
	return nil
}

type nullComputePass struct {
	cb *nullCmdBuffer
}

var _ ComputePass = &nullComputePass{}

func (p *nullComputePass) SetPipeline(pl Pipeline) {}

func (p *nullComputePass) SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32) {}

func (p *nullComputePass) Dispatch(x, y, z uint32) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.cb.drv.counters.Dispatches++
	p.cb.drv.counters.WorkgroupInvocations += uint64(x) * uint64(y) * uint64(z)
}

func (p *nullComputePass) DispatchIndirect(b Buffer, offset uint64) {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	p.cb.drv.counters.Dispatches++
}

func (p *nullComputePass) End() error {
	p.cb.drv.mu.Lock()
	defer p.cb.drv.mu.Unlock()

	if !p.cb.passOpen {
		return fmt.Errorf("compute pass on %q already ended", p.cb.label)
	}
	p.cb.passOpen = false
	return nil
}
