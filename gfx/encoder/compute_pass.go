package encoder

import (
	"fmt"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
)

// ComputePass records dispatches against an open compute pass. Every call
// validates its handles when made, the driver pass itself is encoded at
// End.
type ComputePass interface {
	// SetPipeline selects the compute pipeline for subsequent dispatches,
	// compiling it on first use.
	//
	// Parameters:
	//   - p: the compute pipeline
	//
	// Returns:
	//   - error: if the pipeline is a render pipeline or fails to compile
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

	// Dispatch records a compute dispatch.
	//
	// Parameters:
	//   - x: workgroups along x
	//   - y: workgroups along y
	//   - z: workgroups along z
	//
	// Returns:
	//   - error: if no pipeline is set
	Dispatch(x, y, z uint32) error

	// DispatchIndirect records a dispatch whose workgroup counts the device
	// reads from a buffer.
	//
	// Parameters:
	//   - b: the buffer holding the dispatch arguments
	//   - offset: byte offset of the arguments
	//
	// Returns:
	//   - error: if the device lacks indirect dispatch support, no pipeline
	//     is set, or the handle is destroyed
	DispatchIndirect(b resource.Buffer, offset uint64) error

	// End encodes the pass: pending shared-buffer syncs for bound buffers
	// are copied and fenced first, then the recorded calls replay in order.
	//
	// Returns:
	//   - error: if the pass already ended or encoding fails
	End() error
}

type computePass struct {
	cb    *commandBuffer
	label string

	ops    []func(driver.ComputePass)
	bound  map[resource.Buffer]struct{}
	writes []resource.Buffer

	current pipeline.Pipeline
	ended   bool
}

var _ ComputePass = &computePass{}

func (c *computePass) SetPipeline(p pipeline.Pipeline) error {
	if err := c.open(); err != nil {
		return err
	}
	if p.Type() != pipeline.PipelineTypeCompute {
		return fmt.Errorf("%w: pipeline %q is not a compute pipeline", driver.ErrInvalidDescriptor, p.Key())
	}
	compiled, err := c.cb.cache.Resolve(p)
	if err != nil {
		return err
	}
	c.current = p
	c.ops = append(c.ops, func(cp driver.ComputePass) {
		cp.SetPipeline(compiled)
	})
	return nil
}

func (c *computePass) SetBindGroup(group uint32, bindings []pipeline.Binding, dynamicOffsets ...uint32) error {
	if err := c.open(); err != nil {
		return err
	}
	if c.current == nil {
		return fmt.Errorf("%w: set a pipeline before bind groups", driver.ErrInvalidDescriptor)
	}
	bg, err := c.cb.cache.Bind(c.current, group, bindings)
	if err != nil {
		return err
	}
	c.cb.tr.Use(c.cb.tk, bg.Handles...)
	for _, b := range bg.ReadBuffers {
		c.bound[b] = struct{}{}
	}
	for _, b := range bg.WriteBuffers {
		c.bound[b] = struct{}{}
		c.writes = append(c.writes, b)
	}
	offsets := append([]uint32(nil), dynamicOffsets...)
	c.ops = append(c.ops, func(cp driver.ComputePass) {
		cp.SetBindGroup(group, bg.Group, offsets)
	})
	return nil
}

func (c *computePass) Dispatch(x, y, z uint32) error {
	if err := c.open(); err != nil {
		return err
	}
	if c.current == nil {
		return fmt.Errorf("%w: set a pipeline before dispatching", driver.ErrInvalidDescriptor)
	}
	c.ops = append(c.ops, func(cp driver.ComputePass) {
		cp.Dispatch(x, y, z)
	})
	return nil
}

func (c *computePass) DispatchIndirect(b resource.Buffer, offset uint64) error {
	if err := c.open(); err != nil {
		return err
	}
	if !c.cb.caps.IndirectDraw {
		return fmt.Errorf("%w: device has no indirect dispatch support", driver.ErrUnsupportedFeature)
	}
	if c.current == nil {
		return fmt.Errorf("%w: set a pipeline before dispatching", driver.ErrInvalidDescriptor)
	}
	c.cb.tr.Use(c.cb.tk, b.Handle())
	gpu, err := c.cb.mgr.ResolveBuffer(b)
	if err != nil {
		return err
	}
	c.bound[b] = struct{}{}
	c.ops = append(c.ops, func(cp driver.ComputePass) {
		cp.DispatchIndirect(gpu, offset)
	})
	return nil
}

func (c *computePass) End() error {
	if c.ended {
		return fmt.Errorf("%w: compute pass %q already ended", driver.ErrInvalidDescriptor, c.label)
	}
	c.ended = true
	if c.cb.err != nil {
		return c.cb.err
	}

	if err := c.cb.flushSyncsFor(c.bound); err != nil {
		return c.cb.fail(err)
	}
	c.cb.barrierHazardsFor(c.bound)

	cp, err := c.cb.dcb.BeginComputePass(c.label)
	if err != nil {
		return c.cb.fail(err)
	}
	for _, op := range c.ops {
		op(cp)
	}
	if err := cp.End(); err != nil {
		return c.cb.fail(err)
	}
	if err := c.cb.noteWrites(c.writes); err != nil {
		return c.cb.fail(err)
	}
	c.cb.passOpen = false
	return nil
}

func (c *computePass) open() error {
	if c.ended {
		return fmt.Errorf("%w: compute pass %q already ended", driver.ErrInvalidDescriptor, c.label)
	}
	return c.cb.err
}
