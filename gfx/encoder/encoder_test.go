package encoder

import (
	"sync"
	"testing"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/pipeline"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/shader"
	"github.com/Carmen-Shannon/gfx-go/gfx/submission"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scaleWGSL = `
struct ScaleParams {
    factor: f32,
};

@group(0) @binding(0) var<uniform> params: ScaleParams;
@group(0) @binding(1) var<storage, read> values_in: array<f32>;
@group(0) @binding(2) var<storage, read_write> values_out: array<f32>;

@compute @workgroup_size(64)
fn scale_main(@builtin(global_invocation_id) id: vec3<u32>) {
    values_out[id.x] = values_in[id.x] * params.factor;
}
`

const mergeWGSL = `
@group(0) @binding(0) var<storage, read> lane_a: array<f32>;
@group(0) @binding(1) var<storage, read> lane_b: array<f32>;
@group(0) @binding(2) var<storage, read> lane_c: array<f32>;
@group(0) @binding(3) var<storage, read_write> merged: array<f32>;

@compute @workgroup_size(1)
fn merge_main() {
    merged[0] = lane_a[0] + lane_b[0] + lane_c[0];
}
`

const flatWGSL = `
struct FrameParams {
    transform: mat4x4<f32>,
};

@group(0) @binding(0) var<uniform> frame_params: FrameParams;

@vertex
fn vs_main(@location(0) position: vec2<f32>) -> @builtin(position) vec4<f32> {
    return frame_params.transform * vec4<f32>(position, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 1.0, 1.0, 1.0);
}
`

type testStack struct {
	drv   driver.Driver
	mgr   resource.Manager
	cache pipeline.Cache
	tr    submission.Tracker
}

func newTestStack(t *testing.T, drv driver.Driver) testStack {
	t.Helper()
	mgr := resource.NewManager(drv)
	c := pipeline.NewCache(drv, mgr, 0)
	mgr.SetInvalidator(c)
	tr := submission.NewTracker(drv, mgr, 0)
	mgr.SetTracker(tr)
	t.Cleanup(func() {
		tr.Release()
		c.Release()
		mgr.Release()
		drv.Release()
	})
	return testStack{drv: drv, mgr: mgr, cache: c, tr: tr}
}

func (s testStack) newCmdBuffer(t *testing.T, label string) CommandBuffer {
	t.Helper()
	cb, err := NewCommandBuffer(label, s.drv, s.mgr, s.cache, s.tr)
	require.NoError(t, err)
	return cb
}

func scalePipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	m, err := shader.NewModule("scale", scaleWGSL)
	require.NoError(t, err)
	p, err := pipeline.NewComputePipeline("scale", m)
	require.NoError(t, err)
	return p
}

func mergePipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	m, err := shader.NewModule("merge", mergeWGSL)
	require.NoError(t, err)
	p, err := pipeline.NewComputePipeline("merge", m)
	require.NoError(t, err)
	return p
}

func flatPipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	m, err := shader.NewModule("flat", flatWGSL)
	require.NoError(t, err)
	p, err := pipeline.NewRenderPipeline("flat", m, m,
		pipeline.WithColorFormats(wgpu.TextureFormatRGBA8Unorm),
	)
	require.NoError(t, err)
	return p
}

func scaleBindings(params, src, dst resource.Buffer) []pipeline.Binding {
	return []pipeline.Binding{
		{Binding: 0, Buffer: params},
		{Binding: 1, Buffer: src},
		{Binding: 2, Buffer: dst},
	}
}

func colorTarget(t *testing.T, mgr resource.Manager) (resource.Texture, resource.View) {
	t.Helper()
	tex, err := mgr.CreateTexture("offscreen", driver.TextureDesc{
		Width:  64,
		Height: 64,
		Format: wgpu.TextureFormatRGBA8Unorm,
		Usage:  wgpu.TextureUsageRenderAttachment,
	})
	require.NoError(t, err)
	view, err := mgr.CreateView(tex, "offscreen view", driver.ViewRange{})
	require.NoError(t, err)
	return tex, view
}

func fillBytes(t *testing.T, mgr resource.Manager, b resource.Buffer, fill byte) {
	t.Helper()
	require.NoError(t, mgr.MappedBytes(b, func(bytes []byte) error {
		for i := range bytes {
			bytes[i] = fill
		}
		return nil
	}))
	require.NoError(t, mgr.SyncBuffer(b))
}

func TestComputePassFlushesStagedWrites(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryShared, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := s.mgr.CreateBuffer("src", 64, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := s.mgr.CreateBuffer("dst", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	fillBytes(t, s.mgr, params, 2)
	require.NoError(t, s.mgr.MappedBytes(src, func(bytes []byte) error {
		for i := range bytes {
			bytes[i] = byte(i)
		}
		return nil
	}))
	require.NoError(t, s.mgr.SyncBuffer(src))
	assert.Equal(t, 2, s.mgr.Stats().PendingSyncs)

	cb := s.newCmdBuffer(t, "frame")
	cp, err := cb.BeginCompute("scale")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(scalePipeline(t)))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, src, dst)))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())

	assert.Zero(t, s.mgr.Stats().PendingSyncs, "binding a synced buffer consumes its staged write")
	counters := s.drv.Counters()
	assert.Equal(t, uint64(2), counters.BufferCopies)
	assert.Equal(t, uint64(2), counters.Barriers)

	require.NoError(t, cb.Finish())
	serial, err := cb.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), serial)
	require.NoError(t, s.tr.Flush())

	assert.Equal(t, submission.StateCompleted, cb.State())
	counters = s.drv.Counters()
	assert.Equal(t, uint64(1), counters.Dispatches)
	assert.Equal(t, uint64(1), counters.WorkgroupInvocations)

	got := make([]byte, 64)
	require.NoError(t, s.mgr.ReadBuffer(src, 0, got))
	for i, v := range got {
		require.Equal(t, byte(i), v, "device copy carries the mapped write after the pass")
	}
}

func TestSyncFlushSkipsUnboundBuffers(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := s.mgr.CreateBuffer("src", 64, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := s.mgr.CreateBuffer("dst", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	idle, err := s.mgr.CreateBuffer("idle", 64, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	fillBytes(t, s.mgr, src, 7)
	fillBytes(t, s.mgr, idle, 9)

	cb := s.newCmdBuffer(t, "frame")
	cp, err := cb.BeginCompute("scale")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(scalePipeline(t)))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, src, dst)))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())

	counters := s.drv.Counters()
	assert.Equal(t, uint64(1), counters.BufferCopies, "only the bound buffer's sync is recorded")
	assert.Equal(t, uint64(1), counters.Barriers)
	assert.Equal(t, 1, s.mgr.Stats().PendingSyncs, "the unbound buffer's sync stays staged")

	require.NoError(t, cb.Finish())
	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())
}

func TestConcurrentWritersVisibleToReaderPass(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	lanes := make([]resource.Buffer, 3)
	for i := range lanes {
		b, err := s.mgr.CreateBuffer("lane", 16, driver.MemoryShared, wgpu.BufferUsageStorage)
		require.NoError(t, err)
		lanes[i] = b
	}
	merged, err := s.mgr.CreateBuffer("merged", 16, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, lane := range lanes {
		wg.Add(1)
		go func(fill byte, lane resource.Buffer) {
			defer wg.Done()
			assert.NoError(t, s.mgr.MappedBytes(lane, func(bytes []byte) error {
				for j := range bytes {
					bytes[j] = fill
				}
				return nil
			}))
			assert.NoError(t, s.mgr.SyncBuffer(lane))
		}(byte(i+1), lane)
	}
	wg.Wait()
	assert.Equal(t, 3, s.mgr.Stats().PendingSyncs)

	cb := s.newCmdBuffer(t, "frame")
	cp, err := cb.BeginCompute("merge")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(mergePipeline(t)))
	require.NoError(t, cp.SetBindGroup(0, []pipeline.Binding{
		{Binding: 0, Buffer: lanes[0]},
		{Binding: 1, Buffer: lanes[1]},
		{Binding: 2, Buffer: lanes[2]},
		{Binding: 3, Buffer: merged},
	}))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())

	assert.Zero(t, s.mgr.Stats().PendingSyncs)
	assert.Equal(t, uint64(3), s.drv.Counters().BufferCopies)

	require.NoError(t, cb.Finish())
	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())

	got := make([]byte, 16)
	for i, lane := range lanes {
		require.NoError(t, s.mgr.ReadBuffer(lane, 0, got))
		for _, v := range got {
			require.Equal(t, byte(i+1), v, "every writer's bytes reach the device before the pass")
		}
	}
}

func TestRenderPassCountsDrawWork(t *testing.T) {
	s := newTestStack(t, driver.NewNull())
	_, target := colorTarget(t, s.mgr)

	globals, err := s.mgr.CreateBuffer("globals", 64, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	verts, err := s.mgr.CreateBuffer("verts", 48, driver.MemoryDevice, wgpu.BufferUsageVertex)
	require.NoError(t, err)
	indices, err := s.mgr.CreateBuffer("indices", 12, driver.MemoryDevice, wgpu.BufferUsageIndex)
	require.NoError(t, err)

	cb := s.newCmdBuffer(t, "frame")
	rp, err := cb.BeginRender(RenderDesc{
		Label: "main",
		Colors: []ColorAttachment{{
			View:  target,
			Load:  driver.LoadOpClear,
			Store: driver.StoreOpStore,
			Clear: wgpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, rp.SetPipeline(flatPipeline(t)))
	require.NoError(t, rp.SetBindGroup(0, []pipeline.Binding{{Binding: 0, Buffer: globals}}))
	require.NoError(t, rp.SetVertexBuffer(0, verts, 0, 0))
	require.NoError(t, rp.Draw(6, 100, 0, 0))
	require.NoError(t, rp.SetIndexBuffer(indices, wgpu.IndexFormatUint16, 0, 0))
	require.NoError(t, rp.DrawIndexed(3, 2, 0, 0, 0))
	require.NoError(t, rp.End())

	require.NoError(t, cb.Finish())
	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())

	counters := s.drv.Counters()
	assert.Equal(t, uint64(2), counters.Draws)
	assert.Equal(t, uint64(606), counters.VertexInvocations, "6 vertices by 100 instances plus 3 indices by 2")
	assert.Equal(t, uint64(1), counters.Submissions)
}

func TestDestroyWhileRecordedFails(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := s.mgr.CreateBuffer("src", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := s.mgr.CreateBuffer("dst", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	cb := s.newCmdBuffer(t, "frame")
	cp, err := cb.BeginCompute("scale")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(scalePipeline(t)))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, src, dst)))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())

	assert.ErrorIs(t, s.mgr.DestroyBuffer(src), driver.ErrUseAfterDestroy, "recording pins the buffer")

	require.NoError(t, cb.Finish())
	assert.ErrorIs(t, s.mgr.DestroyBuffer(src), driver.ErrUseAfterDestroy, "recorded but unsubmitted work still pins it")

	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())
	assert.NoError(t, s.mgr.DestroyBuffer(src))
}

func TestRenderPassPinsAttachments(t *testing.T) {
	s := newTestStack(t, driver.NewNull())
	tex, target := colorTarget(t, s.mgr)

	cb := s.newCmdBuffer(t, "frame")
	rp, err := cb.BeginRender(RenderDesc{
		Label:  "main",
		Colors: []ColorAttachment{{View: target, Load: driver.LoadOpClear, Store: driver.StoreOpStore}},
	})
	require.NoError(t, err)
	require.NoError(t, rp.End())
	require.NoError(t, cb.Finish())

	assert.ErrorIs(t, s.mgr.DestroyTexture(tex), driver.ErrUseAfterDestroy)

	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())
	assert.NoError(t, s.mgr.DestroyTexture(tex))
}

func TestUnboundResourcesEmitNoTraffic(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	idle, err := s.mgr.CreateBuffer("idle", 256, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	tex, view := colorTarget(t, s.mgr)

	require.NoError(t, s.mgr.DestroyView(view))
	require.NoError(t, s.mgr.DestroyTexture(tex))
	require.NoError(t, s.mgr.DestroyBuffer(idle))

	counters := s.drv.Counters()
	assert.Zero(t, counters.Barriers, "nothing bound, nothing fenced")
	assert.Zero(t, counters.BufferCopies)

	st := s.mgr.Stats()
	assert.Zero(t, st.PendingSyncs)
	assert.Zero(t, st.Pool.Allocations, "the staging pool was never touched")
	assert.Zero(t, st.Retired, "unreferenced destroys release without waiting on work")
}

func TestWriteThenReadFencedBetweenPasses(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	first, err := s.mgr.CreateBuffer("first", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	second, err := s.mgr.CreateBuffer("second", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	third, err := s.mgr.CreateBuffer("third", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	p := scalePipeline(t)
	cb := s.newCmdBuffer(t, "frame")

	cp, err := cb.BeginCompute("produce")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(p))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, first, second)))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())
	assert.Zero(t, s.drv.Counters().Barriers)

	cp, err = cb.BeginCompute("consume")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(p))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, second, third)))
	require.NoError(t, cp.Dispatch(1, 1, 1))
	require.NoError(t, cp.End())
	assert.Equal(t, uint64(1), s.drv.Counters().Barriers, "the buffer written by the first pass is fenced before the read")

	require.NoError(t, cb.Finish())
	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())
}

func TestIndirectNeedsDeviceSupport(t *testing.T) {
	s := newTestStack(t, driver.NewNullWithCaps(driver.Caps{
		MaxBindGroups:         8,
		MaxTextureDimension2D: 8192,
		MaxBufferSize:         1 << 30,
		MaxColorAttachments:   8,
		MSAASampleCounts:      []uint32{1},
	}))
	_, target := colorTarget(t, s.mgr)

	args, err := s.mgr.CreateBuffer("args", 16, driver.MemoryDevice, wgpu.BufferUsageIndirect)
	require.NoError(t, err)
	globals, err := s.mgr.CreateBuffer("globals", 64, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)

	cb := s.newCmdBuffer(t, "frame")
	rp, err := cb.BeginRender(RenderDesc{
		Label:  "main",
		Colors: []ColorAttachment{{View: target, Load: driver.LoadOpClear, Store: driver.StoreOpStore}},
	})
	require.NoError(t, err)
	require.NoError(t, rp.SetPipeline(flatPipeline(t)))
	require.NoError(t, rp.SetBindGroup(0, []pipeline.Binding{{Binding: 0, Buffer: globals}}))
	assert.ErrorIs(t, rp.DrawIndirect(args, 0), driver.ErrUnsupportedFeature)
	require.NoError(t, rp.End())

	cp, err := cb.BeginCompute("scale")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(scalePipeline(t)))
	assert.ErrorIs(t, cp.DispatchIndirect(args, 0), driver.ErrUnsupportedFeature)
	require.NoError(t, cp.End())

	cb.Discard()
}

func TestCopyBufferToBufferOutsidePasses(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	src, err := s.mgr.CreateBuffer("src", 32, driver.MemoryDevice, wgpu.BufferUsageCopySrc)
	require.NoError(t, err)
	dst, err := s.mgr.CreateBuffer("dst", 32, driver.MemoryDevice, wgpu.BufferUsageCopyDst)
	require.NoError(t, err)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}
	require.NoError(t, s.mgr.WriteBuffer(src, 0, data))

	cb := s.newCmdBuffer(t, "upload")
	require.NoError(t, cb.CopyBufferToBuffer(src, 0, dst, 0, 32))

	cp, err := cb.BeginCompute("busy")
	require.NoError(t, err)
	assert.ErrorIs(t, cb.CopyBufferToBuffer(src, 0, dst, 0, 32), driver.ErrInvalidDescriptor, "copies go between passes, not inside them")
	require.NoError(t, cp.End())

	require.NoError(t, cb.Finish())
	_, err = cb.Submit()
	require.NoError(t, err)
	require.NoError(t, s.tr.Flush())

	got := make([]byte, 32)
	require.NoError(t, s.mgr.ReadBuffer(dst, 0, got))
	assert.Equal(t, data, got)
}

func TestRecordingGuards(t *testing.T) {
	t.Run("only one open pass", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		cb := s.newCmdBuffer(t, "frame")

		_, err := cb.BeginCompute("first")
		require.NoError(t, err)
		_, err = cb.BeginCompute("second")
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
		cb.Discard()
	})

	t.Run("finish with open pass", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		cb := s.newCmdBuffer(t, "frame")

		_, err := cb.BeginCompute("open")
		require.NoError(t, err)
		assert.ErrorIs(t, cb.Finish(), driver.ErrInvalidDescriptor)
		cb.Discard()
	})

	t.Run("record after finish", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		cb := s.newCmdBuffer(t, "frame")

		require.NoError(t, cb.Finish())
		_, err := cb.BeginCompute("late")
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
		cb.Discard()
	})

	t.Run("pass refuses work after end", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		cb := s.newCmdBuffer(t, "frame")

		cp, err := cb.BeginCompute("done")
		require.NoError(t, err)
		require.NoError(t, cp.End())
		assert.ErrorIs(t, cp.Dispatch(1, 1, 1), driver.ErrInvalidDescriptor)
		assert.ErrorIs(t, cp.End(), driver.ErrInvalidDescriptor)
		cb.Discard()
	})

	t.Run("render pass needs a color attachment", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		cb := s.newCmdBuffer(t, "frame")

		_, err := cb.BeginRender(RenderDesc{Label: "bare"})
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
		cb.Discard()
	})

	t.Run("bind group needs a pipeline", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
		require.NoError(t, err)
		cb := s.newCmdBuffer(t, "frame")

		cp, err := cb.BeginCompute("scale")
		require.NoError(t, err)
		assert.ErrorIs(t, cp.SetBindGroup(0, []pipeline.Binding{{Binding: 0, Buffer: params}}), driver.ErrInvalidDescriptor)
		require.NoError(t, cp.End())
		cb.Discard()
	})

	t.Run("indexed draw needs an index buffer", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		_, target := colorTarget(t, s.mgr)
		cb := s.newCmdBuffer(t, "frame")

		rp, err := cb.BeginRender(RenderDesc{
			Label:  "main",
			Colors: []ColorAttachment{{View: target, Load: driver.LoadOpClear, Store: driver.StoreOpStore}},
		})
		require.NoError(t, err)
		require.NoError(t, rp.SetPipeline(flatPipeline(t)))
		assert.ErrorIs(t, rp.DrawIndexed(3, 1, 0, 0, 0), driver.ErrInvalidDescriptor)
		require.NoError(t, rp.End())
		cb.Discard()
	})

	t.Run("pass kind matches pipeline kind", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		_, target := colorTarget(t, s.mgr)
		cb := s.newCmdBuffer(t, "frame")

		rp, err := cb.BeginRender(RenderDesc{
			Label:  "main",
			Colors: []ColorAttachment{{View: target, Load: driver.LoadOpClear, Store: driver.StoreOpStore}},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, rp.SetPipeline(scalePipeline(t)), driver.ErrInvalidDescriptor)
		require.NoError(t, rp.End())

		cp, err := cb.BeginCompute("scale")
		require.NoError(t, err)
		assert.ErrorIs(t, cp.SetPipeline(flatPipeline(t)), driver.ErrInvalidDescriptor)
		require.NoError(t, cp.End())
		cb.Discard()
	})

	t.Run("destroyed attachment view", func(t *testing.T) {
		s := newTestStack(t, driver.NewNull())
		_, target := colorTarget(t, s.mgr)
		require.NoError(t, s.mgr.DestroyView(target))
		cb := s.newCmdBuffer(t, "frame")

		_, err := cb.BeginRender(RenderDesc{
			Label:  "main",
			Colors: []ColorAttachment{{View: target, Load: driver.LoadOpClear, Store: driver.StoreOpStore}},
		})
		assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)
		cb.Discard()
	})
}

func TestDiscardReleasesReferences(t *testing.T) {
	s := newTestStack(t, driver.NewNull())

	params, err := s.mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := s.mgr.CreateBuffer("src", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := s.mgr.CreateBuffer("dst", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	cb := s.newCmdBuffer(t, "abandoned")
	cp, err := cb.BeginCompute("scale")
	require.NoError(t, err)
	require.NoError(t, cp.SetPipeline(scalePipeline(t)))
	require.NoError(t, cp.SetBindGroup(0, scaleBindings(params, src, dst)))
	require.NoError(t, cp.End())
	require.NoError(t, cb.Finish())

	assert.ErrorIs(t, s.mgr.DestroyBuffer(src), driver.ErrUseAfterDestroy)

	cb.Discard()
	assert.Equal(t, submission.StateDiscarded, cb.State())
	assert.NoError(t, s.mgr.DestroyBuffer(src))
	assert.Equal(t, uint64(1), s.tr.Stats().Discarded)
}
