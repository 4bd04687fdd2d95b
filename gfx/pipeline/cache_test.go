package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxGroups int) (Cache, resource.Manager) {
	t.Helper()
	drv := driver.NewNull()
	mgr := resource.NewManager(drv)
	c := NewCache(drv, mgr, maxGroups)
	mgr.SetInvalidator(c)
	t.Cleanup(func() {
		c.Release()
		mgr.Release()
		drv.Release()
	})
	return c, mgr
}

func storageBindings(params, src, dst resource.Buffer) []Binding {
	return []Binding{
		{Binding: 0, Buffer: params},
		{Binding: 1, Buffer: src},
		{Binding: 2, Buffer: dst},
	}
}

func TestCacheCompilesOncePerKey(t *testing.T) {
	c, _ := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	require.NoError(t, c.Compile(p))
	require.NoError(t, c.Compile(p))

	first, err := c.Resolve(p)
	require.NoError(t, err)
	second, err := c.Resolve(p)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), c.Stats().PipelineCompiles)
}

func TestCacheCompileRenderPipeline(t *testing.T) {
	c, _ := newTestCache(t, 0)
	m := spriteModule(t)

	p, err := NewRenderPipeline("sprite", m, m, WithColorFormats(wgpu.TextureFormatBGRA8Unorm))
	require.NoError(t, err)
	assert.NoError(t, c.Compile(p))
}

func TestCacheTargetsFillDefaults(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.SetTargets(Targets{
		ColorFormats: []wgpu.TextureFormat{wgpu.TextureFormatBGRA8Unorm},
		DepthFormat:  wgpu.TextureFormatDepth24Plus,
		Samples:      4,
	})

	m := spriteModule(t)
	p, err := NewRenderPipeline("sprite", m, m)
	require.NoError(t, err)
	assert.NoError(t, c.Compile(p), "surface defaults supply formats and sample count")
}

func TestCacheCompileRejectsUnsupported(t *testing.T) {
	t.Run("MSAA count the backend lacks", func(t *testing.T) {
		c, _ := newTestCache(t, 0)
		m := spriteModule(t)
		p, err := NewRenderPipeline("sprite-8x", m, m,
			WithColorFormats(wgpu.TextureFormatBGRA8Unorm),
			WithSampleCount(8),
		)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Compile(p), driver.ErrUnsupportedFeature)
	})

	t.Run("fragment stage without color targets", func(t *testing.T) {
		c, _ := newTestCache(t, 0)
		m := spriteModule(t)
		p, err := NewRenderPipeline("sprite-bare", m, m)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Compile(p), driver.ErrInvalidDescriptor)
	})
}

func TestCacheBindCachesGroups(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	first, err := c.Bind(p, 0, storageBindings(params, src, dst))
	require.NoError(t, err)
	require.NotNil(t, first.Group)

	assert.ElementsMatch(t, []resource.Buffer{params, src}, first.ReadBuffers)
	assert.ElementsMatch(t, []resource.Buffer{dst}, first.WriteBuffers)
	assert.Len(t, first.Handles, 3)

	second, err := c.Bind(p, 0, storageBindings(params, src, dst))
	require.NoError(t, err)
	assert.Same(t, first.Group, second.Group)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.BindGroupCreates)
	assert.Equal(t, uint64(1), stats.BindGroupHits)
}

func TestCacheBindKeyIgnoresOrder(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	first, err := c.Bind(p, 0, storageBindings(params, src, dst))
	require.NoError(t, err)

	reversed := []Binding{
		{Binding: 2, Buffer: dst},
		{Binding: 1, Buffer: src},
		{Binding: 0, Buffer: params},
	}
	second, err := c.Bind(p, 0, reversed)
	require.NoError(t, err)

	assert.Same(t, first.Group, second.Group)
	assert.Equal(t, uint64(1), c.Stats().BindGroupCreates)
}

func TestCacheBindValidation(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	t.Run("group out of range", func(t *testing.T) {
		_, err := c.Bind(p, 3, storageBindings(params, src, dst))
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
	})

	t.Run("binding count mismatch", func(t *testing.T) {
		_, err := c.Bind(p, 0, []Binding{{Binding: 0, Buffer: params}})
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
	})

	t.Run("duplicate binding index", func(t *testing.T) {
		_, err := c.Bind(p, 0, []Binding{
			{Binding: 0, Buffer: params},
			{Binding: 0, Buffer: src},
			{Binding: 2, Buffer: dst},
		})
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
	})

	t.Run("missing resource", func(t *testing.T) {
		_, err := c.Bind(p, 0, []Binding{
			{Binding: 0, Buffer: params},
			{Binding: 1},
			{Binding: 2, Buffer: dst},
		})
		assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
	})
}

func TestCacheBindResourceKindMismatch(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	m := spriteModule(t)
	p, err := NewRenderPipeline("sprite", m, m, WithColorFormats(wgpu.TextureFormatBGRA8Unorm))
	require.NoError(t, err)

	camera, err := mgr.CreateBuffer("camera", 64, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)

	// Group 1 expects a texture view and sampler, not buffers.
	_, err = c.Bind(p, 1, []Binding{
		{Binding: 0, Buffer: camera},
		{Binding: 1, Buffer: camera},
	})
	assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
}

func TestCacheBindTextureAndSampler(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	m := spriteModule(t)
	p, err := NewRenderPipeline("sprite", m, m, WithColorFormats(wgpu.TextureFormatBGRA8Unorm))
	require.NoError(t, err)

	tex, err := mgr.CreateTexture("atlas", driver.TextureDesc{
		Width:  64,
		Height: 64,
		Format: wgpu.TextureFormatRGBA8Unorm,
		Usage:  wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	require.NoError(t, err)
	view, err := mgr.CreateView(tex, "atlas view", driver.ViewRange{})
	require.NoError(t, err)
	smp, err := mgr.CreateSampler("atlas sampler", common.SamplerStagingData{})
	require.NoError(t, err)

	bound, err := c.Bind(p, 1, []Binding{
		{Binding: 0, View: view},
		{Binding: 1, Sampler: smp},
	})
	require.NoError(t, err)
	require.NotNil(t, bound.Group)
	assert.Empty(t, bound.ReadBuffers)
	assert.Empty(t, bound.WriteBuffers)
	assert.Len(t, bound.Handles, 2)
}

func TestCacheBindStaleHandleFails(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	require.NoError(t, mgr.DestroyBuffer(src))

	_, err = c.Bind(p, 0, storageBindings(params, src, dst))
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)
}

func TestCacheDestroyEvictsBindGroups(t *testing.T) {
	c, mgr := newTestCache(t, 0)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	_, err = c.Bind(p, 0, storageBindings(params, src, dst))
	require.NoError(t, err)

	require.NoError(t, mgr.DestroyBuffer(src))
	assert.Equal(t, uint64(1), c.Stats().Evictions, "destroying a bound resource evicts its groups")

	replacement, err := mgr.CreateBuffer("src2", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	_, err = c.Bind(p, 0, storageBindings(params, replacement, dst))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Stats().BindGroupCreates)
}

func TestCacheEvictsUnderPressure(t *testing.T) {
	c, mgr := newTestCache(t, 2)
	p, err := NewComputePipeline("scale", scaleModule(t))
	require.NoError(t, err)

	params, err := mgr.CreateBuffer("params", 16, driver.MemoryDevice, wgpu.BufferUsageUniform)
	require.NoError(t, err)
	dst, err := mgr.CreateBuffer("dst", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		src, err := mgr.CreateBuffer("src", 256, driver.MemoryDevice, wgpu.BufferUsageStorage)
		require.NoError(t, err)
		_, err = c.Bind(p, 0, storageBindings(params, src, dst))
		require.NoError(t, err)
	}

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.BindGroupCreates)
	assert.Equal(t, uint64(1), stats.Evictions, "capacity 2 drops the oldest of 3 groups")
}
