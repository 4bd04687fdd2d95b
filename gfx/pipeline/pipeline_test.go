package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spriteWGSL = `
struct Camera {
    view_proj: mat4x4<f32>,
};

struct VsOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@group(0) @binding(0) var<uniform> camera: Camera;
@group(1) @binding(0) var atlas: texture_2d<f32>;
@group(1) @binding(1) var atlas_sampler: sampler;

@vertex
fn vs_main(@location(0) position: vec2<f32>, @location(1) uv: vec2<f32>) -> VsOut {
    var out: VsOut;
    out.pos = camera.view_proj * vec4<f32>(position, 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VsOut) -> @location(0) vec4<f32> {
    return textureSample(atlas, atlas_sampler, in.uv);
}
`

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

func spriteModule(t *testing.T) shader.Module {
	t.Helper()
	m, err := shader.NewModule("sprite", spriteWGSL)
	require.NoError(t, err)
	return m
}

func scaleModule(t *testing.T) shader.Module {
	t.Helper()
	m, err := shader.NewModule("scale", scaleWGSL)
	require.NoError(t, err)
	return m
}

func TestNewRenderPipeline(t *testing.T) {
	m := spriteModule(t)

	p, err := NewRenderPipeline("sprite", m, m)
	require.NoError(t, err)

	assert.Equal(t, PipelineTypeRender, p.Type())
	assert.Equal(t, "sprite", p.Key())
	assert.Equal(t, "vs_main", p.Entry(shader.StageVertex))
	assert.Equal(t, "fs_main", p.Entry(shader.StageFragment))
	assert.Empty(t, p.Entry(shader.StageCompute))

	layouts := p.GroupLayouts()
	require.Len(t, layouts, 2)
	assert.Len(t, layouts[0], 1)
	assert.Len(t, layouts[1], 2)

	require.Len(t, p.VertexLayouts(), 1)
	assert.Equal(t, uint64(16), p.VertexLayouts()[0].ArrayStride, "two vec2 inputs pack to 16 bytes")
}

func TestNewRenderPipelineDefaults(t *testing.T) {
	m := spriteModule(t)

	p, err := NewRenderPipeline("sprite", m, m)
	require.NoError(t, err)

	assert.True(t, p.DepthTestEnabled())
	assert.True(t, p.DepthWriteEnabled())
	assert.False(t, p.BlendEnabled())
	assert.Equal(t, wgpu.CullModeNone, p.CullMode())
	assert.Equal(t, wgpu.PrimitiveTopologyTriangleList, p.Topology())
	assert.Equal(t, wgpu.FrontFaceCCW, p.FrontFace())
	assert.Equal(t, wgpu.ColorWriteMaskAll, p.WriteMask())
	require.NotNil(t, p.BlendState())
	assert.Empty(t, p.ColorFormats())
	assert.Equal(t, wgpu.TextureFormatUndefined, p.DepthFormat())
	assert.Zero(t, p.SampleCount())
}

func TestNewRenderPipelineOptions(t *testing.T) {
	m := spriteModule(t)

	p, err := NewRenderPipeline("sprite", m, m,
		WithDepthTestEnabled(false),
		WithDepthWriteEnabled(false),
		WithBlendEnabled(true),
		WithCullMode(wgpu.CullModeBack),
		WithTopology(wgpu.PrimitiveTopologyLineList),
		WithFrontFace(wgpu.FrontFaceCW),
		WithDepthBias(2, 1.5),
		WithColorFormats(wgpu.TextureFormatRGBA8Unorm),
		WithDepthFormat(wgpu.TextureFormatDepth32Float),
		WithSampleCount(4),
	)
	require.NoError(t, err)

	assert.False(t, p.DepthTestEnabled())
	assert.False(t, p.DepthWriteEnabled())
	assert.True(t, p.BlendEnabled())
	assert.Equal(t, wgpu.CullModeBack, p.CullMode())
	assert.Equal(t, wgpu.PrimitiveTopologyLineList, p.Topology())
	assert.Equal(t, wgpu.FrontFaceCW, p.FrontFace())
	assert.Equal(t, int32(2), p.DepthBias())
	assert.Equal(t, float32(1.5), p.DepthBiasSlopeScale())
	assert.Equal(t, []wgpu.TextureFormat{wgpu.TextureFormatRGBA8Unorm}, p.ColorFormats())
	assert.Equal(t, wgpu.TextureFormatDepth32Float, p.DepthFormat())
	assert.Equal(t, uint32(4), p.SampleCount())
}

func TestNewPipelineExplicitLayouts(t *testing.T) {
	t.Run("vertex layouts", func(t *testing.T) {
		layout := wgpu.VertexBufferLayout{
			ArrayStride: 32,
			StepMode:    wgpu.VertexStepModeInstance,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 0},
				{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 1},
			},
		}

		m := spriteModule(t)
		p, err := NewRenderPipeline("sprite", m, m, WithVertexLayouts(layout))
		require.NoError(t, err)

		require.Len(t, p.VertexLayouts(), 1)
		assert.Equal(t, layout, p.VertexLayouts()[0], "explicit layout replaces the reflected one")
	})

	t.Run("group layouts", func(t *testing.T) {
		entries := []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, HasDynamicOffset: true},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
		}

		p, err := NewComputePipeline("scale", scaleModule(t), WithGroupLayouts(entries))
		require.NoError(t, err)

		require.Len(t, p.GroupLayouts(), 1)
		assert.Equal(t, entries, p.GroupLayouts()[0], "dynamic offset carries through untouched")
	})
}

func TestNewRenderPipelineRejectsBadStages(t *testing.T) {
	m := spriteModule(t)
	cs := scaleModule(t)

	t.Run("missing vertex module", func(t *testing.T) {
		_, err := NewRenderPipeline("broken", nil, m)
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})

	t.Run("module without vertex entry", func(t *testing.T) {
		_, err := NewRenderPipeline("broken", cs, nil)
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})

	t.Run("unknown vertex entry", func(t *testing.T) {
		_, err := NewRenderPipeline("broken", m, m, WithVertexEntry("nope"))
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})

	t.Run("stages that do not link", func(t *testing.T) {
		fs, err := shader.NewModule("hungry", `
@fragment
fn fs_main(@location(0) uv: vec2<f32>, @location(1) tint: vec4<f32>) -> @location(0) vec4<f32> {
    return tint;
}
`)
		require.NoError(t, err)

		_, err = NewRenderPipeline("broken", m, fs)
		require.Error(t, err)
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})
}

func TestNewRenderPipelineDepthOnly(t *testing.T) {
	m := spriteModule(t)

	p, err := NewRenderPipeline("shadow", m, nil, WithDepthFormat(wgpu.TextureFormatDepth32Float))
	require.NoError(t, err)

	assert.Nil(t, p.Module(shader.StageFragment))
	assert.Empty(t, p.Entry(shader.StageFragment))
	require.Len(t, p.GroupLayouts(), 2, "vertex-only layouts carry through unmerged")
}

func TestNewComputePipeline(t *testing.T) {
	cs := scaleModule(t)

	p, err := NewComputePipeline("scale", cs)
	require.NoError(t, err)

	assert.Equal(t, PipelineTypeCompute, p.Type())
	assert.Equal(t, "scale_main", p.Entry(shader.StageCompute))
	assert.Equal(t, [3]uint32{64, 1, 1}, p.WorkgroupSize())
	require.Len(t, p.GroupLayouts(), 1)
	assert.Len(t, p.GroupLayouts()[0], 3)
}

func TestNewComputePipelineRejectsBadModule(t *testing.T) {
	t.Run("missing module", func(t *testing.T) {
		_, err := NewComputePipeline("broken", nil)
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})

	t.Run("module without compute entry", func(t *testing.T) {
		_, err := NewComputePipeline("broken", spriteModule(t))
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})

	t.Run("unknown compute entry", func(t *testing.T) {
		_, err := NewComputePipeline("broken", scaleModule(t), WithComputeEntry("nope"))
		assert.ErrorIs(t, err, driver.ErrShaderLink)
	})
}
