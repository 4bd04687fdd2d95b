package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipe)

// WithVertexEntry overrides the vertex entry point instead of using the
// module's first vertex entry.
//
// Parameters:
//   - entry: the vertex entry function name
//
// Returns:
//   - PipelineBuilderOption: a function that sets the vertex entry point for this pipeline
func WithVertexEntry(entry string) PipelineBuilderOption {
	return func(p *pipe) {
		p.vertexEntry = entry
	}
}

// WithFragmentEntry overrides the fragment entry point instead of using the
// module's first fragment entry.
//
// Parameters:
//   - entry: the fragment entry function name
//
// Returns:
//   - PipelineBuilderOption: a function that sets the fragment entry point for this pipeline
func WithFragmentEntry(entry string) PipelineBuilderOption {
	return func(p *pipe) {
		p.fragmentEntry = entry
	}
}

// WithComputeEntry overrides the compute entry point instead of using the
// module's first compute entry.
//
// Parameters:
//   - entry: the compute entry function name
//
// Returns:
//   - PipelineBuilderOption: a function that sets the compute entry point for this pipeline
func WithComputeEntry(entry string) PipelineBuilderOption {
	return func(p *pipe) {
		p.computeEntry = entry
	}
}

// WithColorFormats sets explicit color target formats instead of the cache's
// surface defaults.
//
// Parameters:
//   - formats: the color target formats, one per render target
//
// Returns:
//   - PipelineBuilderOption: a function that sets the color target formats for this pipeline
func WithColorFormats(formats ...wgpu.TextureFormat) PipelineBuilderOption {
	return func(p *pipe) {
		p.colorFormats = formats
	}
}

// WithDepthFormat sets an explicit depth attachment format instead of the
// cache's surface default.
//
// Parameters:
//   - format: the depth attachment format
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth format for this pipeline
func WithDepthFormat(format wgpu.TextureFormat) PipelineBuilderOption {
	return func(p *pipe) {
		p.depthFormat = format
	}
}

// WithSampleCount sets an explicit MSAA sample count instead of the cache's
// surface default.
//
// Parameters:
//   - samples: the MSAA sample count
//
// Returns:
//   - PipelineBuilderOption: a function that sets the sample count for this pipeline
func WithSampleCount(samples uint32) PipelineBuilderOption {
	return func(p *pipe) {
		p.sampleCount = samples
	}
}

// WithVertexLayouts overrides the vertex buffer layouts instead of using the
// layouts reflected from the vertex module.
//
// Parameters:
//   - layouts: the vertex buffer layouts the pipeline consumes
//
// Returns:
//   - PipelineBuilderOption: a function that sets the vertex buffer layouts for this pipeline
func WithVertexLayouts(layouts ...wgpu.VertexBufferLayout) PipelineBuilderOption {
	return func(p *pipe) {
		p.vertexLayouts = layouts
	}
}

// WithGroupLayouts overrides the bind group layouts instead of using the
// layouts reflected from the stage modules. Useful when a shader declares a
// binding the reflection cannot type precisely.
//
// Parameters:
//   - layouts: the bind group layout entries, indexed by group
//
// Returns:
//   - PipelineBuilderOption: a function that sets the bind group layouts for this pipeline
func WithGroupLayouts(layouts ...[]wgpu.BindGroupLayoutEntry) PipelineBuilderOption {
	return func(p *pipe) {
		p.groupLayouts = layouts
	}
}

// WithDepthTestEnabled sets whether depth testing is enabled for this pipeline.
//
// Parameters:
//   - enabled: a boolean indicating whether depth testing should be enabled
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth test enabled state for this pipeline
func WithDepthTestEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipe) {
		p.depthTestEnabled = enabled
	}
}

// WithDepthWriteEnabled sets whether depth writing is enabled for this pipeline.
//
// Parameters:
//   - enabled: a boolean indicating whether depth writing should be enabled
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth write enabled state for this pipeline
func WithDepthWriteEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipe) {
		p.depthWriteEnabled = enabled
	}
}

// WithDepthBias sets the depth bias parameters for this pipeline.
//
// Parameters:
//   - bias: the constant depth bias to apply
//   - slopeScale: the slope scale depth bias to apply
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth bias parameters for this pipeline
func WithDepthBias(bias int32, slopeScale float32) PipelineBuilderOption {
	return func(p *pipe) {
		p.depthBias = bias
		p.depthBiasSlopeScale = slopeScale
	}
}

// WithBlendEnabled sets whether blending is enabled for this pipeline.
//
// Parameters:
//   - enabled: a boolean indicating whether blending should be enabled
//
// Returns:
//   - PipelineBuilderOption: a function that sets the blend enabled state for this pipeline
func WithBlendEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipe) {
		p.blendEnabled = enabled
	}
}

// WithCullMode sets the cull mode for this pipeline.
//
// Parameters:
//   - mode: the cull mode to use for this pipeline (e.g., wgpu.CullModeNone, wgpu.CullModeFront, wgpu.CullModeBack)
//
// Returns:
//   - PipelineBuilderOption: a function that sets the cull mode for this pipeline
func WithCullMode(mode wgpu.CullMode) PipelineBuilderOption {
	return func(p *pipe) {
		p.cullMode = mode
	}
}

// WithTopology sets the primitive topology for this pipeline.
//
// Parameters:
//   - topology: the primitive topology to use for this pipeline (e.g., wgpu.PrimitiveTopologyPointList, wgpu.PrimitiveTopologyLineList, wgpu.PrimitiveTopologyTriangleList)
//
// Returns:
//   - PipelineBuilderOption: a function that sets the primitive topology for this pipeline
func WithTopology(topology wgpu.PrimitiveTopology) PipelineBuilderOption {
	return func(p *pipe) {
		p.topology = topology
	}
}

// WithFrontFace sets the front face winding order for this pipeline.
//
// Parameters:
//   - frontFace: the front face to use for this pipeline (e.g., wgpu.FrontFaceCCW, wgpu.FrontFaceCW)
//
// Returns:
//   - PipelineBuilderOption: a function that sets the front face for this pipeline
func WithFrontFace(frontFace wgpu.FrontFace) PipelineBuilderOption {
	return func(p *pipe) {
		p.frontFace = frontFace
	}
}

// WithWriteMask sets the color write mask for this pipeline.
//
// Parameters:
//   - writeMask: the color write mask to use for this pipeline (e.g., wgpu.ColorWriteMaskAll, wgpu.ColorWriteMaskRed)
//
// Returns:
//   - PipelineBuilderOption: a function that sets the color write mask for this pipeline
func WithWriteMask(writeMask wgpu.ColorWriteMask) PipelineBuilderOption {
	return func(p *pipe) {
		p.writeMask = writeMask
	}
}

// WithBlendState sets the blend state for this pipeline. Blending must also
// be enabled for the state to take effect.
//
// Parameters:
//   - blendState: the blend state to use for this pipeline
//
// Returns:
//   - PipelineBuilderOption: a function that sets the blend state for this pipeline
func WithBlendState(blendState *wgpu.BlendState) PipelineBuilderOption {
	return func(p *pipe) {
		p.blendState = blendState
	}
}
