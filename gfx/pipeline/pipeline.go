// Package pipeline holds pipeline descriptions and the compiled-object cache.
// A Pipeline is validated host side at construction, so shader link problems
// surface before any backend compile, and the Cache turns descriptions into
// driver pipelines and lazily created bind groups.
package pipeline

import (
	"fmt"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with vertex and fragment shader entry points.
	PipelineTypeRender
)

// pipe is the implementation of the Pipeline interface. It holds the stage
// modules, the merged bind group layouts and all fixed-function state needed
// to compile the pipeline against a backend.
type pipe struct {
	pipelineType PipelineType
	// pipelineKey is the unique identifier for this pipeline, used for caching and lookups
	pipelineKey string

	vertexModule, fragmentModule, computeModule shader.Module
	vertexEntry, fragmentEntry, computeEntry    string

	// groupLayouts are the per-group layouts, merged across the stages unless
	// set explicitly.
	groupLayouts [][]wgpu.BindGroupLayoutEntry
	// vertexLayouts describe the vertex buffer slots the vertex stage consumes.
	vertexLayouts []wgpu.VertexBufferLayout

	// Target state. Zero values defer to the cache's surface defaults at
	// compile time.

	colorFormats []wgpu.TextureFormat
	depthFormat  wgpu.TextureFormat
	sampleCount  uint32

	// Fixed-function state, only used by render pipelines. Compute pipelines
	// keep the defaults without reading them.

	depthTestEnabled    bool
	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	topology            wgpu.PrimitiveTopology
	frontFace           wgpu.FrontFace
	writeMask           wgpu.ColorWriteMask
	blendState          *wgpu.BlendState
}

// Pipeline describes a GPU pipeline, either a render pipeline (vertex +
// fragment modules) or a compute pipeline (compute module). Construction
// validates the stages against each other; compilation happens in the Cache.
type Pipeline interface {
	// Type returns the type of the pipeline.
	//
	// Returns:
	//   - PipelineType: the type of the pipeline (render or compute)
	Type() PipelineType

	// Key returns the unique key associated with this pipeline, used for
	// caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	Key() string

	// Module retrieves the shader module for the specified stage if set, nil
	// otherwise.
	//
	// Parameters:
	//   - stage: the stage to retrieve the module for
	//
	// Returns:
	//   - shader.Module: the module for the stage, or nil if not set
	Module(stage shader.Stage) shader.Module

	// Entry retrieves the entry point name used for the specified stage.
	//
	// Parameters:
	//   - stage: the stage to retrieve the entry point for
	//
	// Returns:
	//   - string: the entry point name, or empty if the stage is not set
	Entry(stage shader.Stage) string

	// GroupLayouts retrieves the bind group layouts the pipeline binds
	// against, indexed by group. Layouts are merged across the pipeline's
	// stages unless overridden with WithGroupLayouts.
	//
	// Returns:
	//   - [][]wgpu.BindGroupLayoutEntry: layout entries indexed by group
	GroupLayouts() [][]wgpu.BindGroupLayoutEntry

	// VertexLayouts retrieves the vertex buffer layouts the pipeline consumes.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the vertex buffer layouts
	VertexLayouts() []wgpu.VertexBufferLayout

	// ColorFormats returns the color target formats, nil to use the cache's
	// surface defaults at compile time.
	//
	// Returns:
	//   - []wgpu.TextureFormat: the color target formats or nil
	ColorFormats() []wgpu.TextureFormat

	// DepthFormat returns the depth attachment format, TextureFormatUndefined
	// to use the cache's surface default at compile time.
	//
	// Returns:
	//   - wgpu.TextureFormat: the depth format or TextureFormatUndefined
	DepthFormat() wgpu.TextureFormat

	// SampleCount returns the MSAA sample count, 0 to use the cache's surface
	// default at compile time.
	//
	// Returns:
	//   - uint32: the sample count or 0
	SampleCount() uint32

	// WorkgroupSize returns the compute workgroup dimensions reflected from
	// the compute module.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z], [1,1,1] for render pipelines
	WorkgroupSize() [3]uint32

	// DepthTestEnabled returns whether depth testing is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if depth testing is enabled, false otherwise
	DepthTestEnabled() bool

	// DepthWriteEnabled returns whether depth writing is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if depth writing is enabled, false otherwise
	DepthWriteEnabled() bool

	// DepthBias returns the depth bias value configured for this pipeline.
	//
	// Returns:
	//   - int32: the depth bias value for this pipeline
	DepthBias() int32

	// DepthBiasSlopeScale returns the depth bias slope scale configured for this pipeline.
	//
	// Returns:
	//   - float32: the depth bias slope scale for this pipeline
	DepthBiasSlopeScale() float32

	// BlendEnabled returns whether blending is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if blending is enabled, false otherwise
	BlendEnabled() bool

	// CullMode returns the cull mode configured for this pipeline.
	//
	// Returns:
	//   - wgpu.CullMode: the cull mode for this pipeline
	CullMode() wgpu.CullMode

	// Topology returns the primitive topology configured for this pipeline.
	//
	// Returns:
	//   - wgpu.PrimitiveTopology: the primitive topology for this pipeline
	Topology() wgpu.PrimitiveTopology

	// FrontFace returns the front face winding order configured for this pipeline.
	//
	// Returns:
	//   - wgpu.FrontFace: the front face winding order for this pipeline
	FrontFace() wgpu.FrontFace

	// WriteMask returns the color write mask configured for this pipeline.
	//
	// Returns:
	//   - wgpu.ColorWriteMask: the color write mask for this pipeline
	WriteMask() wgpu.ColorWriteMask

	// BlendState returns the blend state configured for this pipeline.
	//
	// Returns:
	//   - *wgpu.BlendState: the blend state, used only when blending is enabled
	BlendState() *wgpu.BlendState
}

var _ Pipeline = &pipe{}

func newPipe(key string, pipelineType PipelineType, opts ...PipelineBuilderOption) *pipe {
	p := &pipe{
		pipelineKey:       key,
		pipelineType:      pipelineType,
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		blendEnabled:      false,
		cullMode:          wgpu.CullModeNone,
		topology:          wgpu.PrimitiveTopologyTriangleList,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
		blendState: &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRenderPipeline creates a render pipeline description from a vertex and
// fragment module. Entry points default to the first entry of each stage and
// can be overridden with options. The stages are link-validated against each
// other and their bind group layouts merged before the pipeline is returned.
//
// Parameters:
//   - key: the unique key for this pipeline
//   - vs: the module holding the vertex stage, required
//   - fs: the module holding the fragment stage, nil for depth-only pipelines
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: the validated pipeline description
//   - error: a shader link error if the stages are missing, do not link, or
//     declare conflicting bindings
func NewRenderPipeline(key string, vs, fs shader.Module, opts ...PipelineBuilderOption) (Pipeline, error) {
	p := newPipe(key, PipelineTypeRender, opts...)
	p.vertexModule = vs

	if vs == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no vertex module", driver.ErrShaderLink, key)
	}
	if p.vertexEntry == "" {
		entry, ok := vs.EntryPoint(shader.StageVertex)
		if !ok {
			return nil, fmt.Errorf("%w: module %q has no vertex entry point", driver.ErrShaderLink, vs.Key())
		}
		p.vertexEntry = entry
	} else if !vs.HasEntry(shader.StageVertex, p.vertexEntry) {
		return nil, fmt.Errorf("%w: module %q has no vertex entry point %q", driver.ErrShaderLink, vs.Key(), p.vertexEntry)
	}

	vsLayouts := vs.GroupLayouts()
	merged := vsLayouts

	if fs != nil {
		p.fragmentModule = fs
		if p.fragmentEntry == "" {
			entry, ok := fs.EntryPoint(shader.StageFragment)
			if !ok {
				return nil, fmt.Errorf("%w: module %q has no fragment entry point", driver.ErrShaderLink, fs.Key())
			}
			p.fragmentEntry = entry
		}
		if err := shader.ValidateLink(vs, p.vertexEntry, fs, p.fragmentEntry); err != nil {
			return nil, fmt.Errorf("failed to link pipeline %q: %w", key, err)
		}

		var err error
		merged, err = shader.MergeGroupLayouts(vsLayouts, fs.GroupLayouts())
		if err != nil {
			return nil, fmt.Errorf("failed to merge bind group layouts for pipeline %q: %w", key, err)
		}
	}

	if p.groupLayouts == nil {
		p.groupLayouts = merged
	}
	if p.vertexLayouts == nil {
		p.vertexLayouts = vs.VertexLayouts()
	}
	return p, nil
}

// NewComputePipeline creates a compute pipeline description from a compute
// module. The entry point defaults to the module's first compute entry and
// can be overridden with options.
//
// Parameters:
//   - key: the unique key for this pipeline
//   - cs: the module holding the compute stage, required
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: the validated pipeline description
//   - error: a shader link error if the module is missing or has no compute
//     entry point
func NewComputePipeline(key string, cs shader.Module, opts ...PipelineBuilderOption) (Pipeline, error) {
	p := newPipe(key, PipelineTypeCompute, opts...)
	p.computeModule = cs

	if cs == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no compute module", driver.ErrShaderLink, key)
	}
	if p.computeEntry == "" {
		entry, ok := cs.EntryPoint(shader.StageCompute)
		if !ok {
			return nil, fmt.Errorf("%w: module %q has no compute entry point", driver.ErrShaderLink, cs.Key())
		}
		p.computeEntry = entry
	} else if !cs.HasEntry(shader.StageCompute, p.computeEntry) {
		return nil, fmt.Errorf("%w: module %q has no compute entry point %q", driver.ErrShaderLink, cs.Key(), p.computeEntry)
	}

	if p.groupLayouts == nil {
		p.groupLayouts = cs.GroupLayouts()
	}
	return p, nil
}

func (p *pipe) Type() PipelineType {
	return p.pipelineType
}

func (p *pipe) Key() string {
	return p.pipelineKey
}

func (p *pipe) Module(stage shader.Stage) shader.Module {
	switch stage {
	case shader.StageVertex:
		return p.vertexModule
	case shader.StageFragment:
		return p.fragmentModule
	case shader.StageCompute:
		return p.computeModule
	default:
		return nil
	}
}

func (p *pipe) Entry(stage shader.Stage) string {
	switch stage {
	case shader.StageVertex:
		return p.vertexEntry
	case shader.StageFragment:
		return p.fragmentEntry
	case shader.StageCompute:
		return p.computeEntry
	default:
		return ""
	}
}

func (p *pipe) GroupLayouts() [][]wgpu.BindGroupLayoutEntry {
	return p.groupLayouts
}

func (p *pipe) VertexLayouts() []wgpu.VertexBufferLayout {
	return p.vertexLayouts
}

func (p *pipe) ColorFormats() []wgpu.TextureFormat {
	return p.colorFormats
}

func (p *pipe) DepthFormat() wgpu.TextureFormat {
	return p.depthFormat
}

func (p *pipe) SampleCount() uint32 {
	return p.sampleCount
}

func (p *pipe) WorkgroupSize() [3]uint32 {
	if p.computeModule != nil {
		return p.computeModule.WorkgroupSize()
	}
	return [3]uint32{1, 1, 1}
}

func (p *pipe) DepthTestEnabled() bool {
	return p.depthTestEnabled
}

func (p *pipe) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipe) DepthBias() int32 {
	return p.depthBias
}

func (p *pipe) DepthBiasSlopeScale() float32 {
	return p.depthBiasSlopeScale
}

func (p *pipe) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipe) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipe) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipe) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipe) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}

func (p *pipe) BlendState() *wgpu.BlendState {
	return p.blendState
}
