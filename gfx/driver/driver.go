// package driver defines the device-level contract each GPU backend implements.
// Higher layers record work against these interfaces and never touch a native
// API directly, so the backend chosen at startup stays fixed for the lifetime
// of the device.
package driver

import (
	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// BackendType identifies the GPU backend implementation behind a Driver.
type BackendType int

const (
	// BackendWebGPU selects the WebGPU-based backend. This is the default and
	// covers Vulkan, Metal, D3D12 and GL through the native WebGPU runtime,
	// plus the browser's WebGPU implementation under wasm.
	BackendWebGPU BackendType = iota

	// BackendNull selects the CPU bookkeeping backend. Buffers live in host
	// memory, copies execute in recorded order and draws only count their
	// invocations. Useful for tests and headless environments without a GPU.
	BackendNull
)

// String returns the backend name for logging.
func (t BackendType) String() string {
	switch t {
	case BackendWebGPU:
		return "webgpu"
	case BackendNull:
		return "null"
	default:
		return "unknown"
	}
}

// MemoryKind controls where a buffer's contents live and how they reach the GPU.
// The kind is chosen by the caller at creation time and never changes; a buffer
// is never silently promoted from one kind to the other.
type MemoryKind int

const (
	// MemoryDevice places the buffer in device-local memory. Contents are
	// written through staged uploads and the CPU never holds a pointer into it.
	MemoryDevice MemoryKind = iota

	// MemoryShared keeps a CPU-visible shadow of the buffer alongside the
	// device copy. The shadow can be written in place and made visible to
	// later GPU work with an explicit sync.
	MemoryShared
)

// String returns the memory kind name for logging.
func (k MemoryKind) String() string {
	switch k {
	case MemoryDevice:
		return "device"
	case MemoryShared:
		return "shared"
	default:
		return "unknown"
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// Only specific power-of-two values are valid for GPU hardware. WebGPU guarantees support for
// 1 (off) and 4; higher values (8, 16) are adapter-dependent and may not be available.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing.
	MSAA4x MSAASampleCount = 4

	// MSAA8x enables 8× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA8x MSAASampleCount = 8

	// MSAA16x enables 16× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA16x MSAASampleCount = 16
)

// LoadOp selects what happens to an attachment's contents when a pass begins.
type LoadOp int

const (
	// LoadOpClear discards the previous contents and fills the attachment with
	// the clear value before the pass runs.
	LoadOpClear LoadOp = iota

	// LoadOpLoad preserves the previous contents of the attachment.
	LoadOpLoad
)

// StoreOp selects what happens to an attachment's contents when a pass ends.
type StoreOp int

const (
	// StoreOpStore writes the pass results back to the attachment.
	StoreOpStore StoreOp = iota

	// StoreOpDiscard drops the pass results. Use for transient attachments
	// such as MSAA color targets that resolve elsewhere, or depth buffers
	// nothing reads afterwards.
	StoreOpDiscard
)

// Caps describes what the selected backend can do. It is filled once at device
// creation and never changes afterwards.
type Caps struct {
	// Backend is the backend type these capabilities belong to.
	Backend BackendType

	// MaxBindGroups is the number of bind group slots a pipeline may use.
	MaxBindGroups uint32

	// MaxTextureDimension2D is the largest width or height of a 2D texture.
	MaxTextureDimension2D uint32

	// MaxBufferSize is the largest buffer the backend can allocate, in bytes.
	MaxBufferSize uint64

	// MaxColorAttachments is the number of color targets a render pass may have.
	MaxColorAttachments uint32

	// MSAASampleCounts lists the sample counts the backend accepts for
	// render attachments, always including 1.
	MSAASampleCounts []uint32

	// IndirectDraw reports whether indirect draw and dispatch are available.
	IndirectDraw bool
}

// SupportsMSAA reports whether the backend accepts the given sample count.
//
// Parameters:
//   - samples: the sample count to check
//
// Returns:
//   - bool: true when the sample count is usable for render attachments
func (c Caps) SupportsMSAA(samples uint32) bool {
	for _, s := range c.MSAASampleCounts {
		if s == samples {
			return true
		}
	}
	return false
}

// Counters is a snapshot of work recorded and submitted through a Driver since
// it was created. Values only ever increase.
type Counters struct {
	// Submissions is the number of command buffers handed to the GPU queue.
	Submissions uint64

	// Barriers is the number of buffer barriers recorded into command buffers.
	Barriers uint64

	// BufferCopies is the number of buffer-to-buffer copies recorded.
	BufferCopies uint64

	// Draws is the number of draw calls recorded.
	Draws uint64

	// VertexInvocations is the total vertex shader invocations recorded,
	// counting every instance of every draw.
	VertexInvocations uint64

	// Dispatches is the number of compute dispatches recorded.
	Dispatches uint64

	// WorkgroupInvocations is the total workgroups dispatched, multiplying
	// the three grid dimensions of every dispatch.
	WorkgroupInvocations uint64
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	// Width and Height are the texture dimensions in pixels.
	Width, Height uint32

	// Format is the texel format.
	Format wgpu.TextureFormat

	// Usage declares how the texture will be used. Creating a texture without
	// the usage a later operation needs is an error at that operation.
	Usage wgpu.TextureUsage

	// SampleCount is the MSAA sample count, 0 or 1 for single-sampled.
	SampleCount uint32

	// MipLevelCount is the number of mip levels, 0 or 1 for just the base level.
	MipLevelCount uint32
}

// ViewRange selects the mip levels and array layers a texture view exposes.
// The zero value selects the full base level.
type ViewRange struct {
	// BaseMipLevel is the first mip level visible through the view.
	BaseMipLevel uint32

	// MipLevelCount is the number of mip levels visible, 0 for one level.
	MipLevelCount uint32

	// BaseArrayLayer is the first array layer visible through the view.
	BaseArrayLayer uint32

	// ArrayLayerCount is the number of array layers visible, 0 for one layer.
	ArrayLayerCount uint32
}

// ColorTarget describes one color attachment of a render pass.
type ColorTarget struct {
	// View is the texture view rendered into.
	View TextureView

	// Resolve is the single-sampled view MSAA results resolve into, nil when
	// View is single-sampled.
	Resolve TextureView

	// Load selects whether the attachment is cleared or preserved at pass start.
	Load LoadOp

	// Store selects whether results are kept or discarded at pass end.
	Store StoreOp

	// Clear is the clear color used when Load is LoadOpClear.
	Clear wgpu.Color
}

// DepthTarget describes the depth attachment of a render pass.
type DepthTarget struct {
	// View is the depth texture view.
	View TextureView

	// Load selects whether depth is cleared or preserved at pass start.
	Load LoadOp

	// Store selects whether depth results are kept or discarded at pass end.
	Store StoreOp

	// ClearDepth is the clear value used when Load is LoadOpClear.
	ClearDepth float32
}

// RenderPassDesc describes a render pass to begin on a command buffer.
type RenderPassDesc struct {
	// Label names the pass in captures and error messages.
	Label string

	// Targets are the color attachments, at least one.
	Targets []ColorTarget

	// Depth is the optional depth attachment.
	Depth *DepthTarget
}

// RenderPipelineDesc describes a render pipeline to compile.
type RenderPipelineDesc struct {
	// Label names the pipeline in captures and error messages.
	Label string

	// VertexModule and FragmentModule are the compiled shader modules. The
	// fragment module may be nil for depth-only pipelines.
	VertexModule, FragmentModule ShaderModule

	// VertexEntry and FragmentEntry are the shader entry point names.
	VertexEntry, FragmentEntry string

	// VertexLayouts describe the vertex buffer slots the pipeline consumes.
	VertexLayouts []wgpu.VertexBufferLayout

	// GroupLayouts describe the bind group layouts per group index. A nil
	// inner slice declares an empty group.
	GroupLayouts [][]wgpu.BindGroupLayoutEntry

	// ColorFormats are the formats of the render targets, one per target.
	ColorFormats []wgpu.TextureFormat

	// DepthFormat is the depth attachment format, TextureFormatUndefined for none.
	DepthFormat wgpu.TextureFormat

	// SampleCount is the MSAA sample count the pipeline renders at, 0 or 1
	// for single-sampled.
	SampleCount uint32

	// Topology is the primitive topology.
	Topology wgpu.PrimitiveTopology

	// CullMode selects back-face culling.
	CullMode wgpu.CullMode

	// FrontFace selects the winding order considered front-facing.
	FrontFace wgpu.FrontFace

	// WriteMask limits which color channels are written.
	WriteMask wgpu.ColorWriteMask

	// Blend is the blend state, nil for opaque output.
	Blend *wgpu.BlendState

	// DepthTest enables depth comparison when a depth format is set.
	DepthTest bool

	// DepthWrite enables depth writes when a depth format is set.
	DepthWrite bool

	// DepthBias and DepthBiasSlopeScale offset depth values, useful for
	// shadow passes.
	DepthBias           int32
	DepthBiasSlopeScale float32
}

// ComputePipelineDesc describes a compute pipeline to compile.
type ComputePipelineDesc struct {
	// Label names the pipeline in captures and error messages.
	Label string

	// Module is the compiled shader module.
	Module ShaderModule

	// EntryPoint is the compute entry point name.
	EntryPoint string

	// GroupLayouts describe the bind group layouts per group index.
	GroupLayouts [][]wgpu.BindGroupLayoutEntry
}

// BindGroupEntry binds one resource to one binding index. Exactly one of
// Buffer, View or Sampler must be set.
type BindGroupEntry struct {
	// Binding is the binding index within the group.
	Binding uint32

	// Buffer binds a buffer range.
	Buffer Buffer

	// Offset and Size select the bound range of Buffer, Size 0 for the rest
	// of the buffer.
	Offset, Size uint64

	// View binds a texture view.
	View TextureView

	// Sampler binds a sampler.
	Sampler Sampler
}

// BindGroupDesc describes a bind group to create against one of a pipeline's
// group layouts.
type BindGroupDesc struct {
	// Label names the bind group in captures and error messages.
	Label string

	// Pipeline is the pipeline whose layout the group binds against.
	Pipeline Pipeline

	// GroupIndex is the group slot within the pipeline layout.
	GroupIndex uint32

	// Entries are the resources bound, one per binding the layout declares.
	Entries []BindGroupEntry
}

// SurfaceState reports the current surface configuration.
type SurfaceState struct {
	// Format is the surface texture format chosen at configuration.
	Format wgpu.TextureFormat

	// Width and Height are the configured surface size in pixels.
	Width, Height uint32

	// Samples is the configured MSAA sample count, 1 when MSAA is off.
	Samples uint32

	// MSAAView is the multisampled color view render passes draw into when
	// Samples > 1, nil otherwise.
	MSAAView TextureView

	// DepthView is the depth attachment view sized to the surface.
	DepthView TextureView

	// DepthFormat is the format of DepthView.
	DepthFormat wgpu.TextureFormat
}

// Buffer is a device buffer created through a Driver.
type Buffer interface {
	// Size returns the buffer length in bytes.
	Size() uint64

	// Usage returns the usage flags the buffer was created with.
	Usage() wgpu.BufferUsage

	// ReadSync blocks until previously submitted GPU work completes, then
	// copies the buffer contents at offset into dst. Only valid on buffers
	// created with map-read usage.
	//
	// Parameters:
	//   - offset: byte offset to start reading from
	//   - dst: destination slice, fully filled on success
	//
	// Returns:
	//   - error: if the buffer cannot be mapped or the range is out of bounds
	ReadSync(offset uint64, dst []byte) error

	// Release frees the buffer. The buffer must not be referenced by any
	// command buffer still in flight.
	Release()
}

// Texture is a device texture created through a Driver.
type Texture interface {
	// Size returns the texture dimensions in pixels.
	Size() (width, height uint32)

	// Format returns the texel format.
	Format() wgpu.TextureFormat

	// CreateView creates a view over the given mip and layer range.
	//
	// Parameters:
	//   - label: view name for captures and error messages
	//   - r: mip and layer range, zero value for the full base level
	//
	// Returns:
	//   - TextureView: the created view
	//   - error: if the range is outside the texture
	CreateView(label string, r ViewRange) (TextureView, error)

	// Release frees the texture and all views created from it.
	Release()
}

// TextureView is a view over a texture's mip and layer range.
type TextureView interface {
	// Release frees the view.
	Release()
}

// Sampler is a texture sampler created through a Driver.
type Sampler interface {
	// Release frees the sampler.
	Release()
}

// ShaderModule is a compiled shader created through a Driver.
type ShaderModule interface {
	// Release frees the module. Pipelines compiled from it stay valid.
	Release()
}

// Pipeline is a compiled render or compute pipeline.
type Pipeline interface {
	// Label returns the pipeline name.
	Label() string

	// IsCompute reports whether this is a compute pipeline.
	IsCompute() bool

	// Release frees the pipeline.
	Release()
}

// BindGroup is a set of resources bound together against a pipeline's group
// layout.
type BindGroup interface {
	// Release frees the bind group. The underlying resources are not released.
	Release()
}

// Frame is a surface texture acquired for one frame of presentation.
type Frame interface {
	// View returns the surface texture view to render into.
	View() TextureView

	// Size returns the frame dimensions in pixels.
	Size() (width, height uint32)
}

// Driver is the device-level interface a GPU backend implements. All methods
// are safe for concurrent use unless noted otherwise.
type Driver interface {
	// Backend returns the backend type selected at creation.
	Backend() BackendType

	// Caps returns the backend capabilities discovered at creation.
	Caps() Caps

	// ConfigureSurface sizes the presentation surface and recreates the
	// MSAA and depth attachments that track it. Calling it again reconfigures
	// the surface in place; previously acquired frames become invalid.
	//
	// Parameters:
	//   - width: surface width in pixels, must be > 0
	//   - height: surface height in pixels, must be > 0
	//   - mode: presentation mode
	//   - msaa: MSAA sample count for the surface attachments
	//
	// Returns:
	//   - error: if the backend has no surface or the size is invalid
	ConfigureSurface(width, height uint32, mode PresentMode, msaa MSAASampleCount) error

	// Surface returns the current surface configuration.
	//
	// Returns:
	//   - SurfaceState: format, size and surface-sized attachment views
	//   - error: if the surface was never configured
	Surface() (SurfaceState, error)

	// AcquireFrame blocks until the next surface texture is available and
	// returns it. Only one frame may be held at a time; acquiring again
	// before Present is an error.
	//
	// Returns:
	//   - Frame: the acquired surface texture
	//   - error: if the surface is lost, out of date, or a frame is already held
	AcquireFrame() (Frame, error)

	// Present hands the held frame to the display and releases it.
	//
	// Returns:
	//   - error: if no frame is held
	Present() error

	// CreateBuffer allocates a buffer of the given size.
	//
	// Parameters:
	//   - label: buffer name for captures and error messages
	//   - size: length in bytes, must be > 0
	//   - usage: usage flags
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: if allocation fails
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (Buffer, error)

	// CreateBufferInit allocates a buffer and fills it with data in one step.
	//
	// Parameters:
	//   - label: buffer name for captures and error messages
	//   - data: initial contents, also determines the size
	//   - usage: usage flags
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: if allocation fails
	CreateBufferInit(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error)

	// WriteBuffer schedules a write of data into the buffer at offset. The
	// write lands before any command buffer submitted after this call.
	//
	// Parameters:
	//   - b: destination buffer
	//   - offset: byte offset into the buffer
	//   - data: bytes to write
	//
	// Returns:
	//   - error: if the range is outside the buffer
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// CreateTexture allocates a texture.
	//
	// Parameters:
	//   - label: texture name for captures and error messages
	//   - desc: dimensions, format and usage
	//
	// Returns:
	//   - Texture: the created texture
	//   - error: if the descriptor is invalid or allocation fails
	CreateTexture(label string, desc TextureDesc) (Texture, error)

	// UploadTexture schedules a full upload of RGBA pixel data into the
	// texture's base mip level.
	//
	// Parameters:
	//   - t: destination texture
	//   - data: staged pixels with dimensions matching the texture
	//
	// Returns:
	//   - error: if the staged dimensions do not match the texture
	UploadTexture(t Texture, data common.TextureStagingData) error

	// CreateSampler creates a sampler. Zero values in the staging data fall
	// back to linear filtering with repeat addressing.
	//
	// Parameters:
	//   - label: sampler name for captures and error messages
	//   - data: sampler configuration
	//
	// Returns:
	//   - Sampler: the created sampler
	//   - error: if the configuration is invalid
	CreateSampler(label string, data common.SamplerStagingData) (Sampler, error)

	// CreateShaderModule compiles WGSL source into a shader module.
	//
	// Parameters:
	//   - label: module name for captures and error messages
	//   - code: WGSL source text
	//
	// Returns:
	//   - ShaderModule: the compiled module
	//   - error: if compilation fails
	CreateShaderModule(label, code string) (ShaderModule, error)

	// CreateRenderPipeline compiles a render pipeline.
	//
	// Parameters:
	//   - desc: full pipeline description
	//
	// Returns:
	//   - Pipeline: the compiled pipeline
	//   - error: if the stages do not link or the descriptor is unsupported
	CreateRenderPipeline(desc RenderPipelineDesc) (Pipeline, error)

	// CreateComputePipeline compiles a compute pipeline.
	//
	// Parameters:
	//   - desc: full pipeline description
	//
	// Returns:
	//   - Pipeline: the compiled pipeline
	//   - error: if the module does not link or the descriptor is unsupported
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)

	// CreateBindGroup creates a bind group against one of a pipeline's group
	// layouts.
	//
	// Parameters:
	//   - desc: pipeline, group index and resource entries
	//
	// Returns:
	//   - BindGroup: the created group
	//   - error: if the entries do not match the layout
	CreateBindGroup(desc BindGroupDesc) (BindGroup, error)

	// NewCmdBuffer opens a command buffer for recording.
	//
	// Parameters:
	//   - label: command buffer name for captures and error messages
	//
	// Returns:
	//   - CmdBuffer: the recording command buffer
	//   - error: if the device is lost
	NewCmdBuffer(label string) (CmdBuffer, error)

	// Submit hands a finished command buffer to the GPU queue. Command
	// buffers complete in submission order.
	//
	// Parameters:
	//   - cb: a command buffer whose Finish has returned nil
	//
	// Returns:
	//   - error: if the command buffer was not finished or the device is lost
	Submit(cb CmdBuffer) error

	// WaitIdle blocks until all submitted work has completed on the device.
	//
	// Returns:
	//   - error: if the device is lost
	WaitIdle() error

	// Counters returns a snapshot of the work recorded and submitted so far.
	Counters() Counters

	// Release destroys the device and everything created from it. The caller
	// must ensure no work is in flight.
	Release()
}

// CmdBuffer records GPU work in the order it will execute. Recording is not
// safe for concurrent use; one goroutine records one command buffer.
type CmdBuffer interface {
	// Label returns the command buffer name.
	Label() string

	// BeginRenderPass opens a render pass. The previous pass must be ended.
	//
	// Parameters:
	//   - desc: attachments and load/store behavior
	//
	// Returns:
	//   - RenderPass: the open pass recorder
	//   - error: if a pass is already open or the descriptor is invalid
	BeginRenderPass(desc RenderPassDesc) (RenderPass, error)

	// BeginComputePass opens a compute pass. The previous pass must be ended.
	//
	// Parameters:
	//   - label: pass name for captures and error messages
	//
	// Returns:
	//   - ComputePass: the open pass recorder
	//   - error: if a pass is already open
	BeginComputePass(label string) (ComputePass, error)

	// CopyBufferToBuffer records a copy between buffers. Must be called
	// outside any open pass.
	//
	// Parameters:
	//   - src: source buffer with copy-src usage
	//   - srcOffset: byte offset into src
	//   - dst: destination buffer with copy-dst usage
	//   - dstOffset: byte offset into dst
	//   - size: bytes to copy
	//
	// Returns:
	//   - error: if a pass is open or a range is out of bounds
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) error

	// Barrier records an execution barrier for a buffer written earlier in
	// the queue and read by later passes in this command buffer. Backends
	// with implicit synchronization only count it.
	//
	// Parameters:
	//   - b: the buffer the barrier covers
	Barrier(b Buffer)

	// Finish ends recording. No further passes or copies may be recorded.
	//
	// Returns:
	//   - error: if a pass is still open
	Finish() error

	// Release frees the command buffer without submitting it.
	Release()
}

// RenderPass records draw work inside an open render pass.
type RenderPass interface {
	// SetPipeline selects the render pipeline for subsequent draws.
	SetPipeline(p Pipeline)

	// SetBindGroup binds a resource group to a group slot.
	SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32)

	// SetVertexBuffer binds a vertex buffer to a slot. Size 0 binds the rest
	// of the buffer.
	SetVertexBuffer(slot uint32, b Buffer, offset, size uint64)

	// SetIndexBuffer binds the index buffer. Size 0 binds the rest of the
	// buffer.
	SetIndexBuffer(b Buffer, format wgpu.IndexFormat, offset, size uint64)

	// Draw records a non-indexed draw.
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// DrawIndexed records an indexed draw.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	// DrawIndirect records a draw whose arguments live in a buffer.
	DrawIndirect(b Buffer, offset uint64)

	// End closes the pass. The pass recorder must not be used afterwards.
	//
	// Returns:
	//   - error: if the pass was already ended
	End() error
}

// ComputePass records dispatch work inside an open compute pass.
type ComputePass interface {
	// SetPipeline selects the compute pipeline for subsequent dispatches.
	SetPipeline(p Pipeline)

	// SetBindGroup binds a resource group to a group slot.
	SetBindGroup(index uint32, bg BindGroup, dynamicOffsets []uint32)

	// Dispatch records a workgroup grid dispatch.
	Dispatch(x, y, z uint32)

	// DispatchIndirect records a dispatch whose grid lives in a buffer.
	DispatchIndirect(b Buffer, offset uint64)

	// End closes the pass. The pass recorder must not be used afterwards.
	//
	// Returns:
	//   - error: if the pass was already ended
	End() error
}
