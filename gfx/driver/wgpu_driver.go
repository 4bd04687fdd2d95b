package driver

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/Carmen-Shannon/gfx-go/logging"
	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuDriverImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	caps Caps

	surfaceFormat *wgpu.TextureFormat
	surfaceWidth  uint32
	surfaceHeight uint32
	presentMode   wgpu.PresentMode
	sampleCount   MSAASampleCount

	msaaTexture  *wgpu.Texture
	msaaView     *wgpu.TextureView
	depthTexture *wgpu.Texture
	depthView    *wgpu.TextureView

	// Frame state for the currently acquired swapchain texture.
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	counters Counters
}

var _ Driver = &wgpuDriverImpl{}

// NewWGPU creates the WebGPU-backed driver. The surface descriptor may be nil
// for headless use, in which case surface operations fail with ErrSurfaceLost.
//
// Parameters:
//   - surfaceDescriptor: platform surface to present into, nil for headless
//   - forceFallbackAdapter: request the software rasterizer instead of hardware
//   - power: adapter power preference, zero value lets the platform decide
//
// Returns:
//   - Driver: the initialized driver
//   - error: if no adapter or device is available
func NewWGPU(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, power wgpu.PowerPreference) (Driver, error) {
	runtime.LockOSThread()
	d := &wgpuDriverImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
		sampleCount: MSAAOff,
	}
	if surfaceDescriptor != nil {
		d.surface = d.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    d.surface,
		PowerPreference:      power,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request adapter: %v", ErrDeviceLost, err)
	}
	d.adapter = a

	// Start from the WebGPU spec default limits and raise MaxBindGroups to 8
	// so pipelines using more than four bind groups are allowed.
	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request device: %v", ErrDeviceLost, err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	d.caps = Caps{
		Backend:               BackendWebGPU,
		MaxBindGroups:         limits.MaxBindGroups,
		MaxTextureDimension2D: limits.MaxTextureDimension2D,
		MaxBufferSize:         limits.MaxBufferSize,
		MaxColorAttachments:   limits.MaxColorAttachments,
		MSAASampleCounts:      []uint32{1, 4, 8, 16},
		IndirectDraw:          true,
	}

	logging.Debugf("wgpu driver ready, fallback adapter: %v", forceFallbackAdapter)
	return d, nil
}

func (d *wgpuDriverImpl) Backend() BackendType {
	return BackendWebGPU
}

func (d *wgpuDriverImpl) Caps() Caps {
	return d.caps
}

func (d *wgpuDriverImpl) ConfigureSurface(width, height uint32, mode PresentMode, msaa MSAASampleCount) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return fmt.Errorf("%w: driver has no presentation surface", ErrSurfaceLost)
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: surface size %dx%d", ErrInvalidDescriptor, width, height)
	}
	if msaa == 0 {
		msaa = MSAAOff
	}
	if !d.caps.SupportsMSAA(uint32(msaa)) {
		return fmt.Errorf("%w: MSAA sample count %d", ErrUnsupportedFeature, msaa)
	}

	switch mode {
	case PresentModeVSync:
		d.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		d.presentMode = wgpu.PresentModeImmediate
	}

	capabilities := d.surface.GetCapabilities(d.adapter)
	d.surfaceFormat = &capabilities.Formats[0]

	d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *d.surfaceFormat,
		Width:       width,
		Height:      height,
		PresentMode: d.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	d.releaseSurfaceAttachments()

	count := uint32(msaa)
	if count > 1 {
		// The render pass draws into the MSAA texture and resolves into the
		// swapchain view, so the MSAA contents themselves are never stored.
		msaaTexture, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              width,
				Height:             height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        *d.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			return classifyAllocError("create MSAA texture", err)
		}
		msaaView, err := msaaTexture.CreateView(nil)
		if err != nil {
			msaaTexture.Release()
			return classifyAllocError("create MSAA texture view", err)
		}
		d.msaaTexture = msaaTexture
		d.msaaView = msaaView
	}

	// Depth texture sample count must match the color attachment.
	depthTexture, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return classifyAllocError("create depth texture", err)
	}
	depthView, err := depthTexture.CreateView(nil)
	if err != nil {
		depthTexture.Release()
		return classifyAllocError("create depth texture view", err)
	}
	d.depthTexture = depthTexture
	d.depthView = depthView

	d.surfaceWidth = width
	d.surfaceHeight = height
	d.sampleCount = msaa

	logging.Debugf("surface configured %dx%d msaa=%d", width, height, count)
	return nil
}

// releaseSurfaceAttachments frees the MSAA and depth attachments from the
// previous configuration. Caller holds d.mu.
func (d *wgpuDriverImpl) releaseSurfaceAttachments() {
	if d.msaaView != nil {
		d.msaaView.Release()
		d.msaaView = nil
	}
	if d.msaaTexture != nil {
		d.msaaTexture.Release()
		d.msaaTexture = nil
	}
	if d.depthView != nil {
		d.depthView.Release()
		d.depthView = nil
	}
	if d.depthTexture != nil {
		d.depthTexture.Release()
		d.depthTexture = nil
	}
}

func (d *wgpuDriverImpl) Surface() (SurfaceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surfaceFormat == nil {
		return SurfaceState{}, fmt.Errorf("%w: surface not configured", ErrSurfaceLost)
	}

	st := SurfaceState{
		Format:      *d.surfaceFormat,
		Width:       d.surfaceWidth,
		Height:      d.surfaceHeight,
		Samples:     uint32(d.sampleCount),
		DepthFormat: wgpu.TextureFormatDepth24Plus,
	}
	if st.Samples == 0 {
		st.Samples = 1
	}
	if d.msaaView != nil {
		st.MSAAView = &wgpuTextureView{view: d.msaaView, borrowed: true}
	}
	if d.depthView != nil {
		st.DepthView = &wgpuTextureView{view: d.depthView, borrowed: true}
	}
	return st, nil
}

func (d *wgpuDriverImpl) AcquireFrame() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return nil, fmt.Errorf("%w: driver has no presentation surface", ErrSurfaceLost)
	}
	if d.surfaceFormat == nil {
		return nil, fmt.Errorf("%w: surface not configured", ErrSurfaceLost)
	}
	if d.frameSurface != nil {
		return nil, fmt.Errorf("previous frame surface not yet presented")
	}

	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return nil, classifySurfaceError(err)
	}

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return nil, classifySurfaceError(err)
	}

	d.frameSurface = surfaceTexture
	d.frameView = view

	return &wgpuFrame{
		view:   &wgpuTextureView{view: view, borrowed: true},
		width:  d.surfaceWidth,
		height: d.surfaceHeight,
	}, nil
}

func (d *wgpuDriverImpl) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frameSurface == nil {
		return errors.New("no frame acquired to present")
	}

	d.surface.Present()

	if d.frameView != nil {
		d.frameView.Release()
		d.frameView = nil
	}
	d.frameSurface.Release()
	d.frameSurface = nil

	return nil
}

func (d *wgpuDriverImpl) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, label)
	}
	if size > d.caps.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d exceeds limit %d", ErrUnsupportedFeature, label, size, d.caps.MaxBufferSize)
	}

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, classifyAllocError(fmt.Sprintf("create buffer %q", label), err)
	}
	return &wgpuBuffer{drv: d, buf: buf, size: size, usage: usage}, nil
}

func (d *wgpuDriverImpl) CreateBufferInit(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: buffer %q has no contents", ErrInvalidDescriptor, label)
	}

	buf, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: data,
		Usage:    usage,
	})
	if err != nil {
		return nil, classifyAllocError(fmt.Sprintf("create buffer %q", label), err)
	}
	return &wgpuBuffer{drv: d, buf: buf, size: uint64(len(data)), usage: usage}, nil
}

func (d *wgpuDriverImpl) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	wb, ok := b.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("%w: buffer belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if offset+uint64(len(data)) > wb.size {
		return fmt.Errorf("%w: write of %d bytes at offset %d exceeds buffer size %d", ErrInvalidDescriptor, len(data), offset, wb.size)
	}
	if err := d.queue.WriteBuffer(wb.buf, offset, data); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	return nil
}

func (d *wgpuDriverImpl) CreateTexture(label string, desc TextureDesc) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q size %dx%d", ErrInvalidDescriptor, label, desc.Width, desc.Height)
	}
	if desc.Width > d.caps.MaxTextureDimension2D || desc.Height > d.caps.MaxTextureDimension2D {
		return nil, fmt.Errorf("%w: texture %q size %dx%d exceeds limit %d", ErrUnsupportedFeature, label, desc.Width, desc.Height, d.caps.MaxTextureDimension2D)
	}
	samples := desc.SampleCount
	if samples == 0 {
		samples = 1
	}
	if !d.caps.SupportsMSAA(samples) {
		return nil, fmt.Errorf("%w: texture %q sample count %d", ErrUnsupportedFeature, label, samples)
	}
	mips := desc.MipLevelCount
	if mips == 0 {
		mips = 1
	}

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: mips,
		SampleCount:   samples,
		Dimension:     wgpu.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, classifyAllocError(fmt.Sprintf("create texture %q", label), err)
	}
	return &wgpuTexture{
		tex:    tex,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		mips:   mips,
	}, nil
}

func (d *wgpuDriverImpl) UploadTexture(t Texture, data common.TextureStagingData) error {
	wt, ok := t.(*wgpuTexture)
	if !ok {
		return fmt.Errorf("%w: texture belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if data.Width != wt.width || data.Height != wt.height {
		return fmt.Errorf("%w: staged %dx%d does not match texture %dx%d", ErrInvalidDescriptor, data.Width, data.Height, wt.width, wt.height)
	}
	if uint32(len(data.Pixels)) != data.Width*data.Height*4 {
		return fmt.Errorf("%w: staged pixel data is %d bytes, want %d", ErrInvalidDescriptor, len(data.Pixels), data.Width*data.Height*4)
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  wt.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  data.Width * 4,
			RowsPerImage: data.Height,
		},
		&wgpu.Extent3D{
			Width:              data.Width,
			Height:             data.Height,
			DepthOrArrayLayers: 1,
		},
	)

	return nil
}

func (d *wgpuDriverImpl) CreateSampler(label string, data common.SamplerStagingData) (Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label,
		AddressModeU:  common.Coalesce(data.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(data.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(data.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(data.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(data.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(data.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   common.Coalesce(data.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(data.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(data.MaxAnisotropy, 1),
		Compare:       data.Compare,
	})
	if err != nil {
		return nil, classifyAllocError(fmt.Sprintf("create sampler %q", label), err)
	}
	return &wgpuSampler{samp: samp}, nil
}

func (d *wgpuDriverImpl) CreateShaderModule(label, code string) (ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: code,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: compile module %q: %v", ErrShaderLink, label, err)
	}
	return &wgpuShaderModule{module: module}, nil
}

func (d *wgpuDriverImpl) CreateRenderPipeline(desc RenderPipelineDesc) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vm, ok := desc.VertexModule.(*wgpuShaderModule)
	if !ok || vm == nil {
		return nil, fmt.Errorf("%w: render pipeline %q has no vertex module", ErrInvalidDescriptor, desc.Label)
	}
	if desc.VertexEntry == "" {
		return nil, fmt.Errorf("%w: render pipeline %q has no vertex entry point", ErrInvalidDescriptor, desc.Label)
	}
	if uint32(len(desc.GroupLayouts)) > d.caps.MaxBindGroups {
		return nil, fmt.Errorf("%w: render pipeline %q uses %d bind groups, limit is %d", ErrUnsupportedFeature, desc.Label, len(desc.GroupLayouts), d.caps.MaxBindGroups)
	}
	if uint32(len(desc.ColorFormats)) > d.caps.MaxColorAttachments {
		return nil, fmt.Errorf("%w: render pipeline %q uses %d color targets, limit is %d", ErrUnsupportedFeature, desc.Label, len(desc.ColorFormats), d.caps.MaxColorAttachments)
	}
	samples := desc.SampleCount
	if samples == 0 {
		samples = 1
	}
	if !d.caps.SupportsMSAA(samples) {
		return nil, fmt.Errorf("%w: render pipeline %q sample count %d", ErrUnsupportedFeature, desc.Label, samples)
	}

	groupLayouts, pipelineLayout, err := d.createLayouts(desc.Label, desc.GroupLayouts)
	if err != nil {
		return nil, err
	}

	var fragment *wgpu.FragmentState
	if fm, ok := desc.FragmentModule.(*wgpuShaderModule); ok && fm != nil {
		writeMask := desc.WriteMask
		if writeMask == 0 {
			writeMask = wgpu.ColorWriteMaskAll
		}
		targets := make([]wgpu.ColorTargetState, len(desc.ColorFormats))
		for i, format := range desc.ColorFormats {
			targets[i] = wgpu.ColorTargetState{
				Format:    format,
				WriteMask: writeMask,
				Blend:     desc.Blend,
			}
		}
		fragment = &wgpu.FragmentState{
			Module:     fm.module,
			EntryPoint: desc.FragmentEntry,
			Targets:    targets,
		}
	}

	var depthStencil *wgpu.DepthStencilState
	if desc.DepthFormat != wgpu.TextureFormatUndefined {
		depthCompare := wgpu.CompareFunctionLess
		if !desc.DepthTest {
			depthCompare = wgpu.CompareFunctionAlways
		}
		depthStencil = &wgpu.DepthStencilState{
			Format:              desc.DepthFormat,
			DepthWriteEnabled:   desc.DepthWrite,
			DepthCompare:        depthCompare,
			DepthBias:           desc.DepthBias,
			DepthBiasSlopeScale: desc.DepthBiasSlopeScale,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}

	created, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  desc.Label + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vm.module,
			EntryPoint: desc.VertexEntry,
			Buffers:    desc.VertexLayouts,
		},
		Fragment: fragment,
		Primitive: wgpu.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: wgpu.MultisampleState{
			Count: samples,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: depthStencil,
	})
	if err != nil {
		return nil, classifyPipelineError(desc.Label, err)
	}

	return &wgpuPipeline{
		label:        desc.Label,
		render:       created,
		groupLayouts: groupLayouts,
	}, nil
}

func (d *wgpuDriverImpl) CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := desc.Module.(*wgpuShaderModule)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: compute pipeline %q has no module", ErrInvalidDescriptor, desc.Label)
	}
	if desc.EntryPoint == "" {
		return nil, fmt.Errorf("%w: compute pipeline %q has no entry point", ErrInvalidDescriptor, desc.Label)
	}
	if uint32(len(desc.GroupLayouts)) > d.caps.MaxBindGroups {
		return nil, fmt.Errorf("%w: compute pipeline %q uses %d bind groups, limit is %d", ErrUnsupportedFeature, desc.Label, len(desc.GroupLayouts), d.caps.MaxBindGroups)
	}

	groupLayouts, pipelineLayout, err := d.createLayouts(desc.Label, desc.GroupLayouts)
	if err != nil {
		return nil, err
	}

	created, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label + " Compute Pipeline",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     m.module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, classifyPipelineError(desc.Label, err)
	}

	return &wgpuPipeline{
		label:        desc.Label,
		compute:      created,
		groupLayouts: groupLayouts,
	}, nil
}

// createLayouts builds the bind group layouts and pipeline layout for a
// pipeline. Caller holds d.mu.
func (d *wgpuDriverImpl) createLayouts(label string, groups [][]wgpu.BindGroupLayoutEntry) ([]*wgpu.BindGroupLayout, *wgpu.PipelineLayout, error) {
	groupLayouts := make([]*wgpu.BindGroupLayout, len(groups))
	for g, entries := range groups {
		layout, layoutErr := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s Group %d", label, g),
			Entries: entries,
		})
		if layoutErr != nil {
			return nil, nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, layoutErr)
		}
		groupLayouts[g] = layout
	}

	pipelineLayout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: groupLayouts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: pipeline layout %q: %v", ErrInvalidDescriptor, label, err)
	}
	return groupLayouts, pipelineLayout, nil
}

func (d *wgpuDriverImpl) CreateBindGroup(desc BindGroupDesc) (BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := desc.Pipeline.(*wgpuPipeline)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: bind group %q has no pipeline", ErrInvalidDescriptor, desc.Label)
	}
	if int(desc.GroupIndex) >= len(p.groupLayouts) {
		return nil, fmt.Errorf("%w: bind group %q targets group %d, pipeline has %d", ErrInvalidDescriptor, desc.Label, desc.GroupIndex, len(p.groupLayouts))
	}

	entries := make([]wgpu.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		switch {
		case e.Buffer != nil:
			wb, ok := e.Buffer.(*wgpuBuffer)
			if !ok {
				return nil, fmt.Errorf("%w: binding %d buffer belongs to another backend", ErrInvalidDescriptor, e.Binding)
			}
			size := e.Size
			if size == 0 {
				size = wgpu.WholeSize
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding: e.Binding,
				Buffer:  wb.buf,
				Offset:  e.Offset,
				Size:    size,
			}
		case e.View != nil:
			wv, ok := e.View.(*wgpuTextureView)
			if !ok {
				return nil, fmt.Errorf("%w: binding %d view belongs to another backend", ErrInvalidDescriptor, e.Binding)
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding:     e.Binding,
				TextureView: wv.view,
			}
		case e.Sampler != nil:
			ws, ok := e.Sampler.(*wgpuSampler)
			if !ok {
				return nil, fmt.Errorf("%w: binding %d sampler belongs to another backend", ErrInvalidDescriptor, e.Binding)
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding: e.Binding,
				Sampler: ws.samp,
			}
		default:
			return nil, fmt.Errorf("%w: binding %d has no resource", ErrInvalidDescriptor, e.Binding)
		}
	}

	bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  p.groupLayouts[desc.GroupIndex],
		Entries: entries,
	})
	if err != nil {
		return nil, classifyAllocError(fmt.Sprintf("create bind group %q", desc.Label), err)
	}
	return &wgpuBindGroup{bg: bindGroup}, nil
}

func (d *wgpuDriverImpl) NewCmdBuffer(label string) (CmdBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create command encoder: %v", ErrDeviceLost, err)
	}
	return &wgpuCmdBuffer{drv: d, label: label, encoder: encoder}, nil
}

func (d *wgpuDriverImpl) Submit(cb CmdBuffer) error {
	wcb, ok := cb.(*wgpuCmdBuffer)
	if !ok {
		return fmt.Errorf("%w: command buffer belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if wcb.finished == nil {
		return fmt.Errorf("command buffer %q was not finished before submit", wcb.label)
	}

	d.queue.Submit(wcb.finished)
	wcb.finished.Release()
	wcb.finished = nil
	d.counters.Submissions++

	return nil
}

func (d *wgpuDriverImpl) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.device.Poll(true, nil)
	return nil
}

func (d *wgpuDriverImpl) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

func (d *wgpuDriverImpl) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.device.Poll(true, nil)

	if d.frameView != nil {
		d.frameView.Release()
		d.frameView = nil
	}
	if d.frameSurface != nil {
		d.frameSurface.Release()
		d.frameSurface = nil
	}
	d.releaseSurfaceAttachments()
	d.surfaceFormat = nil

	logging.Debug("wgpu driver released")
}

type wgpuBuffer struct {
	drv   *wgpuDriverImpl
	buf   *wgpu.Buffer
	size  uint64
	usage wgpu.BufferUsage
}

var _ Buffer = &wgpuBuffer{}

func (b *wgpuBuffer) Size() uint64 {
	return b.size
}

func (b *wgpuBuffer) Usage() wgpu.BufferUsage {
	return b.usage
}

func (b *wgpuBuffer) ReadSync(offset uint64, dst []byte) error {
	if b.usage&wgpu.BufferUsageMapRead == 0 {
		return fmt.Errorf("%w: buffer was not created with map-read usage", ErrInvalidDescriptor)
	}
	if offset+uint64(len(dst)) > b.size {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds buffer size %d", ErrInvalidDescriptor, len(dst), offset, b.size)
	}

	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()

	// Map the whole buffer to stay clear of mapping alignment rules, then
	// copy out just the requested range.
	var status wgpu.BufferMapAsyncStatus
	err := b.buf.MapAsync(wgpu.MapModeRead, 0, b.size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return fmt.Errorf("map buffer: %w", err)
	}
	b.drv.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("%w: buffer map status %v", ErrDeviceLost, status)
	}

	mapped := b.buf.GetMappedRange(0, uint(b.size))
	copy(dst, mapped[offset:offset+uint64(len(dst))])
	b.buf.Unmap()

	return nil
}

func (b *wgpuBuffer) Release() {
	b.buf.Release()
}

type wgpuTexture struct {
	tex    *wgpu.Texture
	width  uint32
	height uint32
	format wgpu.TextureFormat
	mips   uint32
}

var _ Texture = &wgpuTexture{}

func (t *wgpuTexture) Size() (uint32, uint32) {
	return t.width, t.height
}

func (t *wgpuTexture) Format() wgpu.TextureFormat {
	return t.format
}

func (t *wgpuTexture) CreateView(label string, r ViewRange) (TextureView, error) {
	if r == (ViewRange{}) {
		view, err := t.tex.CreateView(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: create view %q: %v", ErrInvalidDescriptor, label, err)
		}
		return &wgpuTextureView{view: view}, nil
	}

	mips := r.MipLevelCount
	if mips == 0 {
		mips = 1
	}
	layers := r.ArrayLayerCount
	if layers == 0 {
		layers = 1
	}
	if r.BaseMipLevel+mips > t.mips {
		return nil, fmt.Errorf("%w: view %q mips [%d,%d) exceed texture mip count %d", ErrInvalidDescriptor, label, r.BaseMipLevel, r.BaseMipLevel+mips, t.mips)
	}

	view, err := t.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           label,
		Format:          t.format,
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    r.BaseMipLevel,
		MipLevelCount:   mips,
		BaseArrayLayer:  r.BaseArrayLayer,
		ArrayLayerCount: layers,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create view %q: %v", ErrInvalidDescriptor, label, err)
	}
	return &wgpuTextureView{view: view}, nil
}

func (t *wgpuTexture) Release() {
	t.tex.Release()
}

type wgpuTextureView struct {
	view *wgpu.TextureView

	// borrowed marks views owned by the driver's surface state, released by
	// the driver itself rather than the holder.
	borrowed bool
}

var _ TextureView = &wgpuTextureView{}

func (v *wgpuTextureView) Release() {
	if v.borrowed {
		return
	}
	v.view.Release()
}

type wgpuSampler struct {
	samp *wgpu.Sampler
}

var _ Sampler = &wgpuSampler{}

func (s *wgpuSampler) Release() {
	s.samp.Release()
}

type wgpuShaderModule struct {
	module *wgpu.ShaderModule
}

var _ ShaderModule = &wgpuShaderModule{}

func (m *wgpuShaderModule) Release() {
	m.module.Release()
}

type wgpuPipeline struct {
	label        string
	render       *wgpu.RenderPipeline
	compute      *wgpu.ComputePipeline
	groupLayouts []*wgpu.BindGroupLayout
}

var _ Pipeline = &wgpuPipeline{}

func (p *wgpuPipeline) Label() string {
	return p.label
}

func (p *wgpuPipeline) IsCompute() bool {
	return p.compute != nil
}

func (p *wgpuPipeline) Release() {
	for _, layout := range p.groupLayouts {
		if layout != nil {
			layout.Release()
		}
	}
	if p.render != nil {
		p.render.Release()
	}
	if p.compute != nil {
		p.compute.Release()
	}
}

type wgpuBindGroup struct {
	bg *wgpu.BindGroup
}

var _ BindGroup = &wgpuBindGroup{}

func (g *wgpuBindGroup) Release() {
	g.bg.Release()
}

type wgpuFrame struct {
	view   *wgpuTextureView
	width  uint32
	height uint32
}

var _ Frame = &wgpuFrame{}

func (f *wgpuFrame) View() TextureView {
	return f.view
}

func (f *wgpuFrame) Size() (uint32, uint32) {
	return f.width, f.height
}

// classifyAllocError maps a device creation failure onto the shared error
// taxonomy based on the failure text.
func classifyAllocError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "memory"):
		return fmt.Errorf("%w: %s: %v", ErrOutOfMemory, op, err)
	case strings.Contains(msg, "lost"):
		return fmt.Errorf("%w: %s: %v", ErrDeviceLost, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, op, err)
	}
}

// classifyPipelineError maps a pipeline compile failure onto the shared error
// taxonomy. Stage linkage and entry point problems surface as shader link
// failures, everything else as a descriptor problem.
func classifyPipelineError(label string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "entry point"), strings.Contains(msg, "location"), strings.Contains(msg, "stage"), strings.Contains(msg, "shader"):
		return fmt.Errorf("%w: pipeline %q: %v", ErrShaderLink, label, err)
	case strings.Contains(msg, "memory"):
		return fmt.Errorf("%w: pipeline %q: %v", ErrOutOfMemory, label, err)
	default:
		return fmt.Errorf("%w: pipeline %q: %v", ErrInvalidDescriptor, label, err)
	}
}

// classifySurfaceError maps a swapchain acquire failure onto the shared error
// taxonomy. Outdated and timed out surfaces are recoverable by reconfiguring,
// lost surfaces need the caller to rebuild the surface.
func classifySurfaceError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "lost"):
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	case strings.Contains(msg, "memory"):
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	default:
		return fmt.Errorf("%w: %v", ErrOutOfDate, err)
	}
}
