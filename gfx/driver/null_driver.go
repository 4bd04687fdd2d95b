package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/Carmen-Shannon/gfx-go/logging"
	"github.com/cogentcore/webgpu/wgpu"
)

type nullDriverImpl struct {
	mu   *sync.Mutex
	caps Caps

	surfaceConfigured bool
	surfaceWidth      uint32
	surfaceHeight     uint32
	sampleCount       MSAASampleCount

	frameTexture *nullTexture
	depthTexture *nullTexture
	msaaTexture  *nullTexture
	frameHeld    bool

	counters Counters
}

var _ Driver = &nullDriverImpl{}

// NewNull creates the CPU bookkeeping driver. Buffers are host byte slices,
// copies execute in recorded order at submit and draws only count their
// invocations. Shader modules are never executed, so compute and fragment
// results are not produced.
//
// Returns:
//   - Driver: the initialized driver
func NewNull() Driver {
	return NewNullWithCaps(Caps{
		Backend:               BackendNull,
		MaxBindGroups:         8,
		MaxTextureDimension2D: 8192,
		MaxBufferSize:         1 << 30,
		MaxColorAttachments:   8,
		MSAASampleCounts:      []uint32{1, 4},
		IndirectDraw:          true,
	})
}

// NewNullWithCaps creates the CPU bookkeeping driver with explicit
// capabilities, letting callers exercise unsupported-feature paths.
//
// Parameters:
//   - caps: the capability set to report
//
// Returns:
//   - Driver: the initialized driver
func NewNullWithCaps(caps Caps) Driver {
	caps.Backend = BackendNull
	if len(caps.MSAASampleCounts) == 0 {
		caps.MSAASampleCounts = []uint32{1}
	}
	return &nullDriverImpl{
		mu:   &sync.Mutex{},
		caps: caps,
	}
}

func (d *nullDriverImpl) Backend() BackendType {
	return BackendNull
}

func (d *nullDriverImpl) Caps() Caps {
	return d.caps
}

func (d *nullDriverImpl) ConfigureSurface(width, height uint32, mode PresentMode, msaa MSAASampleCount) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if width == 0 || height == 0 {
		return fmt.Errorf("%w: surface size %dx%d", ErrInvalidDescriptor, width, height)
	}
	if msaa == 0 {
		msaa = MSAAOff
	}
	if !d.caps.SupportsMSAA(uint32(msaa)) {
		return fmt.Errorf("%w: MSAA sample count %d", ErrUnsupportedFeature, msaa)
	}

	d.surfaceConfigured = true
	d.surfaceWidth = width
	d.surfaceHeight = height
	d.sampleCount = msaa
	d.frameHeld = false

	d.frameTexture = &nullTexture{
		label:  "Surface Texture",
		width:  width,
		height: height,
		format: wgpu.TextureFormatRGBA8UnormSrgb,
		mips:   1,
	}
	d.depthTexture = &nullTexture{
		label:  "Depth Texture",
		width:  width,
		height: height,
		format: wgpu.TextureFormatDepth24Plus,
		mips:   1,
	}
	if uint32(msaa) > 1 {
		d.msaaTexture = &nullTexture{
			label:  "MSAA Texture",
			width:  width,
			height: height,
			format: wgpu.TextureFormatRGBA8UnormSrgb,
			mips:   1,
		}
	} else {
		d.msaaTexture = nil
	}

	logging.Debugf("null surface configured %dx%d msaa=%d", width, height, uint32(msaa))
	return nil
}

func (d *nullDriverImpl) Surface() (SurfaceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.surfaceConfigured {
		return SurfaceState{}, fmt.Errorf("%w: surface not configured", ErrSurfaceLost)
	}
	st := SurfaceState{
		Format:      wgpu.TextureFormatRGBA8UnormSrgb,
		Width:       d.surfaceWidth,
		Height:      d.surfaceHeight,
		Samples:     uint32(d.sampleCount),
		DepthFormat: wgpu.TextureFormatDepth24Plus,
		DepthView:   &nullTextureView{tex: d.depthTexture},
	}
	if st.Samples == 0 {
		st.Samples = 1
	}
	if d.msaaTexture != nil {
		st.MSAAView = &nullTextureView{tex: d.msaaTexture}
	}
	return st, nil
}

func (d *nullDriverImpl) AcquireFrame() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.surfaceConfigured {
		return nil, fmt.Errorf("%w: surface not configured", ErrSurfaceLost)
	}
	if d.frameHeld {
		return nil, fmt.Errorf("previous frame surface not yet presented")
	}
	d.frameHeld = true

	return &nullFrame{
		view:   &nullTextureView{tex: d.frameTexture},
		width:  d.surfaceWidth,
		height: d.surfaceHeight,
	}, nil
}

func (d *nullDriverImpl) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.frameHeld {
		return errors.New("no frame acquired to present")
	}
	d.frameHeld = false
	return nil
}

func (d *nullDriverImpl) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, label)
	}
	if size > d.caps.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d exceeds limit %d", ErrUnsupportedFeature, label, size, d.caps.MaxBufferSize)
	}
	return &nullBuffer{label: label, data: make([]byte, size), usage: usage}, nil
}

func (d *nullDriverImpl) CreateBufferInit(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: buffer %q has no contents", ErrInvalidDescriptor, label)
	}
	b := &nullBuffer{label: label, data: make([]byte, len(data)), usage: usage}
	copy(b.data, data)
	return b, nil
}

func (d *nullDriverImpl) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	nb, ok := b.(*nullBuffer)
	if !ok {
		return fmt.Errorf("%w: buffer belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if offset+uint64(len(data)) > uint64(len(nb.data)) {
		return fmt.Errorf("%w: write of %d bytes at offset %d exceeds buffer size %d", ErrInvalidDescriptor, len(data), offset, len(nb.data))
	}
	copy(nb.data[offset:], data)
	return nil
}

func (d *nullDriverImpl) CreateTexture(label string, desc TextureDesc) (Texture, error) {
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
	return &nullTexture{
		label:  label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		mips:   mips,
	}, nil
}

func (d *nullDriverImpl) UploadTexture(t Texture, data common.TextureStagingData) error {
	nt, ok := t.(*nullTexture)
	if !ok {
		return fmt.Errorf("%w: texture belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if data.Width != nt.width || data.Height != nt.height {
		return fmt.Errorf("%w: staged %dx%d does not match texture %dx%d", ErrInvalidDescriptor, data.Width, data.Height, nt.width, nt.height)
	}
	if uint32(len(data.Pixels)) != data.Width*data.Height*4 {
		return fmt.Errorf("%w: staged pixel data is %d bytes, want %d", ErrInvalidDescriptor, len(data.Pixels), data.Width*data.Height*4)
	}
	nt.pixels = make([]byte, len(data.Pixels))
	copy(nt.pixels, data.Pixels)
	return nil
}

func (d *nullDriverImpl) CreateSampler(label string, data common.SamplerStagingData) (Sampler, error) {
	return &nullSampler{label: label, data: data}, nil
}

func (d *nullDriverImpl) CreateShaderModule(label, code string) (ShaderModule, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: module %q has no source", ErrShaderLink, label)
	}
	return &nullShaderModule{label: label, code: code}, nil
}

func (d *nullDriverImpl) CreateRenderPipeline(desc RenderPipelineDesc) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.VertexModule == nil {
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
	return &nullPipeline{label: desc.Label, groups: len(desc.GroupLayouts)}, nil
}

func (d *nullDriverImpl) CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Module == nil {
		return nil, fmt.Errorf("%w: compute pipeline %q has no module", ErrInvalidDescriptor, desc.Label)
	}
	if desc.EntryPoint == "" {
		return nil, fmt.Errorf("%w: compute pipeline %q has no entry point", ErrInvalidDescriptor, desc.Label)
	}
	if uint32(len(desc.GroupLayouts)) > d.caps.MaxBindGroups {
		return nil, fmt.Errorf("%w: compute pipeline %q uses %d bind groups, limit is %d", ErrUnsupportedFeature, desc.Label, len(desc.GroupLayouts), d.caps.MaxBindGroups)
	}
	return &nullPipeline{label: desc.Label, compute: true, groups: len(desc.GroupLayouts)}, nil
}

func (d *nullDriverImpl) CreateBindGroup(desc BindGroupDesc) (BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := desc.Pipeline.(*nullPipeline)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: bind group %q has no pipeline", ErrInvalidDescriptor, desc.Label)
	}
	if int(desc.GroupIndex) >= p.groups {
		return nil, fmt.Errorf("%w: bind group %q targets group %d, pipeline has %d", ErrInvalidDescriptor, desc.Label, desc.GroupIndex, p.groups)
	}
	for _, e := range desc.Entries {
		if e.Buffer == nil && e.View == nil && e.Sampler == nil {
			return nil, fmt.Errorf("%w: binding %d has no resource", ErrInvalidDescriptor, e.Binding)
		}
	}
	return &nullBindGroup{label: desc.Label, entries: desc.Entries}, nil
}

func (d *nullDriverImpl) NewCmdBuffer(label string) (CmdBuffer, error) {
	return &nullCmdBuffer{drv: d, label: label}, nil
}

func (d *nullDriverImpl) Submit(cb CmdBuffer) error {
	ncb, ok := cb.(*nullCmdBuffer)
	if !ok {
		return fmt.Errorf("%w: command buffer belongs to another backend", ErrInvalidDescriptor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !ncb.finished {
		return fmt.Errorf("command buffer %q was not finished before submit", ncb.label)
	}

	// Copies run now, in recorded order.
	for _, op := range ncb.ops {
		op()
	}
	ncb.ops = nil
	d.counters.Submissions++

	return nil
}

func (d *nullDriverImpl) WaitIdle() error {
	return nil
}

func (d *nullDriverImpl) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

func (d *nullDriverImpl) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frameTexture = nil
	d.depthTexture = nil
	d.msaaTexture = nil
	d.surfaceConfigured = false
}

type nullBuffer struct {
	label string
	data  []byte
	usage wgpu.BufferUsage
}

var _ Buffer = &nullBuffer{}

func (b *nullBuffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *nullBuffer) Usage() wgpu.BufferUsage {
	return b.usage
}

func (b *nullBuffer) ReadSync(offset uint64, dst []byte) error {
	if b.usage&wgpu.BufferUsageMapRead == 0 {
		return fmt.Errorf("%w: buffer was not created with map-read usage", ErrInvalidDescriptor)
	}
	if offset+uint64(len(dst)) > uint64(len(b.data)) {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds buffer size %d", ErrInvalidDescriptor, len(dst), offset, len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

func (b *nullBuffer) Release() {
	b.data = nil
}

type nullTexture struct {
	label  string
	width  uint32
	height uint32
	format wgpu.TextureFormat
	mips   uint32
	pixels []byte
}

var _ Texture = &nullTexture{}

func (t *nullTexture) Size() (uint32, uint32) {
	return t.width, t.height
}

func (t *nullTexture) Format() wgpu.TextureFormat {
	return t.format
}

func (t *nullTexture) CreateView(label string, r ViewRange) (TextureView, error) {
	mips := r.MipLevelCount
	if mips == 0 {
		mips = 1
	}
	if r.BaseMipLevel+mips > t.mips {
		return nil, fmt.Errorf("%w: view %q mips [%d,%d) exceed texture mip count %d", ErrInvalidDescriptor, label, r.BaseMipLevel, r.BaseMipLevel+mips, t.mips)
	}
	return &nullTextureView{tex: t, r: r}, nil
}

func (t *nullTexture) Release() {
	t.pixels = nil
}

type nullTextureView struct {
	tex *nullTexture
	r   ViewRange
}

var _ TextureView = &nullTextureView{}

func (v *nullTextureView) Release() {}

type nullSampler struct {
	label string
	data  common.SamplerStagingData
}

var _ Sampler = &nullSampler{}

func (s *nullSampler) Release() {}

type nullShaderModule struct {
	label string
	code  string
}

var _ ShaderModule = &nullShaderModule{}

func (m *nullShaderModule) Release() {}

type nullPipeline struct {
	label   string
	compute bool
	groups  int
}

var _ Pipeline = &nullPipeline{}

func (p *nullPipeline) Label() string {
	return p.label
}

func (p *nullPipeline) IsCompute() bool {
	return p.compute
}

func (p *nullPipeline) Release() {}

type nullBindGroup struct {
	label   string
	entries []BindGroupEntry
}

var _ BindGroup = &nullBindGroup{}

func (g *nullBindGroup) Release() {}

type nullFrame struct {
	view   *nullTextureView
	width  uint32
	height uint32
}

var _ Frame = &nullFrame{}

func (f *nullFrame) View() TextureView {
	return f.view
}

func (f *nullFrame) Size() (uint32, uint32) {
	return f.width, f.height
}
