package pipeline

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/gfx/shader"
	"github.com/cogentcore/webgpu/wgpu"
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultBindGroupCapacity is the bind group LRU size when the caller does
// not choose one.
const defaultBindGroupCapacity = 256

// Targets describes the attachment formats and sample count pipelines compile
// against when they do not set their own. The facade fills this from the
// configured surface.
type Targets struct {
	// ColorFormats are the default color target formats.
	ColorFormats []wgpu.TextureFormat

	// DepthFormat is the default depth attachment format.
	DepthFormat wgpu.TextureFormat

	// Samples is the default MSAA sample count.
	Samples uint32
}

// Binding supplies the resource for one binding index of a bind group.
// Exactly one of Buffer, View or Sampler must be set, matching what the
// pipeline's layout declares at that index.
type Binding struct {
	// Binding is the binding index within the group.
	Binding uint32

	// Buffer binds a buffer range for buffer bindings.
	Buffer resource.Buffer

	// Offset and Size select the bound range of Buffer, Size 0 for the rest
	// of the buffer.
	Offset, Size uint64

	// View binds a texture view for sampled and storage texture bindings.
	View resource.View

	// Sampler binds a sampler for sampler bindings.
	Sampler resource.Sampler
}

// BoundGroup is a ready-to-set bind group plus the classification of the
// resources it binds. The slices are shared with the cache entry and must
// not be modified.
type BoundGroup struct {
	// Group is the driver bind group to set on a pass.
	Group driver.BindGroup

	// Handles lists every resource handle the group references, for usage
	// tracking.
	Handles []resource.Handle

	// ReadBuffers are the bound buffers the pipeline's shaders only read.
	ReadBuffers []resource.Buffer

	// WriteBuffers are the bound buffers the pipeline's shaders may write.
	WriteBuffers []resource.Buffer
}

// Stats counts cache activity since creation. Values only ever increase.
type Stats struct {
	// PipelineCompiles is the number of driver pipelines compiled.
	PipelineCompiles uint64

	// BindGroupCreates is the number of driver bind groups created.
	BindGroupCreates uint64

	// BindGroupHits is the number of Bind calls served from the cache.
	BindGroupHits uint64

	// Evictions is the number of bind groups dropped, whether by capacity
	// pressure, resource destruction or shutdown.
	Evictions uint64
}

// cachedGroup is one bind group cache entry with its resource classification.
type cachedGroup struct {
	group        driver.BindGroup
	handles      []resource.Handle
	readBuffers  []resource.Buffer
	writeBuffers []resource.Buffer
}

func (cg *cachedGroup) bound() BoundGroup {
	return BoundGroup{
		Group:        cg.group,
		Handles:      cg.handles,
		ReadBuffers:  cg.readBuffers,
		WriteBuffers: cg.writeBuffers,
	}
}

// cache is the implementation of the Cache interface.
type cache struct {
	mu  *sync.Mutex
	drv driver.Driver
	mgr resource.Manager

	targets Targets

	// modules and pipelines are compiled driver objects keyed by module and
	// pipeline key. Pipelines stay compiled until Release.
	modules   map[string]driver.ShaderModule
	pipelines map[string]driver.Pipeline

	// groups caches bind groups by descriptor hash. byResource indexes the
	// cache keys referencing each resource handle so destruction can evict
	// exactly the affected entries.
	groups     *lru.Cache[uint64, *cachedGroup]
	byResource map[resource.Handle]map[uint64]struct{}

	stats Stats
}

// Cache compiles pipelines once per key and lazily creates bind groups for
// the resource combinations passes actually bind, evicting entries when the
// resources they reference are destroyed. All methods are safe for
// concurrent use.
type Cache interface {
	// SetTargets sets the surface defaults used when a pipeline does not
	// declare its own target formats or sample count. Affects pipelines
	// compiled after the call.
	//
	// Parameters:
	//   - t: the default attachment formats and sample count
	SetTargets(t Targets)

	// Targets returns the current surface defaults.
	//
	// Returns:
	//   - Targets: the default attachment formats and sample count
	Targets() Targets

	// Compile compiles the pipeline on the backend and stores it under its
	// key. Compiling an already compiled key is a no-op.
	//
	// Parameters:
	//   - p: the pipeline description to compile
	//
	// Returns:
	//   - error: a shader link error if a stage fails to compile, an
	//     unsupported feature error if the description exceeds the backend
	Compile(p Pipeline) error

	// Resolve returns the compiled driver pipeline for a description,
	// compiling it first if needed.
	//
	// Parameters:
	//   - p: the pipeline description to resolve
	//
	// Returns:
	//   - driver.Pipeline: the compiled pipeline
	//   - error: if compilation fails
	Resolve(p Pipeline) (driver.Pipeline, error)

	// Bind returns a bind group for the given resources against one of the
	// pipeline's group layouts, creating it on first use and serving it from
	// cache afterwards.
	//
	// Parameters:
	//   - p: the pipeline whose layout the group binds against
	//   - group: the group slot within the pipeline layout
	//   - bindings: the resources bound, one per binding the layout declares
	//
	// Returns:
	//   - BoundGroup: the bind group and its resource classification
	//   - error: if a binding is missing, mismatched, or references a
	//     destroyed resource
	Bind(p Pipeline, group uint32, bindings []Binding) (BoundGroup, error)

	// InvalidateResource evicts every cached bind group referencing the
	// handle. Called by the resource manager when a resource is destroyed.
	//
	// Parameters:
	//   - h: the destroyed resource handle
	InvalidateResource(h resource.Handle)

	// Stats returns a snapshot of cache activity.
	//
	// Returns:
	//   - Stats: compile, create, hit and eviction counts
	Stats() Stats

	// Release frees every cached bind group, pipeline and shader module.
	Release()
}

var (
	_ Cache                = &cache{}
	_ resource.Invalidator = &cache{}
)

// NewCache creates a pipeline and bind group cache over a driver and the
// resource manager its handles resolve through.
//
// Parameters:
//   - drv: the driver pipelines compile against
//   - mgr: the resource manager bind group handles resolve through
//   - maxGroups: the bind group LRU capacity, <= 0 for the default
//
// Returns:
//   - Cache: the new cache
func NewCache(drv driver.Driver, mgr resource.Manager, maxGroups int) Cache {
	if maxGroups <= 0 {
		maxGroups = defaultBindGroupCapacity
	}
	c := &cache{
		mu:         &sync.Mutex{},
		drv:        drv,
		mgr:        mgr,
		modules:    make(map[string]driver.ShaderModule),
		pipelines:  make(map[string]driver.Pipeline),
		byResource: make(map[resource.Handle]map[uint64]struct{}),
	}
	// The eviction callback runs inside LRU operations, which only happen
	// with c.mu held, so it must not lock.
	c.groups, _ = lru.NewWithEvict(maxGroups, c.onEvict)
	return c
}

func (c *cache) onEvict(key uint64, cg *cachedGroup) {
	for _, h := range cg.handles {
		if keys, ok := c.byResource[h]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byResource, h)
			}
		}
	}
	cg.group.Release()
	c.stats.Evictions++
}

func (c *cache) SetTargets(t Targets) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = t
}

func (c *cache) Targets() Targets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targets
}

func (c *cache) Compile(p Pipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.resolveLocked(p)
	return err
}

func (c *cache) Resolve(p Pipeline) (driver.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(p)
}

func (c *cache) resolveLocked(p Pipeline) (driver.Pipeline, error) {
	if compiled, ok := c.pipelines[p.Key()]; ok {
		return compiled, nil
	}

	caps := c.drv.Caps()
	if uint32(len(p.GroupLayouts())) > caps.MaxBindGroups {
		return nil, fmt.Errorf("%w: pipeline %q uses %d bind groups, backend supports %d",
			driver.ErrUnsupportedFeature, p.Key(), len(p.GroupLayouts()), caps.MaxBindGroups)
	}

	var compiled driver.Pipeline
	var err error
	switch p.Type() {
	case PipelineTypeCompute:
		compiled, err = c.compileComputeLocked(p)
	default:
		compiled, err = c.compileRenderLocked(p)
	}
	if err != nil {
		return nil, err
	}

	c.pipelines[p.Key()] = compiled
	c.stats.PipelineCompiles++
	return compiled, nil
}

func (c *cache) compileRenderLocked(p Pipeline) (driver.Pipeline, error) {
	vsModule, err := c.moduleLocked(p.Module(shader.StageVertex))
	if err != nil {
		return nil, err
	}
	var fsModule driver.ShaderModule
	if fs := p.Module(shader.StageFragment); fs != nil {
		if fsModule, err = c.moduleLocked(fs); err != nil {
			return nil, err
		}
	}

	colorFormats := p.ColorFormats()
	if len(colorFormats) == 0 {
		colorFormats = c.targets.ColorFormats
	}
	if fsModule != nil && len(colorFormats) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q has a fragment stage but no color target formats",
			driver.ErrInvalidDescriptor, p.Key())
	}
	depthFormat := p.DepthFormat()
	if depthFormat == wgpu.TextureFormatUndefined && (p.DepthTestEnabled() || p.DepthWriteEnabled()) {
		depthFormat = c.targets.DepthFormat
	}
	samples := p.SampleCount()
	if samples == 0 {
		samples = c.targets.Samples
	}
	if samples == 0 {
		samples = 1
	}

	caps := c.drv.Caps()
	if samples > 1 && !caps.SupportsMSAA(samples) {
		return nil, fmt.Errorf("%w: %dx MSAA for pipeline %q", driver.ErrUnsupportedFeature, samples, p.Key())
	}
	if uint32(len(colorFormats)) > caps.MaxColorAttachments {
		return nil, fmt.Errorf("%w: pipeline %q renders to %d color targets, backend supports %d",
			driver.ErrUnsupportedFeature, p.Key(), len(colorFormats), caps.MaxColorAttachments)
	}

	var blend *wgpu.BlendState
	if p.BlendEnabled() {
		blend = p.BlendState()
	}

	compiled, err := c.drv.CreateRenderPipeline(driver.RenderPipelineDesc{
		Label:               p.Key(),
		VertexModule:        vsModule,
		FragmentModule:      fsModule,
		VertexEntry:         p.Entry(shader.StageVertex),
		FragmentEntry:       p.Entry(shader.StageFragment),
		VertexLayouts:       p.VertexLayouts(),
		GroupLayouts:        p.GroupLayouts(),
		ColorFormats:        colorFormats,
		DepthFormat:         depthFormat,
		SampleCount:         samples,
		Topology:            p.Topology(),
		CullMode:            p.CullMode(),
		FrontFace:           p.FrontFace(),
		WriteMask:           p.WriteMask(),
		Blend:               blend,
		DepthTest:           p.DepthTestEnabled(),
		DepthWrite:          p.DepthWriteEnabled(),
		DepthBias:           p.DepthBias(),
		DepthBiasSlopeScale: p.DepthBiasSlopeScale(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile render pipeline %q: %w", p.Key(), err)
	}
	return compiled, nil
}

func (c *cache) compileComputeLocked(p Pipeline) (driver.Pipeline, error) {
	module, err := c.moduleLocked(p.Module(shader.StageCompute))
	if err != nil {
		return nil, err
	}

	compiled, err := c.drv.CreateComputePipeline(driver.ComputePipelineDesc{
		Label:        p.Key(),
		Module:       module,
		EntryPoint:   p.Entry(shader.StageCompute),
		GroupLayouts: p.GroupLayouts(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile compute pipeline %q: %w", p.Key(), err)
	}
	return compiled, nil
}

func (c *cache) moduleLocked(m shader.Module) (driver.ShaderModule, error) {
	if sm, ok := c.modules[m.Key()]; ok {
		return sm, nil
	}
	sm, err := c.drv.CreateShaderModule(m.Key(), m.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader module %q: %w", m.Key(), err)
	}
	c.modules[m.Key()] = sm
	return sm, nil
}

func (c *cache) Bind(p Pipeline, group uint32, bindings []Binding) (BoundGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	compiled, err := c.resolveLocked(p)
	if err != nil {
		return BoundGroup{}, err
	}

	layouts := p.GroupLayouts()
	if int(group) >= len(layouts) || len(layouts[group]) == 0 {
		return BoundGroup{}, fmt.Errorf("%w: pipeline %q has no bind group %d",
			driver.ErrInvalidDescriptor, p.Key(), group)
	}
	layout := layouts[group]
	if len(bindings) != len(layout) {
		return BoundGroup{}, fmt.Errorf("%w: bind group %d of pipeline %q declares %d bindings, got %d",
			driver.ErrInvalidDescriptor, group, p.Key(), len(layout), len(bindings))
	}

	sorted := append([]Binding(nil), bindings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Binding < sorted[j].Binding })

	key := bindKey(p.Key(), group, sorted)
	if cg, ok := c.groups.Get(key); ok {
		c.stats.BindGroupHits++
		return cg.bound(), nil
	}

	cg, err := c.createGroupLocked(compiled, p, group, layout, sorted)
	if err != nil {
		return BoundGroup{}, err
	}

	c.groups.Add(key, cg)
	for _, h := range cg.handles {
		if c.byResource[h] == nil {
			c.byResource[h] = make(map[uint64]struct{})
		}
		c.byResource[h][key] = struct{}{}
	}
	c.stats.BindGroupCreates++
	return cg.bound(), nil
}

// createGroupLocked resolves each binding's handle, classifies its access
// through the layout entry and creates the driver bind group. The bindings
// are sorted by binding index, matching the layout's order.
func (c *cache) createGroupLocked(compiled driver.Pipeline, p Pipeline, group uint32, layout []wgpu.BindGroupLayoutEntry, sorted []Binding) (*cachedGroup, error) {
	cg := &cachedGroup{}
	entries := make([]driver.BindGroupEntry, 0, len(sorted))

	for i, e := range layout {
		b := sorted[i]
		if b.Binding != e.Binding {
			return nil, fmt.Errorf("%w: bind group %d of pipeline %q has no resource for binding %d",
				driver.ErrInvalidDescriptor, group, p.Key(), e.Binding)
		}

		entry := driver.BindGroupEntry{Binding: b.Binding}
		switch {
		case e.Buffer.Type != wgpu.BufferBindingTypeUndefined:
			if b.Buffer.IsZero() {
				return nil, fmt.Errorf("%w: binding %d of group %d expects a buffer",
					driver.ErrInvalidDescriptor, e.Binding, group)
			}
			gpu, err := c.mgr.ResolveBuffer(b.Buffer)
			if err != nil {
				return nil, err
			}
			entry.Buffer = gpu
			entry.Offset = b.Offset
			entry.Size = b.Size
			cg.handles = append(cg.handles, b.Buffer.Handle())
			if shader.EntryAccess(e) == shader.AccessReadWrite {
				cg.writeBuffers = append(cg.writeBuffers, b.Buffer)
			} else {
				cg.readBuffers = append(cg.readBuffers, b.Buffer)
			}
		case e.Sampler.Type != wgpu.SamplerBindingTypeUndefined:
			if b.Sampler.IsZero() {
				return nil, fmt.Errorf("%w: binding %d of group %d expects a sampler",
					driver.ErrInvalidDescriptor, e.Binding, group)
			}
			gpu, err := c.mgr.ResolveSampler(b.Sampler)
			if err != nil {
				return nil, err
			}
			entry.Sampler = gpu
			cg.handles = append(cg.handles, b.Sampler.Handle())
		case e.StorageTexture.Access != wgpu.StorageTextureAccessUndefined,
			e.Texture.SampleType != wgpu.TextureSampleTypeUndefined:
			if b.View.IsZero() {
				return nil, fmt.Errorf("%w: binding %d of group %d expects a texture view",
					driver.ErrInvalidDescriptor, e.Binding, group)
			}
			gpu, err := c.mgr.ResolveView(b.View)
			if err != nil {
				return nil, err
			}
			entry.View = gpu
			cg.handles = append(cg.handles, b.View.Handle())
		default:
			return nil, fmt.Errorf("%w: binding %d of group %d has an unclassified layout entry",
				driver.ErrInvalidDescriptor, e.Binding, group)
		}
		entries = append(entries, entry)
	}

	bg, err := c.drv.CreateBindGroup(driver.BindGroupDesc{
		Label:      fmt.Sprintf("%s group %d", p.Key(), group),
		Pipeline:   compiled,
		GroupIndex: group,
		Entries:    entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group %d for pipeline %q: %w", group, p.Key(), err)
	}
	cg.group = bg
	return cg, nil
}

func (c *cache) InvalidateResource(h resource.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.byResource[h] {
		c.groups.Remove(key)
	}
}

func (c *cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *cache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups.Purge()
	for key, compiled := range c.pipelines {
		compiled.Release()
		delete(c.pipelines, key)
	}
	for key, m := range c.modules {
		m.Release()
		delete(c.modules, key)
	}
	c.byResource = make(map[resource.Handle]map[uint64]struct{})
}

// bindKey hashes a bind group descriptor into a cache key. Handles carry
// their generation, so a destroyed and reused slot never collides with the
// old group.
func bindKey(pipelineKey string, group uint32, sorted []Binding) uint64 {
	h := fnv.New64a()
	hashWriteString(h, pipelineKey)
	hashWriteUint32(h, group)
	for _, b := range sorted {
		hashWriteUint32(h, b.Binding)
		hashWriteUint64(h, uint64(b.Buffer.Handle()))
		hashWriteUint64(h, b.Offset)
		hashWriteUint64(h, b.Size)
		hashWriteUint64(h, uint64(b.View.Handle()))
		hashWriteUint64(h, uint64(b.Sampler.Handle()))
	}
	return h.Sum64()
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}
