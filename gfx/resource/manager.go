package resource

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/logging"
	"github.com/cogentcore/webgpu/wgpu"
)

// UsageTracker reports how command buffers currently reference a resource.
// The submission layer implements it so destroys can respect work that is
// recorded or still running on the device.
type UsageTracker interface {
	// RecordedUse reports whether a recorded but unsubmitted command buffer
	// references the resource.
	RecordedUse(h Handle) bool

	// LastSubmittedUse returns the newest submission serial referencing the
	// resource and whether that submission is still in flight.
	LastSubmittedUse(h Handle) (serial uint64, inFlight bool)
}

// Invalidator drops cached state derived from a resource. The pipeline
// layer's bind group cache implements it.
type Invalidator interface {
	// InvalidateResource evicts every cached entry that references the
	// resource.
	InvalidateResource(h Handle)
}

// Sync is a staged shared-buffer update waiting to be copied into place by
// the next pass that binds the buffer.
type Sync struct {
	Buffer  Buffer
	Staging driver.Buffer
	Dst     driver.Buffer
	Size    uint64
}

// Stats is a point-in-time summary of what the manager holds.
type Stats struct {
	Buffers      int
	Textures     int
	Views        int
	Samplers     int
	BufferBytes  uint64
	PendingSyncs int
	Retired      int
	Pool         PoolStats
}

// Manager owns every buffer, texture, view and sampler handed out by the
// library and maps opaque generation handles onto driver resources. Destroys
// are deferred while the device still references a resource, and shared
// buffers get a host shadow that is pushed to the device with SyncBuffer.
type Manager interface {
	// CreateBuffer allocates a buffer of the given size and memory kind.
	// Device buffers are written with WriteBuffer, shared buffers through
	// MappedBytes followed by SyncBuffer. Transfer usages are always added
	// so uploads and readback work on any buffer.
	//
	// Parameters:
	//   - label: debug label for the buffer
	//   - size: the buffer size in bytes
	//   - kind: where the buffer's bytes are written from
	//   - usage: the wgpu usage flags the buffer is bound with
	//
	// Returns:
	//   - Buffer: the handle to the new buffer
	//   - error: an error if allocation failed
	CreateBuffer(label string, size uint64, kind driver.MemoryKind, usage wgpu.BufferUsage) (Buffer, error)

	// CreateTexture allocates a texture.
	//
	// Parameters:
	//   - label: debug label for the texture
	//   - desc: the texture descriptor
	//
	// Returns:
	//   - Texture: the handle to the new texture
	//   - error: an error if allocation failed
	CreateTexture(label string, desc driver.TextureDesc) (Texture, error)

	// UploadTexture copies staged pixel data into the texture.
	//
	// Parameters:
	//   - t: the texture to upload into
	//   - data: the staged pixel data
	//
	// Returns:
	//   - error: an error if the handle is stale or the upload failed
	UploadTexture(t Texture, data common.TextureStagingData) error

	// CreateView creates a view over a slice of the texture's mip and array
	// range. Views are destroyed with their texture.
	//
	// Parameters:
	//   - t: the texture to view
	//   - label: debug label for the view
	//   - r: the sub-range the view covers, zero value for the whole texture
	//
	// Returns:
	//   - View: the handle to the new view
	//   - error: an error if the handle is stale or the range is invalid
	CreateView(t Texture, label string, r driver.ViewRange) (View, error)

	// ImportView wraps an externally owned view, such as the surface's frame
	// view, in a handle. Destroying the handle does not release the
	// underlying view.
	//
	// Parameters:
	//   - label: debug label for the view
	//   - v: the externally owned view
	//
	// Returns:
	//   - View: the handle wrapping the view
	//   - error: an error if the view is nil
	ImportView(label string, v driver.TextureView) (View, error)

	// CreateSampler creates a sampler.
	//
	// Parameters:
	//   - label: debug label for the sampler
	//   - data: the sampler configuration
	//
	// Returns:
	//   - Sampler: the handle to the new sampler
	//   - error: an error if creation failed
	CreateSampler(label string, data common.SamplerStagingData) (Sampler, error)

	// DestroyBuffer destroys the buffer behind the handle. The handle is
	// invalid as soon as the call returns. If submitted work still
	// references the buffer, the device resource is released once that work
	// completes. Destroying a buffer referenced by a recorded but
	// unsubmitted command buffer fails.
	//
	// Parameters:
	//   - b: the buffer to destroy
	//
	// Returns:
	//   - error: an error if the handle is stale or still recorded against
	DestroyBuffer(b Buffer) error

	// DestroyTexture destroys the texture and every view created from it,
	// under the same deferral rules as DestroyBuffer.
	//
	// Parameters:
	//   - t: the texture to destroy
	//
	// Returns:
	//   - error: an error if the handle is stale or still recorded against
	DestroyTexture(t Texture) error

	// DestroyView destroys a single view.
	//
	// Parameters:
	//   - v: the view to destroy
	//
	// Returns:
	//   - error: an error if the handle is stale or still recorded against
	DestroyView(v View) error

	// DestroySampler destroys a sampler.
	//
	// Parameters:
	//   - s: the sampler to destroy
	//
	// Returns:
	//   - error: an error if the handle is stale or still recorded against
	DestroySampler(s Sampler) error

	// MappedBytes passes the shared buffer's host bytes to fn. The bytes
	// are only valid inside the callback and the callback must not call
	// back into the Manager. Writes become visible to the device after
	// SyncBuffer.
	//
	// Parameters:
	//   - b: the shared buffer to map
	//   - fn: the callback receiving the buffer's bytes
	//
	// Returns:
	//   - error: an error if the handle is stale, the buffer is device
	//     local, or fn returned an error
	MappedBytes(b Buffer, fn func([]byte) error) error

	// SyncBuffer snapshots the shared buffer's host bytes into a staging
	// chunk. The copy into the device buffer is recorded by the next pass
	// that binds the buffer, or by ReadBuffer. Later MappedBytes writes do
	// not alter an already staged snapshot.
	//
	// Parameters:
	//   - b: the shared buffer to sync
	//
	// Returns:
	//   - error: an error if the handle is stale or the buffer is device
	//     local
	SyncBuffer(b Buffer) error

	// WriteBuffer writes bytes into a device buffer through the driver
	// queue. Shared buffers are rejected, their writes go through
	// MappedBytes and SyncBuffer.
	//
	// Parameters:
	//   - b: the device buffer to write
	//   - offset: the byte offset to write at
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: an error if the handle is stale, the kinds mismatch or the
	//     write is out of bounds
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// ReadBuffer blocks until the buffer's current device contents are
	// copied back and written into dst. Pending syncs for the buffer are
	// flushed first so a SyncBuffer immediately followed by ReadBuffer
	// round-trips.
	//
	// Parameters:
	//   - b: the buffer to read
	//   - offset: the byte offset to read from
	//   - dst: the destination slice, read length is len(dst)
	//
	// Returns:
	//   - error: an error if the handle is stale, the read is out of bounds
	//     or the device failed
	ReadBuffer(b Buffer, offset uint64, dst []byte) error

	// ResolveBuffer returns the driver buffer behind a handle.
	//
	// Parameters:
	//   - b: the handle to resolve
	//
	// Returns:
	//   - driver.Buffer: the driver resource
	//   - error: an error if the handle is stale
	ResolveBuffer(b Buffer) (driver.Buffer, error)

	// ResolveTexture returns the driver texture behind a handle.
	//
	// Parameters:
	//   - t: the handle to resolve
	//
	// Returns:
	//   - driver.Texture: the driver resource
	//   - error: an error if the handle is stale
	ResolveTexture(t Texture) (driver.Texture, error)

	// ResolveView returns the driver view behind a handle.
	//
	// Parameters:
	//   - v: the handle to resolve
	//
	// Returns:
	//   - driver.TextureView: the driver resource
	//   - error: an error if the handle is stale
	ResolveView(v View) (driver.TextureView, error)

	// ResolveSampler returns the driver sampler behind a handle.
	//
	// Parameters:
	//   - s: the handle to resolve
	//
	// Returns:
	//   - driver.Sampler: the driver resource
	//   - error: an error if the handle is stale
	ResolveSampler(s Sampler) (driver.Sampler, error)

	// BufferKind returns the memory kind a buffer was created with.
	//
	// Parameters:
	//   - b: the handle to inspect
	//
	// Returns:
	//   - driver.MemoryKind: the buffer's memory kind
	//   - error: an error if the handle is stale
	BufferKind(b Buffer) (driver.MemoryKind, error)

	// TakeSyncs removes and returns the pending syncs whose buffer
	// satisfies bound. A nil predicate takes everything. The caller records
	// the copies and hands the staging chunks back through RecycleStaging
	// once the work completes.
	//
	// Parameters:
	//   - bound: predicate selecting which buffers' syncs to take
	//
	// Returns:
	//   - []Sync: the staged updates, in the order they were synced
	TakeSyncs(bound func(Buffer) bool) []Sync

	// PendingSyncs returns how many staged updates are waiting to be
	// flushed.
	//
	// Returns:
	//   - int: the pending sync count
	PendingSyncs() int

	// RecycleStaging returns staging chunks to the pool once the device has
	// finished with them.
	//
	// Parameters:
	//   - chunks: the chunks to recycle
	RecycleStaging(chunks []driver.Buffer)

	// SetTracker wires the submission layer's usage tracker into destroy
	// decisions.
	//
	// Parameters:
	//   - t: the tracker, or nil to release immediately on destroy
	SetTracker(t UsageTracker)

	// SetInvalidator wires the cache layer's eviction callback into
	// destroys.
	//
	// Parameters:
	//   - inv: the invalidator, or nil for none
	SetInvalidator(inv Invalidator)

	// ReleaseRetired releases deferred destroys whose last referencing
	// submission has completed.
	//
	// Parameters:
	//   - completedSerial: the newest completed submission serial
	ReleaseRetired(completedSerial uint64)

	// Stats returns a snapshot of live resource counts and pool counters.
	//
	// Returns:
	//   - Stats: the snapshot
	Stats() Stats

	// Release destroys every remaining resource and the staging pool. The
	// device must be idle before calling it.
	Release()
}

type bufferSlot struct {
	generation uint32
	live       bool
	label      string
	kind       driver.MemoryKind
	size       uint64
	gpu        driver.Buffer
	shadow     []byte
}

type textureSlot struct {
	generation uint32
	live       bool
	label      string
	gpu        driver.Texture
	views      []View
}

type viewSlot struct {
	generation uint32
	live       bool
	label      string
	gpu        driver.TextureView
	parent     Texture
	borrowed   bool
}

type samplerSlot struct {
	generation uint32
	live       bool
	label      string
	gpu        driver.Sampler
}

type retiredResource struct {
	serial  uint64
	release func()
}

type manager struct {
	mu   *sync.Mutex
	drv  driver.Driver
	pool Pool

	buffers      []bufferSlot
	freeBuffers  []uint32
	textures     []textureSlot
	freeTextures []uint32
	views        []viewSlot
	freeViews    []uint32
	samplers     []samplerSlot
	freeSamplers []uint32

	pending     []Sync
	retired     []retiredResource
	tracker     UsageTracker
	invalidator Invalidator
	bufferBytes uint64
}

var _ Manager = &manager{}

// NewManager creates a resource manager over the given driver.
//
// Parameters:
//   - drv: the driver resources are allocated from
//
// Returns:
//   - Manager: the initialized manager
func NewManager(drv driver.Driver) Manager {
	return &manager{
		mu:   &sync.Mutex{},
		drv:  drv,
		pool: NewPool(drv, 64<<20),
	}
}

func (m *manager) CreateBuffer(label string, size uint64, kind driver.MemoryKind, usage wgpu.BufferUsage) (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return 0, fmt.Errorf("%w: buffer %q has zero size", driver.ErrInvalidDescriptor, label)
	}

	usage |= wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	gpu, err := m.drv.CreateBuffer(label, size, usage)
	if err != nil {
		return 0, fmt.Errorf("failed to create buffer %q: %w", label, err)
	}

	slot := bufferSlot{
		live:  true,
		label: label,
		kind:  kind,
		size:  size,
		gpu:   gpu,
	}
	if kind == driver.MemoryShared {
		slot.shadow = make([]byte, size)
	}

	idx, gen := m.allocBufferSlot(slot)
	m.bufferBytes += size
	return Buffer(makeHandle(kindBuffer, idx, gen)), nil
}

func (m *manager) CreateTexture(label string, desc driver.TextureDesc) (Texture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gpu, err := m.drv.CreateTexture(label, desc)
	if err != nil {
		return 0, fmt.Errorf("failed to create texture %q: %w", label, err)
	}

	idx, gen := m.allocTextureSlot(textureSlot{
		live:  true,
		label: label,
		gpu:   gpu,
	})
	return Texture(makeHandle(kindTexture, idx, gen)), nil
}

func (m *manager) UploadTexture(t Texture, data common.TextureStagingData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.textureSlot(t)
	if err != nil {
		return err
	}
	return m.drv.UploadTexture(slot.gpu, data)
}

func (m *manager) CreateView(t Texture, label string, r driver.ViewRange) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.textureSlot(t)
	if err != nil {
		return 0, err
	}
	gpu, err := slot.gpu.CreateView(label, r)
	if err != nil {
		return 0, fmt.Errorf("failed to create view %q: %w", label, err)
	}

	idx, gen := m.allocViewSlot(viewSlot{
		live:   true,
		label:  label,
		gpu:    gpu,
		parent: t,
	})
	v := View(makeHandle(kindView, idx, gen))
	slot.views = append(slot.views, v)
	return v, nil
}

func (m *manager) ImportView(label string, v driver.TextureView) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v == nil {
		return 0, fmt.Errorf("%w: imported view %q is nil", driver.ErrInvalidDescriptor, label)
	}
	idx, gen := m.allocViewSlot(viewSlot{
		live:     true,
		label:    label,
		gpu:      v,
		borrowed: true,
	})
	return View(makeHandle(kindView, idx, gen)), nil
}

func (m *manager) CreateSampler(label string, data common.SamplerStagingData) (Sampler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gpu, err := m.drv.CreateSampler(label, data)
	if err != nil {
		return 0, fmt.Errorf("failed to create sampler %q: %w", label, err)
	}
	idx, gen := m.allocSamplerSlot(samplerSlot{
		live:  true,
		label: label,
		gpu:   gpu,
	})
	return Sampler(makeHandle(kindSampler, idx, gen)), nil
}

func (m *manager) DestroyBuffer(b Buffer) error {
	// The cache locks itself before resolving back through the manager, so
	// invalidation must run after m.mu is released.
	m.mu.Lock()
	inv := m.invalidator
	err := m.destroyBufferLocked(b)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if inv != nil {
		inv.InvalidateResource(b.Handle())
	}
	return nil
}

func (m *manager) destroyBufferLocked(b Buffer) error {
	slot, err := m.bufferSlot(b)
	if err != nil {
		return err
	}
	if err := m.checkRecorded(b.Handle()); err != nil {
		return err
	}

	// Drop staged syncs aimed at this buffer, their target is going away.
	kept := m.pending[:0]
	for _, s := range m.pending {
		if s.Buffer == b {
			m.pool.Recycle(s.Staging)
			continue
		}
		kept = append(kept, s)
	}
	m.pending = kept

	gpu := slot.gpu
	m.bufferBytes -= slot.size
	slot.gpu = nil
	slot.shadow = nil
	m.retire(b.Handle(), func() { gpu.Release() })
	m.freeBufferSlot(b.Handle().Index())
	return nil
}

func (m *manager) DestroyTexture(t Texture) error {
	m.mu.Lock()
	inv := m.invalidator
	destroyed, err := m.destroyTextureLocked(t)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if inv != nil {
		for _, h := range destroyed {
			inv.InvalidateResource(h)
		}
	}
	return nil
}

func (m *manager) destroyTextureLocked(t Texture) ([]Handle, error) {
	slot, err := m.textureSlot(t)
	if err != nil {
		return nil, err
	}
	if err := m.checkRecorded(t.Handle()); err != nil {
		return nil, err
	}
	// Dependent views go down with the texture, so they must not be
	// recorded against either.
	for _, v := range slot.views {
		if vs := m.liveViewSlot(v); vs != nil {
			if err := m.checkRecorded(v.Handle()); err != nil {
				return nil, err
			}
		}
	}

	views := append([]View(nil), slot.views...)
	slot.views = nil
	destroyed := make([]Handle, 0, len(views)+1)
	for _, v := range views {
		if vs := m.liveViewSlot(v); vs != nil {
			m.dropViewLocked(v, vs)
			destroyed = append(destroyed, v.Handle())
		}
	}

	gpu := slot.gpu
	slot.gpu = nil
	m.retire(t.Handle(), func() { gpu.Release() })
	m.freeTextureSlot(t.Handle().Index())
	return append(destroyed, t.Handle()), nil
}

func (m *manager) DestroyView(v View) error {
	m.mu.Lock()
	inv := m.invalidator
	err := m.destroyViewLocked(v)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if inv != nil {
		inv.InvalidateResource(v.Handle())
	}
	return nil
}

func (m *manager) destroyViewLocked(v View) error {
	slot, err := m.viewSlot(v)
	if err != nil {
		return err
	}
	if err := m.checkRecorded(v.Handle()); err != nil {
		return err
	}
	m.dropViewLocked(v, slot)
	return nil
}

// dropViewLocked assumes validity and recording checks already passed.
func (m *manager) dropViewLocked(v View, slot *viewSlot) {
	gpu := slot.gpu
	borrowed := slot.borrowed
	slot.gpu = nil

	// Detach from the parent texture's view list.
	if !slot.parent.IsZero() {
		if ts := m.liveTextureSlot(slot.parent); ts != nil {
			for i, dep := range ts.views {
				if dep == v {
					ts.views = append(ts.views[:i], ts.views[i+1:]...)
					break
				}
			}
		}
	}

	if borrowed {
		m.retire(v.Handle(), func() {})
	} else {
		m.retire(v.Handle(), func() { gpu.Release() })
	}
	m.freeViewSlot(v.Handle().Index())
}

func (m *manager) DestroySampler(s Sampler) error {
	m.mu.Lock()
	inv := m.invalidator
	err := m.destroySamplerLocked(s)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if inv != nil {
		inv.InvalidateResource(s.Handle())
	}
	return nil
}

func (m *manager) destroySamplerLocked(s Sampler) error {
	slot, err := m.samplerSlot(s)
	if err != nil {
		return err
	}
	if err := m.checkRecorded(s.Handle()); err != nil {
		return err
	}
	gpu := slot.gpu
	slot.gpu = nil
	m.retire(s.Handle(), func() { gpu.Release() })
	m.freeSamplerSlot(s.Handle().Index())
	return nil
}

func (m *manager) MappedBytes(b Buffer, fn func([]byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return err
	}
	if slot.kind != driver.MemoryShared {
		return fmt.Errorf("%w: buffer %q is device local, write it with WriteBuffer", driver.ErrInvalidDescriptor, slot.label)
	}
	return fn(slot.shadow)
}

func (m *manager) SyncBuffer(b Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return err
	}
	if slot.kind != driver.MemoryShared {
		return fmt.Errorf("%w: buffer %q is device local and needs no sync", driver.ErrInvalidDescriptor, slot.label)
	}

	chunk, err := m.pool.Acquire(StagingUpload, slot.size)
	if err != nil {
		return err
	}
	if err := m.drv.WriteBuffer(chunk, 0, slot.shadow); err != nil {
		m.pool.Recycle(chunk)
		return fmt.Errorf("failed to stage sync for %q: %w", slot.label, err)
	}
	m.pending = append(m.pending, Sync{
		Buffer:  b,
		Staging: chunk,
		Dst:     slot.gpu,
		Size:    slot.size,
	})
	return nil
}

func (m *manager) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return err
	}
	if slot.kind != driver.MemoryDevice {
		return fmt.Errorf("%w: buffer %q is shared, write it with MappedBytes and SyncBuffer", driver.ErrInvalidDescriptor, slot.label)
	}
	if offset+uint64(len(data)) > slot.size {
		return fmt.Errorf("%w: write of %d bytes at offset %d exceeds buffer %q size %d", driver.ErrInvalidDescriptor, len(data), offset, slot.label, slot.size)
	}
	return m.drv.WriteBuffer(slot.gpu, offset, data)
}

func (m *manager) ReadBuffer(b Buffer, offset uint64, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return err
	}
	if offset+uint64(len(dst)) > slot.size {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds buffer %q size %d", driver.ErrInvalidDescriptor, len(dst), offset, slot.label, slot.size)
	}

	cb, err := m.drv.NewCmdBuffer("readback")
	if err != nil {
		return err
	}
	defer cb.Release()

	// A readback binds the buffer, so staged syncs for it flush first.
	var flush, kept []Sync
	for _, s := range m.pending {
		if s.Buffer == b {
			flush = append(flush, s)
		} else {
			kept = append(kept, s)
		}
	}
	var spent []driver.Buffer
	for _, s := range flush {
		if err := cb.CopyBufferToBuffer(s.Staging, 0, s.Dst, 0, s.Size); err != nil {
			return err
		}
		cb.Barrier(s.Dst)
		spent = append(spent, s.Staging)
	}
	m.pending = kept

	chunk, err := m.pool.Acquire(StagingReadback, uint64(len(dst)))
	if err != nil {
		return err
	}
	if err := cb.CopyBufferToBuffer(slot.gpu, offset, chunk, 0, uint64(len(dst))); err != nil {
		m.pool.Recycle(chunk)
		return err
	}
	if err := cb.Finish(); err != nil {
		m.pool.Recycle(chunk)
		return err
	}
	if err := m.drv.Submit(cb); err != nil {
		m.pool.Recycle(chunk)
		return err
	}
	if err := m.drv.WaitIdle(); err != nil {
		return err
	}

	err = chunk.ReadSync(0, dst)
	m.pool.Recycle(chunk)
	for _, s := range spent {
		m.pool.Recycle(s)
	}
	if err != nil {
		return fmt.Errorf("failed to read back buffer %q: %w", slot.label, err)
	}
	return nil
}

func (m *manager) ResolveBuffer(b Buffer) (driver.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return nil, err
	}
	return slot.gpu, nil
}

func (m *manager) ResolveTexture(t Texture) (driver.Texture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.textureSlot(t)
	if err != nil {
		return nil, err
	}
	return slot.gpu, nil
}

func (m *manager) ResolveView(v View) (driver.TextureView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.viewSlot(v)
	if err != nil {
		return nil, err
	}
	return slot.gpu, nil
}

func (m *manager) ResolveSampler(s Sampler) (driver.Sampler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.samplerSlot(s)
	if err != nil {
		return nil, err
	}
	return slot.gpu, nil
}

func (m *manager) BufferKind(b Buffer) (driver.MemoryKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.bufferSlot(b)
	if err != nil {
		return 0, err
	}
	return slot.kind, nil
}

func (m *manager) TakeSyncs(bound func(Buffer) bool) []Sync {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bound == nil {
		taken := m.pending
		m.pending = nil
		return taken
	}

	var taken []Sync
	kept := m.pending[:0]
	for _, s := range m.pending {
		if bound(s.Buffer) {
			taken = append(taken, s)
		} else {
			kept = append(kept, s)
		}
	}
	m.pending = kept
	return taken
}

func (m *manager) PendingSyncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manager) RecycleStaging(chunks []driver.Buffer) {
	for _, c := range chunks {
		m.pool.Recycle(c)
	}
}

func (m *manager) SetTracker(t UsageTracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = t
}

func (m *manager) SetInvalidator(inv Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidator = inv
}

func (m *manager) ReleaseRetired(completedSerial uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.retired[:0]
	for _, r := range m.retired {
		if r.serial <= completedSerial {
			r.release()
			continue
		}
		kept = append(kept, r)
	}
	m.retired = kept
}

func (m *manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Buffers:      len(m.buffers) - len(m.freeBuffers),
		Textures:     len(m.textures) - len(m.freeTextures),
		Views:        len(m.views) - len(m.freeViews),
		Samplers:     len(m.samplers) - len(m.freeSamplers),
		BufferBytes:  m.bufferBytes,
		PendingSyncs: len(m.pending),
		Retired:      len(m.retired),
		Pool:         m.pool.Stats(),
	}
}

func (m *manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.retired {
		r.release()
	}
	m.retired = nil

	for _, s := range m.pending {
		m.pool.Recycle(s.Staging)
	}
	m.pending = nil

	released := 0
	for i := range m.buffers {
		if m.buffers[i].live && m.buffers[i].gpu != nil {
			m.buffers[i].gpu.Release()
			m.buffers[i].live = false
			released++
		}
	}
	for i := range m.views {
		if m.views[i].live {
			if !m.views[i].borrowed && m.views[i].gpu != nil {
				m.views[i].gpu.Release()
				released++
			}
			m.views[i].live = false
		}
	}
	for i := range m.textures {
		if m.textures[i].live && m.textures[i].gpu != nil {
			m.textures[i].gpu.Release()
			m.textures[i].live = false
			released++
		}
	}
	for i := range m.samplers {
		if m.samplers[i].live && m.samplers[i].gpu != nil {
			m.samplers[i].gpu.Release()
			m.samplers[i].live = false
			released++
		}
	}
	if released > 0 {
		logging.Debugf("resource manager released %d leaked resources on shutdown", released)
	}

	m.pool.Clear()
}

// checkRecorded fails a destroy when a recorded but unsubmitted command
// buffer still references the handle. Caller holds the lock.
func (m *manager) checkRecorded(h Handle) error {
	if m.tracker != nil && m.tracker.RecordedUse(h) {
		return fmt.Errorf("%w: %s is referenced by a recorded command buffer", driver.ErrUseAfterDestroy, h)
	}
	return nil
}

// retire schedules the release of a destroyed resource. If submitted work
// still references it the release waits for that work to complete,
// otherwise it runs now. Caller holds the lock.
func (m *manager) retire(h Handle, release func()) {
	if m.tracker != nil {
		if serial, inFlight := m.tracker.LastSubmittedUse(h); inFlight {
			logging.Debugf("deferring release of %s until submission %d completes", h, serial)
			m.retired = append(m.retired, retiredResource{serial: serial, release: release})
			return
		}
	}
	release()
}

func (m *manager) bufferSlot(b Buffer) (*bufferSlot, error) {
	h := b.Handle()
	if h.kind() == kindBuffer && h.Index() < uint32(len(m.buffers)) {
		slot := &m.buffers[h.Index()]
		if slot.live && slot.generation == h.Generation() {
			return slot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrUseAfterDestroy, h)
}

func (m *manager) textureSlot(t Texture) (*textureSlot, error) {
	h := t.Handle()
	if h.kind() == kindTexture && h.Index() < uint32(len(m.textures)) {
		slot := &m.textures[h.Index()]
		if slot.live && slot.generation == h.Generation() {
			return slot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrUseAfterDestroy, h)
}

func (m *manager) viewSlot(v View) (*viewSlot, error) {
	h := v.Handle()
	if h.kind() == kindView && h.Index() < uint32(len(m.views)) {
		slot := &m.views[h.Index()]
		if slot.live && slot.generation == h.Generation() {
			return slot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrUseAfterDestroy, h)
}

func (m *manager) samplerSlot(s Sampler) (*samplerSlot, error) {
	h := s.Handle()
	if h.kind() == kindSampler && h.Index() < uint32(len(m.samplers)) {
		slot := &m.samplers[h.Index()]
		if slot.live && slot.generation == h.Generation() {
			return slot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrUseAfterDestroy, h)
}

func (m *manager) liveTextureSlot(t Texture) *textureSlot {
	slot, err := m.textureSlot(t)
	if err != nil {
		return nil
	}
	return slot
}

func (m *manager) liveViewSlot(v View) *viewSlot {
	slot, err := m.viewSlot(v)
	if err != nil {
		return nil
	}
	return slot
}

// Slot arenas reuse freed indices and keep the bumped generation, which is
// what makes stale handles detectable.

func (m *manager) allocBufferSlot(slot bufferSlot) (uint32, uint32) {
	if n := len(m.freeBuffers); n > 0 {
		idx := m.freeBuffers[n-1]
		m.freeBuffers = m.freeBuffers[:n-1]
		slot.generation = m.buffers[idx].generation
		m.buffers[idx] = slot
		return idx, slot.generation
	}
	slot.generation = 1
	m.buffers = append(m.buffers, slot)
	return uint32(len(m.buffers) - 1), 1
}

func (m *manager) freeBufferSlot(idx uint32) {
	m.buffers[idx].live = false
	m.buffers[idx].generation = (m.buffers[idx].generation + 1) & handleGenMask
	m.freeBuffers = append(m.freeBuffers, idx)
}

func (m *manager) allocTextureSlot(slot textureSlot) (uint32, uint32) {
	if n := len(m.freeTextures); n > 0 {
		idx := m.freeTextures[n-1]
		m.freeTextures = m.freeTextures[:n-1]
		slot.generation = m.textures[idx].generation
		m.textures[idx] = slot
		return idx, slot.generation
	}
	slot.generation = 1
	m.textures = append(m.textures, slot)
	return uint32(len(m.textures) - 1), 1
}

func (m *manager) freeTextureSlot(idx uint32) {
	m.textures[idx].live = false
	m.textures[idx].generation = (m.textures[idx].generation + 1) & handleGenMask
	m.freeTextures = append(m.freeTextures, idx)
}

func (m *manager) allocViewSlot(slot viewSlot) (uint32, uint32) {
	if n := len(m.freeViews); n > 0 {
		idx := m.freeViews[n-1]
		m.freeViews = m.freeViews[:n-1]
		slot.generation = m.views[idx].generation
		m.views[idx] = slot
		return idx, slot.generation
	}
	slot.generation = 1
	m.views = append(m.views, slot)
	return uint32(len(m.views) - 1), 1
}

func (m *manager) freeViewSlot(idx uint32) {
	m.views[idx].live = false
	m.views[idx].generation = (m.views[idx].generation + 1) & handleGenMask
	m.freeViews = append(m.freeViews, idx)
}

func (m *manager) allocSamplerSlot(slot samplerSlot) (uint32, uint32) {
	if n := len(m.freeSamplers); n > 0 {
		idx := m.freeSamplers[n-1]
		m.freeSamplers = m.freeSamplers[:n-1]
		slot.generation = m.samplers[idx].generation
		m.samplers[idx] = slot
		return idx, slot.generation
	}
	slot.generation = 1
	m.samplers = append(m.samplers, slot)
	return uint32(len(m.samplers) - 1), 1
}

func (m *manager) freeSamplerSlot(idx uint32) {
	m.samplers[idx].live = false
	m.samplers[idx].generation = (m.samplers[idx].generation + 1) & handleGenMask
	m.freeSamplers = append(m.freeSamplers, idx)
}
