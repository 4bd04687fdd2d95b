package resource

import (
	"testing"

	"github.com/Carmen-Shannon/gfx-go/common"
	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	recorded map[Handle]bool
	serials  map[Handle]uint64
	inFlight map[Handle]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		recorded: make(map[Handle]bool),
		serials:  make(map[Handle]uint64),
		inFlight: make(map[Handle]bool),
	}
}

func (f *fakeTracker) RecordedUse(h Handle) bool {
	return f.recorded[h]
}

func (f *fakeTracker) LastSubmittedUse(h Handle) (uint64, bool) {
	return f.serials[h], f.inFlight[h]
}

type fakeInvalidator struct {
	evicted []Handle
}

func (f *fakeInvalidator) InvalidateResource(h Handle) {
	f.evicted = append(f.evicted, h)
}

func newTestManager(t *testing.T) (Manager, driver.Driver) {
	t.Helper()
	drv := driver.NewNull()
	m := NewManager(drv)
	t.Cleanup(func() {
		m.Release()
		drv.Release()
	})
	return m, drv
}

func TestDestroyedHandleStaysInvalid(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("victim", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	require.NoError(t, m.DestroyBuffer(b))

	_, err = m.ResolveBuffer(b)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)

	err = m.DestroyBuffer(b)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy, "double destroy")

	// The freed slot gets reused, the stale handle must not alias it.
	b2, err := m.CreateBuffer("replacement", 64, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	assert.Equal(t, b.Handle().Index(), b2.Handle().Index(), "slot should be reused")

	_, err = m.ResolveBuffer(b)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)
	_, err = m.ResolveBuffer(b2)
	assert.NoError(t, err)
}

func TestSharedBufferSyncReadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("shared", 8, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, m.MappedBytes(b, func(bytes []byte) error {
		copy(bytes, want)
		return nil
	}))
	require.NoError(t, m.SyncBuffer(b))
	assert.Equal(t, 1, m.PendingSyncs())

	got := make([]byte, 8)
	require.NoError(t, m.ReadBuffer(b, 0, got))
	assert.Equal(t, want, got)
	assert.Equal(t, 0, m.PendingSyncs(), "readback flushes the staged sync")
}

func TestSyncSnapshotsAtCallTime(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("snapshot", 4, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	require.NoError(t, m.MappedBytes(b, func(bytes []byte) error {
		copy(bytes, []byte{1, 1, 1, 1})
		return nil
	}))
	require.NoError(t, m.SyncBuffer(b))

	// Later host writes must not leak into the already staged snapshot.
	require.NoError(t, m.MappedBytes(b, func(bytes []byte) error {
		copy(bytes, []byte{2, 2, 2, 2})
		return nil
	}))

	got := make([]byte, 4)
	require.NoError(t, m.ReadBuffer(b, 0, got))
	assert.Equal(t, []byte{1, 1, 1, 1}, got)

	require.NoError(t, m.SyncBuffer(b))
	require.NoError(t, m.ReadBuffer(b, 0, got))
	assert.Equal(t, []byte{2, 2, 2, 2}, got)
}

func TestMemoryKindsAreNotInterchangeable(t *testing.T) {
	m, _ := newTestManager(t)

	shared, err := m.CreateBuffer("shared", 4, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	device, err := m.CreateBuffer("device", 4, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	err = m.WriteBuffer(shared, 0, []byte{1})
	assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)

	err = m.MappedBytes(device, func([]byte) error { return nil })
	assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)

	err = m.SyncBuffer(device)
	assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
}

func TestDeviceBufferWriteReadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("device", 16, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	want := []byte{9, 8, 7, 6}
	require.NoError(t, m.WriteBuffer(b, 4, want))

	got := make([]byte, 4)
	require.NoError(t, m.ReadBuffer(b, 4, got))
	assert.Equal(t, want, got)

	err = m.WriteBuffer(b, 14, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, driver.ErrInvalidDescriptor)
}

func TestDestroyRecordedBufferFails(t *testing.T) {
	m, _ := newTestManager(t)
	tracker := newFakeTracker()
	m.SetTracker(tracker)

	b, err := m.CreateBuffer("held", 8, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	tracker.recorded[b.Handle()] = true
	err = m.DestroyBuffer(b)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)

	_, err = m.ResolveBuffer(b)
	assert.NoError(t, err, "failed destroy leaves the buffer alive")

	tracker.recorded[b.Handle()] = false
	require.NoError(t, m.DestroyBuffer(b))
}

func TestDestroyInFlightBufferDefersRelease(t *testing.T) {
	m, _ := newTestManager(t)
	tracker := newFakeTracker()
	m.SetTracker(tracker)

	b, err := m.CreateBuffer("in flight", 8, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	tracker.serials[b.Handle()] = 5
	tracker.inFlight[b.Handle()] = true
	require.NoError(t, m.DestroyBuffer(b))

	_, err = m.ResolveBuffer(b)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy, "handle dies immediately")
	assert.Equal(t, 1, m.Stats().Retired)

	m.ReleaseRetired(4)
	assert.Equal(t, 1, m.Stats().Retired, "older completions keep the deferral")

	m.ReleaseRetired(5)
	assert.Equal(t, 0, m.Stats().Retired)
}

func TestDestroyTextureCascadesToViews(t *testing.T) {
	m, _ := newTestManager(t)
	inv := &fakeInvalidator{}
	m.SetInvalidator(inv)

	tex, err := m.CreateTexture("target", driver.TextureDesc{
		Width:  64,
		Height: 64,
		Format: wgpu.TextureFormatRGBA8UnormSrgb,
		Usage:  wgpu.TextureUsageTextureBinding,
	})
	require.NoError(t, err)

	v1, err := m.CreateView(tex, "full", driver.ViewRange{})
	require.NoError(t, err)
	v2, err := m.CreateView(tex, "full again", driver.ViewRange{})
	require.NoError(t, err)

	require.NoError(t, m.DestroyTexture(tex))

	_, err = m.ResolveView(v1)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)
	_, err = m.ResolveView(v2)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)
	_, err = m.ResolveTexture(tex)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)

	assert.Len(t, inv.evicted, 3, "texture and both views evict cached state")
}

func TestTakeSyncsHonorsPredicate(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.CreateBuffer("a", 4, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	b, err := m.CreateBuffer("b", 4, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)

	require.NoError(t, m.SyncBuffer(a))
	require.NoError(t, m.SyncBuffer(b))

	taken := m.TakeSyncs(func(h Buffer) bool { return h == a })
	require.Len(t, taken, 1)
	assert.Equal(t, a, taken[0].Buffer)
	assert.Equal(t, 1, m.PendingSyncs())

	chunks := make([]driver.Buffer, 0, len(taken))
	for _, s := range taken {
		chunks = append(chunks, s.Staging)
	}
	m.RecycleStaging(chunks)

	rest := m.TakeSyncs(nil)
	require.Len(t, rest, 1)
	assert.Equal(t, b, rest[0].Buffer)
}

func TestDestroyBufferDropsItsPendingSyncs(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("doomed", 4, driver.MemoryShared, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	require.NoError(t, m.SyncBuffer(b))
	assert.Equal(t, 1, m.PendingSyncs())

	require.NoError(t, m.DestroyBuffer(b))
	assert.Equal(t, 0, m.PendingSyncs())
}

func TestImportViewIsDestroyable(t *testing.T) {
	m, drv := newTestManager(t)

	require.NoError(t, drv.ConfigureSurface(32, 32, driver.PresentModeVSync, driver.MSAAOff))
	frame, err := drv.AcquireFrame()
	require.NoError(t, err)

	v, err := m.ImportView("frame view", frame.View())
	require.NoError(t, err)

	resolved, err := m.ResolveView(v)
	require.NoError(t, err)
	assert.NotNil(t, resolved)

	require.NoError(t, m.DestroyView(v))
	_, err = m.ResolveView(v)
	assert.ErrorIs(t, err, driver.ErrUseAfterDestroy)

	require.NoError(t, drv.Present())
}

func TestStatsCountsLiveResources(t *testing.T) {
	m, _ := newTestManager(t)

	b, err := m.CreateBuffer("counted", 32, driver.MemoryDevice, wgpu.BufferUsageStorage)
	require.NoError(t, err)
	_, err = m.CreateSampler("sampler", common.SamplerStagingData{})
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 1, st.Buffers)
	assert.Equal(t, 1, st.Samplers)
	assert.Equal(t, uint64(32), st.BufferBytes)

	require.NoError(t, m.DestroyBuffer(b))
	st = m.Stats()
	assert.Equal(t, 0, st.Buffers)
	assert.Equal(t, uint64(0), st.BufferBytes)
}

func TestHandleStringAndZero(t *testing.T) {
	var zero Buffer
	assert.True(t, zero.IsZero())
	assert.Equal(t, "nil handle", zero.Handle().String())

	h := makeHandle(kindBuffer, 3, 7)
	assert.Equal(t, uint32(3), h.Index())
	assert.Equal(t, uint32(7), h.Generation())
	assert.Equal(t, "buffer#3@7", h.String())
}
