package resource

import (
	"testing"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesRecycledChunks(t *testing.T) {
	drv := driver.NewNull()
	defer drv.Release()
	p := NewPool(drv, 0)
	defer p.Clear()

	chunk, err := p.Acquire(StagingUpload, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), chunk.Size(), "tiny requests share the floor bucket")

	p.Recycle(chunk)

	again, err := p.Acquire(StagingUpload, 200)
	require.NoError(t, err)
	assert.Equal(t, chunk, again, "rounded sizes land in the same bucket")

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Allocations)
	assert.Equal(t, int64(1), stats.Reuses)
	assert.Equal(t, int64(1), stats.PoolHits)
	assert.Equal(t, int64(1), stats.PoolMisses)
}

func TestPoolKeepsClassesApart(t *testing.T) {
	drv := driver.NewNull()
	defer drv.Release()
	p := NewPool(drv, 0)
	defer p.Clear()

	up, err := p.Acquire(StagingUpload, 64)
	require.NoError(t, err)
	p.Recycle(up)

	down, err := p.Acquire(StagingReadback, 64)
	require.NoError(t, err)
	assert.NotEqual(t, up, down, "readback chunks must be mappable, upload chunks are not")
}

func TestPoolEvictsUnderPressure(t *testing.T) {
	drv := driver.NewNull()
	defer drv.Release()
	p := NewPool(drv, 256)
	defer p.Clear()

	a, err := p.Acquire(StagingUpload, 256)
	require.NoError(t, err)
	b, err := p.Acquire(StagingUpload, 256)
	require.NoError(t, err)

	p.Recycle(a)
	p.Recycle(b)

	assert.Equal(t, int64(1), p.Stats().Evictions, "second recycle exceeds the cap")
}

func TestPoolReleasesUnknownChunks(t *testing.T) {
	drv := driver.NewNull()
	defer drv.Release()
	p := NewPool(drv, 0)
	defer p.Clear()

	foreign, err := drv.CreateBuffer("foreign", 64, StagingUpload.usage())
	require.NoError(t, err)
	p.Recycle(foreign)

	chunk, err := p.Acquire(StagingUpload, 64)
	require.NoError(t, err)
	assert.NotEqual(t, foreign, chunk, "foreign chunks are released, not pooled")
}

func TestRoundUpPowerOf2(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{0, 256},
		{1, 256},
		{256, 256},
		{257, 512},
		{1000, 1024},
		{4096, 4096},
		{70000, 131072},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roundUpPowerOf2(tt.in), "roundUpPowerOf2(%d)", tt.in)
	}
}
