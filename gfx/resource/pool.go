package resource

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/cogentcore/webgpu/wgpu"
)

// StagingClass selects the transfer direction a staging chunk is created for.
// Upload chunks carry host bytes toward device buffers, readback chunks are
// mappable so completed copies can be read on the host.
type StagingClass uint8

const (
	StagingUpload StagingClass = iota
	StagingReadback
)

func (c StagingClass) String() string {
	switch c {
	case StagingUpload:
		return "upload"
	case StagingReadback:
		return "readback"
	default:
		return "unknown"
	}
}

func (c StagingClass) usage() wgpu.BufferUsage {
	if c == StagingReadback {
		return wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead
	}
	return wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
}

// PoolStats tracks staging pool statistics.
type PoolStats struct {
	Allocations int64 // Total acquire calls
	Reuses      int64 // Chunks reused from the pool
	Evictions   int64 // Chunks released due to memory pressure
	PoolHits    int64 // Successful pool lookups
	PoolMisses  int64 // Failed pool lookups (allocated new)
}

// Pool recycles staging buffers between transfers so steady-state frames do
// not allocate. Chunks are bucketed by class and power-of-two size.
type Pool interface {
	// Acquire returns a staging chunk at least size bytes long, reusing a
	// pooled chunk when one fits.
	//
	// Parameters:
	//   - class: the transfer direction the chunk is used for
	//   - size: the minimum chunk size in bytes
	//
	// Returns:
	//   - driver.Buffer: the staging chunk
	//   - error: an error if allocation failed
	Acquire(class StagingClass, size uint64) (driver.Buffer, error)

	// Recycle returns a chunk to the pool once the GPU is done with it.
	// Chunks the pool does not recognize are released outright.
	//
	// Parameters:
	//   - b: the chunk to return
	Recycle(b driver.Buffer)

	// Stats returns current pool statistics.
	//
	// Returns:
	//   - PoolStats: counters since the pool was created
	Stats() PoolStats

	// Clear releases every pooled chunk. Chunks still acquired are
	// untouched and will be released when recycled.
	Clear()
}

type poolKey struct {
	class StagingClass
	size  uint64
}

type stagingPool struct {
	mu       *sync.Mutex
	drv      driver.Driver
	free     map[poolKey][]driver.Buffer
	active   map[driver.Buffer]poolKey
	maxBytes uint64
	curBytes uint64
	stats    PoolStats
}

var _ Pool = &stagingPool{}

// NewPool creates a staging pool over the given driver.
//
// Parameters:
//   - drv: the driver staging chunks are allocated from
//   - maxBytes: maximum bytes to keep pooled, 0 for unlimited
//
// Returns:
//   - Pool: the initialized pool
func NewPool(drv driver.Driver, maxBytes uint64) Pool {
	return &stagingPool{
		mu:       &sync.Mutex{},
		drv:      drv,
		free:     make(map[poolKey][]driver.Buffer),
		active:   make(map[driver.Buffer]poolKey),
		maxBytes: maxBytes,
	}
}

func (p *stagingPool) Acquire(class StagingClass, size uint64) (driver.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Allocations++

	poolSize := roundUpPowerOf2(size)
	for checkSize := poolSize; checkSize <= poolSize*2; checkSize *= 2 {
		key := poolKey{class: class, size: checkSize}
		if chunks := p.free[key]; len(chunks) > 0 {
			chunk := chunks[len(chunks)-1]
			p.free[key] = chunks[:len(chunks)-1]
			p.active[chunk] = key
			p.curBytes -= checkSize
			p.stats.Reuses++
			p.stats.PoolHits++
			return chunk, nil
		}
	}

	p.stats.PoolMisses++

	key := poolKey{class: class, size: poolSize}
	chunk, err := p.drv.CreateBuffer(fmt.Sprintf("%s staging %d", class, poolSize), poolSize, class.usage())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate staging chunk: %w", err)
	}
	p.active[chunk] = key
	return chunk, nil
}

func (p *stagingPool) Recycle(b driver.Buffer) {
	if b == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.active[b]
	if !ok {
		b.Release()
		return
	}
	delete(p.active, b)

	if p.maxBytes > 0 && p.curBytes+key.size > p.maxBytes {
		p.evictOldest()
	}

	p.free[key] = append(p.free[key], b)
	p.curBytes += key.size
}

// evictOldest releases the first chunk of a non-empty bucket. Caller holds
// the lock.
func (p *stagingPool) evictOldest() {
	for key, chunks := range p.free {
		if len(chunks) > 0 {
			chunk := chunks[0]
			p.free[key] = chunks[1:]
			p.curBytes -= key.size
			p.stats.Evictions++
			chunk.Release()
			return
		}
	}
}

func (p *stagingPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *stagingPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, chunks := range p.free {
		for _, chunk := range chunks {
			chunk.Release()
		}
		delete(p.free, key)
	}
	p.curBytes = 0
}

// roundUpPowerOf2 rounds up to the nearest power of two, with a 256 byte
// floor so tiny transfers share a bucket.
func roundUpPowerOf2(n uint64) uint64 {
	if n <= 256 {
		return 256
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
