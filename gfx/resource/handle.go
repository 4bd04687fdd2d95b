package resource

import "fmt"

// Handle is an opaque reference to a resource owned by a Manager. The packed
// form carries the arena index, a generation counter and a kind tag, so a
// stale handle never aliases a slot that has since been reused.
type Handle uint64

const (
	handleIndexBits = 32
	handleGenBits   = 24
	handleGenMask   = 1<<handleGenBits - 1
	handleKindShift = handleIndexBits + handleGenBits
)

type handleKind uint8

const (
	kindBuffer handleKind = iota + 1
	kindTexture
	kindView
	kindSampler
)

func (k handleKind) String() string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindTexture:
		return "texture"
	case kindView:
		return "view"
	case kindSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

func makeHandle(k handleKind, index, generation uint32) Handle {
	return Handle(uint64(k)<<handleKindShift | uint64(generation&handleGenMask)<<handleIndexBits | uint64(index))
}

// Index returns the arena slot this handle points at.
//
// Returns:
//   - uint32: the slot index
func (h Handle) Index() uint32 {
	return uint32(h)
}

// Generation returns the reuse counter the handle was minted with. A slot's
// generation advances every time it is destroyed, which is what invalidates
// outstanding handles.
//
// Returns:
//   - uint32: the generation counter
func (h Handle) Generation() uint32 {
	return uint32(h>>handleIndexBits) & handleGenMask
}

// IsZero reports whether the handle is the zero value, which never refers to
// a live resource.
//
// Returns:
//   - bool: true if the handle is zero
func (h Handle) IsZero() bool {
	return h == 0
}

func (h Handle) kind() handleKind {
	return handleKind(h >> handleKindShift)
}

func (h Handle) String() string {
	if h.IsZero() {
		return "nil handle"
	}
	return fmt.Sprintf("%s#%d@%d", h.kind(), h.Index(), h.Generation())
}

// Buffer is a handle to a buffer owned by a Manager.
type Buffer Handle

// Handle returns the untyped form of the buffer handle.
//
// Returns:
//   - Handle: the untyped handle
func (b Buffer) Handle() Handle {
	return Handle(b)
}

// IsZero reports whether the handle is the zero value.
//
// Returns:
//   - bool: true if the handle is zero
func (b Buffer) IsZero() bool {
	return Handle(b).IsZero()
}

// Texture is a handle to a texture owned by a Manager.
type Texture Handle

// Handle returns the untyped form of the texture handle.
//
// Returns:
//   - Handle: the untyped handle
func (t Texture) Handle() Handle {
	return Handle(t)
}

// IsZero reports whether the handle is the zero value.
//
// Returns:
//   - bool: true if the handle is zero
func (t Texture) IsZero() bool {
	return Handle(t).IsZero()
}

// View is a handle to a texture view owned by a Manager.
type View Handle

// Handle returns the untyped form of the view handle.
//
// Returns:
//   - Handle: the untyped handle
func (v View) Handle() Handle {
	return Handle(v)
}

// IsZero reports whether the handle is the zero value.
//
// Returns:
//   - bool: true if the handle is zero
func (v View) IsZero() bool {
	return Handle(v).IsZero()
}

// Sampler is a handle to a sampler owned by a Manager.
type Sampler Handle

// Handle returns the untyped form of the sampler handle.
//
// Returns:
//   - Handle: the untyped handle
func (s Sampler) Handle() Handle {
	return Handle(s)
}

// IsZero reports whether the handle is the zero value.
//
// Returns:
//   - bool: true if the handle is zero
func (s Sampler) IsZero() bool {
	return Handle(s).IsZero()
}
