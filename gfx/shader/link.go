package shader

import (
	"fmt"
	"sort"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/cogentcore/webgpu/wgpu"
)

// Access classifies how a bind group entry touches its resource. Hazard
// tracking only needs to know whether a binding can write.
type Access int

const (
	// AccessRead marks bindings the shader only reads, such as uniform
	// buffers and sampled textures.
	AccessRead Access = iota

	// AccessReadWrite marks bindings the shader may write, such as storage
	// buffers and writable storage textures.
	AccessReadWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// EntryAccess classifies a bind group layout entry by whether a shader can
// write through it.
//
// Parameters:
//   - e: the layout entry to classify
//
// Returns:
//   - Access: AccessReadWrite for storage buffers and writable storage
//     textures, AccessRead otherwise
func EntryAccess(e wgpu.BindGroupLayoutEntry) Access {
	if e.Buffer.Type == wgpu.BufferBindingTypeStorage {
		return AccessReadWrite
	}
	if e.StorageTexture.Access == wgpu.StorageTextureAccessWriteOnly ||
		e.StorageTexture.Access == wgpu.StorageTextureAccessReadWrite {
		return AccessReadWrite
	}
	return AccessRead
}

// ValidateLink checks that a vertex and fragment entry point can form a
// render pipeline. Every location the fragment stage consumes must be
// produced by the vertex stage with a matching type.
//
// Parameters:
//   - vs: the module holding the vertex entry point
//   - vsEntry: the vertex entry function name
//   - fs: the module holding the fragment entry point
//   - fsEntry: the fragment entry function name
//
// Returns:
//   - error: a shader link error describing the first mismatch, or nil
func ValidateLink(vs Module, vsEntry string, fs Module, fsEntry string) error {
	if vs == nil || fs == nil {
		return fmt.Errorf("%w: both vertex and fragment modules are required", driver.ErrShaderLink)
	}
	if !vs.HasEntry(StageVertex, vsEntry) {
		return fmt.Errorf("%w: module %q has no vertex entry point %q", driver.ErrShaderLink, vs.Key(), vsEntry)
	}
	if !fs.HasEntry(StageFragment, fsEntry) {
		return fmt.Errorf("%w: module %q has no fragment entry point %q", driver.ErrShaderLink, fs.Key(), fsEntry)
	}

	produced := make(map[int]string)
	for _, v := range vs.Outputs(vsEntry) {
		produced[v.Location] = v.Type
	}
	for _, want := range fs.Inputs(fsEntry) {
		got, ok := produced[want.Location]
		if !ok {
			return fmt.Errorf("%w: fragment entry %q reads location %d which vertex entry %q does not write",
				driver.ErrShaderLink, fsEntry, want.Location, vsEntry)
		}
		if got != want.Type {
			return fmt.Errorf("%w: location %d is %s in vertex entry %q but %s in fragment entry %q",
				driver.ErrShaderLink, want.Location, got, vsEntry, want.Type, fsEntry)
		}
	}
	return nil
}

// MergeGroupLayouts merges the bind group layouts of two stages into a
// unified set suitable for a pipeline layout. Entries sharing a group and
// binding have their visibility flags ORed together, entries unique to one
// stage keep their original visibility. Entries within each group come back
// sorted by binding.
//
// Parameters:
//   - a: group layouts from the first stage, indexed by group
//   - b: group layouts from the second stage, indexed by group
//
// Returns:
//   - [][]wgpu.BindGroupLayoutEntry: the merged layouts indexed by group
//   - error: a shader link error when the stages declare conflicting
//     bindings at the same slot
func MergeGroupLayouts(a, b [][]wgpu.BindGroupLayoutEntry) ([][]wgpu.BindGroupLayoutEntry, error) {
	groups := len(a)
	if len(b) > groups {
		groups = len(b)
	}
	if groups == 0 {
		return nil, nil
	}

	merged := make([][]wgpu.BindGroupLayoutEntry, groups)
	for g := range groups {
		var aEntries, bEntries []wgpu.BindGroupLayoutEntry
		if g < len(a) {
			aEntries = a[g]
		}
		if g < len(b) {
			bEntries = b[g]
		}

		switch {
		case len(bEntries) == 0:
			merged[g] = aEntries
		case len(aEntries) == 0:
			merged[g] = bEntries
		default:
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range aEntries {
				entryMap[e.Binding] = e
			}
			for _, e := range bEntries {
				existing, ok := entryMap[e.Binding]
				if !ok {
					entryMap[e.Binding] = e
					continue
				}
				if !sameBindingShape(existing, e) {
					return nil, fmt.Errorf("%w: group %d binding %d declared with different types across stages",
						driver.ErrShaderLink, g, e.Binding)
				}
				existing.Visibility |= e.Visibility
				entryMap[e.Binding] = existing
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			// sort by binding for deterministic layout
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})
			merged[g] = entries
		}
	}

	return merged, nil
}

// sameBindingShape reports whether two entries describe the same resource
// shape, ignoring visibility.
func sameBindingShape(a, b wgpu.BindGroupLayoutEntry) bool {
	a.Visibility = 0
	b.Visibility = 0
	return a == b
}
