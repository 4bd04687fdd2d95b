// Package shader reflects WGSL source into the metadata pipeline creation
// needs: entry points, bind group layouts, vertex buffer layouts, workgroup
// sizes and the located variables crossing stage boundaries. Reflection is
// host side only, the driver compiles the source itself.
package shader

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/cogentcore/webgpu/wgpu"
)

// Stage identifies a programmable pipeline stage.
type Stage int

const (
	// StageVertex is the vertex processing stage of a render pipeline.
	StageVertex Stage = iota

	// StageFragment is the fragment processing stage of a render pipeline.
	StageFragment

	// StageCompute is the single stage of a compute pipeline.
	StageCompute
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// StageVar is one located variable crossing a stage boundary, such as a
// vertex output consumed by the fragment stage. Types are normalized to
// their long WGSL form.
type StageVar struct {
	Location int
	Type     string
}

// module is the implementation of the Module interface. Reflection runs once
// at construction, accessors only read the result.
type module struct {
	key  string
	src  string
	info moduleInfo
}

// Module is a parsed WGSL source with the reflection data needed to build
// pipelines and bind groups from it. One module may hold several entry
// points across stages.
type Module interface {
	// Key retrieves the unique identifier for this module, used for caching
	// and lookups.
	//
	// Returns:
	//   - string: the module's unique key
	Key() string

	// Source retrieves the WGSL source code.
	//
	// Returns:
	//   - string: the WGSL source
	Source() string

	// EntryPoint returns the first entry point name declared for the stage.
	//
	// Parameters:
	//   - stage: the stage to look up
	//
	// Returns:
	//   - string: the entry function name
	//   - bool: false if the module has no entry point for the stage
	EntryPoint(stage Stage) (string, bool)

	// HasEntry reports whether the named function is an entry point for the
	// stage.
	//
	// Parameters:
	//   - stage: the stage to check
	//   - name: the entry function name
	//
	// Returns:
	//   - bool: true if the entry exists at that stage
	HasEntry(stage Stage, name string) bool

	// GroupLayouts retrieves the bind group layout entries parsed from the
	// source, indexed by group. Entries within a group are sorted by
	// binding.
	//
	// Returns:
	//   - [][]wgpu.BindGroupLayoutEntry: layout entries indexed by group
	GroupLayouts() [][]wgpu.BindGroupLayoutEntry

	// VertexLayouts retrieves the vertex buffer layouts derived from the
	// vertex entry point's inputs, one layout per input struct.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the vertex buffer layouts
	VertexLayouts() []wgpu.VertexBufferLayout

	// WorkgroupSize returns the compute workgroup dimensions. Omitted
	// dimensions default to 1.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// BindingName retrieves the variable name declared at a group and
	// binding, for diagnostics and resource wiring.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or empty if not declared
	BindingName(group, binding int) string

	// Outputs returns the located variables the named entry point produces.
	//
	// Parameters:
	//   - entry: the entry function name
	//
	// Returns:
	//   - []StageVar: the outputs sorted by location
	Outputs(entry string) []StageVar

	// Inputs returns the located variables the named entry point consumes.
	//
	// Parameters:
	//   - entry: the entry function name
	//
	// Returns:
	//   - []StageVar: the inputs sorted by location
	Inputs(entry string) []StageVar
}

var _ Module = &module{}

// NewModule parses WGSL source into a Module.
//
// Parameters:
//   - key: a unique identifier for the module, used for caching and lookups
//   - source: the WGSL source code
//
// Returns:
//   - Module: the parsed module
//   - error: a shader link error if the source is empty or declares no entry
//     points
func NewModule(key, source string) (Module, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: module %q has no source", driver.ErrShaderLink, key)
	}
	info := reflectSource(source)
	if len(info.entries) == 0 {
		return nil, fmt.Errorf("%w: module %q declares no entry points", driver.ErrShaderLink, key)
	}
	return &module{key: key, src: source, info: info}, nil
}

// NewModuleFromFile reads WGSL source from a file and parses it.
//
// Parameters:
//   - key: a unique identifier for the module
//   - path: the file to read WGSL source from
//
// Returns:
//   - Module: the parsed module
//   - error: an error if the file could not be read or the source did not
//     parse
func NewModuleFromFile(key, path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader source %q: %w", path, err)
	}
	return NewModule(key, string(data))
}

func (m *module) Key() string {
	return m.key
}

func (m *module) Source() string {
	return m.src
}

func (m *module) EntryPoint(stage Stage) (string, bool) {
	for _, e := range m.info.entries {
		if e.stage == stage {
			return e.name, true
		}
	}
	return "", false
}

func (m *module) HasEntry(stage Stage, name string) bool {
	for _, e := range m.info.entries {
		if e.stage == stage && e.name == name {
			return true
		}
	}
	return false
}

func (m *module) GroupLayouts() [][]wgpu.BindGroupLayoutEntry {
	return m.info.groupLayouts
}

func (m *module) VertexLayouts() []wgpu.VertexBufferLayout {
	return m.info.vertexLayouts
}

func (m *module) WorkgroupSize() [3]uint32 {
	return m.info.workgroupSize
}

func (m *module) BindingName(group, binding int) string {
	if m.info.bindingNames[group] == nil {
		return ""
	}
	return m.info.bindingNames[group][binding]
}

func (m *module) Outputs(entry string) []StageVar {
	for _, e := range m.info.entries {
		if e.name == entry {
			return stageVars(e.returns, m.info.structs)
		}
	}
	return nil
}

func (m *module) Inputs(entry string) []StageVar {
	for _, e := range m.info.entries {
		if e.name == entry {
			return stageVars(e.params, m.info.structs)
		}
	}
	return nil
}
