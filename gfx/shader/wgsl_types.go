package shader

import "github.com/cogentcore/webgpu/wgpu"

// vertexFormat holds the wgpu vertex format and its byte size for offset
// calculation.
type vertexFormat struct {
	format wgpu.VertexFormat
	size   uint64
}

// sampledTexture holds the view dimension and multisampled flag for a sampled
// texture type.
type sampledTexture struct {
	viewDimension wgpu.TextureViewDimension
	multisampled  bool
}

// typeLayout holds the byte size and alignment of a WGSL type per the WGSL
// layout rules. Used to compute MinBindingSize for buffer bindings.
type typeLayout struct {
	size  uint64
	align uint64
}

// wgslField is a single field extracted from a WGSL struct.
type wgslField struct {
	name      string
	typeName  string
	location  int
	isBuiltin bool
}

// wgslStruct is a WGSL struct block extracted from source.
type wgslStruct struct {
	name   string
	fields []wgslField
}

// entryPoint is a parsed entry function with its stage, parameter list and
// return type text.
type entryPoint struct {
	stage   Stage
	name    string
	params  string
	returns string
}

// moduleInfo is everything reflection extracts from one WGSL source.
type moduleInfo struct {
	entries       []entryPoint
	structs       []wgslStruct
	structSizes   map[string]typeLayout
	groupLayouts  [][]wgpu.BindGroupLayoutEntry
	bindingNames  map[int]map[int]string
	vertexLayouts []wgpu.VertexBufferLayout
	workgroupSize [3]uint32
}
