package shader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// structBlockRegex matches struct declarations and captures name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// locationRegex matches @location(N) attributes
	locationRegex = regexp.MustCompile(`@location\((\d+)\)`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct field line: optional attributes, name,
	// colon, type. The type capture is greedy to keep array<T, N> intact.
	fieldRegex = regexp.MustCompile(`(?:(?:@\w+\([^)]*\)\s*)*)*\s*(\w+)\s*:\s*(.+)`)

	// entryFnRegex matches an entry function with its stage attribute,
	// capturing stage, name, parameter list and return type text. The
	// parameter capture admits one level of parentheses for attributes
	// like @builtin(vertex_index).
	entryFnRegex = regexp.MustCompile(`(?s)@(vertex|fragment|compute)\b.*?\bfn\s+(\w+)\s*\(((?:[^()]|\([^)]*\))*)\)\s*(?:->\s*([^{]+))?\{`)

	// workgroupSizeRegex captures 1-3 integer dimensions
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*(?:,\s*(\d+)\s*)?)?\)`)

	// bindingDeclRegex captures group, binding, optional address space,
	// variable name and type from declarations like:
	//   @group(0) @binding(0) var<uniform> scene: SceneUniform;
	//   @group(1) @binding(0) var albedo: texture_2d<f32>;
	bindingDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// reflectSource runs the whole reflection pass over one WGSL source and
// returns the extracted module info.
func reflectSource(source string) moduleInfo {
	cleaned := stripComments(source)

	info := moduleInfo{
		structs:       parseStructBlocks(cleaned),
		workgroupSize: [3]uint32{1, 1, 1},
	}
	info.structSizes = computeStructSizes(info.structs)
	info.entries = parseEntryPoints(cleaned)

	var visibility wgpu.ShaderStage
	for _, e := range info.entries {
		switch e.stage {
		case StageVertex:
			visibility |= wgpu.ShaderStageVertex
		case StageFragment:
			visibility |= wgpu.ShaderStageFragment
		case StageCompute:
			visibility |= wgpu.ShaderStageCompute
		}
	}

	info.groupLayouts, info.bindingNames = parseGroupLayouts(cleaned, visibility, info.structSizes)
	info.vertexLayouts = parseVertexLayouts(info)

	if match := workgroupSizeRegex.FindStringSubmatch(cleaned); match != nil {
		for i := 0; i < 3; i++ {
			if match[i+1] != "" {
				if v, err := strconv.ParseUint(match[i+1], 10, 32); err == nil {
					info.workgroupSize[i] = uint32(v)
				}
			}
		}
	}

	return info
}

// parseEntryPoints finds every staged function and captures its signature
// text for IO reflection.
func parseEntryPoints(cleaned string) []entryPoint {
	var entries []entryPoint
	for _, match := range entryFnRegex.FindAllStringSubmatch(cleaned, -1) {
		var stage Stage
		switch match[1] {
		case "vertex":
			stage = StageVertex
		case "fragment":
			stage = StageFragment
		case "compute":
			stage = StageCompute
		}
		entries = append(entries, entryPoint{
			stage:   stage,
			name:    match[2],
			params:  match[3],
			returns: strings.TrimSpace(match[4]),
		})
	}
	return entries
}

// parseGroupLayouts extracts every @group(N) @binding(M) declaration and
// groups the resulting layout entries by group index, sorted by binding.
// MinBindingSize on buffer entries comes from the bound type's WGSL layout.
func parseGroupLayouts(cleaned string, visibility wgpu.ShaderStage, structSizes map[string]typeLayout) ([][]wgpu.BindGroupLayoutEntry, map[int]map[int]string) {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	names := make(map[int]map[int]string)

	for _, match := range bindingDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		addressSpace := strings.TrimSpace(match[3])
		varName := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		entry := classifyBinding(uint32(binding), visibility, addressSpace, typeName)
		if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
			if layout, ok := resolveTypeLayout(typeName, structSizes); ok && layout.size > 0 {
				entry.Buffer.MinBindingSize = layout.size
			}
		}
		groups[group] = append(groups[group], entry)

		if names[group] == nil {
			names[group] = make(map[int]string)
		}
		names[group][binding] = varName
	}

	if len(groups) == 0 {
		return nil, names
	}

	maxGroup := 0
	for g := range groups {
		if g > maxGroup {
			maxGroup = g
		}
	}
	layouts := make([][]wgpu.BindGroupLayoutEntry, maxGroup+1)
	for g, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		layouts[g] = entries
	}
	return layouts, names
}

// parseVertexLayouts converts the vertex entry's input structs into vertex
// buffer layouts. Each struct parameter becomes one buffer slot, inline
// @location parameters are collected into a trailing slot.
func parseVertexLayouts(info moduleInfo) []wgpu.VertexBufferLayout {
	var vertexEntry *entryPoint
	for i := range info.entries {
		if info.entries[i].stage == StageVertex {
			vertexEntry = &info.entries[i]
			break
		}
	}
	if vertexEntry == nil {
		return nil
	}

	var layouts []wgpu.VertexBufferLayout
	var inline []wgslField

	for _, param := range splitAtTopLevelCommas(vertexEntry.params) {
		param = strings.TrimSpace(param)
		if param == "" || builtinRegex.MatchString(param) {
			continue
		}

		field, ok := parseFieldDecl(param)
		if !ok {
			continue
		}
		if field.location >= 0 {
			inline = append(inline, field)
			continue
		}

		if ws, ok := findStruct(info.structs, field.typeName); ok {
			if layout, built := buildVertexBufferLayout(ws.fields); built {
				layouts = append(layouts, layout)
			}
		}
	}

	if len(inline) > 0 {
		if layout, built := buildVertexBufferLayout(inline); built {
			layouts = append(layouts, layout)
		}
	}

	return layouts
}

// buildVertexBufferLayout maps struct fields onto vertex attributes with
// sequential offsets. Builtin fields do not occupy buffer space.
func buildVertexBufferLayout(fields []wgslField) (wgpu.VertexBufferLayout, bool) {
	attrs := make([]wgpu.VertexAttribute, 0, len(fields))
	var offset uint64

	for _, f := range fields {
		if f.isBuiltin {
			continue
		}
		if f.location < 0 {
			return wgpu.VertexBufferLayout{}, false
		}
		info, ok := vertexFormats[f.typeName]
		if !ok {
			return wgpu.VertexBufferLayout{}, false
		}
		attrs = append(attrs, wgpu.VertexAttribute{
			Format:         info.format,
			Offset:         offset,
			ShaderLocation: uint32(f.location),
		})
		offset += info.size
	}

	if len(attrs) == 0 {
		return wgpu.VertexBufferLayout{}, false
	}
	return wgpu.VertexBufferLayout{
		ArrayStride: offset,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  attrs,
	}, true
}

// stageVars expands a parameter list or return type into the located
// variables crossing a stage boundary. Struct types expand to their
// @location fields, builtins are skipped.
func stageVars(text string, structs []wgslStruct) []StageVar {
	var vars []StageVar

	addField := func(f wgslField) {
		if f.isBuiltin || f.location < 0 {
			return
		}
		vars = append(vars, StageVar{Location: f.location, Type: normalizeVarType(f.typeName)})
	}

	for _, part := range splitAtTopLevelCommas(text) {
		part = strings.TrimSpace(part)
		if part == "" || builtinRegex.MatchString(part) {
			continue
		}

		// Inline declarations carry their own @location.
		if field, ok := parseFieldDecl(part); ok {
			if field.location >= 0 {
				addField(field)
				continue
			}
			if ws, found := findStruct(structs, field.typeName); found {
				for _, f := range ws.fields {
					addField(f)
				}
			}
			continue
		}

		// A bare return type, either "@location(0) vec4f" or a struct name.
		if locMatch := locationRegex.FindStringSubmatch(part); locMatch != nil {
			loc, _ := strconv.Atoi(locMatch[1])
			typeName := strings.TrimSpace(locationRegex.ReplaceAllString(part, ""))
			vars = append(vars, StageVar{Location: loc, Type: normalizeVarType(typeName)})
			continue
		}
		if ws, found := findStruct(structs, strings.TrimSpace(part)); found {
			for _, f := range ws.fields {
				addField(f)
			}
		}
	}

	sort.Slice(vars, func(i, j int) bool { return vars[i].Location < vars[j].Location })
	return vars
}

// normalizeVarType folds WGSL shorthand type names to their long form so
// "vec4f" and "vec4<f32>" compare equal across stages.
func normalizeVarType(typeName string) string {
	switch typeName {
	case "vec2f":
		return "vec2<f32>"
	case "vec3f":
		return "vec3<f32>"
	case "vec4f":
		return "vec4<f32>"
	case "vec2i":
		return "vec2<i32>"
	case "vec3i":
		return "vec3<i32>"
	case "vec4i":
		return "vec4<i32>"
	case "vec2u":
		return "vec2<u32>"
	case "vec3u":
		return "vec3<u32>"
	case "vec4u":
		return "vec4<u32>"
	case "vec2h":
		return "vec2<f16>"
	case "vec4h":
		return "vec4<f16>"
	default:
		return typeName
	}
}

// parseFieldDecl parses "name: type" with optional leading attributes into a
// field, capturing @location and @builtin.
func parseFieldDecl(decl string) (wgslField, bool) {
	var field wgslField

	if builtinRegex.MatchString(decl) {
		field.isBuiltin = true
	}
	if locMatch := locationRegex.FindStringSubmatch(decl); locMatch != nil {
		field.location, _ = strconv.Atoi(locMatch[1])
	} else {
		field.location = -1
	}

	stripped := locationRegex.ReplaceAllString(decl, "")
	stripped = builtinRegex.ReplaceAllString(stripped, "")
	fm := fieldRegex.FindStringSubmatch(strings.TrimSpace(stripped))
	if fm == nil {
		return wgslField{}, false
	}
	field.name = fm[1]
	field.typeName = strings.TrimSpace(fm[2])
	return field, true
}

func findStruct(structs []wgslStruct, name string) (wgslStruct, bool) {
	for _, ws := range structs {
		if ws.name == name {
			return ws, true
		}
	}
	return wgslStruct{}, false
}

// parseStructBlocks finds all struct blocks in cleaned source and parses
// their fields including @location and @builtin attributes.
func parseStructBlocks(cleaned string) []wgslStruct {
	matches := structBlockRegex.FindAllStringSubmatch(cleaned, -1)
	structs := make([]wgslStruct, 0, len(matches))

	for _, match := range matches {
		structs = append(structs, wgslStruct{
			name:   match[1],
			fields: parseStructFields(match[2]),
		})
	}
	return structs
}

func parseStructFields(body string) []wgslField {
	lines := splitAtTopLevelCommas(body)
	fields := make([]wgslField, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if field, ok := parseFieldDecl(line); ok {
			fields = append(fields, field)
		}
	}
	return fields
}

// stripComments removes line and block comments. Block comments may be
// nested per the WGSL grammar.
func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

func stripLineComments(source string) string {
	var sb strings.Builder
	for line := range strings.SplitSeq(source, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	i := 0
	for i < len(source) {
		if i+1 < len(source) {
			if source[i] == '/' && source[i+1] == '*' {
				depth++
				i += 2
				continue
			}
			if source[i] == '*' && source[i+1] == '/' {
				if depth > 0 {
					depth--
				}
				i += 2
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
		i++
	}
	return sb.String()
}

// splitAtTopLevelCommas splits at commas not nested inside angle brackets,
// keeping types like array<Plane, 6> whole.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
