//go:build !js

package gfx

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// SurfaceFromGLFW creates a platform-appropriate wgpu.SurfaceDescriptor from
// a GLFW window, for use with WithSurface. The window must be created with
// glfw.ClientAPI set to glfw.NoAPI.
//
// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
//
// Parameters:
//   - w: the GLFW window to present into
//
// Returns:
//   - *wgpu.SurfaceDescriptor: the surface descriptor for the window
func SurfaceFromGLFW(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}
