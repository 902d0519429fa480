//go:build gl

package main

// The OpenGL backend needs cgo and a display; it is opt-in with -tags gl.
import _ "greenscreen-camera/gpu/glgpu"
