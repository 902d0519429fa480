package gpu

// Attribute locations shared by every vertex shader
const (
	AttribPosition  = 0
	AttribTexCoord  = 1
	AttribTexCoord2 = 2
)

// Vec4 is an RGBA color with components in [0,1]
type Vec4 [4]float32

// Sampler reads a texture at normalized coordinates; (0,0) is the first texel
// of the first uploaded row.
type Sampler interface {
	Sample(s, t float32) Vec4
}

// Fragment computes one output color from interpolated coordinates and the
// bound texture units.
type Fragment func(texCoord, texCoord2 [2]float32, units [2]Sampler) Vec4

// Kernel is the software counterpart of a fragment shader. It is called once
// per draw with the program's current uniforms and returns the per-pixel
// function, so uniform lookups stay out of the inner loop.
type Kernel func(u *Uniforms) Fragment

// ProgramSource describes a program for every backend: GLSL for GPU
// backends and a Kernel for the software rasterizer.
type ProgramSource struct {
	Name     string
	Vertex   string
	Fragment string
	Kernel   Kernel
	// Samplers names the sampler uniform for each texture unit
	Samplers []string
}

// Uniforms holds the scalar and vector uniforms set on a program
type Uniforms struct {
	floats map[string]float32
	vec3s  map[string][3]float32
}

// NewUniforms creates an empty uniform set
func NewUniforms() *Uniforms {
	return &Uniforms{
		floats: make(map[string]float32),
		vec3s:  make(map[string][3]float32),
	}
}

// SetFloat stores a float uniform
func (u *Uniforms) SetFloat(name string, v float32) {
	u.floats[name] = v
}

// SetVec3 stores a vec3 uniform
func (u *Uniforms) SetVec3(name string, v [3]float32) {
	u.vec3s[name] = v
}

// Float returns a float uniform, zero when unset
func (u *Uniforms) Float(name string) float32 {
	return u.floats[name]
}

// Vec3 returns a vec3 uniform, zero when unset
func (u *Uniforms) Vec3(name string) [3]float32 {
	return u.vec3s[name]
}
