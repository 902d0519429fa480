//go:build gl

package glgpu

import (
	"fmt"
	"strings"

	"greenscreen-camera/gpu"

	"github.com/go-gl/gl/v3.3-core/gl"
)

type program struct {
	ctx       *Context
	name      string
	id        uint32
	locations map[string]int32
	units     [2]gpu.TextureID
	deleted   bool
}

// CompileProgram compiles and links the GLSL sources of src
func (c *Context) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if c.released {
		return nil, gpu.ErrContextLost
	}

	vs, err := compileShader(gl.VERTEX_SHADER, src.Vertex)
	if err != nil {
		return nil, fmt.Errorf("program %q vertex shader: %w", src.Name, err)
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(gl.FRAGMENT_SHADER, src.Fragment)
	if err != nil {
		return nil, fmt.Errorf("program %q fragment shader: %w", src.Name, err)
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(id, logLength, nil, gl.Str(log))
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("program %q link error: %s", src.Name, log)
	}

	p := &program{
		ctx:       c,
		name:      src.Name,
		id:        id,
		locations: make(map[string]int32),
	}

	gl.UseProgram(id)
	for unit, sampler := range src.Samplers {
		gl.Uniform1i(p.location(sampler), int32(unit))
	}

	c.programs[p] = struct{}{}
	c.counters.ProgramCompiled()
	return p, nil
}

func compileShader(shaderType uint32, source string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compile error: %s", log)
	}
	return shader, nil
}

func (p *program) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
	p.locations[name] = loc
	return loc
}

func (p *program) Name() string { return p.name }

func (p *program) SetFloat(name string, v float32) {
	if p.deleted {
		return
	}
	gl.UseProgram(p.id)
	gl.Uniform1f(p.location(name), v)
}

func (p *program) SetVec3(name string, v [3]float32) {
	if p.deleted {
		return
	}
	gl.UseProgram(p.id)
	gl.Uniform3f(p.location(name), v[0], v[1], v[2])
}

func (p *program) BindTexture(unit int, id gpu.TextureID) {
	if unit >= 0 && unit < len(p.units) {
		p.units[unit] = id
	}
}

// Draw draws the strip with the bound texture units. The vertex buffer is
// rewritten only when the geometry changed since the last draw.
func (p *program) Draw(geom gpu.Geometry) error {
	if p.deleted {
		return fmt.Errorf("%w: %s", gpu.ErrProgramDeleted, p.name)
	}

	gl.UseProgram(p.id)
	for unit, id := range p.units {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
		gl.BindTexture(gl.TEXTURE_2D, uint32(id))
	}

	gl.BindVertexArray(p.ctx.vao)
	if verts, changed := p.ctx.vertices.update(geom); changed {
		gl.BindBuffer(gl.ARRAY_BUFFER, p.ctx.vbo)
		gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(verts)*4, gl.Ptr(&verts[0]))
	}
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)

	if e := gl.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("draw %s: gl error 0x%x", p.name, e)
	}
	p.ctx.counters.Drew()
	return nil
}

func (p *program) Delete() {
	if p.deleted {
		return
	}
	p.deleted = true
	gl.DeleteProgram(p.id)
	delete(p.ctx.programs, p)
	p.ctx.counters.ProgramDeleted()
}
