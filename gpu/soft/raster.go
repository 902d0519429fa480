package soft

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"greenscreen-camera/gpu"
)

// program is a compiled Kernel plus its uniform and texture-unit state
type program struct {
	ctx      *Context
	name     string
	kernel   gpu.Kernel
	uniforms *gpu.Uniforms
	units    [2]gpu.TextureID
	deleted  bool
}

// CompileProgram "links" a program. Only the Kernel is used; GLSL is ignored.
func (c *Context) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if c.released {
		return nil, gpu.ErrContextLost
	}
	if src.Kernel == nil {
		return nil, fmt.Errorf("program %q has no software kernel", src.Name)
	}
	p := &program{
		ctx:      c,
		name:     src.Name,
		kernel:   src.Kernel,
		uniforms: gpu.NewUniforms(),
	}
	c.programs[p] = struct{}{}
	c.counters.ProgramCompiled()
	return p, nil
}

func (p *program) Name() string { return p.name }

func (p *program) SetFloat(name string, v float32) { p.uniforms.SetFloat(name, v) }

func (p *program) SetVec3(name string, v [3]float32) { p.uniforms.SetVec3(name, v) }

func (p *program) BindTexture(unit int, id gpu.TextureID) {
	if unit >= 0 && unit < len(p.units) {
		p.units[unit] = id
	}
}

func (p *program) Delete() {
	if p.deleted {
		return
	}
	p.deleted = true
	delete(p.ctx.programs, p)
	p.ctx.counters.ProgramDeleted()
}

// Draw rasterizes the quad into the current target. The quad must be axis
// aligned, which holds for every geometry the renderer produces.
func (p *program) Draw(geom gpu.Geometry) error {
	if p.deleted {
		return fmt.Errorf("%w: %s", gpu.ErrProgramDeleted, p.name)
	}
	dst := p.ctx.target()
	if dst == nil {
		return fmt.Errorf("%w: no current target", gpu.ErrSurfaceInit)
	}

	var units [2]gpu.Sampler
	for i, id := range p.units {
		if id == gpu.NoTexture {
			units[i] = blackSampler{}
			continue
		}
		tex, ok := p.ctx.textures[id]
		if !ok {
			return fmt.Errorf("%w: unit %d bound to %d", gpu.ErrInvalidTexture, i, id)
		}
		units[i] = nearestSampler{tex}
	}

	frag := p.kernel(p.uniforms)
	rasterize(dst, geom, units, frag)
	p.ctx.counters.Drew()
	return nil
}

// rasterize fills every target pixel whose center lies inside the quad
func rasterize(dst *image.RGBA, geom gpu.Geometry, units [2]gpu.Sampler, frag gpu.Fragment) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	pos := geom.Positions
	x0, x1 := pos[0], pos[2] // BL.x, BR.x
	y0, y1 := pos[1], pos[5] // BL.y, TL.y
	if x0 == x1 || y0 == y1 {
		return
	}

	rows := func(r0, r1 int) {
		for py := r0; py < r1; py++ {
			ny := 1 - (float32(py)+0.5)/float32(h)*2
			t := (ny - y0) / (y1 - y0)
			if t < 0 || t > 1 {
				continue
			}
			row := dst.Pix[py*dst.Stride:]
			for px := 0; px < w; px++ {
				nx := (float32(px)+0.5)/float32(w)*2 - 1
				s := (nx - x0) / (x1 - x0)
				if s < 0 || s > 1 {
					continue
				}
				c := frag(interp(geom.TexCoords, s, t), interp(geom.TexCoords2, s, t), units)
				i := px * 4
				row[i] = toByte(c[0])
				row[i+1] = toByte(c[1])
				row[i+2] = toByte(c[2])
				row[i+3] = toByte(c[3])
			}
		}
	}

	workers := runtime.NumCPU()
	if workers > h/32 {
		workers = h / 32
	}
	if workers <= 1 {
		rows(0, h)
		return
	}

	chunk := h / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		r0, r1 := i*chunk, (i+1)*chunk
		if i == workers-1 {
			r1 = h
		}
		go func(r0, r1 int) {
			defer wg.Done()
			rows(r0, r1)
		}(r0, r1)
	}
	wg.Wait()
}

// interp bilinearly interpolates the four corner coordinates of a strip
func interp(tc [8]float32, s, t float32) [2]float32 {
	bx := tc[0] + (tc[2]-tc[0])*s
	by := tc[1] + (tc[3]-tc[1])*s
	tx := tc[4] + (tc[6]-tc[4])*s
	ty := tc[5] + (tc[7]-tc[5])*s
	return [2]float32{bx + (tx-bx)*t, by + (ty-by)*t}
}

// nearestSampler samples with nearest filtering and clamp-to-edge wrapping
type nearestSampler struct {
	img *image.RGBA
}

func (n nearestSampler) Sample(s, t float32) gpu.Vec4 {
	w, h := n.img.Rect.Dx(), n.img.Rect.Dy()
	x := clampIndex(int(s*float32(w)), w)
	y := clampIndex(int(t*float32(h)), h)
	px := n.img.Pix[y*n.img.Stride+x*4:]
	return gpu.Vec4{
		float32(px[0]) / 255,
		float32(px[1]) / 255,
		float32(px[2]) / 255,
		float32(px[3]) / 255,
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// blackSampler stands in for an unbound texture unit
type blackSampler struct{}

func (blackSampler) Sample(float32, float32) gpu.Vec4 { return gpu.Vec4{0, 0, 0, 1} }
