package glgpu

import "greenscreen-camera/gpu"

// vertexCache remembers the strip last written to the shared vertex buffer
// so unchanged geometry is not uploaded again
type vertexCache struct {
	last    gpu.Geometry
	valid   bool
	uploads uint64
}

// update returns the interleaved vertices and true when geom differs from
// the buffer contents
func (c *vertexCache) update(geom gpu.Geometry) ([24]float32, bool) {
	if c.valid && c.last == geom {
		return [24]float32{}, false
	}
	c.last, c.valid = geom, true
	c.uploads++
	return interleave(geom), true
}

func (c *vertexCache) invalidate() { c.valid = false }

// interleave packs position, texcoord and background texcoord per vertex
func interleave(geom gpu.Geometry) [24]float32 {
	var verts [24]float32
	for i := 0; i < 4; i++ {
		verts[i*6+0] = geom.Positions[i*2]
		verts[i*6+1] = geom.Positions[i*2+1]
		verts[i*6+2] = geom.TexCoords[i*2]
		verts[i*6+3] = geom.TexCoords[i*2+1]
		verts[i*6+4] = geom.TexCoords2[i*2]
		verts[i*6+5] = geom.TexCoords2[i*2+1]
	}
	return verts
}
