//go:build gl

// Package glgpu implements gpu.Context on OpenGL 3.3 core through GLFW.
// Build with -tags gl; it needs cgo and a display (or a virtual one).
package glgpu

import (
	"fmt"
	"image"

	"greenscreen-camera/gpu"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BackendName is the name the OpenGL backend registers under
const BackendName = "gl"

func init() {
	gpu.Register(BackendName, func(opts gpu.Options) (gpu.Context, error) {
		return New(opts)
	})
}

type texInfo struct {
	width  int
	height int
}

// Context owns a GLFW window, its GL context and an offscreen framebuffer
type Context struct {
	logger *zap.Logger
	sink   gpu.DisplaySink
	window *glfw.Window

	displayW int
	displayH int

	fbo     uint32
	fboTex  uint32
	offW    int
	offH    int
	current gpu.Target
	targetW int
	targetH int

	vao      uint32
	vbo      uint32
	vertices vertexCache

	textures map[gpu.TextureID]texInfo
	programs map[*program]struct{}

	released bool
	counters gpu.Counters
}

// New creates the window and GL context. The caller must already be locked
// to its OS thread.
func New(opts gpu.Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DisplayWidth <= 0 || opts.DisplayHeight <= 0 {
		return nil, fmt.Errorf("%w: display size %dx%d", gpu.ErrSurfaceInit, opts.DisplayWidth, opts.DisplayHeight)
	}

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("%w: glfw: %v", gpu.ErrContextInit, err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	if opts.Visible {
		glfw.WindowHint(glfw.Visible, glfw.True)
	} else {
		glfw.WindowHint(glfw.Visible, glfw.False)
	}

	title := opts.Title
	if title == "" {
		title = "greenscreen"
	}
	window, err := glfw.CreateWindow(opts.DisplayWidth, opts.DisplayHeight, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("%w: create window: %v", gpu.ErrSurfaceInit, err)
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(1)

	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("%w: gl: %v", gpu.ErrContextInit, err)
	}

	c := &Context{
		logger:   logger.With(zap.String("backend", BackendName)),
		sink:     opts.Sink,
		window:   window,
		displayW: opts.DisplayWidth,
		displayH: opts.DisplayHeight,
		textures: make(map[gpu.TextureID]texInfo),
		programs: make(map[*program]struct{}),
	}
	c.initQuad()

	gl.Disable(gl.DEPTH_TEST)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)

	if err := c.MakeCurrent(gpu.TargetDisplay); err != nil {
		c.Release()
		return nil, err
	}

	c.logger.Info("OpenGL context created",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.Int("width", opts.DisplayWidth),
		zap.Int("height", opts.DisplayHeight))

	return c, nil
}

// initQuad allocates the interleaved vertex buffer: position, texcoord, texcoord2
func (c *Context) initQuad() {
	gl.GenVertexArrays(1, &c.vao)
	gl.BindVertexArray(c.vao)

	gl.GenBuffers(1, &c.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, c.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, 4*6*4, nil, gl.DYNAMIC_DRAW)

	stride := int32(6 * 4)
	gl.EnableVertexAttribArray(gpu.AttribPosition)
	gl.VertexAttribPointer(gpu.AttribPosition, 2, gl.FLOAT, false, stride, gl.PtrOffset(0))
	gl.EnableVertexAttribArray(gpu.AttribTexCoord)
	gl.VertexAttribPointer(gpu.AttribTexCoord, 2, gl.FLOAT, false, stride, gl.PtrOffset(2*4))
	gl.EnableVertexAttribArray(gpu.AttribTexCoord2)
	gl.VertexAttribPointer(gpu.AttribTexCoord2, 2, gl.FLOAT, false, stride, gl.PtrOffset(4*4))
}

// MakeCurrent binds the framebuffer for target and sets the viewport
func (c *Context) MakeCurrent(target gpu.Target) error {
	if c.released {
		return gpu.ErrContextLost
	}
	switch target {
	case gpu.TargetOffscreen:
		if c.fbo == 0 {
			return fmt.Errorf("%w: offscreen target has no size", gpu.ErrSurfaceInit)
		}
		gl.BindFramebuffer(gl.FRAMEBUFFER, c.fbo)
		c.targetW, c.targetH = c.offW, c.offH
	default:
		if c.window.ShouldClose() {
			return fmt.Errorf("%w: window closed", gpu.ErrContextLost)
		}
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		c.targetW, c.targetH = c.window.GetFramebufferSize()
	}
	c.current = target
	gl.Viewport(0, 0, int32(c.targetW), int32(c.targetH))
	return nil
}

// SetOffscreenSize (re)creates the offscreen framebuffer
func (c *Context) SetOffscreenSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: offscreen size %dx%d", gpu.ErrSurfaceInit, width, height)
	}
	if c.fbo != 0 && c.offW == width && c.offH == height {
		return nil
	}

	if c.fbo == 0 {
		gl.GenFramebuffers(1, &c.fbo)
		gl.GenTextures(1, &c.fboTex)
	}
	gl.BindTexture(gl.TEXTURE_2D, c.fboTex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)

	gl.BindFramebuffer(gl.FRAMEBUFFER, c.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, c.fboTex, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("%w: framebuffer status 0x%x", gpu.ErrSurfaceInit, status)
	}

	c.offW, c.offH = width, height
	return c.MakeCurrent(c.current)
}

// ResizeDisplay resizes the window
func (c *Context) ResizeDisplay(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: display size %dx%d", gpu.ErrSurfaceInit, width, height)
	}
	c.window.SetSize(width, height)
	c.displayW, c.displayH = width, height
	if c.current == gpu.TargetDisplay {
		return c.MakeCurrent(gpu.TargetDisplay)
	}
	return nil
}

// TargetSize returns the viewport of the current target
func (c *Context) TargetSize() (int, int) {
	return c.targetW, c.targetH
}

// Clear clears the current target
func (c *Context) Clear(r, g, b, a float32) {
	gl.ClearColor(r, g, b, a)
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

// UploadTexture uploads img, allocating storage only when the size changes
func (c *Context) UploadTexture(id gpu.TextureID, img *image.RGBA) (gpu.TextureID, error) {
	if img == nil {
		return id, fmt.Errorf("upload: nil image")
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()

	info, ok := c.textures[id]
	if id == gpu.NoTexture {
		var tex uint32
		gl.GenTextures(1, &tex)
		id = gpu.TextureID(tex)
		ok = false
		c.counters.TextureCreated()
	} else if !ok {
		return id, fmt.Errorf("%w: %d", gpu.ErrInvalidTexture, id)
	}

	gl.BindTexture(gl.TEXTURE_2D, uint32(id))
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(img.Stride/4))
	if !ok || info.width != w || info.height != h {
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(w), int32(h), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
		c.textures[id] = texInfo{width: w, height: h}
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	}
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)

	c.counters.TextureUploaded()
	return id, nil
}

// DeleteTexture deletes a texture owned by the context
func (c *Context) DeleteTexture(id gpu.TextureID) {
	if _, ok := c.textures[id]; !ok {
		return
	}
	tex := uint32(id)
	gl.DeleteTextures(1, &tex)
	delete(c.textures, id)
	c.counters.TextureDeleted()
}

// ReadPixels reads the current target and flips it so the top row comes first
func (c *Context) ReadPixels() (*image.RGBA, error) {
	w, h := c.targetW, c.targetH
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: no current target", gpu.ErrSurfaceInit)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	if e := gl.GetError(); e != gl.NO_ERROR {
		return nil, fmt.Errorf("glReadPixels failed: 0x%x", e)
	}

	row := make([]byte, img.Stride)
	for top, bottom := 0, h-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := img.Pix[top*img.Stride : (top+1)*img.Stride]
		b := img.Pix[bottom*img.Stride : (bottom+1)*img.Stride]
		copy(row, a)
		copy(a, b)
		copy(b, row)
	}
	c.counters.ReadBack()
	return img, nil
}

// Present swaps the window buffers, feeding the sink first when one is set
func (c *Context) Present() error {
	if c.released {
		return gpu.ErrContextLost
	}
	if c.sink != nil && c.current == gpu.TargetDisplay {
		frame, err := c.ReadPixels()
		if err != nil {
			return err
		}
		c.sink(frame)
	}
	c.window.SwapBuffers()
	glfw.PollEvents()
	c.counters.Presented()
	return nil
}

// Stats returns the context counters
func (c *Context) Stats() gpu.Stats {
	return c.counters.Snapshot()
}

// Release deletes every GL object, destroys the window and terminates GLFW
func (c *Context) Release() error {
	if c.released {
		return nil
	}
	var err error
	for p := range c.programs {
		p.Delete()
	}
	for id := range c.textures {
		c.DeleteTexture(id)
	}
	if c.fbo != 0 {
		gl.DeleteFramebuffers(1, &c.fbo)
		gl.DeleteTextures(1, &c.fboTex)
	}
	gl.DeleteBuffers(1, &c.vbo)
	gl.DeleteVertexArrays(1, &c.vao)
	c.vertices.invalidate()
	if e := gl.GetError(); e != gl.NO_ERROR {
		err = multierr.Append(err, fmt.Errorf("gl error during release: 0x%x", e))
	}

	c.window.Destroy()
	glfw.Terminate()
	c.released = true
	c.logger.Info("OpenGL context released")
	return err
}
