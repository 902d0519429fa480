package render

import (
	"fmt"
	"image"

	"greenscreen-camera/gpu"
)

// Uploader owns the preview and capture textures. Each handle is uploaded
// into in place and reallocated only on first use or a size change.
type Uploader struct {
	preview gpu.Texture
	capture gpu.Texture

	uploads  uint64
	reallocs uint64
}

// UploadPreview uploads a preview frame
func (u *Uploader) UploadPreview(ctx gpu.Context, img *image.RGBA) error {
	return u.upload(ctx, &u.preview, img)
}

// UploadCapture uploads a still image
func (u *Uploader) UploadCapture(ctx gpu.Context, img *image.RGBA) error {
	return u.upload(ctx, &u.capture, img)
}

func (u *Uploader) upload(ctx gpu.Context, tex *gpu.Texture, img *image.RGBA) error {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("failed to upload texture: empty image %dx%d", w, h)
	}
	if tex.Valid() && (tex.Width != w || tex.Height != h) {
		ctx.DeleteTexture(tex.ID)
		*tex = gpu.Texture{}
	}
	if !tex.Valid() {
		u.reallocs++
	}

	id, err := ctx.UploadTexture(tex.ID, img)
	if err != nil {
		return fmt.Errorf("failed to upload texture: %w", err)
	}
	*tex = gpu.Texture{ID: id, Width: w, Height: h}
	u.uploads++
	return nil
}

// Preview returns the preview texture, which may be invalid before the first frame
func (u *Uploader) Preview() gpu.Texture { return u.preview }

// Capture returns the capture texture
func (u *Uploader) Capture() gpu.Texture { return u.capture }

// Uploads returns the number of successful uploads
func (u *Uploader) Uploads() uint64 { return u.uploads }

// Reallocations returns how many times a handle was allocated
func (u *Uploader) Reallocations() uint64 { return u.reallocs }

// Release deletes both textures
func (u *Uploader) Release(ctx gpu.Context) {
	for _, tex := range []*gpu.Texture{&u.preview, &u.capture} {
		if tex.Valid() {
			ctx.DeleteTexture(tex.ID)
		}
		*tex = gpu.Texture{}
	}
}
