package render

import (
	"image"

	"greenscreen-camera/filter"
	"greenscreen-camera/gpu"

	"go.uber.org/zap"
)

// RenderContext is everything a task may touch. It exists only on the render
// goroutine and is handed to every task and draw; nothing may retain it.
type RenderContext struct {
	GPU      gpu.Context
	Filters  *filter.Slots
	Uploader *Uploader
	Logger   *zap.Logger

	orientation Orientation
	scale       ScaleType
	geometry    GeometryCache

	framesUploaded uint64
}

// SetPreviewFrame uploads img as the current preview frame
func (rc *RenderContext) SetPreviewFrame(img *image.RGBA) error {
	if err := rc.Uploader.UploadPreview(rc.GPU, img); err != nil {
		return err
	}
	rc.framesUploaded++
	return nil
}

// SetOutputSize resizes the display target
func (rc *RenderContext) SetOutputSize(width, height int) error {
	if err := rc.GPU.MakeCurrent(gpu.TargetDisplay); err != nil {
		return err
	}
	return rc.GPU.ResizeDisplay(width, height)
}

// SetOrientation changes the preview texture transform
func (rc *RenderContext) SetOrientation(o Orientation) {
	rc.orientation = o
}

// Orientation returns the preview texture transform
func (rc *RenderContext) Orientation() Orientation {
	return rc.orientation
}

// previewGeometry returns the cached geometry for the preview texture on the
// current target
func (rc *RenderContext) previewGeometry(tex gpu.Texture) gpu.Geometry {
	outW, outH := rc.GPU.TargetSize()
	return rc.geometry.Get(tex.Width, tex.Height, outW, outH, rc.orientation, rc.scale)
}
