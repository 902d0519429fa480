package render

// Mode is the render target the loop serves on one iteration
type Mode int32

const (
	// ModePresentingToDisplay draws the preview and presents it
	ModePresentingToDisplay Mode = iota
	// ModeRenderingOffscreenCapture filters one still image off screen
	ModeRenderingOffscreenCapture
)

func (m Mode) String() string {
	if m == ModeRenderingOffscreenCapture {
		return "rendering_offscreen_capture"
	}
	return "presenting_to_display"
}

// Transition returns the mode for the next iteration. A ready capture moves
// the loop off screen for exactly one iteration; the display is always
// served in between so back-to-back captures cannot starve the preview.
func Transition(current Mode, captureReady bool) Mode {
	switch current {
	case ModePresentingToDisplay:
		if captureReady {
			return ModeRenderingOffscreenCapture
		}
		return ModePresentingToDisplay
	default:
		return ModePresentingToDisplay
	}
}
