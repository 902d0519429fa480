package filter

import (
	"errors"
	"fmt"
	"math"
)

const (
	// SensitivityUnset marks a sensitivity that has never been provided
	SensitivityUnset float32 = -1
	// DefaultSensitivity is the chroma distance threshold used until one is set
	DefaultSensitivity float32 = 0.4
	// DefaultSmoothing is the width of the blend band above the threshold
	DefaultSmoothing float32 = 0.1
)

// ErrInvalidParameters is returned for out-of-range updates
var ErrInvalidParameters = errors.New("invalid filter parameters")

// Color is an RGB triple with components in [0,1]
type Color [3]float32

// DefaultColor is pure green
var DefaultColor = Color{0, 1, 0}

// ColorFromRGB8 converts 0-255 components into a Color
func ColorFromRGB8(r, g, b uint8) Color {
	return Color{float32(r) / 255, float32(g) / 255, float32(b) / 255}
}

// Parameters is an immutable snapshot of the user-controlled filter settings.
// The zero value is not meaningful; start from NewParameters.
type Parameters struct {
	Color       Color   `json:"color"`
	ColorSet    bool    `json:"color_set"`
	Sensitivity float32 `json:"sensitivity"`
	Background  string  `json:"background"`
}

// NewParameters returns a snapshot with nothing set
func NewParameters() Parameters {
	return Parameters{Sensitivity: SensitivityUnset}
}

// Update is a partial parameter change; nil fields are left alone
type Update struct {
	Color       *Color   `json:"color,omitempty"`
	Sensitivity *float32 `json:"sensitivity,omitempty"`
	Background  *string  `json:"background,omitempty"`
}

// Merge returns a new snapshot with every present field of u applied.
// A sensitivity equal to SensitivityUnset counts as absent.
func (p Parameters) Merge(u Update) Parameters {
	out := p
	if u.Color != nil {
		out.Color = *u.Color
		out.ColorSet = true
	}
	if u.Sensitivity != nil && *u.Sensitivity != SensitivityUnset {
		out.Sensitivity = *u.Sensitivity
	}
	if u.Background != nil {
		out.Background = *u.Background
	}
	return out
}

// EffectiveColor returns the color to key out, falling back to DefaultColor
func (p Parameters) EffectiveColor() Color {
	if !p.ColorSet {
		return DefaultColor
	}
	return p.Color
}

// EffectiveSensitivity returns the threshold, falling back to DefaultSensitivity
func (p Parameters) EffectiveSensitivity() float32 {
	if p.Sensitivity == SensitivityUnset {
		return DefaultSensitivity
	}
	return p.Sensitivity
}

// Validate checks value ranges of the fields present in u
func (u Update) Validate() error {
	if u.Color != nil {
		for i, c := range u.Color {
			if math.IsNaN(float64(c)) || c < 0 || c > 1 {
				return fmt.Errorf("%w: color[%d] = %v outside [0,1]", ErrInvalidParameters, i, c)
			}
		}
	}
	if u.Sensitivity != nil && *u.Sensitivity != SensitivityUnset {
		s := float64(*u.Sensitivity)
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return fmt.Errorf("%w: sensitivity %v is not a non-negative number", ErrInvalidParameters, *u.Sensitivity)
		}
	}
	return nil
}

// IsEmpty reports whether u changes nothing
func (u Update) IsEmpty() bool {
	return u.Color == nil && u.Background == nil &&
		(u.Sensitivity == nil || *u.Sensitivity == SensitivityUnset)
}
