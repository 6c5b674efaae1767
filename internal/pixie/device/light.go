package device

import (
	"github.com/dokzlo13/pixied/internal/convert"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

// ColorMode is the color model a light is currently reporting in.
type ColorMode string

const (
	ColorModeOnOff      ColorMode = "onoff"
	ColorModeBrightness ColorMode = "brightness"
	ColorModeRGB        ColorMode = "rgb"
)

// LightState is a light's state in 0–255 brightness and 8-bit RGB.
type LightState struct {
	Available  bool      `json:"available"`
	On         bool      `json:"on"`
	Brightness int       `json:"brightness"`
	ColorMode  ColorMode `json:"color_mode"`
	RGB        *[3]int   `json:"rgb,omitempty"`
}

// SupportedColorModes returns the color modes a device spec can report.
func SupportedColorModes(s spec.DeviceSpec) []ColorMode {
	var modes []ColorMode
	if s.RGBLight {
		modes = append(modes, ColorModeRGB)
	}
	if len(modes) == 0 && s.LightDimmer {
		modes = append(modes, ColorModeBrightness)
	}
	if len(modes) == 0 {
		modes = append(modes, ColorModeOnOff)
	}
	return modes
}

// DeriveLightState maps a cloud status report onto a light state.
// A nil status yields an unavailable light.
func DeriveLightState(s spec.DeviceSpec, status Status) LightState {
	state := LightState{ColorMode: SupportedColorModes(s)[0]}
	if status == nil {
		return state
	}
	state.Available = status.Online()

	br, hasBr := status.Brightness()
	state.On = hasBr && br > 0

	if s.RGBLight {
		if hue, ok := status.Hue(); ok {
			r, g, b := convert.HueToRGB(hue)
			state.RGB = &[3]int{r, g, b}
		}
	}

	if s.LightDimmer || s.RGBLight {
		if hasBr {
			state.Brightness = convert.ValueToRange(br, 0, 100, 0, 255)
		}
	} else if state.On {
		state.Brightness = 255
	}

	return state
}

// BrightnessToCloud converts a 0–255 brightness to the cloud's 0–100 scale.
func BrightnessToCloud(v int) int {
	return convert.ValueToRange(float64(v), 0, 255, 0, 100)
}
