// Package convert holds numeric helpers shared by device state derivation.
package convert

import "math"

// ValueToRange linearly remaps value from [minFrom, maxFrom] to [minTo, maxTo],
// rounding half to even and clamping to the target range.
func ValueToRange(value, minFrom, maxFrom, minTo, maxTo float64) int {
	normalized := (value - minFrom) / (maxFrom - minFrom)
	v := math.RoundToEven(normalized*(maxTo-minTo) + minTo)
	v = math.Min(v, maxTo)
	return int(math.Max(v, minTo))
}

// HSVToRGB converts h, s, v in [0, 1] to 8-bit RGB channels.
func HSVToRGB(h, s, v float64) (r, g, b int) {
	rf, gf, bf := hsvToRGB(h, s, v)
	return to8bit(rf), to8bit(gf), to8bit(bf)
}

// HueToRGB maps a hue in degrees to a fully saturated color.
// Values above 360 denote the white channel.
func HueToRGB(hue float64) (r, g, b int) {
	if hue > 360 {
		return 255, 255, 255
	}
	return HSVToRGB(hue/360, 1, 1)
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	if s == 0 {
		return v, v, v
	}
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func to8bit(c float64) int {
	return int(math.Round(c * 255))
}
