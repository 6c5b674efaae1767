package convert

import "testing"

func TestValueToRange(t *testing.T) {
	tests := []struct {
		name                          string
		value, minF, maxF, minT, maxT float64
		want                          int
	}{
		{"floor", 0, 0, 100, 0, 255, 0},
		{"ceiling", 100, 0, 100, 0, 255, 255},
		{"midpoint", 50, 0, 100, 0, 255, 128},
		{"tie_rounds_to_even_down", 30, 0, 100, 0, 255, 76},
		{"tie_rounds_to_even_up", 70, 0, 100, 0, 255, 178},
		{"one_percent", 1, 0, 100, 0, 255, 3},
		{"above_range_clamped", 120, 0, 100, 0, 255, 255},
		{"below_range_clamped", -10, 0, 100, 0, 255, 0},
		{"reverse_direction", 128, 0, 255, 0, 100, 50},
		{"offset_target", 50, 0, 100, 10, 20, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValueToRange(tt.value, tt.minF, tt.maxF, tt.minT, tt.maxT)
			if got != tt.want {
				t.Errorf("ValueToRange(%v, %v, %v, %v, %v) = %d, want %d",
					tt.value, tt.minF, tt.maxF, tt.minT, tt.maxT, got, tt.want)
			}
		})
	}
}

func TestHueToRGB(t *testing.T) {
	tests := []struct {
		hue     float64
		r, g, b int
	}{
		{0, 255, 0, 0},
		{120, 0, 255, 0},
		{240, 0, 0, 255},
		{60, 255, 255, 0},
		{360, 255, 0, 0},
		{361, 255, 255, 255},
		{1000, 255, 255, 255},
	}

	for _, tt := range tests {
		r, g, b := HueToRGB(tt.hue)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("HueToRGB(%v) = (%d, %d, %d), want (%d, %d, %d)", tt.hue, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}
