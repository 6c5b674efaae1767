package device

import (
	"testing"

	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

func mustSpec(t *testing.T, typ, stype int) spec.DeviceSpec {
	t.Helper()
	s, err := spec.Default().Spec(typ, stype)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDeriveLightState(t *testing.T) {
	tests := []struct {
		name       string
		typ, stype int
		status     Status
		want       LightState
		wantRGB    *[3]int
	}{
		{
			name: "switch_on",
			typ:  22, stype: 13,
			status: Status{"br": 100.0},
			want:   LightState{Available: true, On: true, Brightness: 255, ColorMode: ColorModeOnOff},
		},
		{
			name: "switch_off",
			typ:  22, stype: 13,
			status: Status{"br": 0.0},
			want:   LightState{Available: true, ColorMode: ColorModeOnOff},
		},
		{
			name: "dimmer_half",
			typ:  23, stype: 11,
			status: Status{"br": 50.0},
			want:   LightState{Available: true, On: true, Brightness: 128, ColorMode: ColorModeBrightness},
		},
		{
			name: "dimmer_offline",
			typ:  23, stype: 11,
			status: Status{"br": 0.0, "online": false},
			want:   LightState{ColorMode: ColorModeBrightness},
		},
		{
			name: "rgb_red",
			typ:  27, stype: 2,
			status:  Status{"br": 100.0, "hue": 0.0},
			want:    LightState{Available: true, On: true, Brightness: 255, ColorMode: ColorModeRGB},
			wantRGB: &[3]int{255, 0, 0},
		},
		{
			name: "rgb_white",
			typ:  27, stype: 2,
			status:  Status{"br": 20.0, "hue": 361.0},
			want:    LightState{Available: true, On: true, Brightness: 51, ColorMode: ColorModeRGB},
			wantRGB: &[3]int{255, 255, 255},
		},
		{
			name: "no_status",
			typ:  23, stype: 11,
			status: nil,
			want:   LightState{ColorMode: ColorModeBrightness},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveLightState(mustSpec(t, tt.typ, tt.stype), tt.status)

			if got.Available != tt.want.Available || got.On != tt.want.On ||
				got.Brightness != tt.want.Brightness || got.ColorMode != tt.want.ColorMode {
				t.Errorf("DeriveLightState() = %+v, want %+v", got, tt.want)
			}
			switch {
			case tt.wantRGB == nil && got.RGB != nil:
				t.Errorf("RGB = %v, want nil", *got.RGB)
			case tt.wantRGB != nil && (got.RGB == nil || *got.RGB != *tt.wantRGB):
				t.Errorf("RGB = %v, want %v", got.RGB, *tt.wantRGB)
			}
		})
	}
}

func TestSupportedColorModes(t *testing.T) {
	tests := []struct {
		typ, stype int
		want       ColorMode
	}{
		{22, 13, ColorModeOnOff},
		{23, 11, ColorModeBrightness},
		{27, 2, ColorModeRGB},
	}
	for _, tt := range tests {
		modes := SupportedColorModes(mustSpec(t, tt.typ, tt.stype))
		if len(modes) != 1 || modes[0] != tt.want {
			t.Errorf("SupportedColorModes(%d/%d) = %v, want [%s]", tt.typ, tt.stype, modes, tt.want)
		}
	}
}

func TestBrightnessToCloud(t *testing.T) {
	tests := map[int]int{0: 0, 255: 100, 128: 50, 300: 100, -1: 0}
	for in, want := range tests {
		if got := BrightnessToCloud(in); got != want {
			t.Errorf("BrightnessToCloud(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestStatus(t *testing.T) {
	s := Status{"br": "42", "hue": 120, "online": true}
	if br, ok := s.Brightness(); !ok || br != 42 {
		t.Errorf("Brightness() = %v, %v", br, ok)
	}
	if hue, ok := s.Hue(); !ok || hue != 120 {
		t.Errorf("Hue() = %v, %v", hue, ok)
	}
	if _, ok := s.Number("missing"); ok {
		t.Error("Number(missing) should report false")
	}

	c := s.Clone()
	c["br"] = 1
	if s["br"] != "42" {
		t.Error("Clone() must not share the map")
	}
}

func TestDeviceKeys(t *testing.T) {
	d := Device{ID: 7}
	if got := d.Key(); got != "salpixieswitch-7" {
		t.Errorf("Key() = %q", got)
	}
	g := Gateway{Device: Device{ID: 1}}
	if got := g.Key(); got != "salpixiegateway-1" {
		t.Errorf("Gateway.Key() = %q", got)
	}
}
