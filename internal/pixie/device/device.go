// Package device holds the Pixie device model shared by discovery, the
// coordinator and the adapters.
package device

import (
	"fmt"
	"strconv"
)

// Status is the opaque per-device status map reported by the cloud.
type Status map[string]any

// Number returns a numeric field of the status.
func (s Status) Number(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Brightness returns the reported brightness (0–100).
func (s Status) Brightness() (float64, bool) {
	return s.Number("br")
}

// Hue returns the reported hue in degrees; values above 360 mean white.
func (s Status) Hue() (float64, bool) {
	return s.Number("hue")
}

// Online reports the cloud's online flag, defaulting to true when absent.
func (s Status) Online() bool {
	if v, ok := s["online"].(bool); ok {
		return v
	}
	return true
}

// Clone returns a shallow copy of the status.
func (s Status) Clone() Status {
	if s == nil {
		return nil
	}
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Device is one physical Pixie unit.
type Device struct {
	ID           int    `json:"id" yaml:"id"`
	MAC          string `json:"mac" yaml:"mac"`
	Name         string `json:"name" yaml:"name"`
	Type         int    `json:"type" yaml:"type"`
	SType        int    `json:"stype" yaml:"stype"`
	Model        string `json:"model" yaml:"model"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	Firmware     string `json:"firmware" yaml:"firmware"`
	Status       Status `json:"status,omitempty" yaml:"-"`
}

// Key returns a stable identifier used for topics and unique ids.
func (d Device) Key() string {
	return fmt.Sprintf("salpixieswitch-%d", d.ID)
}

// Gateway is the bridging device for a home.
type Gateway struct {
	Device     `yaml:",inline"`
	BridgeName string `json:"bridge_name" yaml:"bridge_name"`
}

// Key returns the gateway identifier.
func (g Gateway) Key() string {
	return fmt.Sprintf("salpixiegateway-%d", g.ID)
}
