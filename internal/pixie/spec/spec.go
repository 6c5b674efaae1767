// Package spec holds the static Pixie device capability table.
//
// A Registry is built once at startup (built-in table plus an optional YAML
// overlay) and shared read-only by the command encoder and the coordinator.
package spec

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDeviceSpec is returned when a (type, stype) pair is not in the registry.
	ErrInvalidDeviceSpec = errors.New("invalid device type or stype")

	// ErrUnknownCommand is returned when a command has no opcode for a device.
	ErrUnknownCommand = errors.New("command has no mapping")

	// ErrIndeterminateCommandClass is returned when no command class fits a device.
	ErrIndeterminateCommandClass = errors.New("cannot determine command type")
)

// Command names understood by the encoder.
const (
	CmdOn                 = "on"
	CmdOff                = "off"
	CmdUSBOn              = "usb_on"
	CmdUSBOff             = "usb_off"
	CmdGPOOn              = "gpo_on"
	CmdGPOOn2             = "gpo_on_2"
	CmdGPOOff             = "gpo_off"
	CmdGPOOff2            = "gpo_off_2"
	CmdRelayOn            = "relay_on"
	CmdRelayOff           = "relay_off"
	CmdRelayOn2           = "relay_on2"
	CmdRelayOff2          = "relay_off2"
	CmdSetColor           = "set_color"
	CmdSetBrightness      = "set_brightness"
	CmdSetWhiteBrightness = "set_white_brightness"
	CmdSetEffect          = "set_effect"
	CmdOpen               = "open"
	CmdClose              = "close"
	CmdStop               = "stop"
)

// CommandClass selects the opcode family prefix of a payload.
type CommandClass int

const (
	ClassLightSwitch CommandClass = iota + 1
	ClassLightDimmer
	ClassPlugSwitch
	ClassLightEffect
)

// Code returns the fixed command-type literal used in the payload.
func (c CommandClass) Code() string {
	switch c {
	case ClassLightSwitch:
		return "00ed6969"
	case ClassLightDimmer:
		return "00c46969ffffff"
	case ClassPlugSwitch:
		return "00c16969"
	case ClassLightEffect:
		return "00f86969"
	default:
		return ""
	}
}

func (c CommandClass) String() string {
	switch c {
	case ClassLightSwitch:
		return "light_switch"
	case ClassLightDimmer:
		return "light_dimmer"
	case ClassPlugSwitch:
		return "plug_switch"
	case ClassLightEffect:
		return "light_effect"
	default:
		return "unknown"
	}
}

// Key identifies a device class.
type Key struct {
	Type  int
	SType int
}

func (k Key) String() string {
	return fmt.Sprintf("type %d stype %d", k.Type, k.SType)
}

// DeviceSpec describes the capabilities and opcodes of a device class.
type DeviceSpec struct {
	Model        string            `yaml:"model"`
	Manufacturer string            `yaml:"manufacturer"`
	LightSwitch  bool              `yaml:"light_switch"`
	LightDimmer  bool              `yaml:"light_dimmer"`
	Cover        bool              `yaml:"cover"`
	RGBLight     bool              `yaml:"rgb_light"`
	CCTLight     bool              `yaml:"cct_light"`
	Relay        int               `yaml:"relay"`
	GPO          int               `yaml:"gpo"`
	USB          int               `yaml:"usb"`
	Effects      []string          `yaml:"effects"`
	CommandIDs   map[string]string `yaml:"command_ids"`
}

// IsLight reports whether the device is exposed as a light.
func (s DeviceSpec) IsLight() bool {
	return s.LightSwitch
}

// IsPlug reports whether the device switches relays, outlets or USB ports.
func (s DeviceSpec) IsPlug() bool {
	return s.Relay > 0 || s.GPO > 0 || s.USB > 0
}

// EffectIndex returns the position of an effect in the spec's effect list.
func (s DeviceSpec) EffectIndex(name string) (int, bool) {
	for i, e := range s.Effects {
		if e == name {
			return i, true
		}
	}
	return 0, false
}

// Registry is an immutable lookup of device specs.
type Registry struct {
	specs map[Key]DeviceSpec
}

// NewRegistry builds a registry from the given table. The table is copied.
func NewRegistry(table map[Key]DeviceSpec) *Registry {
	specs := make(map[Key]DeviceSpec, len(table))
	for k, v := range table {
		specs[k] = copySpec(v)
	}
	return &Registry{specs: specs}
}

// Spec returns the spec for a device class.
func (r *Registry) Spec(typeID, stypeID int) (DeviceSpec, error) {
	s, ok := r.specs[Key{Type: typeID, SType: stypeID}]
	if !ok {
		return DeviceSpec{}, fmt.Errorf("%w: type (%d) stype (%d)", ErrInvalidDeviceSpec, typeID, stypeID)
	}
	return copySpec(s), nil
}

// Has reports whether the registry knows a device class.
func (r *Registry) Has(typeID, stypeID int) bool {
	_, ok := r.specs[Key{Type: typeID, SType: stypeID}]
	return ok
}

// HasType reports whether any subtype of typeID is known.
func (r *Registry) HasType(typeID int) bool {
	for k := range r.specs {
		if k.Type == typeID {
			return true
		}
	}
	return false
}

// Keys returns every known device class.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.specs))
	for k := range r.specs {
		keys = append(keys, k)
	}
	return keys
}

// CommandOpcode returns the opcode literal of a command for a device class.
func (r *Registry) CommandOpcode(typeID, stypeID int, command string) (string, error) {
	s, ok := r.specs[Key{Type: typeID, SType: stypeID}]
	if !ok {
		return "", fmt.Errorf("%w: type (%d) stype (%d)", ErrInvalidDeviceSpec, typeID, stypeID)
	}
	id, ok := s.CommandIDs[command]
	if !ok {
		return "", fmt.Errorf("%w: command '%s' for device type %d stype %d", ErrUnknownCommand, command, typeID, stypeID)
	}
	return id, nil
}

// CommandClass resolves the command class for a command sent to a device class.
//
// set_effect on a spec with effects is always an effect command. Everything
// else follows the switch > dimmer > plug priority, where on/off on a dimmer
// uses the switch family.
func (r *Registry) CommandClass(typeID, stypeID int, command string) (CommandClass, error) {
	s, ok := r.specs[Key{Type: typeID, SType: stypeID}]
	if !ok {
		return 0, fmt.Errorf("%w: type (%d) stype (%d)", ErrInvalidDeviceSpec, typeID, stypeID)
	}

	if command == CmdSetEffect && len(s.Effects) > 0 {
		return ClassLightEffect, nil
	}

	switch {
	case s.LightSwitch && (!s.LightDimmer || command == CmdOn || command == CmdOff):
		return ClassLightSwitch, nil
	case s.LightDimmer:
		return ClassLightDimmer, nil
	case s.IsPlug():
		return ClassPlugSwitch, nil
	}

	return 0, fmt.Errorf("%w for device type %d stype %d", ErrIndeterminateCommandClass, typeID, stypeID)
}

func copySpec(s DeviceSpec) DeviceSpec {
	if s.Effects != nil {
		s.Effects = append([]string(nil), s.Effects...)
	}
	if s.CommandIDs != nil {
		ids := make(map[string]string, len(s.CommandIDs))
		for k, v := range s.CommandIDs {
			ids[k] = v
		}
		s.CommandIDs = ids
	}
	return s
}
