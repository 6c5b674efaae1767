package spec

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// fileSpec is one entry of a spec overlay file.
type fileSpec struct {
	Type       int `yaml:"type"`
	SType      int `yaml:"stype"`
	DeviceSpec `yaml:",inline"`
}

// LoadFile builds a registry from the built-in table overlaid with the
// entries of a YAML file. Entries in the file replace built-in ones with the
// same (type, stype). An empty path returns the built-in registry.
//
//	devices:
//	  - type: 23
//	    stype: 14
//	    model: "Smart Dimmer G4"
//	    light_switch: true
//	    light_dimmer: true
//	    command_ids: {on: "01", off: "00", set_brightness: "00"}
func LoadFile(path string) (*Registry, error) {
	table := Builtin()
	if path == "" {
		return NewRegistry(table), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device spec file: %w", err)
	}

	var doc struct {
		Devices []fileSpec `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse device spec file: %w", err)
	}

	for i, entry := range doc.Devices {
		if entry.Type <= 0 || entry.SType <= 0 {
			return nil, fmt.Errorf("device spec #%d: type and stype are required", i)
		}
		if entry.Manufacturer == "" {
			entry.Manufacturer = manufacturerSAL
		}
		if entry.CommandIDs == nil {
			entry.CommandIDs = map[string]string{}
		}
		key := Key{Type: entry.Type, SType: entry.SType}
		if _, exists := table[key]; exists {
			log.Info().Stringer("device_class", key).Msg("Device spec overridden from file")
		}
		table[key] = entry.DeviceSpec
	}

	log.Info().
		Str("path", path).
		Int("entries", len(doc.Devices)).
		Int("total", len(table)).
		Msg("Device spec table loaded")

	return NewRegistry(table), nil
}
