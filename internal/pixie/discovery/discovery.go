// Package discovery turns an account's cloud device list into a validated
// setup entry: credentials, the home gateway and the usable devices.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/pixie/cloud"
	"github.com/dokzlo13/pixied/internal/pixie/command"
	"github.com/dokzlo13/pixied/internal/pixie/device"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

// ErrNoUsableDevices is returned when every device entry was rejected.
var ErrNoUsableDevices = errors.New("no usable devices found")

// UnknownFirmware is reported for devices without a version field.
const UnknownFirmware = "unknown"

// Session is the subset of the cloud client used during setup.
type Session interface {
	Login(ctx context.Context) error
	Devices(ctx context.Context) ([]map[string]any, error)
	ResolveAll(ctx context.Context) (cloud.Credentials, error)
}

// Entry is the result of a successful setup.
type Entry struct {
	Credentials cloud.Credentials `json:"credentials" yaml:"credentials"`
	Gateway     *device.Gateway   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	Devices     []device.Device   `json:"devices" yaml:"devices"`
}

// Setup logs in, fetches and validates the device list, and resolves the
// full set of credentials.
func Setup(ctx context.Context, sess Session, reg *spec.Registry) (*Entry, error) {
	if err := sess.Login(ctx); err != nil {
		return nil, err
	}

	raw, err := sess.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}

	devices, gateway := ParseDevices(raw, reg)
	if len(devices) == 0 {
		return nil, ErrNoUsableDevices
	}

	creds, err := sess.ResolveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	log.Info().
		Int("devices", len(devices)).
		Int("skipped", len(raw)-len(devices)).
		Bool("gateway", gateway != nil).
		Msg("Discovery complete")

	return &Entry{Credentials: creds, Gateway: gateway, Devices: devices}, nil
}

// ParseDevices validates raw device records. Malformed records are skipped
// with a warning. The first gateway record is returned separately.
func ParseDevices(raw []map[string]any, reg *spec.Registry) ([]device.Device, *device.Gateway) {
	var devices []device.Device
	var gateway *device.Gateway

	for _, rec := range raw {
		d, err := parseDevice(rec, reg)
		if err != nil {
			log.Warn().Err(err).Interface("device", rec).Msg("Skipped device")
			continue
		}

		if d.Type == spec.GatewayType && d.SType == spec.GatewaySType {
			if gateway == nil {
				bridge, _ := rec["bridgeName"].(string)
				if bridge == "" {
					bridge = d.Name
				}
				gateway = &device.Gateway{Device: d, BridgeName: bridge}
			}
			continue
		}

		devices = append(devices, d)
	}

	return devices, gateway
}

func parseDevice(rec map[string]any, reg *spec.Registry) (device.Device, error) {
	typ, ok := intField(rec, "type")
	if !ok {
		return device.Device{}, errors.New("missing type")
	}
	if !reg.HasType(typ) {
		return device.Device{}, fmt.Errorf("invalid type %d", typ)
	}
	stype, ok := intField(rec, "stype")
	if !ok {
		return device.Device{}, errors.New("missing stype")
	}
	s, err := reg.Spec(typ, stype)
	if err != nil {
		return device.Device{}, fmt.Errorf("invalid stype %d", stype)
	}
	name, _ := rec["name"].(string)
	if name == "" {
		return device.Device{}, errors.New("missing name")
	}
	id, ok := intField(rec, "id")
	if !ok {
		id, ok = intField(rec, "deviceId")
	}
	if !ok {
		return device.Device{}, errors.New("missing id")
	}
	if err := command.DeviceID(id).Validate(); err != nil {
		return device.Device{}, err
	}

	mac, _ := rec["mac"].(string)
	firmware := UnknownFirmware
	if v, ok := rec["version"]; ok && v != nil {
		firmware = fmt.Sprint(v)
	}

	return device.Device{
		ID:           id,
		MAC:          mac,
		Name:         name,
		Type:         typ,
		SType:        stype,
		Model:        s.Model,
		Manufacturer: s.Manufacturer,
		Firmware:     firmware,
	}, nil
}

func intField(rec map[string]any, key string) (int, bool) {
	switch v := rec[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
