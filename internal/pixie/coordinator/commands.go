package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/ledger"
	"github.com/dokzlo13/pixied/internal/pixie/command"
	"github.com/dokzlo13/pixied/internal/pixie/device"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

// ErrUnknownEffect is returned when a device does not list the requested effect.
var ErrUnknownEffect = errors.New("unknown effect")

type sourceKey struct{}

// WithSource tags commands sent with ctx for the command ledger.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// Send encodes a command and delivers it. Encode failures are returned as
// spec.ErrInvalidDeviceSpec and friends; delivery failures as
// *cloud.CommandSendError. Nothing is retried.
func (c *Coordinator) Send(ctx context.Context, typeID, stypeID, deviceID int, name, state string) (string, error) {
	payload, err := command.Encode(c.registry, typeID, stypeID, command.DeviceID(deviceID), name, state)
	if err != nil {
		return "", err
	}

	marker, err := c.session.SendCommand(ctx, payload)
	if err != nil {
		c.record(ctx, ledger.EventCommandFailed, deviceID, map[string]any{
			"command": name,
			"state":   state,
			"payload": payload,
			"error":   err.Error(),
		})
		return "", err
	}

	c.record(ctx, ledger.EventCommandSent, deviceID, map[string]any{
		"command": name,
		"state":   state,
		"payload": payload,
		"marker":  marker,
	})

	log.Debug().
		Int("device_id", deviceID).
		Str("command", name).
		Str("state", state).
		Str("marker", marker).
		Msg("Command delivered")
	return marker, nil
}

func (c *Coordinator) record(ctx context.Context, t ledger.EventType, deviceID int, payload map[string]any) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Append(t, sourceFrom(ctx), deviceID, payload); err != nil {
		log.Warn().Err(err).Int("device_id", deviceID).Msg("Failed to record command")
	}
}

// Command sends a named command to a managed device.
func (c *Coordinator) Command(ctx context.Context, deviceID int, name, state string) (string, error) {
	d, ok := c.Device(deviceID)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownDevice, deviceID)
	}
	return c.Send(ctx, d.Type, d.SType, d.ID, name, state)
}

// TurnOn switches a device on.
func (c *Coordinator) TurnOn(ctx context.Context, deviceID int) error {
	_, err := c.Command(ctx, deviceID, spec.CmdOn, "")
	return err
}

// TurnOff switches a device off.
func (c *Coordinator) TurnOff(ctx context.Context, deviceID int) error {
	_, err := c.Command(ctx, deviceID, spec.CmdOff, "")
	return err
}

// SetBrightness sets brightness on the 0–255 scale.
func (c *Coordinator) SetBrightness(ctx context.Context, deviceID, brightness int) error {
	state := command.HexByte(device.BrightnessToCloud(brightness))
	_, err := c.Command(ctx, deviceID, spec.CmdSetBrightness, state)
	return err
}

// SetColor sets an RGB color.
func (c *Coordinator) SetColor(ctx context.Context, deviceID, r, g, b int) error {
	_, err := c.Command(ctx, deviceID, spec.CmdSetColor, command.HexRGB(r, g, b))
	return err
}

// SetEffect starts one of the device's named effects.
func (c *Coordinator) SetEffect(ctx context.Context, deviceID int, effect string) error {
	s, err := c.Spec(deviceID)
	if err != nil {
		return err
	}
	idx, ok := s.EffectIndex(effect)
	if !ok {
		return fmt.Errorf("%w %q for device %d", ErrUnknownEffect, effect, deviceID)
	}
	_, err = c.Command(ctx, deviceID, spec.CmdSetEffect, command.HexByte(idx))
	return err
}
