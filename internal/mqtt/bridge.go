package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/eventbus"
	"github.com/dokzlo13/pixied/internal/pixie/coordinator"
	"github.com/dokzlo13/pixied/internal/pixie/device"
)

// ErrInvalidCommand is returned for set payloads that cannot be routed.
var ErrInvalidCommand = errors.New("invalid command")

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Controller executes device commands.
type Controller interface {
	TurnOn(ctx context.Context, deviceID int) error
	TurnOff(ctx context.Context, deviceID int) error
	SetBrightness(ctx context.Context, deviceID, brightness int) error
	SetColor(ctx context.Context, deviceID, r, g, b int) error
	SetEffect(ctx context.Context, deviceID int, effect string) error
	PublishStates()
}

// Color is an 8-bit RGB color.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// SetCommand is the JSON accepted on a device's set topic.
//
//	{"state": "ON", "brightness": 128, "color": {"r": 255, "g": 0, "b": 0}, "effect": "fade"}
type SetCommand struct {
	State      string `json:"state,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Color      *Color `json:"color,omitempty"`
	Effect     string `json:"effect,omitempty"`
}

// StatePayload is the JSON published on a device's state topic.
type StatePayload struct {
	DeviceID   int              `json:"device_id"`
	Name       string           `json:"name"`
	Available  bool             `json:"available"`
	State      string           `json:"state,omitempty"`
	Brightness *int             `json:"brightness,omitempty"`
	ColorMode  device.ColorMode `json:"color_mode,omitempty"`
	Color      *Color           `json:"color,omitempty"`
	Status     map[string]any   `json:"status,omitempty"`
}

// Bridge maps bus events to state messages and set messages to commands.
type Bridge struct {
	pub     Publisher
	ctrl    Controller
	topics  Topics
	timeout time.Duration
}

// NewBridge creates a bridge. timeout bounds each routed command.
func NewBridge(pub Publisher, ctrl Controller, topics Topics, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{pub: pub, ctrl: ctrl, topics: topics, timeout: timeout}
}

// Register subscribes the bridge to device state events.
func (b *Bridge) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeDeviceState, b.HandleDeviceState)
}

// HandleDeviceState publishes a device_state event as retained state.
func (b *Bridge) HandleDeviceState(event eventbus.Event) {
	payload, id, err := buildState(event.Data)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed device state event")
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Int("device_id", id).Msg("Failed to encode device state")
		return
	}
	if err := b.pub.Publish(b.topics.State(id), data, true); err != nil {
		log.Warn().Err(err).Int("device_id", id).Msg("Failed to publish device state")
	}
}

// PublishAll asks the controller to republish every device state, e.g.
// after the broker connection was re-established.
func (b *Bridge) PublishAll() {
	b.ctrl.PublishStates()
}

func buildState(data map[string]any) (StatePayload, int, error) {
	id, ok := data["device_id"].(int)
	if !ok {
		return StatePayload{}, 0, fmt.Errorf("device_id missing in %v", data)
	}
	name, _ := data["name"].(string)
	p := StatePayload{DeviceID: id, Name: name, Available: true}

	if status, ok := data["status"].(map[string]any); ok {
		p.Status = status
		p.Available = device.Status(status).Online()
	}

	if light, ok := data["light"].(device.LightState); ok {
		p.Available = light.Available
		p.State = "OFF"
		if light.On {
			p.State = "ON"
		}
		if light.ColorMode != device.ColorModeOnOff {
			br := light.Brightness
			p.Brightness = &br
		}
		p.ColorMode = light.ColorMode
		if light.RGB != nil {
			p.Color = &Color{R: light.RGB[0], G: light.RGB[1], B: light.RGB[2]}
		}
	}
	return p, id, nil
}

// HandleSet parses and routes a message received on a set topic.
func (b *Bridge) HandleSet(topic string, payload []byte) error {
	id, err := b.topics.DeviceFromSet(topic)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd, err := ParseSetCommand(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	ctx = coordinator.WithSource(ctx, "mqtt")

	if err := b.Apply(ctx, id, cmd); err != nil {
		return fmt.Errorf("device %d: %w", id, err)
	}
	log.Debug().Int("device_id", id).Interface("command", cmd).Msg("MQTT command applied")
	return nil
}

// ParseSetCommand decodes a set payload. A bare "ON"/"OFF" string is
// accepted as a state-only command.
func ParseSetCommand(payload []byte) (SetCommand, error) {
	var cmd SetCommand
	trimmed := strings.TrimSpace(string(payload))
	switch strings.ToUpper(trimmed) {
	case "ON", "OFF":
		cmd.State = strings.ToUpper(trimmed)
		return cmd, nil
	}

	if err := json.Unmarshal(payload, &cmd); err != nil {
		return SetCommand{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.State = strings.ToUpper(cmd.State)
	if cmd.State != "" && cmd.State != "ON" && cmd.State != "OFF" {
		return SetCommand{}, fmt.Errorf("%w: state must be ON or OFF, got %q", ErrInvalidCommand, cmd.State)
	}
	if cmd.State == "" && cmd.Brightness == nil && cmd.Color == nil && cmd.Effect == "" {
		return SetCommand{}, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	if cmd.Brightness != nil && (*cmd.Brightness < 0 || *cmd.Brightness > 255) {
		return SetCommand{}, fmt.Errorf("%w: brightness %d out of range 0-255", ErrInvalidCommand, *cmd.Brightness)
	}
	return cmd, nil
}

// Apply executes a set command. OFF wins over every other field; otherwise
// effect, then color, then brightness are applied, and a plain ON only when
// nothing else was requested.
func (b *Bridge) Apply(ctx context.Context, deviceID int, cmd SetCommand) error {
	if cmd.State == "OFF" {
		return b.ctrl.TurnOff(ctx, deviceID)
	}

	applied := false
	if cmd.Effect != "" {
		if err := b.ctrl.SetEffect(ctx, deviceID, cmd.Effect); err != nil {
			return err
		}
		applied = true
	}
	if cmd.Color != nil {
		if err := b.ctrl.SetColor(ctx, deviceID, cmd.Color.R, cmd.Color.G, cmd.Color.B); err != nil {
			return err
		}
		applied = true
	}
	if cmd.Brightness != nil {
		if err := b.ctrl.SetBrightness(ctx, deviceID, *cmd.Brightness); err != nil {
			return err
		}
		applied = true
	}
	if !applied && cmd.State == "ON" {
		return b.ctrl.TurnOn(ctx, deviceID)
	}
	return nil
}
