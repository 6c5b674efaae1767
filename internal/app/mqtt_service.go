package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
	"github.com/dokzlo13/pixied/internal/eventbus"
	"github.com/dokzlo13/pixied/internal/mqtt"
)

// MQTTService connects the MQTT bridge to the broker and the event bus.
type MQTTService struct {
	cfg    *config.Config
	client *mqtt.Client
	bridge *mqtt.Bridge
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config) *MQTTService {
	return &MQTTService{cfg: cfg}
}

// Start connects to the broker, subscribes to set topics and starts
// publishing device state.
func (s *MQTTService) Start(_ context.Context, ctrl mqtt.Controller, bus *eventbus.Bus) error {
	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		return err
	}
	s.client = client
	s.bridge = mqtt.NewBridge(client, ctrl, client.Topics(), s.cfg.Pixie.Timeout.Duration())

	if err := client.Subscribe(client.Topics().AllSet(), s.bridge.HandleSet); err != nil {
		client.Close()
		return err
	}
	s.bridge.Register(bus)

	// Retained state may be stale after a broker restart
	client.SetOnConnect(s.bridge.PublishAll)
	s.bridge.PublishAll()

	log.Info().Str("prefix", s.cfg.MQTT.TopicPrefix).Msg("MQTT bridge started")
	return nil
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
