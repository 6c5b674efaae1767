package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
	"github.com/dokzlo13/pixied/internal/db"
	"github.com/dokzlo13/pixied/internal/ledger"
	"github.com/dokzlo13/pixied/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *storage.Store
	Sessions *storage.SessionStore

	// High-level services
	Pixie  *PixieService
	Lua    *LuaService
	MQTT   *MQTTService
	Health *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Sessions = storage.NewSessionStore(s.Store)

	s.Pixie, err = NewPixieService(cfg, s.Sessions, s.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.MQTT.Enabled {
		s.MQTT = NewMQTTService(cfg)
	}

	s.Health = NewHealthService(cfg)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Health endpoints come up first so /ready reports during login
	s.Health.Start(ctx, s)

	if err := s.Pixie.Start(ctx); err != nil {
		return err
	}
	coord := s.Pixie.Coordinator

	// Lua needs the coordinator, so it is created after the cloud login
	if s.cfg.Script != "" {
		s.Lua = NewLuaService(s.cfg, coord, s.Store, s.Ledger)
		if err := s.Lua.LoadScript(); err != nil {
			return err
		}
		s.Lua.Start(ctx, s.Pixie.Bus)
	}

	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx, coord, s.Pixie.Bus); err != nil {
			return err
		}
	}

	s.Pixie.StartBackground(ctx)
	return nil
}

// Ready implements ReadinessReporter before and after the coordinator exists.
func (s *Services) Ready() bool {
	coord := s.Pixie.running()
	return coord != nil && coord.Ready()
}

// LastRefresh implements ReadinessReporter.
func (s *Services) LastRefresh() time.Time {
	if coord := s.Pixie.running(); coord != nil {
		return coord.LastRefresh()
	}
	return time.Time{}
}

// LiveConnections implements ReadinessReporter: successful live query handshakes
// since start, more than one means the channel has reconnected.
func (s *Services) LiveConnections() int64 {
	return s.Pixie.Live.Connections()
}

// ResetSession forgets the stored cloud session and device snapshot.
func (s *Services) ResetSession() error {
	return s.Pixie.ResetSession()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources. Adapters stop before the coordinator so no
// command is routed to a stopped session.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Pixie != nil {
		s.Pixie.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
