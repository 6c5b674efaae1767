package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
	"github.com/dokzlo13/pixied/internal/eventbus"
	luart "github.com/dokzlo13/pixied/internal/lua"
	"github.com/dokzlo13/pixied/internal/lua/modules"
	"github.com/dokzlo13/pixied/internal/storage"
)

// LuaService wraps the Lua runtime and feeds it device updates.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService.
func NewLuaService(cfg *config.Config, devices modules.DeviceController, store *storage.Store, history modules.HistoryReader) *LuaService {
	return &LuaService{
		cfg: cfg,
		Runtime: luart.NewRuntime(luart.RuntimeDeps{
			Devices: devices,
			Store:   store,
			History: history,
		}),
	}
}

// LoadScript loads and executes the configured script.
// Must be called before Start().
func (s *LuaService) LoadScript() error {
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Start begins the Lua worker goroutine and routes device updates to it.
func (s *LuaService) Start(ctx context.Context, bus *eventbus.Bus) {
	// Lua worker goroutine - this is the ONLY goroutine that touches Lua
	go s.Runtime.Run(ctx)

	bus.Subscribe(eventbus.EventTypeDeviceState, func(event eventbus.Event) {
		s.Runtime.HandleDeviceState(ctx, event)
	})
	log.Info().Str("script", s.cfg.Script).Msg("Lua automation started")
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
