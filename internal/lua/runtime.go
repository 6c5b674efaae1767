package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/pixied/internal/eventbus"
	"github.com/dokzlo13/pixied/internal/lua/modules"
	"github.com/dokzlo13/pixied/internal/pixie/device"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// LuaWork represents work to be executed on the Lua VM
// All Lua execution MUST go through this to ensure thread safety
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L    *lua.LState
	deps RuntimeDeps

	pixieModule *modules.PixieModule

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	runOnce   sync.Once
}

// NewRuntime creates a new Lua runtime
func NewRuntime(deps RuntimeDeps) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		deps:      deps,
		workQueue: make(chan LuaWork, 100),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.registerModules()
	return r
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules() {
	r.L.PreloadModule("log", modules.NewLogModule().Loader)

	r.pixieModule = modules.NewPixieModule(r.deps.Devices)
	r.L.PreloadModule("pixie", r.pixieModule.Loader)

	if r.deps.Store != nil {
		r.L.PreloadModule("kv", modules.NewKVModule(r.deps.Store).Loader)
	}
	if r.deps.History != nil {
		r.L.PreloadModule("history", modules.NewHistoryModule(r.deps.History).Loader)
	}
}

// LoadScript loads and executes a Lua script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Int("update_handlers", len(r.pixieModule.Handlers())).Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes Lua source (must be called before Run)
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}

// Close signals the runtime to stop accepting new work, waits for a running
// worker to drain and closes the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		// Run never started: nothing to wait for
		r.runOnce.Do(func() { close(r.done) })
		<-r.done
		r.L.Close()
	})
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking).
// Returns false if the runtime is closing, the queue is full or ctx is done.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work, waits for it to run and returns its error.
func (r *Runtime) DoSync(ctx context.Context, work func(context.Context) error) error {
	result := make(chan error, 1)
	wrapped := LuaWork(func(c context.Context) {
		result <- work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Run is the Lua worker loop - the ONLY goroutine that touches Lua after
// the script has been loaded. Exits when ctx is cancelled or the runtime
// is closed.
func (r *Runtime) Run(ctx context.Context) {
	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	// Modules read the context through L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// HandleDeviceState queues every registered update handler for a
// device_state event.
func (r *Runtime) HandleDeviceState(ctx context.Context, event eventbus.Event) {
	if len(r.pixieModule.Handlers()) == 0 {
		return
	}
	id, ok := event.Data["device_id"].(int)
	if !ok {
		return
	}

	r.Do(ctx, func(context.Context) {
		d := device.Device{ID: id}
		d.Name, _ = event.Data["name"].(string)
		if status, ok := event.Data["status"].(map[string]any); ok {
			d.Status = device.Status(status)
		}
		for _, known := range r.deps.Devices.Devices() {
			if known.ID == id {
				d.Type, d.SType, d.Model = known.Type, known.SType, known.Model
				break
			}
		}
		var light *device.LightState
		if ls, ok := event.Data["light"].(device.LightState); ok {
			light = &ls
		}

		tbl := modules.DeviceTable(r.L, d, light)
		for _, fn := range r.pixieModule.Handlers() {
			err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl)
			if err != nil {
				log.Error().Err(err).Int("device_id", id).Msg("Lua update handler failed")
			}
		}
	})
}
