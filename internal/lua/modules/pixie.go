package modules

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/pixied/internal/pixie/coordinator"
	"github.com/dokzlo13/pixied/internal/pixie/device"
)

// DeviceController is the device surface scripts can drive.
type DeviceController interface {
	Devices() []device.Device
	LightState(deviceID int) (device.LightState, error)
	TurnOn(ctx context.Context, deviceID int) error
	TurnOff(ctx context.Context, deviceID int) error
	SetBrightness(ctx context.Context, deviceID, brightness int) error
	SetColor(ctx context.Context, deviceID, r, g, b int) error
	SetEffect(ctx context.Context, deviceID int, effect string) error
}

// PixieModule exposes devices to Lua.
//
//	local pixie = require("pixie")
//	pixie.on_update(function(dev)
//	    if dev.id == 3 and dev.on then pixie.brightness(4, 128) end
//	end)
type PixieModule struct {
	ctrl DeviceController

	mu       sync.Mutex
	handlers []*lua.LFunction
}

// NewPixieModule creates a new pixie module.
func NewPixieModule(ctrl DeviceController) *PixieModule {
	return &PixieModule{ctrl: ctrl}
}

// Loader is the module loader for Lua.
func (m *PixieModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "devices", L.NewFunction(m.devices))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "on", L.NewFunction(m.on))
	L.SetField(mod, "off", L.NewFunction(m.off))
	L.SetField(mod, "brightness", L.NewFunction(m.brightness))
	L.SetField(mod, "color", L.NewFunction(m.color))
	L.SetField(mod, "effect", L.NewFunction(m.effect))
	L.SetField(mod, "on_update", L.NewFunction(m.onUpdate))

	L.Push(mod)
	return 1
}

// Handlers returns the registered update handlers.
func (m *PixieModule) Handlers() []*lua.LFunction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*lua.LFunction, len(m.handlers))
	copy(out, m.handlers)
	return out
}

func scriptContext(L *lua.LState) context.Context {
	return coordinator.WithSource(luaContext(L), "lua")
}

// DeviceTable builds the Lua view of a device.
func DeviceTable(L *lua.LState, d device.Device, light *device.LightState) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LNumber(d.ID))
	L.SetField(tbl, "name", lua.LString(d.Name))
	L.SetField(tbl, "type", lua.LNumber(d.Type))
	L.SetField(tbl, "stype", lua.LNumber(d.SType))
	L.SetField(tbl, "model", lua.LString(d.Model))
	L.SetField(tbl, "online", lua.LBool(d.Status.Online()))
	L.SetField(tbl, "status", MapToLuaTable(L, map[string]any(d.Status)))
	if light != nil {
		setLightFields(L, tbl, *light)
	}
	return tbl
}

func setLightFields(L *lua.LState, tbl *lua.LTable, light device.LightState) {
	L.SetField(tbl, "on", lua.LBool(light.On))
	L.SetField(tbl, "brightness", lua.LNumber(light.Brightness))
	L.SetField(tbl, "color_mode", lua.LString(light.ColorMode))
	if light.RGB != nil {
		rgb := L.NewTable()
		L.SetField(rgb, "r", lua.LNumber(light.RGB[0]))
		L.SetField(rgb, "g", lua.LNumber(light.RGB[1]))
		L.SetField(rgb, "b", lua.LNumber(light.RGB[2]))
		L.SetField(tbl, "rgb", rgb)
	}
}

// devices() -> {device, ...}
func (m *PixieModule) devices(L *lua.LState) int {
	tbl := L.NewTable()
	for _, d := range m.ctrl.Devices() {
		var light *device.LightState
		if ls, err := m.ctrl.LightState(d.ID); err == nil {
			light = &ls
		}
		tbl.Append(DeviceTable(L, d, light))
	}
	L.Push(tbl)
	return 1
}

// state(id) -> {on, brightness, color_mode, rgb} | nil, err
func (m *PixieModule) state(L *lua.LState) int {
	ls, err := m.ctrl.LightState(L.CheckInt(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	tbl := L.NewTable()
	L.SetField(tbl, "available", lua.LBool(ls.Available))
	setLightFields(L, tbl, ls)
	L.Push(tbl)
	return 1
}

func (m *PixieModule) on(L *lua.LState) int {
	return pushResult(L, m.ctrl.TurnOn(scriptContext(L), L.CheckInt(1)))
}

func (m *PixieModule) off(L *lua.LState) int {
	return pushResult(L, m.ctrl.TurnOff(scriptContext(L), L.CheckInt(1)))
}

// brightness(id, 0..255)
func (m *PixieModule) brightness(L *lua.LState) int {
	id := L.CheckInt(1)
	v := L.CheckInt(2)
	if v < 0 || v > 255 {
		L.ArgError(2, "brightness must be within 0..255")
		return 0
	}
	return pushResult(L, m.ctrl.SetBrightness(scriptContext(L), id, v))
}

// color(id, r, g, b)
func (m *PixieModule) color(L *lua.LState) int {
	id := L.CheckInt(1)
	r, g, b := L.CheckInt(2), L.CheckInt(3), L.CheckInt(4)
	return pushResult(L, m.ctrl.SetColor(scriptContext(L), id, r, g, b))
}

// effect(id, name)
func (m *PixieModule) effect(L *lua.LState) int {
	id := L.CheckInt(1)
	name := L.CheckString(2)
	return pushResult(L, m.ctrl.SetEffect(scriptContext(L), id, name))
}

// on_update(fn) registers fn(device) for every device state change.
func (m *PixieModule) onUpdate(L *lua.LState) int {
	fn := L.CheckFunction(1)
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	n := len(m.handlers)
	m.mu.Unlock()

	log.Debug().Int("handlers", n).Msg("Lua update handler registered")
	return 0
}
