package modules

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule provides logging functions to Lua
type LogModule struct{}

// NewLogModule creates a new log module
func NewLogModule() *LogModule {
	return &LogModule{}
}

// Loader is the module loader for Lua
//
//	local log = require("log")
//	log.info("porch light on", {device = 3})
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.logAt(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.logAt(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.logAt(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.logAt(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *LogModule) logAt(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				event = event.Interface(lua.LVAsString(key), LuaToGo(value))
			})
		}
		event.Msg(msg)
		return 0
	}
}
