package modules

import (
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/pixied/internal/storage"
)

// KindScriptKV is the resource_state kind holding script values.
const KindScriptKV = "lua_kv"

// KVModule gives scripts a small persistent key-value store.
type KVModule struct {
	store *storage.Store
}

// NewKVModule creates a new KV module.
func NewKVModule(store *storage.Store) *KVModule {
	return &KVModule{store: store}
}

// Loader is the module loader for Lua.
//
//	local kv = require("kv")
//	kv.set("last_scene", "evening")
//	local scene = kv.get("last_scene")
func (m *KVModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "keys", L.NewFunction(m.keys))

	L.Push(mod)
	return 1
}

// get(key) -> value | nil
func (m *KVModule) get(L *lua.LState) int {
	key := L.CheckString(1)

	var value any
	found, err := m.store.GetJSON(KindScriptKV, key, &value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to read script value")
	}
	if !found || err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(GoToLuaValue(L, value))
	return 1
}

// set(key, value) -> true | nil, err
func (m *KVModule) set(L *lua.LState) int {
	key := L.CheckString(1)
	value := LuaToGo(L.CheckAny(2))
	if value == nil {
		return pushResult(L, m.store.Delete(KindScriptKV, key))
	}
	return pushResult(L, m.store.SetJSON(KindScriptKV, key, value))
}

// delete(key) -> true | nil, err
func (m *KVModule) delete(L *lua.LState) int {
	return pushResult(L, m.store.Delete(KindScriptKV, L.CheckString(1)))
}

// keys() -> {key, ...}
func (m *KVModule) keys(L *lua.LState) int {
	tbl := L.NewTable()
	payloads, _, err := m.store.GetAll(KindScriptKV)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list script values")
	}
	for key := range payloads {
		tbl.Append(lua.LString(key))
	}
	L.Push(tbl)
	return 1
}
