package modules

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// LuaToGo converts a Lua value to a Go value
func LuaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		// Sequence tables become slices, everything else a map
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, LuaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = LuaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// GoToLuaValue converts a Go value to a Lua value
func GoToLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, GoToLuaValue(L, item))
		}
		return tbl
	case map[string]any:
		return MapToLuaTable(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// MapToLuaTable converts a Go map to a Lua table
func MapToLuaTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, GoToLuaValue(L, v))
	}
	return tbl
}

// luaContext returns the context of the work item currently running on L.
func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// pushResult follows the Lua convention: true on success, nil and a message on failure.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
