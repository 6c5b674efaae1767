package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/pixied/internal/ledger"
)

const defaultHistoryLimit = 20

// HistoryReader reads the command ledger.
type HistoryReader interface {
	GetByDevice(deviceID int, limit int) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
}

// HistoryModule exposes the command ledger to scripts, newest entry first.
//
//	local history = require("history")
//	for _, e in ipairs(history.device(3, 5)) do
//	    log.info(e.type, {source = e.source})
//	end
type HistoryModule struct {
	reader HistoryReader
}

// NewHistoryModule creates a new history module.
func NewHistoryModule(reader HistoryReader) *HistoryModule {
	return &HistoryModule{reader: reader}
}

// Loader is the module loader for Lua.
func (m *HistoryModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "device", L.NewFunction(m.device))
	L.SetField(mod, "events", L.NewFunction(m.events))

	L.Push(mod)
	return 1
}

// device(id [, limit]) -> {entry, ...} | nil, err
func (m *HistoryModule) device(L *lua.LState) int {
	id := L.CheckInt(1)
	limit := L.OptInt(2, defaultHistoryLimit)
	entries, err := m.reader.GetByDevice(id, limit)
	return pushEntries(L, entries, err)
}

// events(type [, limit]) -> {entry, ...} | nil, err
func (m *HistoryModule) events(L *lua.LState) int {
	eventType := L.CheckString(1)
	limit := L.OptInt(2, defaultHistoryLimit)
	entries, err := m.reader.GetByType(ledger.EventType(eventType), limit)
	return pushEntries(L, entries, err)
}

func pushEntries(L *lua.LState, entries []*ledger.Entry, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	tbl := L.NewTable()
	for _, e := range entries {
		row := L.NewTable()
		L.SetField(row, "id", lua.LNumber(e.ID))
		L.SetField(row, "type", lua.LString(e.EventType))
		L.SetField(row, "time", lua.LString(e.Timestamp.Format(time.RFC3339Nano)))
		L.SetField(row, "source", lua.LString(e.Source))
		L.SetField(row, "device_id", lua.LNumber(e.DeviceID))
		if e.Payload != nil {
			L.SetField(row, "payload", MapToLuaTable(L, e.Payload))
		}
		tbl.Append(row)
	}
	L.Push(tbl)
	return 1
}
