package lua

import (
	"github.com/dokzlo13/pixied/internal/lua/modules"
	"github.com/dokzlo13/pixied/internal/storage"
)

// RuntimeDeps groups all dependencies needed by Lua runtime.
type RuntimeDeps struct {
	Devices modules.DeviceController
	Store   *storage.Store        // backs the kv module; nil disables it
	History modules.HistoryReader // backs the history module; nil disables it
}
