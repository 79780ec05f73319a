package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// removedGlobals can load code from outside the script or bypass the
// sandbox.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"collectgarbage",
}

// newState creates an LState with only the safe standard libraries.
func newState(callStackSize int) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: callStackSize,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// registerModule exposes funcs as the global table name.
func registerModule(L *lua.LState, name string, funcs map[string]lua.LGFunction) {
	L.SetGlobal(name, L.SetFuncs(L.NewTable(), funcs))
}
