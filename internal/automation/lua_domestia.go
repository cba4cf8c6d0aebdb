//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerDomestiaModule registers the `domestia` global table in a Lua state.
func registerDomestiaModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	fns := map[string]lua.LGFunction{
		"on":           func(L *lua.LState) int { return luaOn(L, vm, e) },
		"log":          func(L *lua.LState) int { return luaLog(L, vm, e) },
		"after":        func(L *lua.LState) int { return luaAfter(L, vm, e) },
		"devices":      func(L *lua.LState) int { return luaDevices(L, e) },
		"get_state":    func(L *lua.LState) int { return luaGetState(L, e) },
		"time_between": luaTimeBetween,

		"turn_on":  control(vm, e, func(ctx context.Context, L *lua.LState, id int) error { return e.home.TurnOn(ctx, id) }),
		"turn_off": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error { return e.home.TurnOff(ctx, id) }),
		"toggle":   control(vm, e, func(ctx context.Context, L *lua.LState, id int) error { return e.home.Toggle(ctx, id) }),
		"set_brightness": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetBrightness(ctx, id, L.CheckInt(2))
		}),
		"set_position": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetCoverPosition(ctx, id, L.CheckInt(2))
		}),
		"open_cover": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetCoverPosition(ctx, id, 100)
		}),
		"close_cover": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetCoverPosition(ctx, id, 0)
		}),
		"stop_cover": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error { return e.home.StopCover(ctx, id) }),
		"set_temperature": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetThermostatTarget(ctx, id, float64(L.CheckNumber(2)))
		}),
		"set_mode": control(vm, e, func(ctx context.Context, L *lua.LState, id int) error {
			return e.home.SetThermostatMode(ctx, id, L.CheckString(2))
		}),
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}

	L.SetGlobal("domestia", mod)
}

// control wraps a device command. The Lua function takes the target as its
// first argument and returns true, or false and an error message.
func control(vm *scriptVM, e *Engine, do func(ctx context.Context, L *lua.LState, id int) error) lua.LGFunction {
	return func(L *lua.LState) int {
		id, err := resolveTarget(L, 1, e)
		if err == nil {
			ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
			err = do(ctx, L, id)
			cancel()
		}
		if err != nil {
			e.logger.Warn("script command failed", "target", L.Get(1).String(), "err", err)
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}
}

// resolveTarget accepts an output ID or a name.
func resolveTarget(L *lua.LState, n int, e *Engine) (int, error) {
	if num, ok := L.Get(n).(lua.LNumber); ok {
		return int(num), nil
	}
	return e.home.Lookup(L.CheckString(n))
}

// domestia.on(event_type, [filter,] fn)
func luaOn(L *lua.LState, vm *scriptVM, e *Engine) int {
	h := luaEventHandler{eventType: L.CheckString(1), id: -1}

	fnArg := 2
	if filter, ok := L.Get(2).(*lua.LTable); ok {
		fnArg = 3
		if v := filter.RawGetString("id"); v != lua.LNil {
			id, err := resolveFilterID(v, e)
			if err != nil {
				L.ArgError(2, err.Error())
				return 0
			}
			h.id = id
		}
		if v := filter.RawGetString("category"); v != lua.LNil {
			h.category = v.String()
		}
	}
	h.fn = L.CheckFunction(fnArg)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

func resolveFilterID(v lua.LValue, e *Engine) (int, error) {
	if num, ok := v.(lua.LNumber); ok {
		return int(num), nil
	}
	return e.home.Lookup(v.String())
}

// domestia.get_state(target) returns the output table, or nil.
func luaGetState(L *lua.LState, e *Engine) int {
	id, err := resolveTarget(L, 1, e)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	v, err := e.home.Device(id)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	fillView(L, t, v)
	L.Push(t)
	return 1
}

// domestia.devices() returns an array of output tables.
func luaDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, v := range e.home.Devices() {
		t := L.NewTable()
		fillView(L, t, v)
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// domestia.after(seconds, fn) runs fn on the script's command loop later.
func luaAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command queue full")
		}
	}()
	return 0
}

// domestia.log(msg)
func luaLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}

// domestia.time_between(from_hour, to_hour) reports whether the current hour
// is in [from, to). The range may wrap past midnight.
func luaTimeBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	L.Push(lua.LBool(hourBetween(time.Now().Hour(), from, to)))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}
