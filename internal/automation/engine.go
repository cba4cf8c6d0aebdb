//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"domestia-go-home/internal/coordinator"

	lua "github.com/yuin/gopher-lua"
)

const (
	runTimeout     = 5 * time.Second
	commandTimeout = 5 * time.Second
	commandQueue   = 64
)

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	id        int    // output filter, -1 = any
	category  string // category filter, empty = any
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	logf     func(string) // extra sink for domestia.log, set by RunLuaCode
	mu       sync.Mutex   // protects handlers
}

// Engine runs one Lua VM per enabled script and dispatches coordinator
// events to the handlers they register.
type Engine struct {
	home    Home
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(home Home, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		home:    home,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.home.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()

	e.logger.Info("automation engine stopped")
}

// Running returns the number of running script VMs.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript stops the old VM (if any) and starts the saved version.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a saved script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary VM. Handlers the code registers
// are invoked once with a synthetic event so their actions run too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), commandQueue),
		ctx:      ctx,
		cancel:   cancel,
		logf: func(msg string) {
			logMu.Lock()
			logs = append(logs, msg)
			logMu.Unlock()
		},
	}
	registerDomestiaModule(L, vm, e)

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, context.DeadlineExceeded.Error()) {
			msg = fmt.Sprintf("timeout (%s)", runTimeout)
		}
		e.logger.Warn("script run failed", "err", msg)
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.id >= 0 {
			ev.RawSetString("id", lua.LNumber(h.id))
		}
		if h.category != "" {
			ev.RawSetString("category", lua.LString(h.category))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return fail(err)
		}
	}

	dur := time.Since(start)
	e.logger.Info("script run complete", "handlers", len(handlers), "logs", len(logs), "duration", dur)
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

// newSandbox returns a Lua state without file, OS or module loading access.
func newSandbox() *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), commandQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerDomestiaModule(L, vm, e)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VM's command loop. A full
// queue drops the event for that VM.
func (e *Engine) dispatchEvent(event coordinator.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			if vm.ctx.Err() != nil {
				break
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script queue full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event coordinator.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.id < 0 && h.category == "" {
		return true
	}
	id, category, ok := eventDevice(event)
	if !ok {
		return false
	}
	if h.id >= 0 && id != h.id {
		return false
	}
	return h.category == "" || h.category == category
}

// eventDevice extracts the output an event is about.
func eventDevice(event coordinator.Event) (id int, category string, ok bool) {
	switch d := event.Data.(type) {
	case coordinator.DeviceView:
		return d.ID, d.Category, true
	case map[string]any:
		id, ok := d["id"].(int)
		category, _ := d["category"].(string)
		return id, category, ok
	}
	return 0, "", false
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event coordinator.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "type", event.Type, "err", err)
	}
}

// eventTable converts an event to the table passed to Lua handlers.
func eventTable(L *lua.LState, event coordinator.Event) *lua.LTable {
	t := L.NewTable()
	switch d := event.Data.(type) {
	case coordinator.DeviceView:
		fillView(L, t, d)
	case map[string]any:
		for k, v := range d {
			t.RawSetString(k, goToLua(L, v))
		}
	}
	t.RawSetString("type", lua.LString(event.Type))
	return t
}

func fillView(L *lua.LState, t *lua.LTable, v coordinator.DeviceView) {
	t.RawSetString("id", lua.LNumber(v.ID))
	t.RawSetString("name", lua.LString(v.Name))
	t.RawSetString("category", lua.LString(v.Category))
	t.RawSetString("type_name", lua.LString(v.TypeName))
	t.RawSetString("dimmer", lua.LBool(v.Dimmer))
	t.RawSetString("thermostat", lua.LBool(v.Thermostat))
	t.RawSetString("state", goToLua(L, v.State))
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
