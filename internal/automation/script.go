package automation

import (
	"context"
	"errors"

	"domestia-go-home/internal/coordinator"
)

var (
	// ErrScriptNotFound is returned when no script file has the requested ID.
	ErrScriptNotFound = errors.New("script not found")
	// ErrInvalidScriptID is returned for IDs that are not a plain file stem.
	ErrInvalidScriptID = errors.New("invalid script id")
	// ErrSyntax is returned by Save when the Lua code does not parse.
	ErrSyntax = errors.New("lua syntax error")
)

// Home is the part of the coordinator that scripts can see and drive.
// *coordinator.Coordinator satisfies it.
type Home interface {
	Events() *coordinator.EventBus
	Devices() []coordinator.DeviceView
	Device(id int) (coordinator.DeviceView, error)
	Lookup(target string) (int, error)

	TurnOn(ctx context.Context, id int) error
	TurnOff(ctx context.Context, id int) error
	Toggle(ctx context.Context, id int) error
	SetBrightness(ctx context.Context, id int, brightness int) error
	SetCoverPosition(ctx context.Context, id int, position int) error
	StopCover(ctx context.Context, id int) error
	SetThermostatMode(ctx context.Context, id int, mode string) error
	SetThermostatTarget(ctx context.Context, id int, celsius float64) error
}

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation script stored on disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}
