//go:build !no_automation

package automation

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta: ScriptMeta{
			Name:        "Hall Light",
			Description: "Follow the kitchen",
			Enabled:     true,
		},
		LuaCode: `domestia.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "hall_light" {
		t.Errorf("id = %q, want hall_light", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Hall Light" {
		t.Errorf("name = %q, want Hall Light", got.Meta.Name)
	}
	if got.Meta.Description != "Follow the kitchen" {
		t.Errorf("description = %q", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if strings.TrimSpace(got.LuaCode) != `domestia.log("hello")` {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		ID:      "night",
		Meta:    ScriptMeta{Name: "Night"},
		LuaCode: `domestia.log("v1")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	saved.LuaCode = `domestia.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("night")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `"v2"`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerSaveRejectsSyntaxError(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Broken"},
		LuaCode: `domestia.on("state_changed", function(e)`,
	})
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("err = %v, want ErrSyntax", err)
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), "broken.lua")); !os.IsNotExist(err) {
		t.Error("broken script was written")
	}
}

func TestManagerListOrdered(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}, LuaCode: `x = 1`}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
	want := []string{"alpha", "beta", "gamma"}
	for i, s := range scripts {
		if s.ID != want[i] {
			t.Errorf("scripts[%d] = %q, want %q", i, s.ID, want[i])
		}
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "Gone"}, LuaCode: `x = 1`})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get after delete err = %v, want ErrScriptNotFound", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second Delete err = %v, want ErrScriptNotFound", err)
	}
}

func TestManagerInvalidID(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		if _, err := m.Get(id); !errors.Is(err, ErrInvalidScriptID) {
			t.Errorf("Get(%q) err = %v, want ErrInvalidScriptID", id, err)
		}
	}
	if _, err := m.Save(&Script{ID: "a/b", LuaCode: `x = 1`}); !errors.Is(err, ErrInvalidScriptID) {
		t.Errorf("Save err = %v, want ErrInvalidScriptID", err)
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `x = 1`})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `x = 2`})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != "dup" || s2.ID != "dup_1" {
		t.Errorf("ids = %q, %q; want dup, dup_1", s1.ID, s2.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"Shutters at dusk","enabled":true}

domestia.on("state_changed", {id=3}, function(event)
    domestia.set_position("Shutter", 0)
end)
`
	path := filepath.Join(dir, "dusk.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: newTestLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "dusk" {
		t.Errorf("id = %q, want dusk", s.ID)
	}
	if s.Meta.Name != "Shutters at dusk" || !s.Meta.Enabled {
		t.Errorf("meta = %+v", s.Meta)
	}
	if !strings.HasPrefix(s.LuaCode, `domestia.on("state_changed"`) {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestParseScriptFileWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.lua")
	if err := os.WriteFile(path, []byte("domestia.log(\"x\")\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: newTestLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Name != "plain" {
		t.Errorf("name = %q, want plain", s.Meta.Name)
	}
	if s.Meta.Enabled {
		t.Error("enabled = true, want false")
	}
	if s.LuaCode != "domestia.log(\"x\")\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestSerializeScript(t *testing.T) {
	content := serializeScript(&Script{
		ID:      "test",
		Meta:    ScriptMeta{Name: "Test", Enabled: true},
		LuaCode: `domestia.log("hi")`,
	})

	want := "-- {\"name\":\"Test\",\"enabled\":true}\n\ndomestia.log(\"hi\")\n"
	if content != want {
		t.Errorf("serializeScript = %q, want %q", content, want)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Bathroom Light", "bathroom_light"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
