//go:build !no_automation

package web

import (
	"bytes"
	"net/http"
	"path/filepath"
	"testing"

	"domestia-go-home/internal/automation"
)

func setupAutomationServer(t *testing.T) (*testEnv, *automation.Engine) {
	t.Helper()
	env := setupTestServer(t, nil)

	mgr, err := automation.NewManager(filepath.Join(t.TempDir(), "scripts"), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(env.coord, mgr, newTestLogger())
	engine.Start()
	t.Cleanup(engine.Stop)

	env.srv.Stop()
	env.srv = NewServer(env.coord, newTestLogger(), WithAutomation(engine, mgr))
	t.Cleanup(env.srv.Stop)
	return env, engine
}

func TestAPIAutomationLifecycle(t *testing.T) {
	env, engine := setupAutomationServer(t)

	w := env.do("POST", "/api/automations", `{"name":"Evening","lua_code":"domestia.log(\"hi\")","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[automation.Script](t, w)
	if created.ID != "evening" {
		t.Errorf("id = %q, want evening", created.ID)
	}
	if engine.Running() != 1 {
		t.Errorf("running = %d, want 1", engine.Running())
	}

	w = env.do("GET", "/api/automations", "")
	if list := decode[[]automation.Script](t, w); len(list) != 1 {
		t.Errorf("list = %d scripts, want 1", len(list))
	}

	w = env.do("PUT", "/api/automations/evening", `{"name":"Evening","lua_code":"x = 2","enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do("POST", "/api/automations/evening/toggle", "")
	if got := decode[automation.Script](t, w); got.Meta.Enabled {
		t.Error("toggle left script enabled")
	}
	if engine.Running() != 0 {
		t.Errorf("running after toggle = %d, want 0", engine.Running())
	}

	if w := env.do("DELETE", "/api/automations/evening", ""); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do("GET", "/api/automations/evening", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestAPIAutomationErrors(t *testing.T) {
	env, _ := setupAutomationServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", "POST", "/api/automations", `{"lua_code":"x = 1"}`, http.StatusBadRequest},
		{"syntax error", "POST", "/api/automations", `{"name":"Bad","lua_code":"function("}`, http.StatusBadRequest},
		{"bad body", "POST", "/api/automations", `{`, http.StatusBadRequest},
		{"unknown script", "GET", "/api/automations/nope", "", http.StatusNotFound},
		{"unknown toggle", "POST", "/api/automations/nope/toggle", "", http.StatusNotFound},
		{"unknown delete", "DELETE", "/api/automations/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIRunInlineAutomation(t *testing.T) {
	env, _ := setupAutomationServer(t)

	w := env.do("POST", "/api/automations/_inline/run", `{"lua_code":"domestia.turn_on(\"Kitchen\") domestia.log(\"done\")"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[automation.RunResult](t, w)
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "done" {
		t.Errorf("result = %+v", res)
	}
	if got := env.ctrl.lastSent(); !bytes.Equal(got, []byte{255, 0, 0, 3, 150, 1, 0xFE}) {
		t.Errorf("sent = %v", got)
	}
}

func TestAPIAutomationUnavailable(t *testing.T) {
	env := setupTestServer(t, nil)

	if w := env.do("GET", "/api/automations", ""); w.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", w.Code)
	}
	if w := env.do("POST", "/api/automations/_inline/run", `{}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run status = %d, want 503", w.Code)
	}
}
