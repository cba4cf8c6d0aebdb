//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/discovery"
)

// discoveryMsg is a single MQTT discovery message.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the HA device block shared by all entities of one controller.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

// haDiscovery is the HA discovery config payload. Only the fields of the
// entity's component are set.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Device            haDevice `json:"device"`

	// light
	Schema              string   `json:"schema,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Brightness          bool     `json:"brightness,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`

	// cover
	DeviceClass         string `json:"device_class,omitempty"`
	ValueTemplate       string `json:"value_template,omitempty"`
	PositionTopic       string `json:"position_topic,omitempty"`
	PositionTemplate    string `json:"position_template,omitempty"`
	SetPositionTopic    string `json:"set_position_topic,omitempty"`
	SetPositionTemplate string `json:"set_position_template,omitempty"`
	PayloadOpen         string `json:"payload_open,omitempty"`
	PayloadClose        string `json:"payload_close,omitempty"`
	PayloadStop         string `json:"payload_stop,omitempty"`
	StateOpen           string `json:"state_open,omitempty"`
	StateOpening        string `json:"state_opening,omitempty"`
	StateClosed         string `json:"state_closed,omitempty"`
	StateClosing        string `json:"state_closing,omitempty"`
	StateStopped        string `json:"state_stopped,omitempty"`

	// climate
	Modes                      []string `json:"modes,omitempty"`
	ModeStateTopic             string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate          string   `json:"mode_state_template,omitempty"`
	ModeCommandTopic           string   `json:"mode_command_topic,omitempty"`
	ModeCommandTemplate        string   `json:"mode_command_template,omitempty"`
	TemperatureStateTopic      string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTemplate   string   `json:"temperature_state_template,omitempty"`
	TemperatureCommandTopic    string   `json:"temperature_command_topic,omitempty"`
	TemperatureCommandTemplate string   `json:"temperature_command_template,omitempty"`
	MinTemp                    float64  `json:"min_temp,omitempty"`
	MaxTemp                    float64  `json:"max_temp,omitempty"`
	TempStep                   float64  `json:"temp_step,omitempty"`
	TemperatureUnit            string   `json:"temperature_unit,omitempty"`
}

// nodeID identifies the controller in discovery topics and unique IDs. The
// MAC is preferred since the host may change.
func nodeID(info coordinator.ControllerView) string {
	src := info.MAC
	if src == "" {
		src = info.Host
	}
	return "domestia_" + sanitizeTopic(src)
}

// sanitizeTopic lowercases s and replaces anything outside [a-z0-9_-] with
// an underscore, collapsing runs.
func sanitizeTopic(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// topicNames assigns each output a topic name derived from its display
// name. Outputs sharing a name, or with nothing left after sanitizing, get
// their ID appended.
func topicNames(views []coordinator.DeviceView) map[int]string {
	count := make(map[string]int, len(views))
	base := make(map[int]string, len(views))
	for _, v := range views {
		name := sanitizeTopic(v.Name)
		base[v.ID] = name
		count[name]++
	}

	names := make(map[int]string, len(views))
	for _, v := range views {
		name := base[v.ID]
		switch {
		case name == "":
			name = fmt.Sprintf("output_%d", v.ID)
		case count[name] > 1:
			name = fmt.Sprintf("%s_%d", name, v.ID)
		}
		names[v.ID] = name
	}
	return names
}

// component returns the HA component an output is exposed as, or "".
func component(v coordinator.DeviceView) string {
	switch {
	case v.Thermostat:
		return "climate"
	case v.Category == string(discovery.CategoryLight):
		return "light"
	case v.Category == string(discovery.CategoryCover):
		return "cover"
	}
	return ""
}

func discoveryTopic(discoveryPrefix, comp, node string, id int) string {
	return fmt.Sprintf("%s/%s/%s/output_%d/config", discoveryPrefix, comp, node, id)
}

// buildDiscovery returns the discovery message of one output, or false when
// the output is not exposed.
func buildDiscovery(v coordinator.DeviceView, topicName string, cfg Config, info coordinator.ControllerView) (discoveryMsg, bool) {
	comp := component(v)
	if comp == "" {
		return discoveryMsg{}, false
	}

	node := nodeID(info)
	stateTopic := cfg.TopicPrefix + "/" + topicName
	cmdTopic := stateTopic + "/set"
	base := haDiscovery{
		Name:              v.Name,
		UniqueID:          fmt.Sprintf("%s_output_%d", node, v.ID),
		AvailabilityTopic: cfg.TopicPrefix + "/bridge/state",
		Device: haDevice{
			Identifiers:  []string{node},
			Manufacturer: "Domestia",
			Model:        "Controller",
			Name:         "Domestia " + info.Host,
		},
	}

	var payload haDiscovery
	switch comp {
	case "light":
		payload = buildLight(base, stateTopic, cmdTopic, v.Dimmer)
	case "cover":
		payload = buildCover(base, stateTopic, cmdTopic)
	case "climate":
		payload = buildClimate(base, stateTopic, cmdTopic)
	}
	return discoveryMsg{
		Topic:   discoveryTopic(cfg.DiscoveryPrefix, comp, node, v.ID),
		Payload: mustJSON(payload),
	}, true
}

func buildLight(p haDiscovery, stateTopic, cmdTopic string, dimmer bool) haDiscovery {
	p.Schema = "json"
	p.StateTopic = stateTopic
	p.CommandTopic = cmdTopic
	p.SupportedColorModes = []string{"onoff"}
	if dimmer {
		p.SupportedColorModes = []string{"brightness"}
		p.Brightness = true
		p.BrightnessScale = 255
	}
	return p
}

func buildCover(p haDiscovery, stateTopic, cmdTopic string) haDiscovery {
	p.DeviceClass = "shutter"
	p.StateTopic = stateTopic
	p.CommandTopic = cmdTopic
	p.ValueTemplate = "{{ value_json.state }}"
	p.PositionTopic = stateTopic
	p.PositionTemplate = "{{ value_json.position }}"
	p.SetPositionTopic = cmdTopic
	p.SetPositionTemplate = `{"position": {{ position }}}`
	p.PayloadOpen = `{"action":"open"}`
	p.PayloadClose = `{"action":"close"}`
	p.PayloadStop = `{"action":"stop"}`
	p.StateOpen = "open"
	p.StateOpening = "opening"
	p.StateClosed = "closed"
	p.StateClosing = "closing"
	p.StateStopped = "stopped"
	return p
}

func buildClimate(p haDiscovery, stateTopic, cmdTopic string) haDiscovery {
	p.Modes = []string{coordinator.ModeHeat, coordinator.ModeOff}
	p.ModeStateTopic = stateTopic
	p.ModeStateTemplate = "{{ value_json.hvac_mode }}"
	p.ModeCommandTopic = cmdTopic
	p.ModeCommandTemplate = `{"hvac_mode": "{{ value }}"}`
	p.TemperatureStateTopic = stateTopic
	p.TemperatureStateTemplate = "{{ value_json.temperature }}"
	p.TemperatureCommandTopic = cmdTopic
	p.TemperatureCommandTemplate = `{"temperature": {{ value }}}`
	p.MinTemp = coordinator.MinTarget
	p.MaxTemp = coordinator.MaxTarget
	p.TempStep = 0.5
	p.TemperatureUnit = "C"
	return p
}

// buildRemoveDiscovery returns empty retained payloads that clear the
// given discovery topics.
func buildRemoveDiscovery(topics []string) []discoveryMsg {
	sort.Strings(topics)
	msgs := make([]discoveryMsg, 0, len(topics))
	for _, t := range topics {
		msgs = append(msgs, discoveryMsg{Topic: t, Payload: []byte{}})
	}
	return msgs
}

// statePayload converts an output view into the JSON state published on
// its state topic.
func statePayload(v coordinator.DeviceView) (map[string]any, bool) {
	switch component(v) {
	case "light":
		on, _ := v.State["on"].(bool)
		state := map[string]any{"state": onOff(on)}
		if v.Dimmer {
			state["brightness"] = v.State["brightness"]
		}
		return state, true
	case "cover":
		position, _ := toFloat64(v.State["position"])
		opening, _ := v.State["opening"].(bool)
		closing, _ := v.State["closing"].(bool)
		return map[string]any{
			"position": int(position),
			"state":    coverState(int(position), opening, closing),
		}, true
	case "climate":
		if v.State == nil {
			return nil, false
		}
		return map[string]any{
			"hvac_mode":   v.State["hvac_mode"],
			"temperature": v.State["temperature"],
		}, true
	}
	return nil, false
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func coverState(position int, opening, closing bool) string {
	switch {
	case opening:
		return "opening"
	case closing:
		return "closing"
	case position <= 0:
		return "closed"
	}
	return "open"
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
