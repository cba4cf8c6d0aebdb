package discovery

import "testing"

func TestDecodeStatus(t *testing.T) {
	if _, ok := DecodeStatus([]byte{1, 2, 3}); ok {
		t.Error("3-byte reply decoded")
	}
	if _, ok := DecodeStatus(nil); ok {
		t.Error("empty reply decoded")
	}
	states, ok := DecodeStatus([]byte{9, 9, 9, 0, 5})
	if !ok || len(states) != 2 || states[1] != 5 {
		t.Errorf("states = %v, %v", states, ok)
	}
}

func TestLightState(t *testing.T) {
	states := []byte{0, 5, 0}
	want := []bool{false, true, false}
	for id, w := range want {
		if got := LightState(states, id); got != w {
			t.Errorf("light %d = %v, want %v", id, got, w)
		}
	}
}

func TestCoverState(t *testing.T) {
	tests := []struct {
		name    string
		states  []byte
		id      int
		pos     int
		closing bool
		opening bool
	}{
		{"closing", []byte{130, 10}, 0, 2, true, false},
		{"opening from next byte", []byte{40, 200}, 0, 40, false, true},
		{"last slot never opening", []byte{0, 255}, 1, 127, true, false},
		{"idle", []byte{100}, 0, 100, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, closing, opening := CoverState(tt.states, tt.id)
			if pos != tt.pos || closing != tt.closing || opening != tt.opening {
				t.Errorf("got (%d,%v,%v), want (%d,%v,%v)",
					pos, closing, opening, tt.pos, tt.closing, tt.opening)
			}
		})
	}
}

func TestCoverLastIndexBoundary(t *testing.T) {
	for k := 1; k <= 8; k++ {
		states := make([]byte, k)
		for i := range states {
			states[i] = 0xFF
		}
		if _, _, opening := CoverState(states, k-1); opening {
			t.Errorf("len %d: last cover reported opening", k)
		}
	}
}

func TestApply(t *testing.T) {
	light := &Light{ID: 0}
	cover := &Cover{ID: 1}
	far := &Light{ID: 10}
	ignored := &Ignored{ID: 2}
	devices := []Device{light, cover, ignored, far}

	changes := Apply(devices, []byte{5, 130, 10})
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if !light.On || light.Level != 5 {
		t.Errorf("light = %+v", light)
	}
	if cover.Position != 2 || !cover.Closing || cover.Opening {
		t.Errorf("cover = %+v", cover)
	}
	if far.On {
		t.Error("out-of-range device was updated")
	}

	if again := Apply(devices, []byte{5, 130, 10}); len(again) != 0 {
		t.Errorf("unchanged states produced %d changes", len(again))
	}

	changes = Apply(devices, []byte{0, 130, 10})
	if len(changes) != 1 || changes[0].Device != Device(light) || light.On {
		t.Errorf("turn-off change = %+v", changes)
	}
}
