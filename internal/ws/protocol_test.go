package ws

import "testing"

func TestParseFrame(t *testing.T) {
	tests := []struct {
		text    string
		ok      bool
		payload string
	}{
		{text: "data:42.5", ok: true, payload: "42.5"},
		{text: "data:", ok: true, payload: ""},
		{text: "data:a:b:c", ok: true, payload: "a:b:c"},
		{text: "data", ok: false},
		{text: "hello", ok: false},
		{text: "Data:1", ok: false},
		{text: "ping:1", ok: false},
		{text: "", ok: false},
	}

	for _, tt := range tests {
		frame, ok := ParseFrame(tt.text)
		if ok != tt.ok {
			t.Errorf("ParseFrame(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if frame.Kind != FrameData {
			t.Errorf("ParseFrame(%q) kind = %q", tt.text, frame.Kind)
		}
		if frame.Payload != tt.payload {
			t.Errorf("ParseFrame(%q) payload = %q, want %q", tt.text, frame.Payload, tt.payload)
		}
	}
}
