package telephony

import (
	"encoding/json"
	"testing"
)

func TestParseStreamMessage_Start(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","accountSid":"AC1","callSid":"CA1","tracks":["inbound"],
		"customParameters":{"callId":"c-1"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`
	m, err := ParseStreamMessage([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.StreamSid != "MZ1" {
		t.Fatalf("expected stream sid lifted from start, got %q", m.StreamSid)
	}
	if m.Start.CallSid != "CA1" || m.Start.CustomParameters["callId"] != "c-1" || m.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("unexpected start %+v", m.Start)
	}
}

func TestParseStreamMessage_Invalid(t *testing.T) {
	if _, err := ParseStreamMessage([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestOutboundFrames(t *testing.T) {
	b, _ := MediaFrame("MZ1", "AAEC")
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	media, _ := m["media"].(map[string]any)
	if m["event"] != "media" || m["streamSid"] != "MZ1" || media["payload"] != "AAEC" {
		t.Fatalf("unexpected media frame %s", b)
	}

	b, _ = ClearFrame("MZ1")
	if string(b) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("unexpected clear frame %s", b)
	}

	b, _ = MarkFrame("MZ1", "dtmf")
	if string(b) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"dtmf"}}` {
		t.Fatalf("unexpected mark frame %s", b)
	}
}
