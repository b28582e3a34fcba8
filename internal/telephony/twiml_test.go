package telephony

import (
	"strings"
	"testing"
)

func TestStreamResponse(t *testing.T) {
	xml, err := StreamResponse("wss://voice.example.com/voice/realtime-stream?callId=c1&token=abc", map[string]string{"callId": "c1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Response>",
		"<Connect>",
		`<Stream url="wss://voice.example.com/voice/realtime-stream?callId=c1&amp;token=abc">`,
		`<Parameter name="callId" value="c1"></Parameter>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestStreamResponseRequiresURL(t *testing.T) {
	if _, err := StreamResponse(" ", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRejectResponse(t *testing.T) {
	xml, err := RejectResponse("nope")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `<Reject reason="rejected">`) {
		t.Fatalf("expected rejected reason: %s", xml)
	}
	xml, _ = RejectResponse("busy")
	if !strings.Contains(xml, `reason="busy"`) {
		t.Fatalf("expected busy reason: %s", xml)
	}
}

func TestSayHangupResponse(t *testing.T) {
	xml, err := SayHangupResponse("Sorry, all lines are busy & full.")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	say := strings.Index(xml, "<Say>Sorry, all lines are busy &amp; full.</Say>")
	hang := strings.Index(xml, "<Hangup>")
	if say < 0 || hang < 0 || hang < say {
		t.Fatalf("expected Say then Hangup: %s", xml)
	}
}
