package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseVoiceWebhook(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B1%20555%20123%204567&To=%2B15557654321&Direction=inbound&CallStatus=ringing&AnsweredBy=human")
	r := httptest.NewRequest(http.MethodPost, "/voice/answer?callId=c1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w, err := ParseVoiceWebhook(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if w.CallSid != "CA123" || w.CallID != "c1" {
		t.Fatalf("unexpected ids: %+v", w)
	}
	if w.From != "+15551234567" || w.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", w.From, w.To)
	}
	if !w.Inbound() || w.AnsweredBy != "human" || w.CallStatus != "ringing" {
		t.Fatalf("unexpected webhook %+v", w)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	params := url.Values{}
	params.Set("CallSid", "CA1234567890ABCDE")
	params.Set("From", "+14158675309")
	params.Set("To", "+18005551212")
	u := "https://voice.example.com/voice/status?callId=c1"

	sig := ComputeSignature("secret", u, params)
	if !ValidateSignature("secret", u, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidateSignature("other", u, params, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	if ValidateSignature("secret", u+"&x=1", params, sig) {
		t.Fatalf("expected altered url to fail")
	}
	params.Set("To", "+18005550000")
	if ValidateSignature("secret", u, params, sig) {
		t.Fatalf("expected altered params to fail")
	}
	if ValidateSignature("secret", u, params, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := url.Values{"b": {"2"}, "a": {"1"}}
	b := url.Values{"a": {"1"}, "b": {"2"}}
	if ComputeSignature("k", "https://x.example.com/", a) != ComputeSignature("k", "https://x.example.com/", b) {
		t.Fatalf("expected parameter order not to matter")
	}
}

func TestRequireSignatureMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/voice/status", RequireSignature("tok", "https://voice.example.com/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	sig := ComputeSignature("tok", "https://voice.example.com/voice/status?callId=c1", form)

	send := func(signature string) int {
		req := httptest.NewRequest(http.MethodPost, "/voice/status?callId=c1", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if signature != "" {
			req.Header.Set(HeaderSignature, signature)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(sig); code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid signature, got %d", code)
	}
	if code := send(""); code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing signature, got %d", code)
	}
	if code := send("bogus"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", code)
	}
}
