package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSID = "AC0123456789abcdef0123456789abcdef"

func newTestClient(t *testing.T, h http.HandlerFunc) *TwilioClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewTwilioClient(TwilioConfig{AccountSID: testSID, AuthToken: "tok", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return c
}

func TestPlaceCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Accounts/"+testSID+"/Calls.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != testSID || pass != "tok" {
			t.Errorf("expected basic auth")
		}
		_ = r.ParseForm()
		if r.PostFormValue("To") != "+15550001111" || r.PostFormValue("Url") != "https://v.example.com/voice/answer?callId=c1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.PostFormValue("Timeout") != "30" || r.PostFormValue("TimeLimit") != "600" {
			t.Errorf("expected timeouts in seconds, got %v", r.PostForm)
		}
		if r.PostFormValue("MachineDetection") != "Enable" || r.PostFormValue("AsyncAmd") != "true" {
			t.Errorf("expected async amd")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	})

	got, err := c.PlaceCall(context.Background(), PlaceCallParams{
		To:                "+15550001111",
		From:              "+15552223333",
		AnswerURL:         "https://v.example.com/voice/answer?callId=c1",
		StatusCallbackURL: "https://v.example.com/voice/status?callId=c1",
		RingTimeout:       30 * time.Second,
		TimeLimit:         10 * time.Minute,
		MachineDetection:  true,
		AMDCallbackURL:    "https://v.example.com/voice/amd?callId=c1",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.SID != "CA999" || got.Status != "queued" {
		t.Fatalf("unexpected placed call %+v", got)
	}
}

func TestPlaceCall_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	})

	_, err := c.PlaceCall(context.Background(), PlaceCallParams{To: "bad", From: "+1", AnswerURL: "https://x"})
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 21211 || apiErr.Status != 400 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestVerifyAccount_InvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate","status":401}`))
	})
	_, err := c.VerifyAccount(context.Background())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, ok := IsAPIError(err); !ok {
		t.Fatalf("expected APIError to stay reachable")
	}
}

func TestVerifyAccount_MasksSID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sid":"` + testSID + `","friendly_name":"Ops","status":"active"}`))
	})
	info, err := c.VerifyAccount(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if info.MaskedSID != "AC01...cdef" || info.FriendlyName != "Ops" {
		t.Fatalf("unexpected account info %+v", info)
	}
}

func TestVerifyNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("PhoneNumber") == "+15550001111" {
			_, _ = w.Write([]byte(`{"incoming_phone_numbers":[{"phone_number":"+15550001111","capabilities":{"voice":true,"sms":true,"mms":false}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"incoming_phone_numbers":[]}`))
	})

	info, err := c.VerifyNumber(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !info.Voice || !info.SMS || info.MMS {
		t.Fatalf("unexpected capabilities %+v", info)
	}
	if _, err := c.VerifyNumber(context.Background(), "+15559999999"); !errors.Is(err, ErrNumberNotFound) {
		t.Fatalf("expected ErrNumberNotFound, got %v", err)
	}
}

func TestHangup(t *testing.T) {
	var status string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/"+testSID+"/Calls/CA1.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		status = r.PostFormValue("Status")
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"completed"}`))
	})
	if err := c.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if status != "completed" {
		t.Fatalf("expected Status=completed, got %q", status)
	}
}
