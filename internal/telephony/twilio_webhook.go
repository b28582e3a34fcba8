package telephony

import (
	"net/http"
	"strings"
)

// VoiceWebhook captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal. Policy decisions are not made here.
type VoiceWebhook struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	AnsweredBy string
	// CallID is our own id, echoed back through the callback query string.
	CallID string
}

// Inbound reports whether the provider considers this an inbound leg.
func (w VoiceWebhook) Inbound() bool {
	return strings.EqualFold(w.Direction, "inbound")
}

func ParseVoiceWebhook(r *http.Request) (VoiceWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceWebhook{}, err
	}
	return VoiceWebhook{
		CallSid:    strings.TrimSpace(r.FormValue("CallSid")),
		AccountSid: strings.TrimSpace(r.FormValue("AccountSid")),
		From:       NormalizePhone(r.FormValue("From")),
		To:         NormalizePhone(r.FormValue("To")),
		Direction:  strings.TrimSpace(r.FormValue("Direction")),
		CallStatus: strings.TrimSpace(r.FormValue("CallStatus")),
		AnsweredBy: strings.TrimSpace(r.FormValue("AnsweredBy")),
		CallID:     strings.TrimSpace(r.URL.Query().Get("callId")),
	}, nil
}

// NormalizePhone removes all whitespace. Twilio sometimes sends "anonymous"
// or empty; those are kept as-is.
func NormalizePhone(s string) string {
	return strings.Join(strings.Fields(s), "")
}
