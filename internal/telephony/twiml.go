package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the bridge needs are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string           `xml:"url,attr"`
	Params []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamResponse instructs the provider to open a bidirectional media stream
// to streamURL. params are delivered back in the stream's start event.
func StreamResponse(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	s := twimlStream{URL: streamURL}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Params = append(s.Params, twimlParameter{Name: k, Value: params[k]})
	}
	return render(twimlConnect{Stream: s})
}

// RejectResponse refuses the call before it is answered. reason is "busy" or
// "rejected".
func RejectResponse(reason string) (string, error) {
	if reason != "busy" {
		reason = "rejected"
	}
	return render(twimlReject{Reason: reason})
}

// SayHangupResponse speaks text and hangs up.
func SayHangupResponse(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return render(twimlHangup{})
	}
	return render(twimlSay{Text: text}, twimlHangup{})
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
