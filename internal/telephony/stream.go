package telephony

import (
	"encoding/json"
	"fmt"
)

// Media Streams framing. Inbound frames carry one of connected, start,
// media, mark, dtmf or stop; outbound frames are media, mark and clear.
// Ref: https://www.twilio.com/docs/voice/media-streams/websocket-messages

type StreamMessage struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
	Mark  *StreamMark  `json:"mark,omitempty"`
	Stop  *StreamStop  `json:"stop,omitempty"`
}

type StreamStart struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type StreamMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Payload is base64 mu-law, 8 kHz mono.
	Payload string `json:"payload"`
}

type StreamMark struct {
	Name string `json:"name"`
}

type StreamStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

func ParseStreamMessage(b []byte) (StreamMessage, error) {
	var m StreamMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return StreamMessage{}, fmt.Errorf("telephony: decode stream message: %w", err)
	}
	if m.Start != nil && m.StreamSid == "" {
		m.StreamSid = m.Start.StreamSid
	}
	return m, nil
}

// MediaFrame plays base64 mu-law audio on the call.
func MediaFrame(streamSid, payload string) ([]byte, error) {
	return json.Marshal(StreamMessage{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &StreamMedia{Payload: payload},
	})
}

// ClearFrame discards audio queued on the provider but not yet played.
func ClearFrame(streamSid string) ([]byte, error) {
	return json.Marshal(StreamMessage{Event: "clear", StreamSid: streamSid})
}

// MarkFrame asks the provider to echo name back once playback reaches it.
func MarkFrame(streamSid, name string) ([]byte, error) {
	return json.Marshal(StreamMessage{Event: "mark", StreamSid: streamSid, Mark: &StreamMark{Name: name}})
}
