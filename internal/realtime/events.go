// Package realtime speaks the speech-to-speech model's websocket event
// protocol: session configuration, audio append, tool results and the
// server events the bridge reacts to.
package realtime

import (
	"encoding/json"
	"fmt"
)

// AudioFormat is G.711 mu-law on both legs, so audio is relayed without
// transcoding.
const AudioFormat = "g711_ulaw"

const (
	VADServer   = "server_vad"
	VADSemantic = "semantic_vad"
)

type VADConfig struct {
	Mode      string
	SilenceMS int
}

type SessionConfig struct {
	Instructions string
	Voice        string
	VAD          VADConfig
	Tools        []Tool
}

type turnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMS int    `json:"silence_duration_ms,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type session struct {
	Modalities              []string      `json:"modalities"`
	Instructions            string        `json:"instructions"`
	Voice                   string        `json:"voice,omitempty"`
	InputAudioFormat        string        `json:"input_audio_format"`
	OutputAudioFormat       string        `json:"output_audio_format"`
	InputAudioTranscription transcription `json:"input_audio_transcription"`
	TurnDetection           turnDetection `json:"turn_detection"`
	Tools                   []Tool        `json:"tools,omitempty"`
	ToolChoice              string        `json:"tool_choice,omitempty"`
}

// SessionUpdate builds the one session.update sent when the model leg opens.
func SessionUpdate(cfg SessionConfig) ([]byte, error) {
	td := turnDetection{Type: VADServer, SilenceDurationMS: cfg.VAD.SilenceMS}
	if cfg.VAD.Mode == VADSemantic {
		td = turnDetection{Type: VADSemantic}
	}
	s := session{
		Modalities:              []string{"audio", "text"},
		Instructions:            cfg.Instructions,
		Voice:                   cfg.Voice,
		InputAudioFormat:        AudioFormat,
		OutputAudioFormat:       AudioFormat,
		InputAudioTranscription: transcription{Model: "whisper-1"},
		TurnDetection:           td,
		Tools:                   cfg.Tools,
	}
	if len(cfg.Tools) > 0 {
		s.ToolChoice = "auto"
	}
	return json.Marshal(struct {
		Type    string  `json:"type"`
		Session session `json:"session"`
	}{"session.update", s})
}

// AppendAudio forwards one base64 mu-law chunk as received from the
// telephony leg.
func AppendAudio(payload string) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{"input_audio_buffer.append", payload})
}

// ResponseCreate asks the model to speak. instructions, when set, steer only
// this response.
func ResponseCreate(instructions string) ([]byte, error) {
	type response struct {
		Instructions string `json:"instructions,omitempty"`
	}
	ev := struct {
		Type     string    `json:"type"`
		Response *response `json:"response,omitempty"`
	}{Type: "response.create"}
	if instructions != "" {
		ev.Response = &response{Instructions: instructions}
	}
	return json.Marshal(ev)
}

// FunctionCallOutput returns a tool result to the model.
func FunctionCallOutput(callID, output string) ([]byte, error) {
	type item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Item item   `json:"item"`
	}{"conversation.item.create", item{Type: "function_call_output", CallID: callID, Output: output}})
}

// Kind is the closed set of server events the bridge handles.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionCreated
	KindSessionUpdated
	KindAudioDelta
	KindAudioTranscriptDone
	KindInputTranscriptionCompleted
	KindFunctionCallArgumentsDone
	KindResponseCreated
	KindResponseDone
	KindSpeechStarted
	KindError
)

var kinds = map[string]Kind{
	"session.created":                                       KindSessionCreated,
	"session.updated":                                       KindSessionUpdated,
	"response.audio.delta":                                  KindAudioDelta,
	"response.audio_transcript.done":                        KindAudioTranscriptDone,
	"conversation.item.input_audio_transcription.completed": KindInputTranscriptionCompleted,
	"response.function_call_arguments.done":                 KindFunctionCallArgumentsDone,
	"response.created":                                      KindResponseCreated,
	"response.done":                                         KindResponseDone,
	"input_audio_buffer.speech_started":                     KindSpeechStarted,
	"error":                                                 KindError,
}

func (k Kind) String() string {
	for name, v := range kinds {
		if v == k {
			return name
		}
	}
	return "unknown"
}

type EventError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is a decoded model event. Only the fields of handled kinds are
// populated.
type ServerEvent struct {
	Type string `json:"type"`
	Kind Kind   `json:"-"`

	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`

	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`

	Error *EventError `json:"error"`
}

func ParseServerEvent(b []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	ev.Kind = kinds[ev.Type]
	return ev, nil
}
