package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool is a function declaration in the model's session config.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolName string

const (
	ToolSendDTMF      ToolName = "send_dtmf"
	ToolEndCall       ToolName = "end_call"
	ToolReportOutcome ToolName = "report_outcome"
)

// ParseToolName maps a model-supplied name onto the known tools.
func ParseToolName(s string) (ToolName, bool) {
	switch ToolName(s) {
	case ToolSendDTMF, ToolEndCall, ToolReportOutcome:
		return ToolName(s), true
	}
	return "", false
}

// Tools returns the three callable tools offered on every call.
func Tools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        string(ToolSendDTMF),
			Description: "Press telephone keypad keys, for example to navigate an automated menu. Only 0-9, *, # and A-D are allowed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"digits": map[string]any{
						"type":        "string",
						"description": "Keys to press in order, e.g. \"1\" or \"4521#\".",
					},
				},
				"required": []string{"digits"},
			},
		},
		{
			Type:        "function",
			Name:        string(ToolEndCall),
			Description: "Hang up the call. Say goodbye first.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the call is ending, e.g. completed, voicemail, refused, wrong_number.",
					},
				},
				"required": []string{"reason"},
			},
		},
		{
			Type:        "function",
			Name:        string(ToolReportOutcome),
			Description: "Record the structured result of the call. Call once, before end_call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"success": map[string]any{"type": "boolean"},
					"summary": map[string]any{"type": "string"},
					"details": map[string]any{
						"type":                 "object",
						"additionalProperties": true,
					},
				},
				"required": []string{"success", "summary"},
			},
		},
	}
}

type DTMFArgs struct {
	Digits string `json:"digits"`
}

type EndCallArgs struct {
	Reason string `json:"reason"`
}

type OutcomeArgs struct {
	Success bool           `json:"success"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details"`
}

// DecodeArgs unmarshals a tool call's JSON arguments. Empty arguments decode
// to the zero value.
func DecodeArgs(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
