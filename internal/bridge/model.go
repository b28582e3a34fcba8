package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-bridge/internal/audio"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/telephony"
)

func (b *Bridge) onModel(data []byte) error {
	ev, err := realtime.ParseServerEvent(data)
	if err != nil {
		b.log.Warn("dropping malformed model event", "err", err)
		return nil
	}

	switch ev.Kind {
	case realtime.KindAudioDelta:
		raw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			b.log.Debug("dropping audio delta with invalid payload", "err", err)
			return nil
		}
		return b.playAudio(ev.Delta, raw)

	case realtime.KindResponseCreated:
		// barge-in: drop whatever the provider still has queued
		clear, err := telephony.ClearFrame(b.streamID)
		if err != nil {
			return err
		}
		b.rec.Event("media.clear", "")
		return b.writeMedia(clear)

	case realtime.KindAudioTranscriptDone:
		b.transcript(calls.RoleAssistant, ev.Transcript)
		return nil

	case realtime.KindInputTranscriptionCompleted:
		b.transcript(calls.RoleCaller, ev.Transcript)
		return nil

	case realtime.KindFunctionCallArgumentsDone:
		return b.onToolCall(ev)

	case realtime.KindError:
		msg := "unknown error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		b.log.Warn("model reported error", "error", msg)
		b.rec.Event("model.error", msg)
		return nil

	case realtime.KindSessionCreated, realtime.KindSessionUpdated,
		realtime.KindResponseDone, realtime.KindSpeechStarted:
		b.rec.Event(ev.Type, "")
		return nil

	default:
		b.log.Debug("ignoring model event", "type", ev.Type)
		return nil
	}
}

func (b *Bridge) transcript(role calls.Role, text string) {
	if err := b.ledger.AppendTranscript(b.callID, role, text); err != nil {
		b.log.Warn("transcript append failed", "err", err)
	}
	b.rec.Event("transcript."+string(role), text)
}

func (b *Bridge) onToolCall(ev realtime.ServerEvent) error {
	b.rec.Event("tool."+ev.Name, ev.Arguments)

	name, known := realtime.ParseToolName(ev.Name)
	var (
		output string
		err    error
	)
	switch {
	case !known:
		b.log.Warn("model called unknown tool", "tool", ev.Name)
		output = fmt.Sprintf("error: unknown tool %q", ev.Name)
	case name == realtime.ToolSendDTMF:
		output, err = b.sendDTMF(ev.Arguments)
	case name == realtime.ToolEndCall:
		output = b.endCall(ev.Arguments)
	case name == realtime.ToolReportOutcome:
		output = b.reportOutcome(ev.Arguments)
	}
	if err != nil {
		return err
	}

	out, err := realtime.FunctionCallOutput(ev.CallID, output)
	if err != nil {
		return err
	}
	if err := b.writeModel(out); err != nil {
		return err
	}
	// Every result asks the model to continue; after end_call that is the
	// farewell spoken during the hangup grace.
	next, err := realtime.ResponseCreate("")
	if err != nil {
		return err
	}
	return b.writeModel(next)
}

// sendDTMF returns a tool output string for argument problems and an error
// only when the media leg itself failed.
func (b *Bridge) sendDTMF(rawArgs string) (string, error) {
	var args realtime.DTMFArgs
	if err := realtime.DecodeArgs(rawArgs, &args); err != nil {
		return "error: " + err.Error(), nil
	}
	digits := strings.TrimSpace(args.Digits)
	if !audio.ValidDigits(digits) {
		return fmt.Sprintf("error: invalid digits %q: only 0-9, *, #, A-D are allowed", args.Digits), nil
	}
	tones, err := audio.Tones(digits)
	if err != nil {
		return "error: " + err.Error(), nil
	}

	gap := silence(b.opts.ToneGap)
	for i, tone := range tones {
		burst := tone
		if i < len(tones)-1 {
			burst = append(append(make([]byte, 0, len(tone)+len(gap)), tone...), gap...)
		}
		if err := b.playAudio(base64.StdEncoding.EncodeToString(burst), burst); err != nil {
			return "", err
		}
	}
	if mark, err := telephony.MarkFrame(b.streamID, "dtmf"); err == nil {
		if err := b.writeMedia(mark); err != nil {
			return "", err
		}
	}

	b.transcript(calls.RoleSystem, "[DTMF: "+digits+"]")
	b.log.Info("sent dtmf", "digits", digits)
	return "pressed " + digits, nil
}

// silence is mu-law zero level for d at 8 kHz.
func silence(d time.Duration) []byte {
	n := int(d * audio.SampleRate / time.Second)
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xff
	}
	return out
}

func (b *Bridge) endCall(rawArgs string) string {
	var args realtime.EndCallArgs
	if err := realtime.DecodeArgs(rawArgs, &args); err != nil {
		b.log.Debug("end_call arguments unreadable", "err", err)
	}
	reason := strings.TrimSpace(args.Reason)
	if reason == "" {
		reason = "unspecified"
	}
	if b.ending {
		return "call is already ending"
	}
	b.ending = true

	b.transcript(calls.RoleSystem, "[Call ended: "+reason+"]")
	b.log.Info("model ended call", "reason", reason)

	sid := b.providerCallID
	grace := b.opts.HangupGrace
	go func() {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
		case <-b.done:
			return
		}
		if sid != "" && b.hanger != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := b.hanger.Hangup(ctx, sid); err != nil {
				b.log.Warn("hangup failed", "err", err)
			}
			cancel()
		}
		b.Close()
	}()
	return "ending call: " + reason
}

func (b *Bridge) reportOutcome(rawArgs string) string {
	var args realtime.OutcomeArgs
	if err := realtime.DecodeArgs(rawArgs, &args); err != nil {
		return "error: " + err.Error()
	}
	err := b.ledger.SetOutcome(b.callID, calls.Outcome{
		Success: args.Success,
		Summary: strings.TrimSpace(args.Summary),
		Details: args.Details,
	})
	switch {
	case errors.Is(err, calls.ErrOutcomeAlreadySet):
		return "error: outcome already reported for this call"
	case err != nil:
		return "error: " + err.Error()
	}
	b.rec.Event("outcome", args.Summary)
	return "outcome recorded"
}
