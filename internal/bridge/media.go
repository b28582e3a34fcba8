package bridge

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gorilla/websocket"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/prompt"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/telephony"
)

func (b *Bridge) onMedia(ctx context.Context, data []byte) error {
	msg, err := telephony.ParseStreamMessage(data)
	if err != nil {
		b.log.Debug("dropping malformed media frame", "err", err)
		return nil
	}

	switch msg.Event {
	case "connected":
		b.rec.Event("media.connected", "")
		return nil

	case "start":
		return b.onStart(ctx, msg)

	case "media":
		if b.State() != StateActive || msg.Media == nil {
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			b.log.Debug("dropping media frame with invalid payload", "err", err)
			return nil
		}
		b.rec.Inbound(raw)
		out, err := realtime.AppendAudio(msg.Media.Payload)
		if err != nil {
			return err
		}
		return b.writeModel(out)

	case "mark":
		if msg.Mark != nil {
			b.rec.Event("media.mark", msg.Mark.Name)
		}
		return nil

	case "stop":
		b.log.Info("media stream stopped")
		b.rec.Event("media.stop", "")
		b.teardown(nil)
		return nil

	default:
		b.log.Debug("ignoring media event", "event", msg.Event)
		return nil
	}
}

func (b *Bridge) onStart(ctx context.Context, msg telephony.StreamMessage) error {
	if b.State() != StateAwaitingMedia {
		b.log.Warn("duplicate start event ignored")
		return nil
	}
	if msg.StreamSid == "" {
		return fmt.Errorf("start event without stream id")
	}

	b.streamID = msg.StreamSid
	b.log = b.log.With("stream_id", b.streamID)
	if err := b.ledger.AttachStreamID(b.callID, b.streamID); err != nil {
		return fmt.Errorf("attach stream id: %w", err)
	}
	if msg.Start != nil && msg.Start.CallSid != "" {
		if b.providerCallID == "" {
			b.providerCallID = msg.Start.CallSid
			if err := b.ledger.AttachProviderCallID(b.callID, b.providerCallID); err != nil {
				return fmt.Errorf("attach provider call id: %w", err)
			}
		}
	}
	b.log = b.log.With("provider_call_id", b.providerCallID)
	b.setState(StateMediaConnected)
	b.rec.Event("media.start", b.streamID)

	model, err := b.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial model: %w", err)
	}
	b.model = model
	b.setState(StateModelConnected)
	b.rec.Event("model.connected", "")

	if err := b.configureSession(); err != nil {
		return err
	}

	go b.read(legModel, model)
	b.setState(StateActive)
	b.log.Info("bridge active")
	return nil
}

func (b *Bridge) configureSession() error {
	instructions := prompt.Outbound(b.task)
	if b.direction == calls.DirectionInbound {
		instructions = prompt.Inbound(b.opts.InboundPersona)
	}

	update, err := realtime.SessionUpdate(realtime.SessionConfig{
		Instructions: instructions,
		Voice:        b.opts.Voice,
		VAD:          b.opts.VAD,
		Tools:        realtime.Tools(),
	})
	if err != nil {
		return err
	}
	if err := b.writeModel(update); err != nil {
		return err
	}

	// Outbound calls wait for the callee to speak first.
	if b.direction != calls.DirectionInbound {
		return nil
	}
	greet, err := realtime.ResponseCreate(fmt.Sprintf("Greet the caller by saying: %q", b.opts.InboundGreeting))
	if err != nil {
		return err
	}
	b.rec.Event("model.greeting", "")
	return b.writeModel(greet)
}

func (b *Bridge) writeModel(msg []byte) error {
	if b.model == nil {
		return fmt.Errorf("model leg not connected")
	}
	if err := b.model.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("model write: %w", err)
	}
	return nil
}

func (b *Bridge) writeMedia(msg []byte) error {
	if err := b.media.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("media write: %w", err)
	}
	return nil
}

// playAudio sends base64 mu-law to the caller.
func (b *Bridge) playAudio(payload string, raw []byte) error {
	frame, err := telephony.MediaFrame(b.streamID, payload)
	if err != nil {
		return err
	}
	b.rec.Outbound(raw)
	return b.writeMedia(frame)
}
