// Copyright 2024-2026 Aiku AI

// Package relay forwards inbound chat messages to a Rocket.Chat room.
//
// A [Dispatcher] sits between the front ends (Telegram, Matrix, Mattermost)
// and the Rocket.Chat session. Relay failures are logged and reported as a
// false result; they never reach the front end's event loop, so the inbound
// side keeps running when Rocket.Chat is unreachable.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/rocketchat-relay/pkg/rocketchat"
)

const (
	// DefaultTemplate is used when a Target has no template.
	DefaultTemplate = "Ladies and gentlemen, a merge request is presented for your attention: {{.Text}}"
	// DefaultStatusReply answers the liveness probe.
	DefaultStatusReply = "I'm ok, thank you"

	echoPrefix = "echo "
)

// Sender posts a message to a Rocket.Chat room. *rocketchat.Client
// implements it.
type Sender interface {
	SendMessage(ctx context.Context, roomID, text string) (rocketchat.Payload, error)
}

// Replier answers on the front end an event came from.
type Replier interface {
	Reply(ctx context.Context, chatID, text string) error
}

// Handler is what front ends deliver their events to.
type Handler interface {
	OnInboundText(ctx context.Context, replier Replier, evt InboundEvent) bool
	OnStatus(ctx context.Context, replier Replier, evt InboundEvent) error
}

// InboundEvent is a text message received by a front end.
type InboundEvent struct {
	// Source names the front end, e.g. "telegram".
	Source string
	// ChatID identifies the originating chat on the front end.
	ChatID string
	Text   string
}

// Target is the destination of relayed messages.
type Target struct {
	RoomID string
	// Template is a text/template rendered with the InboundEvent.
	Template string
	// StatusReply overrides DefaultStatusReply.
	StatusReply string
}

// Dispatcher relays inbound text to the configured Rocket.Chat room.
type Dispatcher struct {
	sender      Sender
	roomID      string
	tmpl        *template.Template
	statusReply string
	log         zerolog.Logger
}

var _ Handler = (*Dispatcher)(nil)

// NewDispatcher validates target and returns a dispatcher sending through
// sender.
func NewDispatcher(sender Sender, target Target, log zerolog.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("relay: sender is required")
	}
	if target.RoomID == "" {
		return nil, errors.New("relay: target room id is required")
	}
	text := target.Template
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("relay").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to parse message template: %w", err)
	}
	statusReply := target.StatusReply
	if statusReply == "" {
		statusReply = DefaultStatusReply
	}
	return &Dispatcher{
		sender:      sender,
		roomID:      target.RoomID,
		tmpl:        tmpl,
		statusReply: statusReply,
		log:         log.With().Str("component", "relay").Logger(),
	}, nil
}

// RoomID returns the Rocket.Chat room messages are relayed to.
func (d *Dispatcher) RoomID() string {
	return d.roomID
}

// StatusReply returns the answer to the liveness probe.
func (d *Dispatcher) StatusReply() string {
	return d.statusReply
}

// OnInboundText echoes a non-empty message back to its chat and relays it.
// It returns true only if the message reached Rocket.Chat. Empty messages
// are ignored. A failed echo is logged and does not stop the relay.
func (d *Dispatcher) OnInboundText(ctx context.Context, replier Replier, evt InboundEvent) bool {
	if evt.Text == "" {
		return false
	}
	if replier != nil {
		if err := replier.Reply(ctx, evt.ChatID, echoPrefix+evt.Text); err != nil {
			d.log.Warn().Err(err).
				Str("source", evt.Source).
				Str("chat_id", evt.ChatID).
				Msg("Failed to echo inbound message")
		}
	}
	return d.Relay(ctx, evt)
}

// Relay formats evt with the message template and sends it to the target
// room. Every failure, including a panic in the sender, is logged and
// reported as false.
func (d *Dispatcher) Relay(ctx context.Context, evt InboundEvent) (ok bool) {
	log := d.log.With().
		Str("relay_id", uuid.NewString()).
		Str("source", evt.Source).
		Str("chat_id", evt.ChatID).
		Str("room_id", d.roomID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Error while sending to Rocket.Chat")
			ok = false
		}
	}()

	text, err := d.Format(evt)
	if err != nil {
		log.Error().Err(err).Msg("Error while formatting relay message")
		return false
	}
	if _, err := d.sender.SendMessage(ctx, d.roomID, text); err != nil {
		log.Error().Err(err).Msg("Error while sending to Rocket.Chat")
		return false
	}
	log.Info().Msg("Relayed message to Rocket.Chat")
	return true
}

// Format renders the message template for evt.
func (d *Dispatcher) Format(evt InboundEvent) (string, error) {
	var sb strings.Builder
	if err := d.tmpl.Execute(&sb, evt); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// OnStatus answers the liveness probe. It never contacts Rocket.Chat.
func (d *Dispatcher) OnStatus(ctx context.Context, replier Replier, evt InboundEvent) error {
	if replier == nil {
		return errors.New("relay: status probe has no replier")
	}
	return replier.Reply(ctx, evt.ChatID, d.statusReply)
}
