// Copyright 2024-2026 Aiku AI

// Package matrix relays Matrix room messages to a relay handler through the
// client-server sync loop.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/rocketchat-relay/pkg/rcfmt"
	"github.com/aiku/rocketchat-relay/pkg/relay"
)

const (
	// SourceName identifies Matrix in relayed events.
	SourceName = "matrix"

	statusCommand = "!status"
)

// Config configures the Matrix account the relay listens as.
type Config struct {
	HomeserverURL string
	// UserID may be empty; it is then looked up with whoami.
	UserID      string
	AccessToken string
	// Rooms limits relaying to these room ids. Empty relays every joined room.
	Rooms []string
	// AutoJoin accepts room invites sent to the relay account.
	AutoJoin bool
}

type matrixAPI interface {
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Frontend relays m.text messages and answers !status with a notice.
type Frontend struct {
	client   *mautrix.Client
	api      matrixAPI
	handler  relay.Handler
	userID   id.UserID
	rooms    []id.RoomID
	autoJoin bool
	log      zerolog.Logger
}

var _ relay.Replier = (*Frontend)(nil)

// New creates the Matrix client and registers the event handlers. It resolves
// the user id with whoami when cfg.UserID is empty.
func New(ctx context.Context, cfg Config, handler relay.Handler, log zerolog.Logger) (*Frontend, error) {
	if cfg.HomeserverURL == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver url and access token are required")
	}
	if handler == nil {
		return nil, errors.New("matrix: handler is required")
	}
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix").Logger()
	client.Log = log.With().Str("component", "matrix_client").Logger()

	if client.UserID == "" {
		resp, err := client.Whoami(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve matrix user id: %w", err)
		}
		client.UserID = resp.UserID
	}

	f := newFrontend(client, handler, client.UserID, cfg, log)
	f.client = client

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, errors.New("matrix: unexpected syncer type")
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, f.handleMessage)
	syncer.OnEventType(event.StateMember, f.handleMember)

	log.Info().Str("user_id", client.UserID.String()).Msg("Matrix client ready")
	return f, nil
}

func newFrontend(api matrixAPI, handler relay.Handler, userID id.UserID, cfg Config, log zerolog.Logger) *Frontend {
	rooms := make([]id.RoomID, 0, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		rooms = append(rooms, id.RoomID(room))
	}
	return &Frontend{
		api:      api,
		handler:  handler,
		userID:   userID,
		rooms:    rooms,
		autoJoin: cfg.AutoJoin,
		log:      log,
	}
}

// Run syncs until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	f.log.Info().Msg("Starting Matrix sync")
	err := f.client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

func (f *Frontend) watching(roomID id.RoomID) bool {
	return len(f.rooms) == 0 || slices.Contains(f.rooms, roomID)
}

func (f *Frontend) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == f.userID || !f.watching(evt.RoomID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if content.RelatesTo.GetReplaceID() != "" {
		// Edits would relay the same merge request twice.
		return
	}

	text := rcfmt.Parse(content)
	relayEvt := relay.InboundEvent{
		Source: SourceName,
		ChatID: evt.RoomID.String(),
		Text:   text,
	}
	if strings.TrimSpace(text) == statusCommand {
		if err := f.handler.OnStatus(ctx, f, relayEvt); err != nil {
			f.log.Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to answer status command")
		}
		return
	}
	f.log.Debug().
		Str("event_id", evt.ID.String()).
		Str("sender", evt.Sender.String()).
		Msg("Handling Matrix message")
	f.handler.OnInboundText(ctx, f, relayEvt)
}

func (f *Frontend) handleMember(ctx context.Context, evt *event.Event) {
	if !f.autoJoin || evt.GetStateKey() != f.userID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || !f.watching(evt.RoomID) {
		return
	}
	if _, err := f.api.JoinRoomByID(ctx, evt.RoomID); err != nil {
		f.log.Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to accept room invite")
		return
	}
	f.log.Info().Str("room_id", evt.RoomID.String()).Str("inviter", evt.Sender.String()).Msg("Joined room after invite")
}

// Reply posts text as an m.notice to the given room.
func (f *Frontend) Reply(ctx context.Context, chatID, text string) error {
	if _, err := f.api.SendNotice(ctx, id.RoomID(chatID), text); err != nil {
		return fmt.Errorf("failed to send matrix notice: %w", err)
	}
	return nil
}
