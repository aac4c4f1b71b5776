// Copyright 2024-2026 Aiku AI

// Package mattermost relays Mattermost posts to a relay handler over the
// Mattermost WebSocket API.
package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/rocketchat-relay/pkg/rcfmt"
	"github.com/aiku/rocketchat-relay/pkg/relay"
)

const (
	// SourceName identifies Mattermost in relayed events.
	SourceName = "mattermost"

	// DefaultReconnectDelay is the pause before re-dialing a dropped WebSocket.
	DefaultReconnectDelay = 5 * time.Second

	statusCommand = "!status"
)

// Config configures the Mattermost account the relay listens as.
type Config struct {
	ServerURL string
	Token     string
	// BotPrefix is a username prefix for echo prevention. Posts from
	// usernames starting with it are never relayed. Empty disables the check.
	BotPrefix string
	// Channels limits relaying to these channel ids. Empty relays every
	// channel the account can see.
	Channels []string
}

type postCreator interface {
	CreatePost(ctx context.Context, post *model.Post) (*model.Post, *model.Response, error)
}

// Frontend relays posts and answers !status in the same channel.
type Frontend struct {
	client    *model.Client4
	poster    postCreator
	serverURL string
	userID    string
	handler   relay.Handler
	botPrefix string
	channels  []string

	reconnectDelay time.Duration
	log            zerolog.Logger
}

var _ relay.Replier = (*Frontend)(nil)

// New verifies the token with GetMe and returns a front end ready to Run.
func New(ctx context.Context, cfg Config, handler relay.Handler, log zerolog.Logger) (*Frontend, error) {
	if cfg.ServerURL == "" || cfg.Token == "" {
		return nil, errors.New("mattermost: server url and token are required")
	}
	if handler == nil {
		return nil, errors.New("mattermost: handler is required")
	}
	log = log.With().Str("component", "mm_client").Logger()

	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)

	me, _, err := client.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to verify mattermost session: %w", err)
	}
	log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	f := newFrontend(client, me.Id, handler, cfg, log)
	f.client = client
	return f, nil
}

func newFrontend(poster postCreator, userID string, handler relay.Handler, cfg Config, log zerolog.Logger) *Frontend {
	return &Frontend{
		poster:         poster,
		serverURL:      strings.TrimSuffix(cfg.ServerURL, "/"),
		userID:         userID,
		handler:        handler,
		botPrefix:      cfg.BotPrefix,
		channels:       cfg.Channels,
		reconnectDelay: DefaultReconnectDelay,
		log:            log,
	}
}

// Run listens on the WebSocket until ctx is cancelled, reconnecting whenever
// the event channel closes.
func (f *Frontend) Run(ctx context.Context) error {
	for {
		wsClient, err := f.connectWebSocket()
		if err != nil {
			f.log.Error().Err(err).Msg("WebSocket connection failed")
		} else {
			closed := f.listen(ctx, wsClient.EventChannel)
			if !closed {
				wsClient.Close()
				return nil
			}
			f.log.Warn().Msg("WebSocket event channel closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Frontend) connectWebSocket() (*model.WebSocketClient, error) {
	wsURL := httpToWS(f.serverURL)
	wsClient, err := model.NewWebSocketClient4(wsURL, f.client.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	wsClient.Listen()
	f.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return wsClient, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// listen handles events until ctx is done (false) or events closes (true).
func (f *Frontend) listen(ctx context.Context, events <-chan *model.WebSocketEvent) (closed bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return true
			}
			if evt == nil {
				continue
			}
			f.handleEvent(ctx, evt)
		}
	}
}

func (f *Frontend) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	if evt.EventType() != model.WebsocketEventPosted {
		f.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return
	}
	post, err := f.parsePostedEvent(evt)
	if err != nil {
		f.log.Error().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}
	if len(f.channels) > 0 && !slices.Contains(f.channels, post.ChannelId) {
		return
	}

	relayEvt := relay.InboundEvent{
		Source: SourceName,
		ChatID: post.ChannelId,
		Text:   rcfmt.FromMattermost(post.Message),
	}
	if strings.TrimSpace(post.Message) == statusCommand {
		if err := f.handler.OnStatus(ctx, f, relayEvt); err != nil {
			f.log.Err(err).Str("channel_id", post.ChannelId).Msg("Failed to answer status command")
		}
		return
	}
	f.handler.OnInboundText(ctx, f, relayEvt)
}

// parsePostedEvent extracts a post from a WebSocket event, applying echo
// prevention. Returns (nil, nil) to skip silently, (nil, err) to log an
// error, or (post, nil) to proceed.
func (f *Frontend) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, errors.New("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Our own replies and echoes.
	if post.UserId == f.userID {
		return nil, nil
	}

	// System messages (joins, header changes).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isRelayUsername(senderName, f.botPrefix) {
		f.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bot username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// isRelayUsername reports whether username belongs to a relay-managed bot.
func isRelayUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}

// Reply posts text to the given channel.
func (f *Frontend) Reply(ctx context.Context, chatID, text string) error {
	if _, _, err := f.poster.CreatePost(ctx, &model.Post{ChannelId: chatID, Message: text}); err != nil {
		return fmt.Errorf("failed to create mattermost post: %w", err)
	}
	return nil
}
