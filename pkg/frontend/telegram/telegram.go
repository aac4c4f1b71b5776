// Copyright 2024-2026 Aiku AI

// Package telegram receives messages from a Telegram bot by long polling and
// hands them to a relay handler.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/aiku/rocketchat-relay/pkg/relay"
)

const (
	// SourceName identifies Telegram in relayed events.
	SourceName = "telegram"

	// DefaultPollTimeout is the long polling timeout in seconds.
	DefaultPollTimeout = 60

	statusCommand = "status"
)

// Config configures the bot connection.
type Config struct {
	Token string
	// APIEndpoint is a format string taking the token and the method name.
	// Defaults to tgbotapi.APIEndpoint.
	APIEndpoint string
	// ProxyURL routes Bot API traffic through an HTTP(S) or SOCKS5 proxy.
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	PollTimeout   int
}

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Frontend relays Telegram text messages and answers /status.
type Frontend struct {
	bot         botAPI
	handler     relay.Handler
	pollTimeout int
	log         zerolog.Logger
}

var _ relay.Replier = (*Frontend)(nil)

// New connects to the Bot API and verifies the token with getMe.
func New(cfg Config, handler relay.Handler, log zerolog.Logger) (*Frontend, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if handler == nil {
		return nil, errors.New("telegram: handler is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	log = log.With().Str("component", "telegram").Logger()
	log.Info().Str("username", bot.Self.UserName).Msg("Connected to Telegram")
	return newFrontend(bot, handler, cfg.PollTimeout, log), nil
}

func newFrontend(bot botAPI, handler relay.Handler, pollTimeout int, log zerolog.Logger) *Frontend {
	return &Frontend{
		bot:         bot,
		handler:     handler,
		pollTimeout: pollTimeout,
		log:         log,
	}
}

// newHTTPClient builds the Bot API client. Its timeout outlasts a long poll.
func newHTTPClient(cfg Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid proxy url: %w", err)
		}
		if proxyURL.Host == "" {
			return nil, fmt.Errorf("telegram: invalid proxy url %q: missing host", cfg.ProxyURL)
		}
		if cfg.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.PollTimeout+30) * time.Second,
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = f.pollTimeout
	updates := f.bot.GetUpdatesChan(u)
	defer f.bot.StopReceivingUpdates()

	f.log.Info().Msg("Polling for Telegram updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			f.handleUpdate(ctx, update)
		}
	}
}

func (f *Frontend) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	evt := relay.InboundEvent{
		Source: SourceName,
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
	}

	if msg.IsCommand() && msg.Command() == statusCommand {
		if err := f.handler.OnStatus(ctx, f, evt); err != nil {
			f.log.Err(err).Str("chat_id", evt.ChatID).Msg("Failed to answer status command")
		}
		return
	}
	if evt.Text == "" {
		return
	}
	f.handler.OnInboundText(ctx, f, evt)
}

// Reply sends text to the chat with the given numeric id.
func (f *Frontend) Reply(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	if _, err := f.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// SetLibraryLogger routes the Bot API library's own log output (polling
// retries, debug dumps) through log.
func SetLibraryLogger(log zerolog.Logger) error {
	return tgbotapi.SetLogger(botLogger{log: log.With().Str("component", "telegram_api").Logger()})
}

type botLogger struct {
	log zerolog.Logger
}

func (l botLogger) Println(v ...any) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...any) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
