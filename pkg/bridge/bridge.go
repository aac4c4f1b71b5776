// Copyright 2024-2026 Aiku AI

// Package bridge wires the Rocket.Chat client, the relay dispatcher, the
// enabled front ends and the admin API together and supervises them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/rocketchat-relay/pkg/frontend/matrix"
	"github.com/aiku/rocketchat-relay/pkg/frontend/mattermost"
	"github.com/aiku/rocketchat-relay/pkg/frontend/telegram"
	"github.com/aiku/rocketchat-relay/pkg/relay"
	"github.com/aiku/rocketchat-relay/pkg/rocketchat"
)

const shutdownTimeout = 5 * time.Second

// Frontend is an inbound chat connection that runs until its context ends.
type Frontend interface {
	Run(ctx context.Context) error
}

type namedFrontend struct {
	name string
	Frontend
}

// Bridge owns the relay's components.
type Bridge struct {
	Config     *Config
	Client     *rocketchat.Client
	Dispatcher *relay.Dispatcher

	frontends []namedFrontend
	log       zerolog.Logger
}

// New creates the Rocket.Chat client and the dispatcher. It performs no
// network request.
func New(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	client, err := rocketchat.NewClient(cfg.RocketChat.ServerURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create rocket.chat client: %w", err)
	}
	if cfg.RocketChat.Timeout > 0 {
		client.HTTPClient.Timeout = time.Duration(cfg.RocketChat.Timeout) * time.Second
	}
	dispatcher, err := relay.NewDispatcher(client, relay.Target{
		RoomID:      cfg.Relay.RoomID,
		Template:    cfg.Relay.MessageTemplate,
		StatusReply: cfg.Relay.StatusReply,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	return &Bridge{
		Config:     cfg,
		Client:     client,
		Dispatcher: dispatcher,
		log:        log.With().Str("component", "bridge").Logger(),
	}, nil
}

// Start logs in to Rocket.Chat, connects the enabled front ends and runs
// them with the admin API until ctx is cancelled or one of them fails.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Client.Login(ctx, b.Config.RocketChat.Login, b.Config.RocketChat.Password); err != nil {
		return fmt.Errorf("failed to log in to rocket.chat: %w", err)
	}
	if err := b.connectFrontends(ctx); err != nil {
		return err
	}
	return b.Run(ctx)
}

func (b *Bridge) connectFrontends(ctx context.Context) error {
	cfg := b.Config
	if cfg.Telegram.Enabled {
		if err := telegram.SetLibraryLogger(b.log); err != nil {
			b.log.Warn().Err(err).Msg("Failed to set Telegram library logger")
		}
		fe, err := telegram.New(telegram.Config{
			Token:         cfg.Telegram.Token,
			APIEndpoint:   cfg.Telegram.APIEndpoint,
			ProxyURL:      cfg.Telegram.ProxyURL,
			ProxyUsername: cfg.Telegram.ProxyUsername,
			ProxyPassword: cfg.Telegram.ProxyPassword,
			PollTimeout:   cfg.Telegram.PollTimeout,
		}, b.Dispatcher, b.log)
		if err != nil {
			return err
		}
		b.AddFrontend(telegram.SourceName, fe)
	}
	if cfg.Matrix.Enabled {
		fe, err := matrix.New(ctx, matrix.Config{
			HomeserverURL: cfg.Matrix.HomeserverURL,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			Rooms:         cfg.Matrix.Rooms,
			AutoJoin:      cfg.Matrix.AutoJoin,
		}, b.Dispatcher, b.log)
		if err != nil {
			return err
		}
		b.AddFrontend(matrix.SourceName, fe)
	}
	if cfg.Mattermost.Enabled {
		fe, err := mattermost.New(ctx, mattermost.Config{
			ServerURL: cfg.Mattermost.ServerURL,
			Token:     cfg.Mattermost.Token,
			BotPrefix: cfg.Mattermost.BotPrefix,
			Channels:  cfg.Mattermost.Channels,
		}, b.Dispatcher, b.log)
		if err != nil {
			return err
		}
		b.AddFrontend(mattermost.SourceName, fe)
	}
	return nil
}

// AddFrontend registers fe to be supervised by Run.
func (b *Bridge) AddFrontend(name string, fe Frontend) {
	b.frontends = append(b.frontends, namedFrontend{name: name, Frontend: fe})
}

// FrontendNames returns the registered front ends in registration order.
func (b *Bridge) FrontendNames() []string {
	names := make([]string, 0, len(b.frontends))
	for _, fe := range b.frontends {
		names = append(names, fe.name)
	}
	return names
}

// Run supervises the registered front ends and the admin API. The first
// failure cancels the others.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fe := range b.frontends {
		g.Go(func() error {
			b.log.Info().Str("frontend", fe.name).Msg("Starting front end")
			if err := fe.Run(gctx); err != nil {
				return fmt.Errorf("%s front end: %w", fe.name, err)
			}
			b.log.Info().Str("frontend", fe.name).Msg("Front end stopped")
			return nil
		})
	}

	if addr := b.Config.AdminAPIAddr; addr != "" {
		server := &http.Server{
			Addr:         addr,
			Handler:      b.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			b.log.Info().Str("addr", addr).Msg("Starting admin API")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
